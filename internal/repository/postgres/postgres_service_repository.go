package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/sharmaji847401-hue/myapi/internal/models"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresServiceRepository struct {
	db *sql.DB
}

func NewPostgresServiceRepository(db *sql.DB) *PostgresServiceRepository {
	return &PostgresServiceRepository{db: db}
}

func (r *PostgresServiceRepository) GetBySlug(ctx context.Context, slug string) (_ *models.Service, err error) {
	ctx, done := instrument(ctx, "service-repository", "GetServiceBySlug", attribute.String("slug", slug))
	defer done(&err)

	query := `
		SELECT id, slug, name, unit_cost, endpoint_template, url_mode, success_field, enabled
		FROM services
		WHERE slug = $1
	`
	var svc models.Service
	err = r.db.QueryRowContext(ctx, query, slug).Scan(
		&svc.ID,
		&svc.Slug,
		&svc.Name,
		&svc.UnitCost,
		&svc.EndpointTemplate,
		&svc.URLMode,
		&svc.SuccessField,
		&svc.Enabled,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrServiceNotFound
	}
	if err != nil {
		slog.Error("failed to get service", "method", "GetBySlug", "slug", slug, "error", err)
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return &svc, nil
}
