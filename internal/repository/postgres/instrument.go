package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func instrument(ctx context.Context, tracerName, method string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method)
	span.SetAttributes(attrs...)
	start := time.Now()

	return ctx, func(errp *error) {
		status := "success"
		if errp != nil && *errp != nil {
			status = "error"
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		observability.RepositoryCalls.WithLabelValues(method, status).Inc()
		observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		span.End()
	}
}
