package repository

//go:generate mockgen -source=service_repository.go -destination=mocks/mock_service_repository.go -package=mocks

import (
	"context"

	"github.com/sharmaji847401-hue/myapi/internal/models"
)

type ServiceRepository interface {
	// GetBySlug returns the catalog row regardless of its enabled flag.
	GetBySlug(ctx context.Context, slug string) (*models.Service, error)
}
