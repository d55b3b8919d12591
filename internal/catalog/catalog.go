// Package catalog resolves service slugs to priced catalog entries, caching
// lookups in Redis for a short TTL.
package catalog

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/observability"
	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/redis"
	"github.com/sharmaji847401-hue/myapi/internal/models"
	"github.com/sharmaji847401-hue/myapi/internal/repository"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const keyPrefix = "service:"

type Catalog struct {
	repo  repository.ServiceRepository
	cache redis.RedisClient
	ttl   time.Duration
}

// New builds a Catalog. A nil cache or a non-positive ttl disables caching.
func New(repo repository.ServiceRepository, cache redis.RedisClient, ttl time.Duration) *Catalog {
	return &Catalog{repo: repo, cache: cache, ttl: ttl}
}

// Lookup returns an enabled service. Disabled entries yield ErrServiceDisabled,
// unknown slugs ErrServiceNotFound.
func (c *Catalog) Lookup(ctx context.Context, slug string) (*models.Service, error) {
	ctx, span := otel.Tracer("catalog").Start(ctx, "Lookup")
	span.SetAttributes(attribute.String("slug", slug))
	defer span.End()

	if slug == "" {
		return nil, pkgerrors.ErrServiceNotFound
	}

	svc, hit := c.fromCache(ctx, slug)
	if !hit {
		var err error
		svc, err = c.repo.GetBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		c.store(ctx, svc)
	}

	if !svc.Enabled {
		return nil, pkgerrors.ErrServiceDisabled
	}
	return svc, nil
}

// Invalidate drops the cached entry for slug.
func (c *Catalog) Invalidate(ctx context.Context, slug string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Del(ctx, keyPrefix+slug)
}

func (c *Catalog) fromCache(ctx context.Context, slug string) (*models.Service, bool) {
	if c.cache == nil || c.ttl <= 0 {
		return nil, false
	}

	raw, err := c.cache.Get(ctx, keyPrefix+slug)
	if stderrors.Is(err, redis.ErrKeyNotFound) {
		observability.CatalogCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		observability.CatalogCacheLookups.WithLabelValues("error").Inc()
		slog.Warn("catalog cache read failed", "method", "Lookup", "slug", slug, "error", err)
		return nil, false
	}

	var svc models.Service
	if err := json.Unmarshal([]byte(raw), &svc); err != nil {
		observability.CatalogCacheLookups.WithLabelValues("error").Inc()
		slog.Warn("catalog cache entry corrupt", "method", "Lookup", "slug", slug, "error", err)
		return nil, false
	}
	observability.CatalogCacheLookups.WithLabelValues("hit").Inc()
	return &svc, true
}

func (c *Catalog) store(ctx context.Context, svc *models.Service) {
	if c.cache == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(svc)
	if err != nil {
		slog.Warn("failed to encode service for cache", "slug", svc.Slug, "error", err)
		return
	}
	if err := c.cache.Set(ctx, keyPrefix+svc.Slug, data, c.ttl); err != nil {
		slog.Warn("catalog cache write failed", "slug", svc.Slug, "error", err)
	}
}
