package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/redis"
	redismocks "github.com/sharmaji847401-hue/myapi/internal/infrastructure/redis/mocks"
	"github.com/sharmaji847401-hue/myapi/internal/models"
	repositorymocks "github.com/sharmaji847401-hue/myapi/internal/repository/mocks"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	panVerify = models.Service{ID: 1, Slug: "pan-verify", UnitCost: decimal.RequireFromString("2.50"), EndpointTemplate: "https://p.test/?q=", Enabled: true}
	retired   = models.Service{ID: 2, Slug: "retired", UnitCost: decimal.NewFromInt(1), Enabled: false}
)

// backCache makes the mock behave like a live Redis keyed in memory.
func backCache(cache *redismocks.MockRedisClient) {
	var mu sync.Mutex
	data := map[string]string{}
	cache.EXPECT().Get(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, key string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		v, ok := data[key]
		if !ok {
			return "", redis.ErrKeyNotFound
		}
		return v, nil
	}).AnyTimes()
	cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, key string, value interface{}, _ time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		data[key] = string(value.([]byte))
		return nil
	}).AnyTimes()
	cache.EXPECT().Del(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, keys ...string) error {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range keys {
			delete(data, k)
		}
		return nil
	}).AnyTimes()
}

func TestCatalog_LookupCachesEntries(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := repositorymocks.NewMockServiceRepository(ctrl)
	cache := redismocks.NewMockRedisClient(ctrl)
	c := New(repo, cache, 5*time.Second)
	ctx := context.Background()

	svc := panVerify
	var cached string
	gomock.InOrder(
		cache.EXPECT().Get(gomock.Any(), "service:pan-verify").Return("", redis.ErrKeyNotFound),
		repo.EXPECT().GetBySlug(gomock.Any(), "pan-verify").Return(&svc, nil).Times(1),
		cache.EXPECT().Set(gomock.Any(), "service:pan-verify", gomock.Any(), 5*time.Second).
			DoAndReturn(func(_ context.Context, _ string, value interface{}, _ time.Duration) error {
				cached = string(value.([]byte))
				return nil
			}),
		cache.EXPECT().Get(gomock.Any(), "service:pan-verify").
			DoAndReturn(func(context.Context, string) (string, error) { return cached, nil }),
	)

	got, err := c.Lookup(ctx, "pan-verify")
	require.NoError(t, err)
	assert.True(t, got.UnitCost.Equal(decimal.RequireFromString("2.5")))

	got, err = c.Lookup(ctx, "pan-verify")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.True(t, got.UnitCost.Equal(decimal.RequireFromString("2.5")))
}

func TestCatalog_DisabledAndUnknown(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := repositorymocks.NewMockServiceRepository(ctrl)
	cache := redismocks.NewMockRedisClient(ctrl)
	backCache(cache)
	c := New(repo, cache, time.Second)
	ctx := context.Background()

	svc := retired
	repo.EXPECT().GetBySlug(gomock.Any(), "retired").Return(&svc, nil).Times(1)
	repo.EXPECT().GetBySlug(gomock.Any(), "nope").Return(nil, pkgerrors.ErrServiceNotFound)

	_, err := c.Lookup(ctx, "retired")
	assert.ErrorIs(t, err, pkgerrors.ErrServiceDisabled)

	_, err = c.Lookup(ctx, "retired")
	assert.ErrorIs(t, err, pkgerrors.ErrServiceDisabled)

	_, err = c.Lookup(ctx, "nope")
	assert.ErrorIs(t, err, pkgerrors.ErrServiceNotFound)

	_, err = c.Lookup(ctx, "")
	assert.ErrorIs(t, err, pkgerrors.ErrServiceNotFound)
}

func TestCatalog_CacheFailureFallsThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := repositorymocks.NewMockServiceRepository(ctrl)
	cache := redismocks.NewMockRedisClient(ctrl)
	c := New(repo, cache, time.Second)

	svc := panVerify
	cache.EXPECT().Get(gomock.Any(), "service:pan-verify").Return("", errors.New("redis unavailable"))
	repo.EXPECT().GetBySlug(gomock.Any(), "pan-verify").Return(&svc, nil)
	cache.EXPECT().Set(gomock.Any(), "service:pan-verify", gomock.Any(), time.Second).Return(errors.New("redis unavailable"))

	got, err := c.Lookup(context.Background(), "pan-verify")
	require.NoError(t, err)
	assert.Equal(t, "pan-verify", got.Slug)
}

func TestCatalog_Invalidate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := repositorymocks.NewMockServiceRepository(ctrl)
	cache := redismocks.NewMockRedisClient(ctrl)
	backCache(cache)
	c := New(repo, cache, time.Minute)
	ctx := context.Background()

	enabled, disabled := panVerify, panVerify
	disabled.Enabled = false
	gomock.InOrder(
		repo.EXPECT().GetBySlug(gomock.Any(), "pan-verify").Return(&enabled, nil),
		repo.EXPECT().GetBySlug(gomock.Any(), "pan-verify").Return(&disabled, nil),
	)

	_, err := c.Lookup(ctx, "pan-verify")
	require.NoError(t, err)

	_, err = c.Lookup(ctx, "pan-verify")
	assert.NoError(t, err, "stale entry served within ttl")

	require.NoError(t, c.Invalidate(ctx, "pan-verify"))
	_, err = c.Lookup(ctx, "pan-verify")
	assert.ErrorIs(t, err, pkgerrors.ErrServiceDisabled)
}

func TestCatalog_NoCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := repositorymocks.NewMockServiceRepository(ctrl)
	c := New(repo, nil, 0)
	ctx := context.Background()

	svc := panVerify
	repo.EXPECT().GetBySlug(gomock.Any(), "pan-verify").Return(&svc, nil).Times(3)

	for i := 0; i < 3; i++ {
		_, err := c.Lookup(ctx, "pan-verify")
		require.NoError(t, err)
	}
	assert.NoError(t, c.Invalidate(ctx, "pan-verify"))
}
