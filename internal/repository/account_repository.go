package repository

//go:generate mockgen -source=account_repository.go -destination=mocks/mock_account_repository.go -package=mocks

import (
	"context"

	"github.com/sharmaji847401-hue/myapi/internal/models"
	"github.com/shopspring/decimal"
)

type AccountRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	// GetByCredential resolves a raw API key to an active account.
	GetByCredential(ctx context.Context, apiKey string) (*models.Account, error)
	// TryDebit atomically subtracts amount if the balance covers it.
	TryDebit(ctx context.Context, id int64, amount decimal.Decimal) (newBalance decimal.Decimal, err error)
	// Credit applies a recharge at most once per reference; a replay returns
	// ErrDuplicateRecharge and leaves the balance alone.
	Credit(ctx context.Context, reference string, id int64, amount decimal.Decimal) (newBalance decimal.Decimal, err error)
}
