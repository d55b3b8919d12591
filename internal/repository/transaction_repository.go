package repository

//go:generate mockgen -source=transaction_repository.go -destination=mocks/mock_transaction_repository.go -package=mocks

import (
	"context"
	"time"

	"github.com/sharmaji847401-hue/myapi/internal/models"
	"github.com/shopspring/decimal"
)

type TransactionRepository interface {
	CreatePending(ctx context.Context, tx *models.Transaction) error
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
	// SettleSuccess debits the account and moves the record to success in one
	// atomic step. Nothing is written when either half fails.
	SettleSuccess(ctx context.Context, reference string, cost decimal.Decimal, upstreamStatus int) (*models.Transaction, error)
	SettleFailure(ctx context.Context, reference string, reason models.FailureReason, upstreamStatus int) (*models.Transaction, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}
