package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/sharmaji847401-hue/myapi/internal/models"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const transactionColumns = `reference, account_id, service_id, service_slug, input_payload, biller_id,
	outcome, reason, cost_charged, upstream_status, created_at, settled_at`

const uniqueViolation = "23505"

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) CreatePending(ctx context.Context, tx *models.Transaction) (err error) {
	ctx, done := instrument(ctx, "transaction-repository", "CreatePendingTransaction")
	defer done(&err)

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to create transaction", "method", "CreatePending", "error", err)
		return err
	}
	if tx.Reference == "" || tx.AccountID == 0 || tx.ServiceID == 0 {
		err = fmt.Errorf("%w: reference, account_id and service_id are required", pkgerrors.ErrInvalidInput)
		slog.Error("invalid transaction", "method", "CreatePending", "reference", tx.Reference, "error", err)
		return err
	}

	query := `
		INSERT INTO transactions (reference, account_id, service_id, service_slug, input_payload, biller_id, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		RETURNING created_at
	`
	var createdAt time.Time
	err = r.db.QueryRowContext(ctx, query,
		tx.Reference, tx.AccountID, tx.ServiceID, tx.ServiceSlug, tx.InputPayload, tx.BillerID,
	).Scan(&createdAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return pkgerrors.ErrDuplicateReference
		}
		slog.Error("failed to create transaction", "method", "CreatePending", "reference", tx.Reference, "error", err)
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	tx.Outcome = models.OutcomePending
	tx.CreatedAt = createdAt
	slog.Info("pending transaction created", "method", "CreatePending", "reference", tx.Reference, "account_id", tx.AccountID, "service", tx.ServiceSlug)
	return nil
}

func (r *PostgresTransactionRepository) GetByReference(ctx context.Context, reference string) (_ *models.Transaction, err error) {
	ctx, done := instrument(ctx, "transaction-repository", "GetTransactionByReference", attribute.String("reference", reference))
	defer done(&err)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, reference))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		slog.Error("failed to get transaction", "method", "GetByReference", "reference", reference, "error", err)
		return nil, fmt.Errorf("failed to get transaction by reference: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) SettleSuccess(ctx context.Context, reference string, cost decimal.Decimal, upstreamStatus int) (_ *models.Transaction, err error) {
	ctx, done := instrument(ctx, "transaction-repository", "SettleSuccess",
		attribute.String("reference", reference),
		attribute.String("cost", cost.String()))
	defer done(&err)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "SettleSuccess", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := dbTx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			slog.Error("rollback failed", "method", "SettleSuccess", "reference", reference, "error", rbErr)
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
	}()

	var accountID int64
	var outcome models.Outcome
	err = dbTx.QueryRowContext(ctx,
		`SELECT account_id, outcome FROM transactions WHERE reference = $1 FOR UPDATE`, reference,
	).Scan(&accountID, &outcome)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock transaction: %w", err)
	}
	if outcome != models.OutcomePending {
		return nil, pkgerrors.ErrAlreadySettled
	}

	if _, err = debit(ctx, dbTx, accountID, cost); err != nil {
		return nil, err
	}

	query := `
		UPDATE transactions
		SET outcome = 'success', cost_charged = $2, upstream_status = $3, settled_at = NOW()
		WHERE reference = $1 AND outcome = 'pending'
		RETURNING ` + transactionColumns
	settled, err := scanTransaction(dbTx.QueryRowContext(ctx, query, reference, cost, upstreamStatus))
	if err != nil {
		slog.Error("failed to settle transaction", "method", "SettleSuccess", "reference", reference, "error", err)
		return nil, fmt.Errorf("failed to settle transaction: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit settlement", "method", "SettleSuccess", "reference", reference, "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("transaction settled", "method", "SettleSuccess", "reference", reference, "account_id", accountID, "cost", cost)
	return settled, nil
}

func (r *PostgresTransactionRepository) SettleFailure(ctx context.Context, reference string, reason models.FailureReason, upstreamStatus int) (_ *models.Transaction, err error) {
	ctx, done := instrument(ctx, "transaction-repository", "SettleFailure",
		attribute.String("reference", reference),
		attribute.String("reason", string(reason)))
	defer done(&err)

	query := `
		UPDATE transactions
		SET outcome = 'failed', reason = $2, upstream_status = $3, settled_at = NOW()
		WHERE reference = $1 AND outcome = 'pending'
		RETURNING ` + transactionColumns
	settled, err := scanTransaction(r.db.QueryRowContext(ctx, query, reference, reason, upstreamStatus))
	if stderrors.Is(err, sql.ErrNoRows) {
		var exists bool
		if qErr := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM transactions WHERE reference = $1)`, reference,
		).Scan(&exists); qErr != nil {
			return nil, fmt.Errorf("failed to check transaction: %w", qErr)
		}
		if !exists {
			return nil, pkgerrors.ErrTransactionNotFound
		}
		return nil, pkgerrors.ErrAlreadySettled
	}
	if err != nil {
		slog.Error("failed to settle transaction", "method", "SettleFailure", "reference", reference, "error", err)
		return nil, fmt.Errorf("failed to settle transaction: %w", err)
	}

	slog.Info("transaction failed", "method", "SettleFailure", "reference", reference, "reason", reason)
	return settled, nil
}

func (r *PostgresTransactionRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) (_ []models.Transaction, err error) {
	ctx, done := instrument(ctx, "transaction-repository", "ListStalePending", attribute.Int("limit", limit))
	defer done(&err)

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE outcome = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		slog.Error("failed to list pending transactions", "method", "ListStalePending", "error", err)
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	var settledAt sql.NullTime
	err := row.Scan(
		&tx.Reference,
		&tx.AccountID,
		&tx.ServiceID,
		&tx.ServiceSlug,
		&tx.InputPayload,
		&tx.BillerID,
		&tx.Outcome,
		&tx.Reason,
		&tx.CostCharged,
		&tx.UpstreamStatus,
		&tx.CreatedAt,
		&settledAt,
	)
	if err != nil {
		return nil, err
	}
	if settledAt.Valid {
		t := settledAt.Time
		tx.SettledAt = &t
	}
	return &tx, nil
}
