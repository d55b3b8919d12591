package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/auth"
	"github.com/sharmaji847401-hue/myapi/internal/models"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const accountColumns = `id, username, balance, status, api_key_hash, created_at`

type PostgresAccountRepository struct {
	db *sql.DB
}

func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

func (r *PostgresAccountRepository) GetByID(ctx context.Context, id int64) (_ *models.Account, err error) {
	ctx, done := instrument(ctx, "account-repository", "GetAccountByID", attribute.Int64("account_id", id))
	defer done(&err)

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrAccountNotFound
	}
	if err != nil {
		slog.Error("failed to get account by id", "method", "GetByID", "account_id", id, "error", err)
		return nil, fmt.Errorf("failed to get account by id: %w", err)
	}
	return acc, nil
}

func (r *PostgresAccountRepository) GetByCredential(ctx context.Context, apiKey string) (_ *models.Account, err error) {
	ctx, done := instrument(ctx, "account-repository", "GetAccountByCredential")
	defer done(&err)

	if apiKey == "" {
		return nil, pkgerrors.ErrInvalidCredentials
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE api_key_hash = $1`
	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, auth.HashAPIKey(apiKey)))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrInvalidCredentials
	}
	if err != nil {
		slog.Error("failed to get account by credential", "method", "GetByCredential", "error", err)
		return nil, fmt.Errorf("failed to get account by credential: %w", err)
	}
	if !acc.Active() {
		return nil, pkgerrors.ErrAccountDisabled
	}
	return acc, nil
}

func (r *PostgresAccountRepository) TryDebit(ctx context.Context, id int64, amount decimal.Decimal) (_ decimal.Decimal, err error) {
	ctx, done := instrument(ctx, "account-repository", "TryDebit",
		attribute.Int64("account_id", id),
		attribute.String("amount", amount.String()))
	defer done(&err)

	return debit(ctx, r.db, id, amount)
}

// Credit applies a recharge once per reference. The balance update and the
// recharges row share one transaction, so a replayed reference changes nothing.
func (r *PostgresAccountRepository) Credit(ctx context.Context, reference string, id int64, amount decimal.Decimal) (_ decimal.Decimal, err error) {
	ctx, done := instrument(ctx, "account-repository", "Credit",
		attribute.String("reference", reference),
		attribute.Int64("account_id", id),
		attribute.String("amount", amount.String()))
	defer done(&err)

	if reference == "" {
		return decimal.Zero, fmt.Errorf("%w: recharge reference is required", pkgerrors.ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return decimal.Zero, pkgerrors.ErrInvalidAmount
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Credit", "error", err)
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := dbTx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			slog.Error("rollback failed", "method", "Credit", "reference", reference, "error", rbErr)
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
	}()

	var newBalance decimal.Decimal
	err = dbTx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance`, amount, id,
	).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, pkgerrors.ErrAccountNotFound
	}
	if err != nil {
		slog.Error("failed to credit account", "method", "Credit", "account_id", id, "error", err)
		return decimal.Zero, fmt.Errorf("failed to credit account: %w", err)
	}

	res, err := dbTx.ExecContext(ctx, `
		INSERT INTO recharges (reference, account_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (reference) DO NOTHING`, reference, id, amount)
	if err != nil {
		slog.Error("failed to record recharge", "method", "Credit", "reference", reference, "error", err)
		return decimal.Zero, fmt.Errorf("failed to record recharge: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to check recharge insert: %w", err)
	}
	if rows == 0 {
		return decimal.Zero, pkgerrors.ErrDuplicateRecharge
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit recharge", "method", "Credit", "reference", reference, "error", err)
		return decimal.Zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("account credited", "method", "Credit", "account_id", id, "reference", reference, "amount", amount, "balance", newBalance)
	return newBalance, nil
}

// debit is the conditional decrement shared by TryDebit and settlement. The
// WHERE clause is the only balance guard; no prior read is trusted.
func debit(ctx context.Context, q querier, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, pkgerrors.ErrInvalidAmount
	}

	query := `
		UPDATE accounts
		SET balance = balance - $1
		WHERE id = $2
		AND status = 'active'
		AND balance >= $1
		RETURNING balance
	`
	var newBalance decimal.Decimal
	err := q.QueryRowContext(ctx, query, amount, id).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, classifyFailedDebit(ctx, q, id)
	}
	if err != nil {
		slog.Error("failed to debit account", "method", "debit", "account_id", id, "error", err)
		return decimal.Zero, fmt.Errorf("failed to debit account: %w", err)
	}
	return newBalance, nil
}

func classifyFailedDebit(ctx context.Context, q querier, id int64) error {
	var status models.AccountStatus
	err := q.QueryRowContext(ctx, `SELECT status FROM accounts WHERE id = $1`, id).Scan(&status)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return pkgerrors.ErrAccountNotFound
	case err != nil:
		return fmt.Errorf("failed to read account status: %w", err)
	case status != models.AccountActive:
		return pkgerrors.ErrAccountDisabled
	default:
		return pkgerrors.ErrInsufficientFunds
	}
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	var acc models.Account
	err := row.Scan(
		&acc.ID,
		&acc.Username,
		&acc.Balance,
		&acc.Status,
		&acc.CredentialHash,
		&acc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
