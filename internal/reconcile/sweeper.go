// Package reconcile settles transaction records that were left pending, for
// example because the process died between the provider call and settlement.
package reconcile

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/observability"
	"github.com/sharmaji847401-hue/myapi/internal/models"
	"github.com/sharmaji847401-hue/myapi/internal/repository"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Resolution is a provider's answer about a pending record.
type Resolution struct {
	// Outcome is pending when the provider cannot tell yet; the record is
	// then left for the next sweep.
	Outcome        models.Outcome
	UpstreamStatus int
	Cost           decimal.Decimal
}

// StatusResolver asks the provider what became of a request.
type StatusResolver interface {
	Resolve(ctx context.Context, tx models.Transaction) (Resolution, error)
}

type SettlementPublisher interface {
	PublishSettlement(ctx context.Context, tx *models.Transaction)
}

type Config struct {
	Interval   time.Duration
	PendingAge time.Duration
	BatchSize  int
}

type Sweeper struct {
	ledger   repository.TransactionRepository
	resolver StatusResolver
	events   SettlementPublisher
	cfg      Config
	now      func() time.Time
}

// NewSweeper builds a sweeper. Without a resolver every stale record is
// marked failed-unsettled and nobody is charged.
func NewSweeper(ledger repository.TransactionRepository, resolver StatusResolver, events SettlementPublisher, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.PendingAge <= 0 {
		cfg.PendingAge = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{ledger: ledger, resolver: resolver, events: events, cfg: cfg, now: time.Now}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.Info("reconciliation sweeper started", "interval", s.cfg.Interval, "pending_age", s.cfg.PendingAge)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("reconciliation sweep failed", "method", "Sweep", "error", err)
			}
		}
	}
}

// Sweep settles one batch of stale pending records and returns how many it settled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("reconcile").Start(ctx, "Sweep")
	defer span.End()

	cutoff := s.now().Add(-s.cfg.PendingAge)
	stale, err := s.ledger.ListStalePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale transactions: %w", err)
	}
	span.SetAttributes(attribute.Int("stale", len(stale)))

	settled := 0
	for _, tx := range stale {
		done, err := s.settle(ctx, tx)
		if err != nil {
			slog.Error("failed to reconcile transaction", "method", "Sweep", "reference", tx.Reference, "error", err)
			continue
		}
		if done {
			settled++
		}
	}

	if len(stale) > 0 {
		slog.Info("reconciliation sweep finished", "stale", len(stale), "settled", settled)
	}
	return settled, nil
}

func (s *Sweeper) settle(ctx context.Context, tx models.Transaction) (bool, error) {
	res := Resolution{Outcome: models.OutcomeFailed}
	if s.resolver != nil {
		var err error
		res, err = s.resolver.Resolve(ctx, tx)
		if err != nil {
			return false, fmt.Errorf("resolver: %w", err)
		}
	}

	var (
		out *models.Transaction
		err error
	)
	switch res.Outcome {
	case models.OutcomePending:
		return false, nil
	case models.OutcomeSuccess:
		out, err = s.ledger.SettleSuccess(ctx, tx.Reference, res.Cost, res.UpstreamStatus)
		if stderrors.Is(err, pkgerrors.ErrInsufficientFunds) || stderrors.Is(err, pkgerrors.ErrAccountDisabled) {
			slog.Warn("provider reports success but debit refused", "reference", tx.Reference, "cost", res.Cost)
			out, err = s.ledger.SettleFailure(ctx, tx.Reference, models.ReasonInsufficientFundsAtSettlement, res.UpstreamStatus)
		}
	case models.OutcomeFailed:
		out, err = s.ledger.SettleFailure(ctx, tx.Reference, models.ReasonUnsettled, res.UpstreamStatus)
	default:
		return false, fmt.Errorf("%w: resolver returned %q", pkgerrors.ErrInvalidOutcome, res.Outcome)
	}

	if stderrors.Is(err, pkgerrors.ErrAlreadySettled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	observability.ReconciledTransactions.WithLabelValues(string(out.Outcome)).Inc()
	if s.events != nil {
		s.events.PublishSettlement(ctx, out)
	}
	slog.Info("transaction reconciled", "reference", out.Reference, "outcome", out.Outcome, "reason", out.Reason)
	return true, nil
}
