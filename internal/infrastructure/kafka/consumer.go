package kafka

//go:generate mockgen -source=consumer.go -destination=mocks/mock_consumer.go -package=mocks

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharmaji847401-hue/myapi/internal/models"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const maxRechargeBackoff = 30 * time.Second

// Crediter is the part of the account store a recharge needs.
type Crediter interface {
	Credit(ctx context.Context, reference string, id int64, amount decimal.Decimal) (decimal.Decimal, error)
}

// MessageReader is the subset of *kafka.Reader used with explicit commits.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RechargeConsumer applies wallet top-ups published by the admin tooling.
// Offsets are committed only once a recharge is applied or rejected for good.
type RechargeConsumer struct {
	reader   MessageReader
	accounts Crediter
	backoff  time.Duration
}

func NewRechargeConsumer(brokers []string, topic, groupID string, accounts Crediter) *RechargeConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return newRechargeConsumer(reader, accounts)
}

func newRechargeConsumer(reader MessageReader, accounts Crediter) *RechargeConsumer {
	return &RechargeConsumer{reader: reader, accounts: accounts, backoff: 500 * time.Millisecond}
}

// Consume blocks until ctx is cancelled.
func (c *RechargeConsumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("recharge consumer stopped")
				return
			}
			slog.Error("failed to fetch Kafka message", "error", err)
			continue
		}

		if !c.apply(ctx, msg) {
			slog.Info("recharge consumer stopped", "pending_offset", msg.Offset)
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			// The reference guard absorbs the redelivery.
			slog.Error("failed to commit recharge offset", "offset", msg.Offset, "error", err)
		}
	}
}

// apply retries transient failures until the recharge lands or is rejected
// for good. It reports false when ctx ends first; the offset then stays
// uncommitted and the message is redelivered.
func (c *RechargeConsumer) apply(ctx context.Context, msg kafka.Message) bool {
	backoff := c.backoff
	for {
		err := c.Handle(ctx, msg.Value)
		if err == nil {
			return true
		}
		if permanent(err) {
			// TODO: route poison recharge messages to a dead-letter topic
			slog.Error("recharge rejected", "key", string(msg.Key), "offset", msg.Offset, "error", err)
			return true
		}

		slog.Warn("recharge not applied, retrying", "offset", msg.Offset, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff < maxRechargeBackoff {
			backoff *= 2
		}
	}
}

// Handle decodes one recharge event and credits the account. A reference that
// was already applied is not an error.
func (c *RechargeConsumer) Handle(ctx context.Context, value []byte) error {
	var event models.RechargeEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("%w: failed to unmarshal recharge event: %v", pkgerrors.ErrInvalidInput, err)
	}
	if event.AccountID == 0 {
		return fmt.Errorf("%w: recharge without account_id", pkgerrors.ErrInvalidInput)
	}
	if event.Reference == "" {
		return fmt.Errorf("%w: recharge without reference", pkgerrors.ErrInvalidInput)
	}

	balance, err := c.accounts.Credit(ctx, event.Reference, event.AccountID, event.Amount)
	if stderrors.Is(err, pkgerrors.ErrDuplicateRecharge) {
		slog.Info("recharge already applied", "account_id", event.AccountID, "reference", event.Reference)
		return nil
	}
	if err != nil {
		if permanent(err) {
			return fmt.Errorf("recharge %s rejected: %w", event.Reference, err)
		}
		return fmt.Errorf("failed to credit account %d: %w", event.AccountID, err)
	}

	slog.Info("wallet recharged",
		"account_id", event.AccountID,
		"amount", event.Amount,
		"balance", balance,
		"reference", event.Reference)
	return nil
}

func (c *RechargeConsumer) Close() error {
	return c.reader.Close()
}

func permanent(err error) bool {
	return stderrors.Is(err, pkgerrors.ErrInvalidInput) ||
		stderrors.Is(err, pkgerrors.ErrInvalidAmount) ||
		stderrors.Is(err, pkgerrors.ErrAccountNotFound)
}
