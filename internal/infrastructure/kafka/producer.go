package kafka

//go:generate mockgen -source=producer.go -destination=mocks/mock_producer.go -package=mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharmaji847401-hue/myapi/internal/models"
	"github.com/segmentio/kafka-go"
)

type KafkaProducer interface {
	Send(ctx context.Context, topic string, key int64, value []byte) error
	Close() error
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Send(ctx context.Context, topic string, key int64, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(fmt.Sprintf("%d", key)),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("failed to send Kafka message", "topic", topic, "key", key, "error", err)
		return err
	}
	slog.Debug("Kafka message sent", "topic", topic, "key", key)
	return nil
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		slog.Error("failed to close Kafka writer", "error", err)
		return err
	}
	slog.Info("Kafka writer closed")
	return nil
}

// SettlementPublisher emits one event per settled transaction. Publishing is
// best effort: it runs in the background with a short linear backoff and
// never blocks or fails the billing path.
type SettlementPublisher struct {
	producer KafkaProducer
	topic    string
	retries  int
	backoff  time.Duration
}

func NewSettlementPublisher(producer KafkaProducer, topic string) *SettlementPublisher {
	return &SettlementPublisher{producer: producer, topic: topic, retries: 3, backoff: time.Second}
}

func (p *SettlementPublisher) PublishSettlement(ctx context.Context, tx *models.Transaction) {
	event := NewSettlementEvent(tx)
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal settlement event", "reference", tx.Reference, "error", err)
		return
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		for i := 0; i < p.retries; i++ {
			if err := p.producer.Send(ctx, p.topic, tx.AccountID, payload); err == nil {
				return
			}
			time.Sleep(p.backoff * time.Duration(i+1))
		}
		slog.Error("settlement event dropped after retries", "reference", tx.Reference, "retries", p.retries)
	}()
}

func NewSettlementEvent(tx *models.Transaction) models.SettlementEvent {
	event := models.SettlementEvent{
		EventType:      "settlement",
		Reference:      tx.Reference,
		AccountID:      tx.AccountID,
		ServiceSlug:    tx.ServiceSlug,
		Outcome:        tx.Outcome,
		Reason:         tx.Reason,
		CostCharged:    tx.CostCharged,
		UpstreamStatus: tx.UpstreamStatus,
	}
	if tx.SettledAt != nil {
		event.SettledAt = tx.SettledAt.UTC().Format(time.RFC3339)
	}
	return event
}
