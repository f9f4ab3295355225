// Package broker publishes domain events to Kafka.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event is the envelope written to the topic.
type Event struct {
	ID        string    `json:"event_id"`
	Type      string    `json:"event_type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher serialises events and writes them keyed by aggregate id.
type Publisher struct {
	writer MessageWriter
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher wraps an existing writer.
func NewPublisher(writer MessageWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{writer: writer, logger: logger, now: time.Now}
}

// NewKafkaPublisher builds a publisher backed by a kafka.Writer. An empty broker list yields a
// publisher that drops events, which keeps local setups without Kafka working.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	if len(brokers) == 0 || topic == "" {
		return NewPublisher(nil, logger)
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return NewPublisher(writer, logger)
}

// Publish writes one event. The key keeps events of one aggregate on one partition.
func (p *Publisher) Publish(ctx context.Context, eventType, key string, payload any) error {
	if p == nil || p.writer == nil {
		return nil
	}
	evt := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: p.now().UTC(),
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("broker: marshal %s: %w", eventType, err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: body}); err != nil {
		return fmt.Errorf("broker: write %s: %w", eventType, err)
	}
	p.logger.Debug("event published", slog.String("type", eventType), slog.String("key", key))
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
