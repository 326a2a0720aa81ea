package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSinkConfig configures the Kafka mirror of the audit stream.
type KafkaSinkConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic receives the audit events.
	Topic string

	// MaxAttempts is how many times a publish is retried on transient error.
	// Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// KafkaSink publishes audit events to a Kafka topic, keyed by entity id so
// events for the same entity land on the same partition in order.
type KafkaSink struct {
	writer      *kafka.Writer
	maxAttempts int
}

func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})
	return &KafkaSink{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

func (s *KafkaSink) Record(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal audit event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.EntityID),
		Value: payload,
		Time:  ev.CreatedAt,
	}
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.writer.WriteMessages(ctx, msg); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("kafka: publish audit event after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
