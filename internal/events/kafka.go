package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nexshop/nexid/internal/metrics"
)

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// Kafka writes decision events to a topic keyed by request id, so every
// event for one request lands on the same partition.
type Kafka struct {
	w      messageWriter
	logger *slog.Logger
}

// NewKafka creates an asynchronous Kafka sink. Writes are batched in the
// background; failures surface through the completion callback.
func NewKafka(cfg KafkaConfig, logger *slog.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				metrics.EventsPublishedTotal.WithLabelValues("kafka", "dropped").Add(float64(len(msgs)))
				logger.Warn("kafka batch failed", "messages", len(msgs), "error", err)
			}
		},
	}
	return newKafka(w, logger), nil
}

func newKafka(w messageWriter, logger *slog.Logger) *Kafka {
	return &Kafka{w: w, logger: logger}
}

func (k *Kafka) Name() string { return "kafka" }

// Publish enqueues ev. With an async writer this returns immediately.
func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	if ev.Response == nil {
		return errors.New("kafka: event has no response")
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: encode event: %w", err)
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Response.RequestID),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "mode", Value: []byte(ev.Mode)},
		},
	})
}

// Close flushes buffered messages.
func (k *Kafka) Close() error {
	return k.w.Close()
}
