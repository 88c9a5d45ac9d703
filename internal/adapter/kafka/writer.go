package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/fernwatch/satveg-collector/internal/collector"
	"github.com/fernwatch/satveg-collector/internal/config"
)

// Writer publishes collection outcomes to the status topic so the
// conversational front-end can report progress. It implements
// pipeline.StatusPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured status topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaStatusTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishOutcome serializes one collection outcome and writes it to the
// status topic, keyed by region so consumers see per-region ordering.
func (w *Writer) PublishOutcome(ctx context.Context, outcome collector.Outcome) error {
	msg, err := serializeOutcome(outcome)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeOutcome marshals an outcome into a Kafka message.
func serializeOutcome(outcome collector.Outcome) (kafkago.Message, error) {
	data, err := json.Marshal(outcome)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize outcome: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(outcome.RegionID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "mode", Value: []byte(outcome.Mode)},
			{Key: "processed_at", Value: []byte(outcome.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
