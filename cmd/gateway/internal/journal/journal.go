// Package journal mirrors accepted ticks to a Kafka topic keyed by symbol,
// so consumers see each symbol's ticks in acceptance order.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/pkg/metrics"
	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

type Journal struct {
	writer KafkaWriter
	logger *zap.Logger
}

func New(writer KafkaWriter, logger *zap.Logger) *Journal {
	return &Journal{writer: writer, logger: logger}
}

// NewWriter builds an async writer. Hashing the key keeps one symbol on one partition.
func NewWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				metrics.JournalErrors.Add(float64(len(messages)))
				logger.Error("Kafka Write Error", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
}

// Record appends tick to the journal.
func (j *Journal) Record(ctx context.Context, tick models.PriceTick) error {
	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("encode tick %s: %w", tick.Symbol, err)
	}
	if err := j.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tick.Symbol),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("journal tick %s: %w", tick.Symbol, err)
	}
	return nil
}

// Close flushes buffered messages.
func (j *Journal) Close() error {
	if err := j.writer.Close(); err != nil {
		j.logger.Error("Error closing Kafka writer", zap.Error(err))
		return err
	}
	j.logger.Info("Kafka writer closed cleanly")
	return nil
}
