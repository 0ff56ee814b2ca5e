package journal

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

// KafkaReader abstracts the journal input stream
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// TickStore is the part of the price store replay writes through.
type TickStore interface {
	Put(ctx context.Context, tick models.PriceTick) (bool, error)
}

// ReplayStats counts what one replay did.
type ReplayStats struct {
	Read    int64
	Applied int64
	Stale   int64
	Invalid int64
	Failed  int64
}

// NewReader reads the whole retained journal. Every call joins a fresh
// consumer group so each boot starts from the first offset.
func NewReader(brokers []string, topic, groupPrefix string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupPrefix + "-" + uuid.NewString(),
		StartOffset: kafka.FirstOffset,
		MinBytes:    200,
		MaxBytes:    10e6,
		MaxWait:     200 * time.Millisecond,
	})
}

// Replayer rebuilds the price store from the journal. Messages are sharded
// by key so one symbol is always applied by one worker in journal order;
// the store's timestamp check makes re-applying a tick harmless.
type Replayer struct {
	logger     *zap.Logger
	reader     KafkaReader
	store      TickStore
	numWorkers int

	read, applied, stale, invalid, failed atomic.Int64
}

func NewReplayer(logger *zap.Logger, reader KafkaReader, store TickStore, numWorkers int) *Replayer {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Replayer{
		logger:     logger,
		reader:     reader,
		store:      store,
		numWorkers: numWorkers,
	}
}

// Run consumes until ctx ends or the reader reports end of stream, then
// waits for the workers to drain.
func (r *Replayer) Run(ctx context.Context) ReplayStats {
	workerChans := make([]chan []byte, r.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < r.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go r.worker(ctx, workerChans[i], &wg)
	}

	r.logger.Info("Journal replay started", zap.Int("workers", r.numWorkers))
	r.consume(ctx, workerChans)

	for _, ch := range workerChans {
		close(ch)
	}
	wg.Wait()

	stats := ReplayStats{
		Read:    r.read.Load(),
		Applied: r.applied.Load(),
		Stale:   r.stale.Load(),
		Invalid: r.invalid.Load(),
		Failed:  r.failed.Load(),
	}
	r.logger.Info("Journal replay finished",
		zap.Int64("read", stats.Read),
		zap.Int64("applied", stats.Applied),
		zap.Int64("stale", stats.Stale),
		zap.Int64("invalid", stats.Invalid),
		zap.Int64("failed", stats.Failed))
	return stats
}

func (r *Replayer) consume(ctx context.Context, workerChans []chan []byte) {
	for {
		m, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return
			}
			r.logger.Error("Kafka Read Error", zap.Error(err))
			continue
		}
		r.read.Add(1)

		// Deterministic Sharding: Same symbol always goes to same worker
		workerID := getWorkerID(m.Key, r.numWorkers)
		select {
		case workerChans[workerID] <- m.Value:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Replayer) worker(ctx context.Context, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()

	for payload := range msgs {
		var tick models.PriceTick
		if err := json.Unmarshal(payload, &tick); err != nil || tick.Symbol == "" {
			r.invalid.Add(1)
			r.logger.Warn("Skipping invalid journal entry", zap.ByteString("payload", payload), zap.Error(err))
			continue
		}

		// ctx may already be done; the queued ticks are still worth keeping
		accepted, err := r.store.Put(context.WithoutCancel(ctx), tick)
		switch {
		case err != nil:
			r.failed.Add(1)
			r.logger.Error("Replay Put Error", zap.String("symbol", tick.Symbol), zap.Error(err))
		case accepted:
			r.applied.Add(1)
		default:
			r.stale.Add(1)
		}
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
