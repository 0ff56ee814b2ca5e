package prices

import (
	"context"

	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/telcrypto-backend/pkg/metrics"
	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

type Publisher interface {
	Publish(tick models.PriceTick)
}

type Recorder interface {
	Record(ctx context.Context, tick models.PriceTick) error
}

// Pipeline stores each incoming tick and, when the store accepts it,
// broadcasts it and records it in the journal.
type Pipeline struct {
	store     repository.PriceStore
	publisher Publisher
	journal   Recorder
	logger    *zap.Logger
}

// NewPipeline wires the write path. journal may be nil.
func NewPipeline(store repository.PriceStore, publisher Publisher, journal Recorder, logger *zap.Logger) *Pipeline {
	return &Pipeline{store: store, publisher: publisher, journal: journal, logger: logger}
}

func (p *Pipeline) Ingest(ctx context.Context, tick models.PriceTick) {
	accepted, err := p.store.Put(ctx, tick)
	if err != nil {
		p.logger.Error("Failed to store tick", zap.String("symbol", tick.Symbol), zap.Error(err))
		return
	}
	if !accepted {
		return
	}

	p.publisher.Publish(tick)

	if p.journal == nil {
		return
	}
	if err := p.journal.Record(ctx, tick); err != nil {
		metrics.JournalErrors.Inc()
		p.logger.Warn("Failed to journal tick", zap.String("symbol", tick.Symbol), zap.Error(err))
	}
}
