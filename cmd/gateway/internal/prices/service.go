// Package prices is the boundary the REST layer and the websocket gateway
// read through, plus the write path the upstream connector feeds.
package prices

import (
	"context"

	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

const DefaultHistoryLimit = 100

// Service is a read-only pass-through to the price store.
type Service struct {
	store   repository.PriceStore
	symbols []string
}

// NewService uses symbols when Latest is called without any.
func NewService(store repository.PriceStore, symbols []string) *Service {
	return &Service{store: store, symbols: append([]string(nil), symbols...)}
}

func (s *Service) Latest(ctx context.Context, symbols []string) ([]models.PriceTick, error) {
	if len(symbols) == 0 {
		symbols = s.symbols
	}
	return s.store.GetLatest(ctx, symbols)
}

func (s *Service) History(ctx context.Context, symbol string, limit int) ([]models.PriceTick, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.store.GetHistory(ctx, symbol, limit)
}
