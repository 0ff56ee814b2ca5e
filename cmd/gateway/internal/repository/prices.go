package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/pkg/metrics"
	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

const (
	latestPrefix  = "price:"
	historyPrefix = "history:"
)

// Options tunes a Store.
type Options struct {
	HistoryCapacity int
	HistoryTTL      time.Duration
	MissingPolicy   MissingPolicy
	LockStripes     int
}

func DefaultOptions() Options {
	return Options{
		HistoryCapacity: 1000,
		HistoryTTL:      7 * 24 * time.Hour,
		MissingPolicy:   MissingSynthesize,
		LockStripes:     64,
	}
}

var _ PriceStore = (*Store)(nil)

// Store is the PriceStore used by the service. Every operation runs against
// the durable backend while it reports itself available and against the
// in-memory fallback otherwise; ordering and trimming rules are the same on both.
// Ticks the fallback took during an outage move to the durable backend the
// next time their symbol is read or written there.
type Store struct {
	durable  Backend
	fallback Backend
	opts     Options
	locks    *stripedLock
	logger   *zap.Logger

	// symbol -> newest accepted models.PriceTick; outlives backend switches
	marks sync.Map
}

// NewStore wires a Store. durable may be nil to run memory-only; a nil
// fallback gets a fresh MemoryBackend.
func NewStore(durable, fallback Backend, opts Options, logger *zap.Logger) *Store {
	if fallback == nil {
		fallback = NewMemoryBackend()
	}
	def := DefaultOptions()
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = def.HistoryCapacity
	}
	if opts.MissingPolicy == "" {
		opts.MissingPolicy = def.MissingPolicy
	}
	if opts.LockStripes <= 0 {
		opts.LockStripes = def.LockStripes
	}
	return &Store{
		durable:  durable,
		fallback: fallback,
		opts:     opts,
		locks:    newStripedLock(opts.LockStripes),
		logger:   logger,
	}
}

// Put stores tick unless it is older than the symbol's latest tick. A stale
// tick is not an error: Put returns false, nil.
func (s *Store) Put(ctx context.Context, tick models.PriceTick) (bool, error) {
	unlock := s.locks.lock(tick.Symbol)
	defer unlock()

	if mark, ok := s.mark(tick.Symbol); ok && tick.Timestamp < mark.Timestamp {
		s.rejected(tick)
		return false, nil
	}

	var accepted bool
	err := s.run("put", func(b Backend) error {
		if err := s.reconcile(ctx, b, tick.Symbol); err != nil {
			return err
		}
		var err error
		accepted, err = s.put(ctx, b, tick)
		return err
	})
	if err != nil {
		return false, err
	}
	if !accepted {
		s.rejected(tick)
		return false, nil
	}
	s.marks.Store(tick.Symbol, tick)
	return true, nil
}

func (s *Store) rejected(tick models.PriceTick) {
	metrics.TicksRejected.WithLabelValues(tick.Symbol).Inc()
	s.logger.Debug("Rejected stale tick", zap.String("symbol", tick.Symbol), zap.Int64("timestamp", tick.Timestamp))
}

// mark is the newest tick this process accepted for symbol, whichever backend took it.
func (s *Store) mark(symbol string) (models.PriceTick, bool) {
	v, ok := s.marks.Load(symbol)
	if !ok {
		return models.PriceTick{}, false
	}
	return v.(models.PriceTick), true
}

func (s *Store) put(ctx context.Context, b Backend, tick models.PriceTick) (bool, error) {
	latestKey := latestPrefix + tick.Symbol
	raw, found, err := b.Get(ctx, latestKey)
	if err != nil {
		return false, err
	}
	if found {
		current, err := decodeTick(latestKey, raw)
		if err != nil {
			s.logger.Warn("Overwriting corrupt latest price", zap.String("key", latestKey), zap.Error(err))
		} else if tick.Timestamp < current.Timestamp {
			return false, nil
		}
	}

	payload, err := json.Marshal(tick)
	if err != nil {
		return false, fmt.Errorf("encode tick %s: %w", tick.Symbol, err)
	}
	if err := b.Set(ctx, latestKey, payload, 0); err != nil {
		return false, err
	}

	historyKey := historyPrefix + tick.Symbol
	headTs, hasHead, err := s.historyHead(ctx, b, historyKey)
	if err != nil {
		return false, err
	}
	// latest can be lost while history survives; never put an older tick on top
	if hasHead && headTs > tick.Timestamp {
		return true, nil
	}
	if err := b.PushLeft(ctx, historyKey, payload); err != nil {
		return false, err
	}
	return true, s.capHistory(ctx, b, historyKey)
}

func (s *Store) historyHead(ctx context.Context, b Backend, historyKey string) (int64, bool, error) {
	head, found, err := b.Index(ctx, historyKey, 0)
	if err != nil || !found {
		return 0, false, err
	}
	last, err := decodeTick(historyKey, head)
	if err != nil {
		return 0, false, nil
	}
	return last.Timestamp, true, nil
}

func (s *Store) capHistory(ctx context.Context, b Backend, historyKey string) error {
	if err := b.Trim(ctx, historyKey, 0, int64(s.opts.HistoryCapacity-1)); err != nil {
		return err
	}
	if s.opts.HistoryTTL > 0 {
		return b.Expire(ctx, historyKey, s.opts.HistoryTTL)
	}
	return nil
}

// reconcile moves ticks the fallback accepted during a durable outage onto b,
// then clears them from memory. History entries at or below b's head are
// dropped, so a reconcile interrupted by another outage can safely run again.
// Callers hold the symbol lock.
func (s *Store) reconcile(ctx context.Context, b Backend, symbol string) error {
	if b == s.fallback {
		return nil
	}
	latestKey, historyKey := latestPrefix+symbol, historyPrefix+symbol

	pending, hasPending, err := s.fallback.Get(ctx, latestKey)
	if err != nil {
		return err
	}
	rows, err := s.fallback.Range(ctx, historyKey, 0, -1)
	if err != nil {
		return err
	}
	if !hasPending && len(rows) == 0 {
		return nil
	}

	if hasPending {
		replace := true
		raw, found, err := b.Get(ctx, latestKey)
		if err != nil {
			return err
		}
		if found {
			current, curErr := decodeTick(latestKey, raw)
			next, nextErr := decodeTick(latestKey, pending)
			replace = curErr != nil || (nextErr == nil && next.Timestamp >= current.Timestamp)
		}
		if replace {
			if err := b.Set(ctx, latestKey, pending, 0); err != nil {
				return err
			}
		}
	}

	moved := 0
	if len(rows) > 0 {
		headTs, hasHead, err := s.historyHead(ctx, b, historyKey)
		if err != nil {
			return err
		}
		// rows are newest first
		for i := len(rows) - 1; i >= 0; i-- {
			t, err := decodeTick(historyKey, rows[i])
			if err != nil || (hasHead && t.Timestamp <= headTs) {
				continue
			}
			if err := b.PushLeft(ctx, historyKey, rows[i]); err != nil {
				return err
			}
			headTs, hasHead = t.Timestamp, true
			moved++
		}
		if moved > 0 {
			if err := s.capHistory(ctx, b, historyKey); err != nil {
				return err
			}
		}
	}

	if err := s.fallback.Delete(ctx, latestKey, historyKey); err != nil {
		return err
	}
	s.logger.Info("Moved outage ticks to durable store", zap.String("symbol", symbol), zap.Int("history", moved))
	return nil
}

// GetLatest returns the latest tick per symbol, in request order. Symbols with
// no data are handled by the configured MissingPolicy.
func (s *Store) GetLatest(ctx context.Context, symbols []string) ([]models.PriceTick, error) {
	out := make([]models.PriceTick, 0, len(symbols))
	for _, symbol := range symbols {
		tick, found, err := s.latest(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if !found {
			if s.opts.MissingPolicy == MissingOmit {
				continue
			}
			s.logger.Warn("No stored price, returning placeholder", zap.String("symbol", symbol))
			tick = Placeholder(symbol)
		}
		out = append(out, tick)
	}
	return out, nil
}

func (s *Store) latest(ctx context.Context, symbol string) (models.PriceTick, bool, error) {
	unlock := s.locks.lock(symbol)
	defer unlock()

	key := latestPrefix + symbol
	var raw []byte
	var found bool
	err := s.run("get_latest", func(b Backend) error {
		if err := s.reconcile(ctx, b, symbol); err != nil {
			return err
		}
		var err error
		raw, found, err = b.Get(ctx, key)
		return err
	})
	if err != nil {
		return models.PriceTick{}, false, err
	}

	var tick models.PriceTick
	if found {
		if tick, err = decodeTick(key, raw); err != nil {
			return models.PriceTick{}, false, err
		}
	}
	// during an outage memory only holds what arrived since it began
	if mark, ok := s.mark(symbol); ok && (!found || mark.Timestamp > tick.Timestamp) {
		return mark, true, nil
	}
	return tick, found, nil
}

// GetHistory returns up to limit ticks for symbol, newest first.
func (s *Store) GetHistory(ctx context.Context, symbol string, limit int) ([]models.PriceTick, error) {
	if limit <= 0 {
		return []models.PriceTick{}, nil
	}
	if limit > s.opts.HistoryCapacity {
		limit = s.opts.HistoryCapacity
	}
	key := historyPrefix + symbol

	unlock := s.locks.lock(symbol)
	defer unlock()

	var rows [][]byte
	err := s.run("get_history", func(b Backend) error {
		if err := s.reconcile(ctx, b, symbol); err != nil {
			return err
		}
		var err error
		rows, err = b.Range(ctx, key, 0, int64(limit-1))
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.PriceTick, 0, len(rows))
	for _, row := range rows {
		tick, err := decodeTick(key, row)
		if err != nil {
			return nil, err
		}
		out = append(out, tick)
	}
	return out, nil
}

// run executes fn on the durable backend when it is available and falls back
// to memory when it is not, or when it drops out mid-operation.
func (s *Store) run(op string, fn func(Backend) error) error {
	if s.durable != nil && s.durable.Available() {
		err := fn(s.durable)
		if !errors.Is(err, ErrUnavailable) {
			return err
		}
		s.logger.Warn("Durable store failed, retrying in memory", zap.String("op", op), zap.Error(err))
	}
	if s.durable != nil {
		metrics.StoreFallbacks.WithLabelValues(op).Inc()
	}
	return fn(s.fallback)
}

func decodeTick(key string, raw []byte) (models.PriceTick, error) {
	var tick models.PriceTick
	if err := json.Unmarshal(raw, &tick); err != nil {
		return models.PriceTick{}, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}
	return tick, nil
}
