package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/telcrypto-backend/pkg/metrics"
	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

// Subscriber is one connected client as seen by the hub. SendBytes must not
// block and must keep the order of calls.
type Subscriber interface {
	ID() string
	IsOpen() bool
	SendBytes(b []byte)
	Close()
}

// SnapshotSource supplies the latest prices a new subscriber starts from.
type SnapshotSource interface {
	Latest(ctx context.Context, symbols []string) ([]models.PriceTick, error)
}

// DefaultSnapshotTimeout bounds the store read a joining subscriber waits on.
const DefaultSnapshotTimeout = 2 * time.Second

// Hub owns the set of live subscribers and fans accepted ticks out to them.
type Hub struct {
	subscribers map[Subscriber]struct{}
	joining     map[Subscriber]*joinBuffer
	logger      *zap.Logger
	mu          sync.RWMutex

	snapshotTimeout time.Duration
}

// joinBuffer holds updates published while a subscriber's snapshot is loading.
type joinBuffer struct {
	mu      sync.Mutex
	pending []update
}

type update struct {
	tick models.PriceTick
	msg  []byte
}

func (b *joinBuffer) add(u update) {
	b.mu.Lock()
	b.pending = append(b.pending, u)
	b.mu.Unlock()
}

type Option func(*Hub)

func WithSnapshotTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.snapshotTimeout = d
		}
	}
}

func NewHub(logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		subscribers:     make(map[Subscriber]struct{}),
		joining:         make(map[Subscriber]*joinBuffer),
		logger:          logger,
		snapshotTimeout: DefaultSnapshotTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join sends sub the snapshot and then attaches it. The snapshot is read
// without holding the hub lock; updates published meanwhile are buffered and
// replayed after the snapshot, minus any older than the snapshot's tick for
// that symbol. A failed snapshot read is logged and sub is attached anyway.
func (h *Hub) Join(ctx context.Context, sub Subscriber, source SnapshotSource, symbols []string) error {
	buf := &joinBuffer{}
	h.mu.Lock()
	h.joining[sub] = buf
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, h.snapshotTimeout)
	ticks, err := source.Latest(ctx, symbols)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.joining, sub)

	seen := make(map[string]int64, len(ticks))
	if err != nil {
		h.logger.Error("Failed to load initial prices", zap.String("subscriber", sub.ID()), zap.Error(err))
	} else {
		h.SendSnapshot(sub, ticks)
		for _, t := range ticks {
			seen[t.Symbol] = t.Timestamp
		}
	}

	// Publish holds the read lock while buffering, so pending is complete here
	for _, u := range buf.pending {
		if ts, ok := seen[u.tick.Symbol]; ok && u.tick.Timestamp < ts {
			continue
		}
		seen[u.tick.Symbol] = u.tick.Timestamp
		if sub.IsOpen() {
			sub.SendBytes(u.msg)
		}
	}
	h.attach(sub)
	return err
}

func (h *Hub) Attach(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attach(sub)
}

func (h *Hub) attach(sub Subscriber) {
	if _, ok := h.subscribers[sub]; ok {
		return
	}
	h.subscribers[sub] = struct{}{}
	metrics.Subscribers.Set(float64(len(h.subscribers)))
	h.logger.Info("Subscriber attached", zap.String("subscriber", sub.ID()), zap.Int("count", len(h.subscribers)))
}

// Detach removes sub and closes it. Only the first call for a subscriber has
// any effect; it reports whether this call removed it.
func (h *Hub) Detach(sub Subscriber) bool {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.subscribers, sub)
	count := len(h.subscribers)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(count))
	sub.Close()
	h.logger.Info("Subscriber detached", zap.String("subscriber", sub.ID()), zap.Int("count", count))
	return true
}

// Publish sends a price_update to every open subscriber. Subscribers that are
// not open are skipped, not removed.
func (h *Hub) Publish(tick models.PriceTick) {
	msg, err := protocol.Encode(protocol.TypePriceUpdate, tick)
	if err != nil {
		h.logger.Error("Failed to encode price update", zap.String("symbol", tick.Symbol), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, buf := range h.joining {
		buf.add(update{tick: tick, msg: msg})
	}

	sent := 0
	for sub := range h.subscribers {
		if !sub.IsOpen() {
			h.logger.Warn("Skipping subscriber that is not open", zap.String("subscriber", sub.ID()))
			continue
		}
		sub.SendBytes(msg)
		sent++
	}
	h.logger.Debug("Broadcast price update", zap.String("symbol", tick.Symbol), zap.Int("sent", sent))
}

// SendSnapshot sends one initial_prices envelope to sub.
func (h *Hub) SendSnapshot(sub Subscriber, ticks []models.PriceTick) {
	if ticks == nil {
		ticks = []models.PriceTick{}
	}
	msg, err := protocol.Encode(protocol.TypeInitialPrices, ticks)
	if err != nil {
		h.logger.Error("Failed to encode initial prices", zap.Error(err))
		return
	}
	if !sub.IsOpen() {
		h.logger.Warn("Subscriber not open, cannot send initial prices", zap.String("subscriber", sub.ID()))
		return
	}
	sub.SendBytes(msg)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Shutdown detaches every subscriber.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.Detach(sub)
	}
}
