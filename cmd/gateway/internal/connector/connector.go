// Package connector keeps a single streaming subscription to the exchange
// ticker feed open and hands every decoded tick to a Sink.
package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/pkg/metrics"
	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

// State of the upstream link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Sink receives decoded ticks. Delivery is fire-and-forget.
type Sink interface {
	Ingest(ctx context.Context, tick models.PriceTick)
}

const DefaultReconnectDelay = 5 * time.Second

// Option configures Connector construction parameters.
type Option func(*Connector)

func WithDialer(d Dialer) Option {
	return func(c *Connector) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithClock(clock Clock) Option {
	return func(c *Connector) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithReconnectDelay overrides the fixed pause between a disconnect and the next dial.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.delay = d
		}
	}
}

// Connector dials the upstream feed, forwards ticks, and after any failure
// redials once per fixed delay for as long as it runs.
type Connector struct {
	url     string
	symbols []string
	sink    Sink
	logger  *zap.Logger
	dialer  Dialer
	clock   Clock
	delay   time.Duration

	state atomic.Int32

	mu      sync.Mutex
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func New(baseURL string, symbols []string, sink Sink, logger *zap.Logger, opts ...Option) *Connector {
	c := &Connector{
		url:     StreamURL(baseURL, symbols),
		symbols: append([]string(nil), symbols...),
		sink:    sink,
		logger:  logger,
		dialer:  GorillaDialer{HandshakeTimeout: 10 * time.Second},
		clock:   RealClock{},
		delay:   DefaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamURL builds the raw-stream URL: <base>/btcusdt@ticker/ethusdt@ticker.
func StreamURL(baseURL string, symbols []string) string {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@ticker"
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.Join(streams, "/")
}

func (c *Connector) URL() string { return c.url }

func (c *Connector) State() State { return State(c.state.Load()) }

// Start launches the connection loop. Calling it again, or after Stop, does nothing.
func (c *Connector) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil || c.stopped {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Stop closes the live connection, cancels any pending reconnect and waits
// for the loop to exit. It is idempotent and must not be called from the Sink.
func (c *Connector) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.state.Store(int32(Stopped))
	cancel, conn, done := c.cancel, c.conn, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	c.logger.Info("Upstream connector stopped")
}

func (c *Connector) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		c.setState(Disconnected)
		metrics.Reconnects.Inc()
		c.logger.Warn("Upstream disconnected, scheduling reconnect", zap.Duration("delay", c.delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.delay):
		}
	}
}

func (c *Connector) session(ctx context.Context) error {
	c.setState(Connecting)
	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return context.Canceled
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	c.setState(Connected)
	c.logger.Info("Connected to upstream", zap.String("url", c.url), zap.Strings("symbols", c.symbols))

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, ok, err := DecodeFrame(frame)
		if err != nil {
			metrics.FramesDropped.WithLabelValues("malformed").Inc()
			c.logger.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}
		if !ok {
			metrics.FramesDropped.WithLabelValues("ignored").Inc()
			c.logger.Debug("Ignoring non-ticker frame", zap.ByteString("frame", frame))
			continue
		}

		metrics.TicksReceived.WithLabelValues(tick.Symbol).Inc()
		c.sink.Ingest(ctx, tick)
	}
}

// setState never moves the connector out of Stopped.
func (c *Connector) setState(s State) {
	for {
		cur := c.state.Load()
		if State(cur) == Stopped {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

