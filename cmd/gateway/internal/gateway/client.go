package gateway

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/telcrypto-backend/pkg/metrics"
)

const (
	maxMessageSize    = 512 * 1024
	defaultSendBuffer = 256
)

// ClientAdapter is one websocket subscriber on top of a raw gobwas connection.
// Clients never send commands; inbound frames only keep the link alive.
type ClientAdapter struct {
	id     string
	conn   net.Conn
	hub    *hub.Hub
	send   chan []byte
	logger *zap.Logger

	mu     sync.Mutex
	open   bool
	closed bool

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

var _ hub.Subscriber = (*ClientAdapter)(nil)

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger, sendBuffer int) *ClientAdapter {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	id := uuid.NewString()
	return &ClientAdapter{
		id:         id,
		conn:       conn,
		hub:        h,
		send:       make(chan []byte, sendBuffer),
		logger:     logger.With(zap.String("subscriber", id), zap.String("remote", conn.RemoteAddr().String())),
		open:       true,
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

// Start joins the hub with an initial snapshot and then begins serving the
// connection. The snapshot is queued before any update can be.
func (c *ClientAdapter) Start(ctx context.Context, source hub.SnapshotSource, symbols []string) {
	go c.writePump()
	if err := c.hub.Join(ctx, c, source, symbols); err != nil {
		c.logger.Warn("Joined without initial prices", zap.Error(err))
	}
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.id }

func (c *ClientAdapter) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

// SendBytes queues b for the write pump. A full buffer drops the message.
func (c *ClientAdapter) SendBytes(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		metrics.FramesDropped.WithLabelValues("backpressure").Inc()
		c.logger.Warn("Send buffer full, dropping message")
	}
}

// Close stops the write pump, which sends a close frame and closes the conn.
func (c *ClientAdapter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *ClientAdapter) markClosed() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

func (c *ClientAdapter) readPump() {
	defer func() {
		if !c.hub.Detach(c) {
			c.Close()
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			return
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			return
		}

		if _, err := io.CopyN(io.Discard, c.conn, header.Length); err != nil {
			return
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		case ws.OpText, ws.OpBinary:
			c.logger.Debug("Ignoring client message", zap.Int64("size", header.Length))
		}
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.markClosed()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				c.logger.Debug("Write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
