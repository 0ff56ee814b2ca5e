package connector

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live upstream connection. Close must unblock a pending ReadMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Clock schedules the reconnect delay; tests swap it for a manual one.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// GorillaDialer opens upstream connections with gorilla/websocket.
type GorillaDialer struct {
	HandshakeTimeout time.Duration
	// ReadTimeout bounds the silence between frames before the link is treated as dead.
	ReadTimeout time.Duration
}

func (d GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	readTimeout := d.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	conn.SetReadLimit(1 << 20)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return &gorillaConn{conn: conn, readTimeout: readTimeout}, nil
}

type gorillaConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

func (g *gorillaConn) ReadMessage() ([]byte, error) {
	if err := g.conn.SetReadDeadline(time.Now().Add(g.readTimeout)); err != nil {
		return nil, err
	}
	_, msg, err := g.conn.ReadMessage()
	return msg, err
}

func (g *gorillaConn) Close() error { return g.conn.Close() }
