package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

var ErrNoStreams = errors.New("no ticker streams requested")

// Server streams ticker frames on /ws/<symbol>@ticker/... paths.
type Server struct {
	logger       *zap.Logger
	clock        Clock
	interval     time.Duration
	dropAfter    int
	newGenerator func(symbols []string) *TickerGenerator
}

// NewServer builds a Server. dropAfter > 0 closes every stream after that
// many frames so clients can exercise their reconnect path.
func NewServer(logger *zap.Logger, clock Clock, interval time.Duration, dropAfter int, newGenerator func(symbols []string) *TickerGenerator) *Server {
	return &Server{
		logger:       logger,
		clock:        clock,
		interval:     interval,
		dropAfter:    dropAfter,
		newGenerator: newGenerator,
	}
}

// ParseStreams turns "/ws/btcusdt@ticker/ethusdt@ticker" into its symbols.
func ParseStreams(path string) ([]string, error) {
	rest := strings.TrimPrefix(path, "/ws")
	var symbols []string
	for _, part := range strings.Split(rest, "/") {
		if part == "" {
			continue
		}
		sym, ok := strings.CutSuffix(part, "@ticker")
		if !ok || sym == "" {
			return nil, fmt.Errorf("unsupported stream %q", part)
		}
		symbols = append(symbols, strings.ToUpper(sym))
	}
	if len(symbols) == 0 {
		return nil, ErrNoStreams
	}
	return symbols, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	symbols, err := ParseStreams(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	s.logger.Info("Stream opened", zap.String("remote", conn.RemoteAddr().String()), zap.Strings("symbols", symbols))
	go s.stream(conn, symbols)
}

func (s *Server) stream(conn net.Conn, symbols []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		conn.Close()
	}()
	go s.drain(conn, cancel)

	gen := s.newGenerator(symbols)
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := wsutil.WriteServerText(conn, gen.Next()); err != nil {
			s.logger.Debug("Stream write failed", zap.Error(err))
			return
		}
		sent++
		if s.dropAfter > 0 && sent >= s.dropAfter {
			s.logger.Info("Dropping stream", zap.Int("frames", sent))
			return
		}
		s.clock.Sleep(s.interval)
	}
}

// drain discards client frames and cancels the stream when the client goes away.
func (s *Server) drain(conn net.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		header, err := ws.ReadHeader(conn)
		if err != nil {
			return
		}
		if _, err := io.CopyN(io.Discard, conn, header.Length); err != nil {
			return
		}
		if header.OpCode == ws.OpClose {
			return
		}
	}
}
