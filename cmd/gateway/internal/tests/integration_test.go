package tests

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket" // Using Gorilla for the test CLIENT
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/prices"
	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

var symbols = []string{"BTCUSDT", "ETHUSDT"}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type stack struct {
	server   *httptest.Server
	hub      *hub.Hub
	pipeline *prices.Pipeline
	service  *prices.Service
}

func startServer(t *testing.T) *stack {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	backend := repository.NewRedisBackend(rdb, zap.NewNop())
	if !backend.Probe(context.Background()) {
		t.Fatal("miniredis should be reachable")
	}
	store := repository.NewStore(backend, nil, repository.DefaultOptions(), zap.NewNop())

	wsHub := hub.NewHub(zap.NewNop())
	service := prices.NewService(store, symbols)
	pipeline := prices.NewPipeline(store, wsHub, nil, zap.NewNop())

	server := httptest.NewServer(&gateway.Handler{
		Hub:     wsHub,
		Source:  service,
		Symbols: symbols,
		Logger:  zap.NewNop(),
	})
	t.Cleanup(server.Close)

	return &stack{server: server, hub: wsHub, pipeline: pipeline, service: service}
}

func connectWS(t *testing.T, serverURL string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(serverURL, "http")
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to websocket: %v", err)
	}
	t.Cleanup(func() { wsConn.Close() })
	return wsConn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("Invalid envelope %s: %v", msg, err)
	}
	return env
}

func waitForCount(t *testing.T, h *hub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d subscribers, have %d", want, h.Count())
}

func TestEndToEnd_SnapshotThenUpdates(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()

	s.pipeline.Ingest(ctx, models.PriceTick{Symbol: "BTCUSDT", Price: 64000, Timestamp: 1000})

	wsConn := connectWS(t, s.server.URL)

	env := readEnvelope(t, wsConn)
	if env.Type != "initial_prices" {
		t.Fatalf("First message must be initial_prices, got %s", env.Type)
	}
	var snapshot []models.PriceTick
	if err := json.Unmarshal(env.Data, &snapshot); err != nil {
		t.Fatalf("Bad snapshot payload: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("Expected a record per configured symbol, got %+v", snapshot)
	}
	if snapshot[0].Symbol != "BTCUSDT" || snapshot[0].Price != 64000 || snapshot[0].Placeholder {
		t.Errorf("Unexpected BTC snapshot entry %+v", snapshot[0])
	}
	if snapshot[1].Symbol != "ETHUSDT" || !snapshot[1].Placeholder {
		t.Errorf("ETH has no data and should be a placeholder, got %+v", snapshot[1])
	}

	waitForCount(t, s.hub, 1)

	// stale tick is rejected and never reaches the client
	s.pipeline.Ingest(ctx, models.PriceTick{Symbol: "BTCUSDT", Price: 1, Timestamp: 999})
	s.pipeline.Ingest(ctx, models.PriceTick{Symbol: "BTCUSDT", Price: 64100.5, Timestamp: 1001})

	env = readEnvelope(t, wsConn)
	if env.Type != "price_update" {
		t.Fatalf("Expected price_update, got %s", env.Type)
	}
	var update models.PriceTick
	if err := json.Unmarshal(env.Data, &update); err != nil {
		t.Fatalf("Bad update payload: %v", err)
	}
	if update.Price != 64100.5 || update.Timestamp < snapshot[0].Timestamp {
		t.Errorf("Unexpected update %+v", update)
	}

	history, err := s.service.History(ctx, "BTCUSDT", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Timestamp != 1001 {
		t.Errorf("Expected newest-first history of 2, got %+v", history)
	}
}

func TestEndToEnd_FanOutToAllClients(t *testing.T) {
	s := startServer(t)

	a := connectWS(t, s.server.URL)
	b := connectWS(t, s.server.URL)
	readEnvelope(t, a)
	readEnvelope(t, b)
	waitForCount(t, s.hub, 2)

	s.pipeline.Ingest(context.Background(), models.PriceTick{Symbol: "ETHUSDT", Price: 3100, Timestamp: 5})

	for name, conn := range map[string]*websocket.Conn{"a": a, "b": b} {
		env := readEnvelope(t, conn)
		if env.Type != "price_update" || !strings.Contains(string(env.Data), "ETHUSDT") {
			t.Errorf("client %s: unexpected message %s %s", name, env.Type, env.Data)
		}
	}
}

func TestEndToEnd_DisconnectDetaches(t *testing.T) {
	s := startServer(t)

	wsConn := connectWS(t, s.server.URL)
	readEnvelope(t, wsConn)
	waitForCount(t, s.hub, 1)

	wsConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	wsConn.Close()
	waitForCount(t, s.hub, 0)

	// publishing with nobody attached is a no-op
	s.pipeline.Ingest(context.Background(), models.PriceTick{Symbol: "BTCUSDT", Price: 1, Timestamp: 1})
}

func TestEndToEnd_ClientMessagesIgnored(t *testing.T) {
	s := startServer(t)

	wsConn := connectWS(t, s.server.URL)
	readEnvelope(t, wsConn)

	wsConn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","symbols":["DOGEUSDT"]}`))
	s.pipeline.Ingest(context.Background(), models.PriceTick{Symbol: "BTCUSDT", Price: 2, Timestamp: 2})

	env := readEnvelope(t, wsConn)
	if env.Type != "price_update" {
		t.Errorf("Connection should keep streaming after a client message, got %s", env.Type)
	}
}

func TestEndToEnd_MaxMessageSize(t *testing.T) {
	s := startServer(t)

	wsConn := connectWS(t, s.server.URL)
	readEnvelope(t, wsConn)
	waitForCount(t, s.hub, 1)

	hugePayload := strings.Repeat("a", 513*1024)
	if err := wsConn.WriteMessage(websocket.TextMessage, []byte(hugePayload)); err != nil {
		return
	}
	waitForCount(t, s.hub, 0)
}
