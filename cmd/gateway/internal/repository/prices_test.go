package repository_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/telcrypto-backend/pkg/config"
	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

func tick(symbol string, ts int64) models.PriceTick {
	return models.PriceTick{Symbol: symbol, Price: float64(ts) / 10, Timestamp: ts}
}

func newRedisStore(t *testing.T, opts repository.Options) (*repository.Store, *repository.RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	durable := repository.NewRedisBackend(rdb, zap.NewNop())
	if !durable.Probe(context.Background()) {
		t.Fatal("miniredis should be reachable")
	}
	return repository.NewStore(durable, nil, opts, zap.NewNop()), durable, mr
}

// both backends must behave the same way
func stores(t *testing.T) map[string]*repository.Store {
	redisStore, _, _ := newRedisStore(t, repository.DefaultOptions())
	return map[string]*repository.Store{
		"redis":  redisStore,
		"memory": repository.NewStore(nil, nil, repository.DefaultOptions(), zap.NewNop()),
	}
}

func timestamps(ticks []models.PriceTick) []int64 {
	out := make([]int64, len(ticks))
	for i, tk := range ticks {
		out[i] = tk.Timestamp
	}
	return out
}

func TestStore_OutOfOrderTicks(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			wantAccepted := []bool{true, false, true, false}

			for i, ts := range []int64{100, 80, 120, 90} {
				accepted, err := store.Put(ctx, tick("BTCUSDT", ts))
				if err != nil {
					t.Fatalf("Put(%d) failed: %v", ts, err)
				}
				if accepted != wantAccepted[i] {
					t.Errorf("Put(%d) accepted=%v, want %v", ts, accepted, wantAccepted[i])
				}
			}

			latest, err := store.GetLatest(ctx, []string{"BTCUSDT"})
			if err != nil {
				t.Fatalf("GetLatest failed: %v", err)
			}
			if len(latest) != 1 || latest[0].Timestamp != 120 {
				t.Errorf("Expected latest timestamp 120, got %+v", latest)
			}

			history, err := store.GetHistory(ctx, "BTCUSDT", 100)
			if err != nil {
				t.Fatalf("GetHistory failed: %v", err)
			}
			got := timestamps(history)
			if len(got) != 2 || got[0] != 120 || got[1] != 100 {
				t.Errorf("Expected history [120 100], got %v", got)
			}
		})
	}
}

func TestStore_EqualTimestampAccepted(t *testing.T) {
	store := repository.NewStore(nil, nil, repository.DefaultOptions(), zap.NewNop())
	ctx := context.Background()

	store.Put(ctx, tick("ETHUSDT", 50))
	accepted, err := store.Put(ctx, models.PriceTick{Symbol: "ETHUSDT", Price: 7, Timestamp: 50})
	if err != nil || !accepted {
		t.Fatalf("Expected equal timestamp to be accepted, got %v %v", accepted, err)
	}

	latest, _ := store.GetLatest(ctx, []string{"ETHUSDT"})
	if latest[0].Price != 7 {
		t.Errorf("Expected latest price 7, got %f", latest[0].Price)
	}
}

func TestStore_LatestIsRunningMax(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := rand.New(rand.NewSource(42))

			var max int64 = -1
			for _, ts := range r.Perm(200) {
				if _, err := store.Put(ctx, tick("SOLUSDT", int64(ts))); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
				if int64(ts) > max {
					max = int64(ts)
				}
				latest, err := store.GetLatest(ctx, []string{"SOLUSDT"})
				if err != nil {
					t.Fatalf("GetLatest failed: %v", err)
				}
				if latest[0].Timestamp != max {
					t.Fatalf("Expected latest %d, got %d", max, latest[0].Timestamp)
				}
			}

			history, _ := store.GetHistory(ctx, "SOLUSDT", 1000)
			for i := 1; i < len(history); i++ {
				if history[i].Timestamp > history[i-1].Timestamp {
					t.Fatalf("History not newest-first at %d: %v", i, timestamps(history))
				}
			}
		})
	}
}

func TestStore_HistoryCapacity(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for ts := int64(1); ts <= 1500; ts++ {
				if _, err := store.Put(ctx, tick("BTCUSDT", ts)); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
			}

			history, err := store.GetHistory(ctx, "BTCUSDT", 5000)
			if err != nil {
				t.Fatalf("GetHistory failed: %v", err)
			}
			if len(history) != 1000 {
				t.Fatalf("Expected 1000 entries, got %d", len(history))
			}
			if history[0].Timestamp != 1500 {
				t.Errorf("Expected newest 1500, got %d", history[0].Timestamp)
			}
			if history[999].Timestamp != 501 {
				t.Errorf("Expected oldest 501, got %d", history[999].Timestamp)
			}

			limited, _ := store.GetHistory(ctx, "BTCUSDT", 3)
			if got := timestamps(limited); len(got) != 3 || got[0] != 1500 || got[2] != 1498 {
				t.Errorf("Expected [1500 1499 1498], got %v", got)
			}
		})
	}
}

func TestStore_EmptyHistory(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			history, err := store.GetHistory(context.Background(), "NOPE", 100)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if history == nil || len(history) != 0 {
				t.Errorf("Expected empty non-nil slice, got %v", history)
			}

			history, err = store.GetHistory(context.Background(), "NOPE", 0)
			if err != nil || len(history) != 0 {
				t.Errorf("Expected empty result for zero limit, got %v %v", history, err)
			}
		})
	}
}

func TestStore_PlaceholderForUnknownSymbol(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.Put(ctx, tick("BTCUSDT", 10))

			latest, err := store.GetLatest(ctx, []string{"BTCUSDT", "DOGEUSDT"})
			if err != nil {
				t.Fatalf("GetLatest failed: %v", err)
			}
			if len(latest) != 2 {
				t.Fatalf("Expected one record per symbol, got %d", len(latest))
			}
			if latest[0].Placeholder {
				t.Error("Stored tick must not be flagged as placeholder")
			}

			ph := latest[1]
			if ph.Symbol != "DOGEUSDT" || !ph.Placeholder {
				t.Errorf("Expected DOGEUSDT placeholder, got %+v", ph)
			}
			if ph.Timestamp != 0 {
				t.Errorf("Placeholder timestamp should be 0, got %d", ph.Timestamp)
			}
			if again := repository.Placeholder("DOGEUSDT"); again.Price != ph.Price {
				t.Errorf("Placeholder not deterministic: %f vs %f", again.Price, ph.Price)
			}
		})
	}
}

func TestStore_OmitPolicy(t *testing.T) {
	opts := repository.DefaultOptions()
	opts.MissingPolicy = repository.MissingOmit
	store := repository.NewStore(nil, nil, opts, zap.NewNop())
	ctx := context.Background()
	store.Put(ctx, tick("BTCUSDT", 10))

	latest, err := store.GetLatest(ctx, []string{"BTCUSDT", "DOGEUSDT"})
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if len(latest) != 1 || latest[0].Symbol != "BTCUSDT" {
		t.Errorf("Expected only BTCUSDT, got %+v", latest)
	}
}

func TestStore_FallbackWhenRedisDown(t *testing.T) {
	store, durable, mr := newRedisStore(t, repository.DefaultOptions())
	ctx := context.Background()

	if _, err := store.Put(ctx, tick("BTCUSDT", 100)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	mr.Close()

	// first write after the outage discovers it and lands in memory
	accepted, err := store.Put(ctx, tick("ETHUSDT", 200))
	if err != nil || !accepted {
		t.Fatalf("Expected fallback write to succeed, got %v %v", accepted, err)
	}
	if durable.Available() {
		t.Fatal("Backend should report itself unavailable")
	}

	accepted, err = store.Put(ctx, tick("ETHUSDT", 150))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if accepted {
		t.Error("Stale tick must be rejected on the fallback too")
	}
	store.Put(ctx, tick("ETHUSDT", 250))

	latest, err := store.GetLatest(ctx, []string{"ETHUSDT"})
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest[0].Timestamp != 250 || latest[0].Placeholder {
		t.Errorf("Expected 250 from memory, got %+v", latest[0])
	}

	history, err := store.GetHistory(ctx, "ETHUSDT", 10)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if got := timestamps(history); len(got) != 2 || got[0] != 250 || got[1] != 200 {
		t.Errorf("Expected [250 200], got %v", got)
	}

	restartRedis(t, mr, durable)

	// Redis never saw ETHUSDT; the outage ticks move over on first read
	latest, err = store.GetLatest(ctx, []string{"ETHUSDT"})
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest[0].Timestamp != 250 || latest[0].Placeholder {
		t.Errorf("Expected memory tick after recovery, got %+v", latest[0])
	}
	if got, _ := mr.Get("price:ETHUSDT"); got == "" {
		t.Error("Outage tick should now be stored in Redis")
	}
}

func restartRedis(t *testing.T, mr *miniredis.Miniredis, durable *repository.RedisBackend) {
	t.Helper()
	if err := mr.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	for i := 0; i < 5 && !durable.Probe(context.Background()); i++ {
		time.Sleep(50 * time.Millisecond)
	}
	if !durable.Available() {
		t.Fatal("Backend should be available after restart")
	}
}

func TestStore_OrderingSurvivesRecovery(t *testing.T) {
	store, durable, mr := newRedisStore(t, repository.DefaultOptions())
	ctx := context.Background()

	store.Put(ctx, tick("BTCUSDT", 100))

	mr.Close()
	if accepted, err := store.Put(ctx, tick("BTCUSDT", 200)); err != nil || !accepted {
		t.Fatalf("Expected outage write to land in memory, got %v %v", accepted, err)
	}
	store.Put(ctx, tick("ETHUSDT", 50))

	restartRedis(t, mr, durable)

	latest, err := store.GetLatest(ctx, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest[0].Timestamp != 200 {
		t.Errorf("latest regressed after recovery: %d < 200", latest[0].Timestamp)
	}

	accepted, err := store.Put(ctx, tick("BTCUSDT", 150))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if accepted {
		t.Error("150 is stale against the 200 accepted during the outage")
	}
	store.Put(ctx, tick("BTCUSDT", 300))

	history, err := store.GetHistory(ctx, "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if got := timestamps(history); len(got) != 3 || got[0] != 300 || got[1] != 200 || got[2] != 100 {
		t.Errorf("Expected [300 200 100], got %v", got)
	}

	// a symbol written only during the outage keeps its history too
	history, err = store.GetHistory(ctx, "ETHUSDT", 10)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if got := timestamps(history); len(got) != 1 || got[0] != 50 {
		t.Errorf("Expected [50], got %v", got)
	}
	if n, _ := mr.List("history:ETHUSDT"); len(n) != 1 {
		t.Errorf("Expected outage history moved to Redis, got %v", n)
	}

	// second outage: memory is empty again but must not accept older ticks
	mr.Close()
	accepted, err = store.Put(ctx, tick("BTCUSDT", 250))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if accepted {
		t.Error("250 is stale against 300")
	}
	latest, err = store.GetLatest(ctx, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest[0].Timestamp != 300 {
		t.Errorf("Expected 300 during the second outage, got %d", latest[0].Timestamp)
	}
}

func TestNewRedisClient_FailsFast(t *testing.T) {
	client := repository.NewRedisClient(config.RedisConfig{
		Addr:        "localhost:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
		ReadTimeout: 300 * time.Millisecond,
	})
	defer client.Close()

	opts := client.Options()
	if opts.MaxRetries != -1 || opts.DialTimeout != 200*time.Millisecond || opts.ReadTimeout != 300*time.Millisecond {
		t.Errorf("Config not applied: retries=%d dial=%s read=%s", opts.MaxRetries, opts.DialTimeout, opts.ReadTimeout)
	}

	store := repository.NewStore(repository.NewRedisBackend(client, zap.NewNop()), nil, repository.DefaultOptions(), zap.NewNop())
	start := time.Now()
	if _, err := store.Put(context.Background(), tick("BTCUSDT", 1)); err != nil {
		t.Fatalf("Put should fall back to memory, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Fallback took %s", elapsed)
	}
}

func TestStore_CorruptRecord(t *testing.T) {
	store, _, mr := newRedisStore(t, repository.DefaultOptions())
	ctx := context.Background()

	mr.Set("price:BTCUSDT", "not-json")

	_, err := store.GetLatest(ctx, []string{"BTCUSDT"})
	if !errors.Is(err, repository.ErrCorruptRecord) {
		t.Fatalf("Expected ErrCorruptRecord, got %v", err)
	}

	// a fresh tick replaces the corrupt value
	accepted, err := store.Put(ctx, tick("BTCUSDT", 5))
	if err != nil || !accepted {
		t.Fatalf("Expected overwrite, got %v %v", accepted, err)
	}
	latest, err := store.GetLatest(ctx, []string{"BTCUSDT"})
	if err != nil || latest[0].Timestamp != 5 {
		t.Errorf("Expected healed record, got %+v %v", latest, err)
	}

	mr.Lpush("history:SOLUSDT", "{broken")
	if _, err := store.GetHistory(ctx, "SOLUSDT", 10); !errors.Is(err, repository.ErrCorruptRecord) {
		t.Errorf("Expected ErrCorruptRecord from history, got %v", err)
	}
}

func TestRedisBackend_HistoryTTL(t *testing.T) {
	store, _, mr := newRedisStore(t, repository.DefaultOptions())

	store.Put(context.Background(), tick("BTCUSDT", 1))

	if ttl := mr.TTL("history:BTCUSDT"); ttl != 7*24*time.Hour {
		t.Errorf("Expected 7 day TTL on history, got %s", ttl)
	}
	if ttl := mr.TTL("price:BTCUSDT"); ttl != 0 {
		t.Errorf("Latest price should not expire, got %s", ttl)
	}
}

func TestStore_ConcurrentSymbols(t *testing.T) {
	store := repository.NewStore(nil, nil, repository.DefaultOptions(), zap.NewNop())
	ctx := context.Background()
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}

	var wg sync.WaitGroup
	for _, sym := range symbols {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(sym string, offset int64) {
				defer wg.Done()
				for ts := offset; ts < 400; ts += 4 {
					store.Put(ctx, tick(sym, ts))
				}
			}(sym, int64(w))
		}
	}
	wg.Wait()

	latest, err := store.GetLatest(ctx, symbols)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	for _, tk := range latest {
		if tk.Timestamp != 399 {
			t.Errorf("%s: expected latest 399, got %d", tk.Symbol, tk.Timestamp)
		}
	}
}
