package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/connector"
	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/journal"
	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/prices"
	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/telcrypto-backend/pkg/config"
	"github.com/shubham-shewale/telcrypto-backend/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := repository.NewRedisBackend(repository.NewRedisClient(cfg.Redis), logger)
	if !backend.Probe(ctx) {
		logger.Warn("Redis unreachable at startup, serving from memory", zap.String("addr", cfg.Redis.Addr))
	}
	go backend.Monitor(ctx, cfg.Redis.ProbeInterval)

	store := repository.NewStore(backend, repository.NewMemoryBackend(), repository.Options{
		HistoryCapacity: cfg.Store.HistoryCapacity,
		HistoryTTL:      cfg.Store.HistoryTTL,
		MissingPolicy:   repository.MissingPolicy(cfg.Store.MissingPolicy),
		LockStripes:     cfg.Store.LockStripes,
	}, logger)

	wsHub := hub.NewHub(logger, hub.WithSnapshotTimeout(cfg.Hub.SnapshotTimeout))
	service := prices.NewService(store, cfg.Upstream.Symbols)

	var recorder prices.Recorder
	var tickJournal *journal.Journal
	if cfg.Kafka.Enabled {
		err := journal.EnsureTopic(ctx, journal.Dial(kafka.DefaultDialer), cfg.Kafka.Brokers, cfg.Kafka.Topic,
			len(cfg.Upstream.Symbols), cfg.Kafka.TopicPoll)
		if err != nil {
			logger.Warn("Journal topic not confirmed, writes may fail until it exists", zap.String("topic", cfg.Kafka.Topic), zap.Error(err))
		} else {
			logger.Info("Journal topic ready", zap.String("topic", cfg.Kafka.Topic))
		}
		if cfg.Kafka.Replay {
			replayJournal(ctx, cfg, store, logger)
		}
		tickJournal = journal.New(journal.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger), logger)
		recorder = tickJournal
	}

	pipeline := prices.NewPipeline(store, wsHub, recorder, logger)
	upstream := connector.New(cfg.Upstream.URL, cfg.Upstream.Symbols, pipeline, logger,
		connector.WithReconnectDelay(cfg.Upstream.ReconnectDelay))
	upstream.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", &gateway.Handler{
		Hub:        wsHub,
		Source:     service,
		Symbols:    cfg.Upstream.Symbols,
		SendBuffer: cfg.Hub.SendBuffer,
		Logger:     logger,
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if backend.Available() {
			w.Write([]byte("ok redis=up upstream=" + upstream.State().String()))
			return
		}
		w.Write([]byte("ok redis=down upstream=" + upstream.State().String()))
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.Strings("symbols", cfg.Upstream.Symbols))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", zap.Error(err))
	}

	upstream.Stop()
	wsHub.Shutdown()
	cancel()
	if tickJournal != nil {
		if err := tickJournal.Close(); err != nil {
			logger.Error("Journal close", zap.Error(err))
		}
	}
	if err := backend.Close(); err != nil {
		logger.Error("Redis close", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}

// replayJournal restores ticks the store lost, before live ticks start arriving.
func replayJournal(ctx context.Context, cfg *config.Config, store *repository.Store, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Kafka.ReplayWindow)
	defer cancel()

	reader := journal.NewReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	defer reader.Close()

	journal.NewReplayer(logger, reader, store, cfg.Kafka.ReplayWorkers).Run(ctx)
}
