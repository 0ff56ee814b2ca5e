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

	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/cmd/simulator/internal/simulator"
	"github.com/shubham-shewale/telcrypto-backend/pkg/config"
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

	clock := simulator.RealClock{}
	srv := simulator.NewServer(logger, clock, cfg.Simulator.Interval, cfg.Simulator.DropAfter,
		func(symbols []string) *simulator.TickerGenerator {
			return simulator.NewTickerGenerator(symbols, simulator.DefaultBasePrices, simulator.NewRealRand(), clock, cfg.Simulator.StaleRatio)
		})

	mux := http.NewServeMux()
	mux.Handle("/ws/", srv)
	httpSrv := &http.Server{Addr: cfg.Simulator.Port, Handler: mux}

	go func() {
		logger.Info("Simulator Started", zap.String("port", cfg.Simulator.Port), zap.Duration("interval", cfg.Simulator.Interval))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(ctx)
	logger.Info("Shutdown Complete")
}
