package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/papertrade/engine/internal/adapter/redisstore"
	"github.com/papertrade/engine/internal/api/ws"
	"github.com/papertrade/engine/internal/config"
	"github.com/papertrade/engine/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := newLogger()
	defer logger.Sync()

	store := redisstore.New(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	defer store.Close()

	hub := ws.NewHub(logger)
	relay := ws.NewRelay(store, cfg, hub, logger)

	mux := relay.Mux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: cfg.WS.Addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := relay.Run(ctx); err != nil {
			logger.Error("relay stopped", zap.Error(err))
			stop()
		}
	}()
	go func() {
		logger.Info("ws gateway listening", zap.String("addr", cfg.WS.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ws gateway failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ws gateway shutdown failed", zap.Error(err))
	}
}

func newLogger() *zap.Logger {
	if os.Getenv("APP_ENV") == "dev" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
