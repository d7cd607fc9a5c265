package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/papertrade/engine/internal/adapter/pg"
	"github.com/papertrade/engine/internal/adapter/redisstore"
	"github.com/papertrade/engine/internal/audit"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, err := pg.NewTradeStore(ctx, cfg.Audit.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}
	defer sink.Close()
	if err := sink.InitSchema(ctx); err != nil {
		logger.Fatal("schema init failed", zap.Error(err))
	}

	store := redisstore.New(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	defer store.Close()

	go func() {
		if err := metrics.ListenAndServe(cfg.Metrics.Addr); err != nil {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	audit.NewWorker(store, sink, cfg.Queues.DBWrite, logger).Run(ctx)
}

func newLogger() *zap.Logger {
	if os.Getenv("APP_ENV") == "dev" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
