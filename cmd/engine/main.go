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

	"github.com/papertrade/engine/internal/adapter/redisstore"
	"github.com/papertrade/engine/internal/config"
	"github.com/papertrade/engine/internal/core"
	"github.com/papertrade/engine/internal/domain"
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
	engine := core.NewEngine(cfg, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		logger.Fatal("engine start failed", zap.Error(err))
	}
	seedUsers(ctx, engine, cfg, logger)

	go func() {
		if err := metrics.ListenAndServe(cfg.Metrics.Addr); err != nil {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	engine.Stop()
}

// seedUsers funds the mock accounts so the engine accepts orders out of
// the box. A restored snapshot already carries balances, so seeding is
// skipped then.
func seedUsers(ctx context.Context, engine *core.Engine, cfg config.Config, logger *zap.Logger) {
	if cfg.Engine.RestoreOnStartup || cfg.Engine.SeedUsers <= 0 {
		return
	}
	for u := 1; u <= cfg.Engine.SeedUsers; u++ {
		if err := engine.InitializeUserBalance(ctx, domain.UserID(u), cfg.Engine.SeedBalance); err != nil {
			logger.Warn("balance seed failed", zap.Int("userId", u), zap.Error(err))
		}
	}
	logger.Info("seeded user balances",
		zap.Int("users", cfg.Engine.SeedUsers),
		zap.Int64("balanceCents", cfg.Engine.SeedBalance))
}

func newLogger() *zap.Logger {
	if os.Getenv("APP_ENV") == "dev" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
