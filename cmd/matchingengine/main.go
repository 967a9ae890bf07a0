package main

import (
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/config"
	"github.com/abdoElHodaky/tradcore/internal/db"
	"github.com/abdoElHodaky/tradcore/internal/logging"
	"github.com/abdoElHodaky/tradcore/internal/matching"
	"github.com/abdoElHodaky/tradcore/internal/resilience"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	matchingCfg := matching.DefaultConfig()
	if cfg.Matching.ThreadPoolSize > 0 {
		matchingCfg.WorkerCount = cfg.Matching.ThreadPoolSize
	}
	if cfg.Matching.QueueCapacity > 0 {
		matchingCfg.QueueCapacity = cfg.Matching.QueueCapacity
	}
	if cfg.Matching.CancelQueueCapacity > 0 {
		matchingCfg.CancelQueueCapacity = cfg.Matching.CancelQueueCapacity
	}
	if cfg.Matching.SubmitRateLimit > 0 {
		matchingCfg.SubmitRateLimit = cfg.Matching.SubmitRateLimit
	}
	if cfg.Matching.SubmitRateBurst > 0 {
		matchingCfg.SubmitRateBurst = cfg.Matching.SubmitRateBurst
	}
	if cfg.Saga.Timeouts.Matching > 0 {
		matchingCfg.SagaTimeout = time.Duration(cfg.Saga.Timeouts.Matching) * time.Second
	}
	if cfg.Saga.SweepIntervalMS > 0 {
		matchingCfg.SweepInterval = time.Duration(cfg.Saga.SweepIntervalMS) * time.Millisecond
	}

	app := fx.New(
		logging.Module(cfg.LogLevel),
		db.Module(cfg.Database),
		bus.Module(bus.Config{URL: cfg.Bus.URL, TopicPrefix: cfg.Bus.TopicPrefix}),
		resilience.Module,
		matching.Module(matchingCfg),
		fx.Invoke(func(gdb *gorm.DB) error {
			return db.MigrateMatching(gdb)
		}),
		fx.Invoke(func(logger *zap.Logger) {
			logger.Info("matching engine wired", zap.String("log_level", cfg.LogLevel))
		}),
	)

	app.Run()
}
