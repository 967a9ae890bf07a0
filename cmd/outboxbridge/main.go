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
	"github.com/abdoElHodaky/tradcore/internal/outbox"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	bridgeCfg := outbox.DefaultBridgeConfig()
	if cfg.Outbox.PollIntervalMS > 0 {
		bridgeCfg.PollInterval = time.Duration(cfg.Outbox.PollIntervalMS) * time.Millisecond
	}

	app := fx.New(
		logging.Module(cfg.LogLevel),
		db.Module(cfg.Database),
		bus.Module(bus.Config{URL: cfg.Bus.URL, TopicPrefix: cfg.Bus.TopicPrefix}),
		outbox.Module(bridgeCfg),
		fx.Invoke(func(gdb *gorm.DB) error {
			return db.MigrateOutbox(gdb)
		}),
		fx.Invoke(func(logger *zap.Logger) {
			logger.Info("outbox bridge wired", zap.String("log_level", cfg.LogLevel))
		}),
	)

	app.Run()
}
