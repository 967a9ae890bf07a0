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
	"github.com/abdoElHodaky/tradcore/internal/order"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	orderCfg := order.DefaultModuleConfig()
	if cfg.Saga.Timeouts.Order > 0 {
		orderCfg.SagaTimeout = time.Duration(cfg.Saga.Timeouts.Order) * time.Second
	}
	if cfg.Saga.SweepIntervalMS > 0 {
		orderCfg.SweepInterval = time.Duration(cfg.Saga.SweepIntervalMS) * time.Millisecond
	}

	app := fx.New(
		logging.Module(cfg.LogLevel),
		db.Module(cfg.Database),
		bus.Module(bus.Config{URL: cfg.Bus.URL, TopicPrefix: cfg.Bus.TopicPrefix}),
		order.Module(orderCfg),
		fx.Invoke(func(gdb *gorm.DB) error {
			return db.MigrateOrder(gdb)
		}),
		fx.Invoke(func(logger *zap.Logger) {
			logger.Info("order service wired", zap.String("log_level", cfg.LogLevel))
		}),
	)

	app.Run()
}
