package main

import (
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradcore/internal/account"
	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/config"
	"github.com/abdoElHodaky/tradcore/internal/db"
	"github.com/abdoElHodaky/tradcore/internal/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	accountCfg := account.DefaultModuleConfig()
	if cfg.Saga.Timeouts.Account > 0 {
		accountCfg.SagaTimeout = time.Duration(cfg.Saga.Timeouts.Account) * time.Second
	}
	if cfg.Saga.SweepIntervalMS > 0 {
		accountCfg.SweepInterval = time.Duration(cfg.Saga.SweepIntervalMS) * time.Millisecond
	}
	if cfg.Lock.TimeoutMS > 0 {
		accountCfg.LockTimeout = time.Duration(cfg.Lock.TimeoutMS) * time.Millisecond
	}

	app := fx.New(
		logging.Module(cfg.LogLevel),
		db.Module(cfg.Database),
		bus.Module(bus.Config{URL: cfg.Bus.URL, TopicPrefix: cfg.Bus.TopicPrefix}),
		account.Module(accountCfg),
		fx.Invoke(func(gdb *gorm.DB) error {
			return db.MigrateAccount(gdb)
		}),
		fx.Invoke(func(logger *zap.Logger) {
			logger.Info("account service wired", zap.String("log_level", cfg.LogLevel))
		}),
	)

	app.Run()
}
