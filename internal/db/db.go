// Package db provides the shared *gorm.DB connection and schema migration
// for every service. Each service AutoMigrates only the tables it owns, per
// §3's "no cross-service tables" constraint.
package db

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/abdoElHodaky/tradcore/internal/config"
	"github.com/abdoElHodaky/tradcore/internal/db/models"
	"github.com/abdoElHodaky/tradcore/internal/saga"
)

// Open connects to Postgres using cfg, routing gorm's own logging through a
// zap sink rather than its default stdout writer.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(zapWriter{logger}, gormlogger.Config{LogLevel: gormlogger.Warn}),
	})
	if err != nil {
		return nil, fmt.Errorf("db: failed to connect: %w", err)
	}
	return gdb, nil
}

// MigrateOrder runs the Order Service's schema migration.
func MigrateOrder(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.Order{}, &models.OutboxRecord{}, &saga.SagaState{})
}

// MigrateAccount runs the Account Service's schema migration.
func MigrateAccount(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.Account{}, &models.StockHolding{}, &models.ReservationInfo{},
		&models.TransactionLog{}, &models.OutboxRecord{}, &saga.SagaState{},
	)
}

// MigrateMatching runs the Matching Engine's schema migration; the engine
// itself is in-memory, but its saga bookkeeping and trade log are not.
func MigrateMatching(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.Trade{}, &saga.SagaState{})
}

// MigrateOutbox ensures the outbox table exists for the CDC bridge poller,
// which reads across every producing service's rows in one shared table.
func MigrateOutbox(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.OutboxRecord{})
}

// Module provides a *gorm.DB built from cfg.Database and closes its
// underlying connection pool on shutdown.
func Module(cfg config.DatabaseConfig) fx.Option {
	return fx.Options(
		fx.Provide(func(logger *zap.Logger) (*gorm.DB, error) {
			return Open(cfg, logger)
		}),
		fx.Invoke(func(lc fx.Lifecycle, gdb *gorm.DB) {
			lc.Append(fx.Hook{
				OnStop: func(_ context.Context) error {
					sqlDB, err := gdb.DB()
					if err != nil {
						return err
					}
					return sqlDB.Close()
				},
			})
		}),
	)
}

type zapWriter struct {
	logger *zap.Logger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.logger.Sugar().Debugf(format, args...)
}
