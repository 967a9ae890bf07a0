package order

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/saga"
)

// ModuleConfig controls the order saga's deadline/sweep cadence, sourced
// from config.SagaConfig (§6/§9).
type ModuleConfig struct {
	SagaTimeout   time.Duration
	SweepInterval time.Duration
	Validation    ValidationConfig
}

// DefaultModuleConfig matches §4.4's "Order saga... 30s deadline".
func DefaultModuleConfig() ModuleConfig {
	return ModuleConfig{SagaTimeout: 30 * time.Second, SweepInterval: 3 * time.Second, Validation: DefaultValidationConfig()}
}

// Params is the fx constructor input for the order service's full stack.
type Params struct {
	fx.In

	DB     *gorm.DB
	Bus    *bus.Bus
	Logger *zap.Logger
	Config ModuleConfig
}

// Result bundles everything the order service's cmd/ entrypoint needs.
type Result struct {
	fx.Out

	Repository *Repository
	Service    *Service
	Consumer   *Consumer
	Sweeper    *saga.Sweeper
}

// New wires the order service's repository, validation/outbox-backed
// service, saga repository/sweeper, and bus consumer (§4.3/§4.4).
func New(p Params) Result {
	repo := NewRepository(p.DB, p.Logger)

	sagaRepo := saga.NewRepository(p.DB, p.Logger, saga.StageOrder, p.Config.SagaTimeout)
	svc := NewService(repo, sagaRepo, p.Config.Validation, p.Logger)

	consumer := NewConsumer(svc, p.Bus, sagaRepo, p.Logger)

	handler := NewTimeoutHandler(svc, p.Bus, p.Logger)
	sweeper := saga.NewSweeper(sagaRepo, handler, p.Config.SweepInterval, p.Logger)

	return Result{Repository: repo, Service: svc, Consumer: consumer, Sweeper: sweeper}
}

// Module provides the order service's constructors, configured by cfg, and
// starts its consumer and saga sweeper for the lifetime of the fx
// application.
func Module(cfg ModuleConfig) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(New),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lc fx.Lifecycle, consumer *Consumer, sweeper *saga.Sweeper, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := consumer.Start(context.Background()); err != nil {
				return err
			}
			sweeper.Start(context.Background())
			logger.Info("order service started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}
