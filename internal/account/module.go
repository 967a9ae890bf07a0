package account

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/lockmgr"
	"github.com/abdoElHodaky/tradcore/internal/saga"
)

// ModuleConfig controls the account saga's deadline/sweep cadence and the
// in-process lock manager's timeout, sourced from config.SagaConfig and
// config.LockConfig (§6/§9).
type ModuleConfig struct {
	SagaTimeout   time.Duration
	SweepInterval time.Duration
	LockTimeout   time.Duration
}

// DefaultModuleConfig matches §4.4's "Account saga... 5s deadline" and
// lockmgr.DefaultConfig's lock timeout.
func DefaultModuleConfig() ModuleConfig {
	return ModuleConfig{SagaTimeout: 5 * time.Second, SweepInterval: 1 * time.Second, LockTimeout: 3 * time.Second}
}

// Params is the fx constructor input for the account service's full stack.
type Params struct {
	fx.In

	DB     *gorm.DB
	Bus    *bus.Bus
	Logger *zap.Logger
	Config ModuleConfig
}

// Result bundles everything the account service's cmd/ entrypoint needs.
type Result struct {
	fx.Out

	Repository *Repository
	Service    *Service
	Consumer   *Consumer
	Sweeper    *saga.Sweeper
}

// New wires the account engine's repository, two-phase service, saga
// repository/sweeper, and bus consumer (§4.2/§4.3/§4.4).
func New(p Params) Result {
	lockCfg := lockmgr.DefaultConfig()
	lockCfg.LockTimeout = p.Config.LockTimeout
	locks := lockmgr.NewManager(lockCfg, p.Logger)

	repo := NewRepository(p.DB, p.Logger)
	svc := NewService(repo, locks, p.Logger)

	sagaRepo := saga.NewRepository(p.DB, p.Logger, saga.StageAccount, p.Config.SagaTimeout)
	consumer := NewConsumer(svc, p.Bus, sagaRepo, p.Logger)

	handler := NewTimeoutHandler(svc, p.Bus)
	sweeper := saga.NewSweeper(sagaRepo, handler, p.Config.SweepInterval, p.Logger)

	return Result{Repository: repo, Service: svc, Consumer: consumer, Sweeper: sweeper}
}

// Module provides the account engine's constructors, configured by cfg, and
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
			logger.Info("account service started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}
