package matching

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/resilience"
	"github.com/abdoElHodaky/tradcore/internal/saga"
)

// Params is the fx constructor input for the matching engine's full stack.
type Params struct {
	fx.In

	DB      *gorm.DB
	Bus     *bus.Bus
	Breaker *resilience.Factory
	Logger  *zap.Logger
	Config  Config
}

// Result bundles everything the matching engine's cmd/ entrypoint needs.
type Result struct {
	fx.Out

	Engine   *Engine
	Consumer *Consumer
	Sweeper  *saga.Sweeper
}

// New wires the matching engine, its saga repository/sweeper, and its bus
// consumer (§4.1/§4.4).
func New(p Params) Result {
	engine := NewEngine(p.Config, p.Breaker, p.Logger)

	sagaRepo := saga.NewRepository(p.DB, p.Logger, saga.StageMatching, p.Config.SagaTimeout)
	consumer := NewConsumer(engine, p.Bus, sagaRepo, p.Logger)

	handler := NewTimeoutHandler(p.Bus)
	sweeper := saga.NewSweeper(sagaRepo, handler, p.Config.SweepInterval, p.Logger)

	return Result{Engine: engine, Consumer: consumer, Sweeper: sweeper}
}

// Module provides the matching engine's constructors, configured by cfg, and
// starts the engine, its consumer, and its saga sweeper for the lifetime of
// the fx application.
func Module(cfg Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(New),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lc fx.Lifecycle, engine *Engine, consumer *Consumer, sweeper *saga.Sweeper, cfg Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			engine.Start(context.Background())
			if err := consumer.Start(context.Background()); err != nil {
				return err
			}
			sweeper.Start(context.Background())
			logger.Info("matching engine started", zap.Int("worker_count", len(engine.workers)))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			engine.Stop(cfg.ShutdownTimeout)
			return nil
		},
	})
}
