package outbox

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradcore/internal/bus"
)

// Params is the fx constructor input for the CDC bridge.
type Params struct {
	fx.In

	DB     *gorm.DB
	Bus    *bus.Bus
	Logger *zap.Logger
}

// Module provides a Bridge configured by cfg and starts/stops its poll loop
// with the fx application.
func Module(cfg BridgeConfig) fx.Option {
	return fx.Options(
		fx.Provide(func(p Params) *Bridge {
			return NewBridge(p.DB, p.Bus, cfg, p.Logger)
		}),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lc fx.Lifecycle, br *Bridge, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			br.Start(context.Background())
			logger.Info("outbox bridge started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			br.Stop()
			return nil
		},
	})
}
