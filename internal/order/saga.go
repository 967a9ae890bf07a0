package order

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/db/models"
	"github.com/abdoElHodaky/tradcore/internal/saga"
	"github.com/abdoElHodaky/tradcore/pkg/events"
)

// TimeoutHandler implements saga.TimeoutHandler for the order stage (§4.4):
// a saga left IN_PROGRESS past its 30s deadline means matching/account never
// settled, so the order is moved to TIMEOUT and SagaTimeout is published.
type TimeoutHandler struct {
	svc    *Service
	bus    *bus.Bus
	logger *zap.Logger
}

// NewTimeoutHandler builds a TimeoutHandler.
func NewTimeoutHandler(svc *Service, b *bus.Bus, logger *zap.Logger) *TimeoutHandler {
	return &TimeoutHandler{svc: svc, bus: b, logger: logger}
}

// OnTimeout satisfies saga.TimeoutHandler.
func (h *TimeoutHandler) OnTimeout(ctx context.Context, s saga.SagaState) error {
	if err := h.svc.markTerminal(ctx, s.OrderID, models.OrderStatusTimeout, "order saga timed out"); err != nil {
		h.logger.Error("order: failed to mark order timed out", zap.Error(err), zap.String("order_id", s.OrderID))
	}

	return h.bus.Publish(ctx, events.TopicSagaTimeouts, s.OrderID, events.SagaTimeoutEvent{
		Envelope:        events.NewEnvelope(s.OrderID, "", s.SagaID, events.TypeSagaTimeout, time.Now()),
		OrderID:         s.OrderID,
		FailedAt:        events.StageOrder,
		TimeoutDuration: int64(s.TimeoutAt.Sub(s.CreatedAt).Seconds()),
	})
}
