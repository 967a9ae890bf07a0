package account

import (
	"context"
	"time"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/saga"
	"github.com/abdoElHodaky/tradcore/pkg/events"
)

// TimeoutHandler implements saga.TimeoutHandler for the account stage: a
// saga left IN_PROGRESS past its deadline publishes SagaTimeout and releases
// whatever reservation it was holding, so the order isn't left stuck
// reserved against a trade confirmation that will never arrive (§4.4 S4).
type TimeoutHandler struct {
	svc *Service
	bus *bus.Bus
}

// NewTimeoutHandler builds a TimeoutHandler.
func NewTimeoutHandler(svc *Service, b *bus.Bus) *TimeoutHandler {
	return &TimeoutHandler{svc: svc, bus: b}
}

// OnTimeout satisfies saga.TimeoutHandler.
func (h *TimeoutHandler) OnTimeout(ctx context.Context, s saga.SagaState) error {
	_ = h.svc.ReleaseReservation(ctx, s.OrderID)

	return h.bus.Publish(ctx, events.TopicSagaTimeouts, s.OrderID, events.SagaTimeoutEvent{
		Envelope:        events.NewEnvelope(s.OrderID, "", s.SagaID, events.TypeSagaTimeout, time.Now()),
		OrderID:         s.OrderID,
		TradeID:         s.TradeID,
		FailedAt:        events.StageAccount,
		TimeoutDuration: int64(s.TimeoutAt.Sub(s.CreatedAt).Seconds()),
	})
}
