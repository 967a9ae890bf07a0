package matching

import (
	"context"
	"time"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/saga"
	"github.com/abdoElHodaky/tradcore/pkg/events"
)

// TimeoutHandler implements saga.TimeoutHandler for the matching stage
// (§4.4): a saga left IN_PROGRESS past its 10s deadline publishes
// SagaTimeout so downstream can stop waiting on a trade that will never
// arrive.
type TimeoutHandler struct {
	bus *bus.Bus
}

// NewTimeoutHandler builds a TimeoutHandler.
func NewTimeoutHandler(b *bus.Bus) *TimeoutHandler {
	return &TimeoutHandler{bus: b}
}

// OnTimeout satisfies saga.TimeoutHandler.
func (h *TimeoutHandler) OnTimeout(ctx context.Context, s saga.SagaState) error {
	return h.bus.Publish(ctx, events.TopicSagaTimeouts, s.OrderID, events.SagaTimeoutEvent{
		Envelope:        events.NewEnvelope(s.OrderID, "", s.SagaID, events.TypeSagaTimeout, time.Now()),
		OrderID:         s.OrderID,
		FailedAt:        events.StageMatching,
		TimeoutDuration: int64(s.TimeoutAt.Sub(s.CreatedAt).Seconds()),
	})
}
