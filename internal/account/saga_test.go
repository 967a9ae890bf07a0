package account

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/klauspost/compress/snappy"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/db/models"
	"github.com/abdoElHodaky/tradcore/internal/saga"
	"github.com/abdoElHodaky/tradcore/pkg/events"
)

// S4 — a saga left IN_PROGRESS past its deadline must publish the
// *originally configured* deadline length as TimeoutDuration, not whatever
// is left until the deadline at the moment the sweep actually runs (which
// is always ≤0, since the sweep only ever selects rows already past due).
func TestTimeoutHandler_S4_TimeoutDurationIsConfiguredDeadline(t *testing.T) {
	ctx := context.Background()
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	t.Cleanup(func() { _ = pubsub.Close() })

	b := bus.NewWithPubSub(pubsub, pubsub, bus.Config{}, zap.NewNop())

	// The handler publishes keyed by OrderID ("buy-4"), so subscribe to that
	// exact gochannel topic directly rather than through Bus.Subscribe's
	// NATS-style wildcard helper, which gochannel's in-memory transport
	// doesn't resolve.
	messages, err := pubsub.Subscribe(ctx, "saga.timeout.events.buy-4")
	require.NoError(t, err)

	svc, fs := newTestService(t)
	fs.putAccount(&models.Account{UserID: "A", Cash: money("10000")})
	_, err = svc.ReserveCash(ctx, "buy-4", "A", "AAPL", money("10"), money("150.00"))
	require.NoError(t, err)

	handler := NewTimeoutHandler(svc, b)

	createdAt := time.Now().Add(-2 * time.Second)
	s := saga.SagaState{
		SagaID:    "saga-4",
		OrderID:   "buy-4",
		TradeID:   "trade-4",
		CreatedAt: createdAt,
		TimeoutAt: createdAt.Add(1 * time.Second), // account-timeout=1s, already past
	}

	require.NoError(t, handler.OnTimeout(ctx, s))

	select {
	case msg := <-messages:
		body, decErr := snappy.Decode(nil, msg.Payload)
		require.NoError(t, decErr)

		var evt events.SagaTimeoutEvent
		require.NoError(t, json.Unmarshal(body, &evt))
		require.Equal(t, int64(1), evt.TimeoutDuration, "must reflect the configured 1s deadline, not seconds-until-deadline")
		require.Equal(t, "buy-4", evt.OrderID)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for saga timeout event")
	}

	aAcc, err := fs.LockAccount(ctx, "A")
	require.NoError(t, err)
	require.True(t, aAcc.Cash.Equal(money("10000")), "timed-out reservation must be released back to available cash")
	require.True(t, aAcc.ReservedCash.IsZero())
}
