package matching

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/saga"
	"github.com/abdoElHodaky/tradcore/pkg/events"
)

// Consumer feeds order.events into the Engine and publishes the resulting
// trades (or failures) on trade.events, driving the matching saga (§4.4).
type Consumer struct {
	engine *Engine
	bus    *bus.Bus
	sagas  *saga.Repository
	logger *zap.Logger
}

// NewConsumer builds a Consumer.
func NewConsumer(engine *Engine, b *bus.Bus, sagas *saga.Repository, logger *zap.Logger) *Consumer {
	return &Consumer{engine: engine, bus: b, sagas: sagas, logger: logger}
}

// Start subscribes to order.events.
func (c *Consumer) Start(ctx context.Context) error {
	return c.bus.Subscribe(ctx, events.TopicOrderEvents, c.handle)
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}

	switch env.EventType {
	case events.TypeOrderCreated:
		var evt events.OrderCreatedEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil
		}
		return c.submit(ctx, evt)
	case events.TypeOrderCancelled:
		var evt events.OrderCancelledEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil
		}
		return c.cancel(ctx, evt)
	default:
		return nil
	}
}

func (c *Consumer) submit(ctx context.Context, evt events.OrderCreatedEvent) error {
	o := evt.Order

	st := saga.SagaState{
		SagaID: evt.SagaID, Stage: saga.StageMatching, OrderID: o.ID,
		UserID: o.UserID, Symbol: o.Symbol, State: saga.StateInProgress, EventType: string(events.TypeOrderCreated),
	}
	_ = c.sagas.Start(ctx, &st)

	order := &Order{
		ID: o.ID, UserID: o.UserID, Symbol: o.Symbol,
		Side: Side(o.Side), Type: Type(o.Type), Quantity: o.Quantity, TraceID: o.TraceID,
	}
	if o.Price != nil {
		order.Price = *o.Price
	}

	trades, err := c.engine.ProcessOrderWithResult(ctx, order)
	if err != nil {
		_ = c.sagas.Transition(ctx, evt.SagaID, saga.StateFailed)
		return c.bus.Publish(ctx, events.TopicTradeEvents, o.Symbol, events.TradeFailedEvent{
			Envelope: events.NewEnvelope(o.ID, o.TraceID, evt.SagaID, events.TypeTradeFailed, time.Now()),
			OrderID:  o.ID, Symbol: o.Symbol, Reason: err.Error(),
		})
	}

	for _, t := range trades {
		if err := c.bus.Publish(ctx, events.TopicTradeEvents, o.Symbol, events.TradeExecutedEvent{
			Envelope:    events.NewEnvelope(t.ID, o.TraceID, evt.SagaID, events.TypeTradeExecuted, time.Now()),
			TradeID:     t.ID,
			Symbol:      t.Symbol,
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			BuyUserID:   t.BuyUserID,
			SellUserID:  t.SellUserID,
			Price:       t.Price,
			Quantity:    t.Quantity,
			Timestamp:   t.ExecutedAt,
		}); err != nil {
			c.logger.Warn("matching: failed to publish trade executed event", zap.Error(err), zap.String("trade_id", t.ID))
		}
	}

	_ = c.sagas.Transition(ctx, evt.SagaID, saga.StateCompleted)
	return nil
}

func (c *Consumer) cancel(ctx context.Context, evt events.OrderCancelledEvent) error {
	c.engine.Cancel(ctx, evt.Symbol, evt.OrderID)

	st, err := c.sagas.GetByOrderID(ctx, evt.OrderID)
	if err != nil || st == nil || st.State != saga.StateInProgress {
		return nil
	}

	if err := c.sagas.Transition(ctx, st.SagaID, saga.StateCompensated); err != nil {
		return nil
	}
	return c.bus.Publish(ctx, events.TopicTradeEvents, evt.Symbol, events.TradeRollbackEvent{
		Envelope:     events.NewEnvelope(evt.OrderID, "", st.SagaID, events.TypeTradeRollback, time.Now()),
		OrderID:      evt.OrderID,
		Symbol:       evt.Symbol,
		Reason:       "order cancelled while matching saga in progress",
		RollbackType: events.RollbackFull,
	})
}
