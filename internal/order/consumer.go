package order

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/db/models"
	"github.com/abdoElHodaky/tradcore/internal/saga"
	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
	"github.com/abdoElHodaky/tradcore/pkg/events"
)

// Consumer drives an order's lifecycle from the downstream events its own
// OrderCreated triggered: account.events for fills (AccountUpdated) and
// account-side failures, trade.events for matching failures and rollbacks
// (§4.4's order stage).
type Consumer struct {
	svc    *Service
	bus    *bus.Bus
	sagas  *saga.Repository
	logger *zap.Logger
}

// NewConsumer builds a Consumer.
func NewConsumer(svc *Service, b *bus.Bus, sagas *saga.Repository, logger *zap.Logger) *Consumer {
	return &Consumer{svc: svc, bus: b, sagas: sagas, logger: logger}
}

// Start subscribes to trade.events and account.events.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.bus.Subscribe(ctx, events.TopicTradeEvents, c.handleTradeEvent); err != nil {
		return err
	}
	return c.bus.Subscribe(ctx, events.TopicAccountEvents, c.handleAccountEvent)
}

func (c *Consumer) handleTradeEvent(ctx context.Context, body []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}

	switch env.EventType {
	case events.TypeTradeFailed:
		var evt events.TradeFailedEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil
		}
		if err := c.svc.markTerminal(ctx, evt.OrderID, models.OrderStatusRejected, evt.Reason); err != nil {
			c.logger.Error("order: failed to mark order rejected after trade failure", zap.Error(err), zap.String("order_id", evt.OrderID))
		}
		_ = c.sagas.Transition(ctx, env.SagaID, saga.StateFailed)
	case events.TypeTradeRollback:
		var evt events.TradeRollbackEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil
		}
		_ = c.svc.markTerminal(ctx, evt.OrderID, models.OrderStatusCancelled, evt.Reason)
		_ = c.sagas.Transition(ctx, env.SagaID, saga.StateCompensated)
	}
	return nil
}

func (c *Consumer) handleAccountEvent(ctx context.Context, body []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}

	switch env.EventType {
	case events.TypeAccountUpdated:
		var evt events.AccountUpdatedEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil
		}
		return c.complete(ctx, evt)
	case events.TypeAccountUpdateFailed:
		var evt events.AccountUpdateFailedEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil
		}
		return c.fail(ctx, evt)
	default:
		return nil
	}
}

func (c *Consumer) complete(ctx context.Context, evt events.AccountUpdatedEvent) error {
	if evt.BuyOrderID != "" {
		if _, err := c.svc.applyFill(ctx, evt.BuyOrderID, evt.Quantity); err != nil && !tcerrors.IsNotFound(err) {
			c.logger.Error("order: failed to apply fill to buy order", zap.Error(err), zap.String("order_id", evt.BuyOrderID))
		}
	}
	if evt.SellOrderID != "" {
		if _, err := c.svc.applyFill(ctx, evt.SellOrderID, evt.Quantity); err != nil && !tcerrors.IsNotFound(err) {
			c.logger.Error("order: failed to apply fill to sell order", zap.Error(err), zap.String("order_id", evt.SellOrderID))
		}
	}
	_ = c.sagas.Transition(ctx, evt.SagaID, saga.StateCompleted)
	return nil
}

func (c *Consumer) fail(ctx context.Context, evt events.AccountUpdateFailedEvent) error {
	if evt.ShouldRetry {
		// A technical/lock-timeout failure leaves the order as it is rather
		// than cancelling it outright; if nothing else settles it, the saga
		// sweep times it out. No retry is made here.
		return nil
	}
	if evt.OrderID != "" {
		_ = c.svc.markTerminal(ctx, evt.OrderID, models.OrderStatusCancelled, evt.Reason)
	}
	if evt.BuyOrderID != "" {
		_ = c.svc.markTerminal(ctx, evt.BuyOrderID, models.OrderStatusCancelled, evt.Reason)
	}
	if evt.SellOrderID != "" {
		_ = c.svc.markTerminal(ctx, evt.SellOrderID, models.OrderStatusCancelled, evt.Reason)
	}
	_ = c.sagas.Transition(ctx, evt.SagaID, saga.StateFailed)
	return nil
}
