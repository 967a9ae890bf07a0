package account

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/saga"
	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
	"github.com/abdoElHodaky/tradcore/pkg/events"
)

// Consumer wires the account service's business logic to the two topics it
// reacts to: order.events (to place reservations) and trade.events (to
// confirm or roll back them), §4.3/§4.4.
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

// Start subscribes to order.events and trade.events.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.bus.Subscribe(ctx, events.TopicOrderEvents, c.handleOrderEvent); err != nil {
		return err
	}
	return c.bus.Subscribe(ctx, events.TopicTradeEvents, c.handleTradeEvent)
}

func (c *Consumer) handleOrderEvent(ctx context.Context, body []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil // malformed payload: ack and drop, nothing retrying would fix
	}

	switch env.EventType {
	case events.TypeOrderCreated:
		var evt events.OrderCreatedEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil
		}
		return c.reserveForOrder(ctx, evt)
	case events.TypeOrderCancelled:
		var evt events.OrderCancelledEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil
		}
		return c.svc.ReleaseReservation(ctx, evt.OrderID)
	default:
		return nil
	}
}

func (c *Consumer) reserveForOrder(ctx context.Context, evt events.OrderCreatedEvent) error {
	o := evt.Order
	st := saga.SagaState{
		SagaID: evt.SagaID, Stage: saga.StageAccount, OrderID: o.ID,
		UserID: o.UserID, Symbol: o.Symbol, State: saga.StateInProgress, EventType: string(events.TypeOrderCreated),
	}
	_ = c.sagas.Start(ctx, &st)

	var err error
	if o.Side == events.SideBuy {
		price := o.Price
		if price == nil {
			// Market buys have no reservation price at order time, so no
			// cash is reserved for them. ConfirmTrade settles only against
			// an ACTIVE reservation, so it settles nothing for such an order.
			return nil
		}
		_, err = c.svc.ReserveCash(ctx, o.ID, o.UserID, o.Symbol, o.Quantity, *price)
	} else {
		_, err = c.svc.ReserveShares(ctx, o.ID, o.UserID, o.Symbol, o.Quantity)
	}

	if err != nil {
		failure := c.classifyFailure(err)
		_ = c.bus.Publish(ctx, events.TopicAccountEvents, o.Symbol, events.AccountUpdateFailedEvent{
			Envelope:    events.NewEnvelope(o.ID, evt.TraceID, evt.SagaID, events.TypeAccountUpdateFailed, time.Now()),
			OrderID:     o.ID,
			BuyUserID:   o.UserID,
			Reason:      err.Error(),
			FailureType: failure,
			ShouldRetry: failure == events.FailureLockTimeout || failure == events.FailureTechnicalError,
		})
	}
	return nil // reservation failures are terminal business outcomes, not retries
}

func (c *Consumer) handleTradeEvent(ctx context.Context, body []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}

	switch env.EventType {
	case events.TypeTradeExecuted:
		var evt events.TradeExecutedEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil
		}
		return c.confirmTrade(ctx, evt)
	case events.TypeTradeRollback:
		var evt events.TradeRollbackEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil
		}
		_ = c.svc.RollbackTrade(ctx, evt.BuyOrderID, evt.Price)
		_ = c.svc.RollbackTrade(ctx, evt.SellOrderID, evt.Price)
		_ = c.bus.Publish(ctx, events.TopicAccountEvents, evt.Symbol, events.AccountRollbackEvent{
			Envelope:    events.NewEnvelope(evt.TradeID, evt.TraceID, evt.SagaID, events.TypeAccountRollback, time.Now()),
			TradeID:     evt.TradeID,
			BuyOrderID:  evt.BuyOrderID,
			SellOrderID: evt.SellOrderID,
			Symbol:      evt.Symbol,
		})
		return nil
	default:
		return nil
	}
}

func (c *Consumer) confirmTrade(ctx context.Context, evt events.TradeExecutedEvent) error {
	buyerBal, sellerBal, err := c.svc.ConfirmTrade(ctx, evt.TradeID, evt.Symbol, evt.BuyOrderID, evt.SellOrderID, evt.BuyUserID, evt.SellUserID, evt.Price, evt.Quantity)
	if err != nil {
		failure := c.classifyFailure(err)
		return c.bus.Publish(ctx, events.TopicAccountEvents, evt.Symbol, events.AccountUpdateFailedEvent{
			Envelope:    events.NewEnvelope(evt.TradeID, evt.TraceID, evt.SagaID, events.TypeAccountUpdateFailed, time.Now()),
			TradeID:     evt.TradeID,
			BuyOrderID:  evt.BuyOrderID,
			SellOrderID: evt.SellOrderID,
			BuyUserID:   evt.BuyUserID,
			SellUserID:  evt.SellUserID,
			Reason:      err.Error(),
			FailureType: failure,
			ShouldRetry: failure == events.FailureLockTimeout || failure == events.FailureTechnicalError,
		})
	}

	return c.bus.Publish(ctx, events.TopicAccountEvents, evt.Symbol, events.AccountUpdatedEvent{
		Envelope:         events.NewEnvelope(evt.TradeID, evt.TraceID, evt.SagaID, events.TypeAccountUpdated, time.Now()),
		TradeID:          evt.TradeID,
		BuyOrderID:       evt.BuyOrderID,
		SellOrderID:      evt.SellOrderID,
		BuyUserID:        evt.BuyUserID,
		SellUserID:       evt.SellUserID,
		Amount:           evt.Price.Mul(evt.Quantity),
		Quantity:         evt.Quantity,
		Symbol:           evt.Symbol,
		BuyerNewBalance:  buyerBal,
		SellerNewBalance: sellerBal,
	})
}

func (c *Consumer) classifyFailure(err error) events.FailureType {
	tcErr, ok := tcerrors.As(err)
	if !ok {
		return events.FailureTechnicalError
	}
	switch tcErr.Code {
	case tcerrors.CodeInsufficientBalance:
		return events.FailureInsufficientBalance
	case tcerrors.CodeInsufficientShares:
		return events.FailureInsufficientShares
	case tcerrors.CodeLockTimeout:
		return events.FailureLockTimeout
	case tcerrors.CodeInvalidQuantity, tcerrors.CodeInvalidPrice, tcerrors.CodeMissingField:
		return events.FailureValidationError
	default:
		return events.FailureTechnicalError
	}
}
