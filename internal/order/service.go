package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradcore/internal/db/models"
	"github.com/abdoElHodaky/tradcore/internal/outbox"
	"github.com/abdoElHodaky/tradcore/internal/saga"
	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
	"github.com/abdoElHodaky/tradcore/pkg/events"
)

// ValidationConfig bounds the quantities and symbols the service will
// accept. Price-band validation against a reference price is intentionally
// absent: it requires a live market-data feed, which this system does not
// generate.
type ValidationConfig struct {
	SupportedSymbols map[string]bool
	MinQuantity      decimal.Decimal
	MaxQuantity      decimal.Decimal
}

// DefaultValidationConfig returns a permissive symbol set and a generous
// quantity band, meant to be overridden by deployment config.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		SupportedSymbols: map[string]bool{"AAPL": true, "MSFT": true, "GOOG": true, "AMZN": true},
		MinQuantity:      decimal.NewFromInt(1),
		MaxQuantity:      decimal.NewFromInt(1_000_000),
	}
}

// Service accepts, validates, and persists orders, and drives their saga and
// outbox-backed publication (§4.3/§4.4's order stage).
type Service struct {
	repo   *Repository
	sagas  *saga.Repository
	cfg    ValidationConfig
	logger *zap.Logger
}

// NewService builds a Service.
func NewService(repo *Repository, sagas *saga.Repository, cfg ValidationConfig, logger *zap.Logger) *Service {
	return &Service{repo: repo, sagas: sagas, cfg: cfg, logger: logger}
}

// CreateOrderRequest is the input to Submit.
type CreateOrderRequest struct {
	UserID   string
	Symbol   string
	Side     models.OrderSide
	Type     models.OrderType
	Quantity decimal.Decimal
	Price    *decimal.Decimal
	TraceID  string
	SagaID   string
}

func (s *Service) validate(req CreateOrderRequest) error {
	if req.UserID == "" || req.Symbol == "" {
		return tcerrors.New(tcerrors.KindValidation, tcerrors.CodeMissingField, "user id and symbol are required")
	}
	if !s.cfg.SupportedSymbols[req.Symbol] {
		return tcerrors.Newf(tcerrors.KindBusiness, tcerrors.CodeSymbolUnsupported, "symbol %s is not supported", req.Symbol).WithEntityID(req.Symbol)
	}
	if req.Quantity.LessThan(s.cfg.MinQuantity) || req.Quantity.GreaterThan(s.cfg.MaxQuantity) {
		return tcerrors.Newf(tcerrors.KindBusiness, tcerrors.CodeInvalidQuantity, "quantity %s outside allowed range [%s,%s]",
			req.Quantity, s.cfg.MinQuantity, s.cfg.MaxQuantity)
	}
	if req.Type == models.OrderTypeLimit && (req.Price == nil || req.Price.Sign() <= 0) {
		return tcerrors.New(tcerrors.KindValidation, tcerrors.CodeInvalidPrice, "LIMIT order requires a positive price")
	}
	if req.Type == models.OrderTypeMarket && req.Price != nil {
		return tcerrors.New(tcerrors.KindValidation, tcerrors.CodeInvalidPrice, "MARKET order must not carry a price")
	}
	return nil
}

// Submit validates req, inserts the Order row and its outbox-queued
// OrderCreatedEvent in one transaction, and returns the persisted order.
// The saga row is started after commit: it is local bookkeeping for this
// service's own timeout sweep, not part of the atomic aggregate+outbox
// write §4.3 requires.
func (s *Service) Submit(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	o := &models.Order{
		UserID:   req.UserID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Quantity: req.Quantity,
		Price:    req.Price,
		Status:   models.OrderStatusCreated,
		TraceID:  req.TraceID,
	}

	err := s.repo.WithTx(ctx, func(tx *Repository) error {
		if err := tx.Create(ctx, o); err != nil {
			return err
		}

		env := events.NewEnvelope(o.ID, o.TraceID, req.SagaID, events.TypeOrderCreated, time.Now())
		evt := events.OrderCreatedEvent{
			Envelope: env,
			Order: events.OrderSnapshot{
				ID: o.ID, UserID: o.UserID, Symbol: o.Symbol,
				Type: events.OrderKind(o.Type), Side: events.OrderSide(o.Side),
				Quantity: o.Quantity, Price: o.Price, Status: string(o.Status),
				TraceID: o.TraceID, Version: o.Version, CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
			},
		}

		return outbox.Write(ctx, tx.db, outbox.Record{
			EventID: env.EventID, AggregateID: o.ID, AggregateType: "Order",
			EventType: events.TypeOrderCreated, Topic: outbox.Topic(events.TypeOrderCreated),
			Symbol: o.Symbol, SagaID: req.SagaID, Payload: evt,
		})
	})
	if err != nil {
		return nil, err
	}

	_ = s.sagas.Start(ctx, &saga.SagaState{
		SagaID: req.SagaID, Stage: saga.StageOrder, OrderID: o.ID,
		UserID: o.UserID, Symbol: o.Symbol, State: saga.StateInProgress, EventType: string(events.TypeOrderCreated),
	})

	return o, nil
}

// Cancel loads and locks the order, validates it is still active, and
// queues an OrderCancelled event in the same transaction as the status
// change.
func (s *Service) Cancel(ctx context.Context, orderID, reason, traceID, sagaID string) (*models.Order, error) {
	var out *models.Order

	err := s.repo.WithTx(ctx, func(tx *Repository) error {
		o, err := tx.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.IsActive() {
			return tcerrors.Newf(tcerrors.KindState, tcerrors.CodeIllegalTransition, "order %s is not active (status=%s)", orderID, o.Status).WithEntityID(orderID)
		}

		o.Status = models.OrderStatusCancelled
		o.CancellationReason = reason
		if err := tx.Save(ctx, o); err != nil {
			return err
		}

		env := events.NewEnvelope(o.ID, traceID, sagaID, events.TypeOrderCancelled, time.Now())
		evt := events.OrderCancelledEvent{
			Envelope: env, OrderID: o.ID, UserID: o.UserID, Symbol: o.Symbol, Reason: reason,
		}
		if err := outbox.Write(ctx, tx.db, outbox.Record{
			EventID: env.EventID, AggregateID: o.ID, AggregateType: "Order",
			EventType: events.TypeOrderCancelled, Topic: outbox.Topic(events.TypeOrderCancelled),
			Symbol: o.Symbol, SagaID: sagaID, Payload: evt,
		}); err != nil {
			return err
		}

		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applyFill advances an order's filled quantity and derives its resulting
// status, used by the account-events consumer once a trade settles.
func (s *Service) applyFill(ctx context.Context, orderID string, fillQty decimal.Decimal) (*models.Order, error) {
	var out *models.Order

	err := s.repo.WithTx(ctx, func(tx *Repository) error {
		o, err := tx.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.IsActive() {
			out = o
			return nil
		}

		o.FilledQuantity = o.FilledQuantity.Add(fillQty)
		if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
			o.Status = models.OrderStatusCompleted
		} else {
			o.Status = models.OrderStatusPartiallyFilled
		}
		if err := tx.Save(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// markTerminal forces orderID into a terminal status (CANCELLED, REJECTED,
// or TIMEOUT) outside the normal fill path, used on account-confirmation
// failure and on saga timeout.
func (s *Service) markTerminal(ctx context.Context, orderID string, status models.OrderStatus, reason string) error {
	return s.repo.WithTx(ctx, func(tx *Repository) error {
		o, err := tx.LockByID(ctx, orderID)
		if err != nil {
			if tcerrors.IsNotFound(err) {
				return nil
			}
			return err
		}
		if !o.Status.IsActive() {
			return nil
		}
		o.Status = status
		o.CancellationReason = reason
		return tx.Save(ctx, o)
	})
}
