package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide mirrors the domain order side so event payloads don't import the
// order-owning package (events are the only cross-service coupling).
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderKind mirrors the domain order type.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
)

// FailureType enumerates AccountUpdateFailedEvent.FailureType values.
type FailureType string

const (
	FailureInsufficientBalance FailureType = "INSUFFICIENT_BALANCE"
	FailureInsufficientShares  FailureType = "INSUFFICIENT_SHARES"
	FailureLockTimeout         FailureType = "LOCK_TIMEOUT"
	FailureValidationError     FailureType = "VALIDATION_ERROR"
	FailureTechnicalError      FailureType = "TECHNICAL_ERROR"
)

// RollbackType enumerates TradeRollbackEvent.RollbackType values.
type RollbackType string

const (
	RollbackFull    RollbackType = "FULL"
	RollbackPartial RollbackType = "PARTIAL"
)

// SagaStage identifies which service's saga timed out.
type SagaStage string

const (
	StageOrder    SagaStage = "Order"
	StageMatching SagaStage = "Matching"
	StageAccount  SagaStage = "Account"
)

// OrderSnapshot is the embedded Order summary carried by OrderCreatedEvent,
// per §6's field list.
type OrderSnapshot struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Symbol    string          `json:"symbol"`
	Type      OrderKind       `json:"orderType"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Status    string          `json:"status"`
	TraceID   string          `json:"traceId"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// OrderCreatedEvent is published on order.events when an order is accepted.
type OrderCreatedEvent struct {
	Envelope
	Order OrderSnapshot `json:"order"`
}

// OrderCancelledEvent is published on order.events when an order is cancelled.
type OrderCancelledEvent struct {
	Envelope
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Symbol  string `json:"symbol"`
	Reason  string `json:"reason"`
}

// TradeExecutedEvent is published on trade.events by the matching engine.
type TradeExecutedEvent struct {
	Envelope
	TradeID    string          `json:"tradeId"`
	Symbol     string          `json:"symbol"`
	BuyOrderID string          `json:"buyOrderId"`
	SellOrderID string         `json:"sellOrderId"`
	BuyUserID  string          `json:"buyUserId"`
	SellUserID string          `json:"sellUserId"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Timestamp  time.Time       `json:"timestamp"`
}

// TradeFailedEvent is published on trade.events when matching cannot proceed.
type TradeFailedEvent struct {
	Envelope
	OrderID string `json:"orderId"`
	Symbol  string `json:"symbol"`
	Reason  string `json:"reason"`
}

// TradeRollbackEvent is published on trade.events to undo a confirmed trade.
// Price/Quantity carry the original execution terms so a service rolling
// back a CONFIRMED reservation (e.g. reversing deposited seller proceeds)
// does not have to recover them from its own never-populated state; a
// rollback of an unconfirmed reservation (cancel-before-match, §4.2 S3)
// leaves them zero since no confirmation ever touched balances.
type TradeRollbackEvent struct {
	Envelope
	TradeID      string          `json:"tradeId"`
	OrderID      string          `json:"orderId"`
	BuyOrderID   string          `json:"buyOrderId"`
	SellOrderID  string          `json:"sellOrderId"`
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price,omitempty"`
	Quantity     decimal.Decimal `json:"quantity,omitempty"`
	Reason       string          `json:"reason"`
	RollbackType RollbackType    `json:"rollbackType"`
}

// AccountUpdatedEvent is published on account.events after a successful
// reservation confirmation.
type AccountUpdatedEvent struct {
	Envelope
	TradeID          string          `json:"tradeId"`
	OrderID          string          `json:"orderId,omitempty"`
	BuyOrderID       string          `json:"buyOrderId,omitempty"`
	SellOrderID      string          `json:"sellOrderId,omitempty"`
	BuyUserID        string          `json:"buyUserId"`
	SellUserID       string          `json:"sellUserId"`
	Amount           decimal.Decimal `json:"amount"`
	Quantity         decimal.Decimal `json:"quantity"`
	Symbol           string          `json:"symbol"`
	BuyerNewBalance  decimal.Decimal `json:"buyerNewBalance"`
	SellerNewBalance decimal.Decimal `json:"sellerNewBalance"`
}

// AccountUpdateFailedEvent is published on account.events when confirmation
// cannot proceed.
type AccountUpdateFailedEvent struct {
	Envelope
	TradeID     string      `json:"tradeId,omitempty"`
	OrderID     string      `json:"orderId,omitempty"`
	BuyOrderID  string      `json:"buyOrderId,omitempty"`
	SellOrderID string      `json:"sellOrderId,omitempty"`
	BuyUserID   string      `json:"buyUserId"`
	SellUserID  string      `json:"sellUserId"`
	Reason      string      `json:"reason"`
	FailureType FailureType `json:"failureType"`
	ShouldRetry bool        `json:"shouldRetry"`
}

// AccountRollbackEvent is published on account.events once a rollback has
// been applied to both accounts.
type AccountRollbackEvent struct {
	Envelope
	TradeID     string `json:"tradeId"`
	OrderID     string `json:"orderId,omitempty"`
	BuyOrderID  string `json:"buyOrderId,omitempty"`
	SellOrderID string `json:"sellOrderId,omitempty"`
	Symbol      string `json:"symbol"`
}

// SagaTimeoutEvent is published on saga.timeout.events by the per-service
// timeout sweep loop.
type SagaTimeoutEvent struct {
	Envelope
	OrderID         string            `json:"orderId"`
	TradeID         string            `json:"tradeId,omitempty"`
	FailedAt        SagaStage         `json:"failedAt"`
	TimeoutDuration int64             `json:"timeoutDuration"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
