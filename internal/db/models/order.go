// Package models holds the gorm-mapped rows for the relational store of §3:
// Order, Account, StockHolding, ReservationInfo, TransactionLog, Trade, and
// OutboxRecord. Each service owns its own subset of tables exclusively;
// cross-service coupling happens only through events (pkg/events).
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderSide is BUY or SELL.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is MARKET or LIMIT.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the order lifecycle state of §3.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusTimeout         OrderStatus = "TIMEOUT"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
)

// IsActive reports whether the order can still receive fills or be cancelled.
func (s OrderStatus) IsActive() bool {
	switch s {
	case OrderStatusPending, OrderStatusCreated, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// Order is the Order Service's owned aggregate, §3.
type Order struct {
	ID                 string          `gorm:"primaryKey;type:varchar(36)"`
	UserID             string          `gorm:"type:varchar(36);index"`
	Symbol             string          `gorm:"type:varchar(20);index"`
	Side               OrderSide       `gorm:"type:varchar(8);index"`
	Type               OrderType       `gorm:"type:varchar(8)"`
	Quantity           decimal.Decimal `gorm:"type:decimal(24,8)"`
	Price              *decimal.Decimal `gorm:"type:decimal(18,2)"`
	Status             OrderStatus     `gorm:"type:varchar(20);index"`
	FilledQuantity     decimal.Decimal `gorm:"type:decimal(24,8)"`
	CancellationReason string          `gorm:"type:varchar(255)"`
	TraceID            string          `gorm:"type:varchar(64)"`
	Version            int64           `gorm:"default:0"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName pins the gorm table name.
func (Order) TableName() string { return "orders" }

// BeforeCreate stamps a UUID primary key when absent.
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// Remaining returns Quantity - FilledQuantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Validate enforces §3's per-field invariants at construction/update time.
func (o *Order) Validate() error {
	if o.Type == OrderTypeLimit && (o.Price == nil || o.Price.Sign() <= 0) {
		return errInvalidOrder("LIMIT order requires a positive price")
	}
	if o.Type == OrderTypeMarket && o.Price != nil {
		return errInvalidOrder("MARKET order must not carry a price")
	}
	if o.FilledQuantity.GreaterThan(o.Quantity) {
		return errInvalidOrder("filled quantity exceeds order quantity")
	}
	return nil
}
