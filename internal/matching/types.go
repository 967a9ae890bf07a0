// Package matching implements the per-symbol, price-time priority order
// book engine of §4.1: a fixed pool of single-owner workers, each holding a
// lock-free set of books for the symbols hashed to it.
package matching

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is BUY or SELL.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Type is MARKET or LIMIT.
type Type string

const (
	TypeMarket Type = "MARKET"
	TypeLimit  Type = "LIMIT"
)

// Order is the book's internal resting-order representation. It is also a
// doubly-linked list node within its PriceLevel's FIFO, giving O(1) removal
// on cancellation without scanning the level.
type Order struct {
	ID       string
	UserID   string
	Symbol   string
	Side     Side
	Type     Type
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Filled   decimal.Decimal
	TraceID  string
	EnteredAt time.Time

	level      *PriceLevel
	prev, next *Order
}

// Remaining returns the order's unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// PriceLevel is a FIFO of resting orders at one price, plus its position in
// the book's sorted level list (bids descending, asks ascending).
type PriceLevel struct {
	Price decimal.Decimal

	head, tail *Order
	totalQty   decimal.Decimal

	prev, next *PriceLevel
}

func (lvl *PriceLevel) isEmpty() bool {
	return lvl.head == nil
}

func (lvl *PriceLevel) append(o *Order) {
	o.level = lvl
	o.prev = lvl.tail
	o.next = nil
	if lvl.tail != nil {
		lvl.tail.next = o
	} else {
		lvl.head = o
	}
	lvl.tail = o
	lvl.totalQty = lvl.totalQty.Add(o.Remaining())
}

func (lvl *PriceLevel) remove(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		lvl.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		lvl.tail = o.prev
	}
	lvl.totalQty = lvl.totalQty.Sub(o.Remaining())
	o.prev, o.next, o.level = nil, nil, nil
}

// Trade is one execution between a resting and an incoming order.
type Trade struct {
	ID          string
	Symbol      string
	BuyOrderID  string
	SellOrderID string
	BuyUserID   string
	SellUserID  string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	ExecutedAt  time.Time
}

// MatchResult is what submitting an order to a book produces.
type MatchResult struct {
	Trades       []Trade
	RemainingQty decimal.Decimal
	FullyFilled  bool
	Rejected     bool
	RejectReason string
}

// PriceLevelSnapshot is a read-only view of one side's depth, for metrics.
type PriceLevelSnapshot struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   int
}

// BookSnapshot is a point-in-time view of one symbol's book.
type BookSnapshot struct {
	Symbol    string
	Bids      []PriceLevelSnapshot
	Asks      []PriceLevelSnapshot
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	UpdatedAt time.Time
}
