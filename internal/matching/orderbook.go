package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Book is a single symbol's order book: two sorted FIFO chains of price
// levels (bids descending, asks ascending) plus an id→order index for O(1)
// cancellation. A Book is owned exclusively by one worker goroutine
// (§4.1) and carries no internal locking.
type Book struct {
	Symbol string

	bidsHead, asksHead *PriceLevel
	orderIndex         map[string]*Order

	lastPrice decimal.Decimal
	updatedAt time.Time
}

// NewBook creates an empty book for symbol.
func NewBook(symbol string) *Book {
	return &Book{
		Symbol:     symbol,
		orderIndex: make(map[string]*Order),
	}
}

// Submit matches incoming against the opposite side and, for an unfilled
// LIMIT residual, enqueues it on its own side. now is passed in rather than
// read with time.Now so callers can produce deterministic timestamps in
// tests.
func (b *Book) Submit(incoming *Order, now time.Time) MatchResult {
	incoming.EnteredAt = now

	var trades []Trade
	remaining := incoming.Remaining()

	var oppositeHead **PriceLevel
	if incoming.Side == SideBuy {
		oppositeHead = &b.asksHead
	} else {
		oppositeHead = &b.bidsHead
	}

	for *oppositeHead != nil && remaining.IsPositive() {
		level := *oppositeHead
		if !b.crosses(incoming, level.Price) {
			break
		}

		for level.head != nil && remaining.IsPositive() {
			resting := level.head
			tradeQty := decimal.Min(remaining, resting.Remaining())

			trade := b.execute(incoming, resting, level.Price, tradeQty, now)
			trades = append(trades, trade)

			resting.Filled = resting.Filled.Add(tradeQty)
			incoming.Filled = incoming.Filled.Add(tradeQty)
			remaining = remaining.Sub(tradeQty)
			level.totalQty = level.totalQty.Sub(tradeQty)

			if resting.Remaining().IsZero() {
				b.removeOrder(resting)
			}
		}

		if level.isEmpty() && *oppositeHead == level {
			b.unlinkLevel(level, oppositeHead)
		}
	}

	if len(trades) > 0 {
		b.lastPrice = trades[len(trades)-1].Price
		b.updatedAt = now
	}

	fullyFilled := remaining.IsZero()
	if !fullyFilled && incoming.Type == TypeLimit {
		b.enqueue(incoming)
	}

	return MatchResult{Trades: trades, RemainingQty: remaining, FullyFilled: fullyFilled}
}

// crosses reports whether incoming's price crosses the opposite side's best
// price; MARKET orders always cross.
func (b *Book) crosses(incoming *Order, bestOpposite decimal.Decimal) bool {
	if incoming.Type == TypeMarket {
		return true
	}
	if incoming.Side == SideBuy {
		return incoming.Price.GreaterThanOrEqual(bestOpposite)
	}
	return incoming.Price.LessThanOrEqual(bestOpposite)
}

func (b *Book) execute(incoming, resting *Order, price, qty decimal.Decimal, now time.Time) Trade {
	t := Trade{
		ID:         uuid.NewString(),
		Symbol:     b.Symbol,
		Price:      price,
		Quantity:   qty,
		ExecutedAt: now,
	}
	if incoming.Side == SideBuy {
		t.BuyOrderID, t.BuyUserID = incoming.ID, incoming.UserID
		t.SellOrderID, t.SellUserID = resting.ID, resting.UserID
	} else {
		t.BuyOrderID, t.BuyUserID = resting.ID, resting.UserID
		t.SellOrderID, t.SellUserID = incoming.ID, incoming.UserID
	}
	return t
}

// enqueue inserts a LIMIT residual into its own side, creating a new price
// level in sorted position if none exists at that price.
func (b *Book) enqueue(o *Order) {
	var head **PriceLevel
	descending := o.Side == SideBuy
	if o.Side == SideBuy {
		head = &b.bidsHead
	} else {
		head = &b.asksHead
	}

	var prev *PriceLevel
	cur := *head
	for cur != nil {
		if cur.Price.Equal(o.Price) {
			cur.append(o)
			b.orderIndex[o.ID] = o
			return
		}
		if descending && o.Price.GreaterThan(cur.Price) {
			break
		}
		if !descending && o.Price.LessThan(cur.Price) {
			break
		}
		prev = cur
		cur = cur.next
	}

	lvl := &PriceLevel{Price: o.Price}
	lvl.append(o)
	lvl.next = cur
	lvl.prev = prev
	if cur != nil {
		cur.prev = lvl
	}
	if prev != nil {
		prev.next = lvl
	} else {
		*head = lvl
	}
	b.orderIndex[o.ID] = o
}

// removeOrder detaches o from its level's FIFO and the id index, dropping
// the level entirely if it becomes empty.
func (b *Book) removeOrder(o *Order) {
	lvl := o.level
	delete(b.orderIndex, o.ID)
	if lvl == nil {
		return
	}
	lvl.remove(o)
	if lvl.isEmpty() {
		head := &b.bidsHead
		if o.Side == SideSell {
			head = &b.asksHead
		}
		b.unlinkLevel(lvl, head)
	}
}

func (b *Book) unlinkLevel(lvl *PriceLevel, head **PriceLevel) {
	if lvl.prev != nil {
		lvl.prev.next = lvl.next
	} else {
		*head = lvl.next
	}
	if lvl.next != nil {
		lvl.next.prev = lvl.prev
	}
	lvl.prev, lvl.next = nil, nil
}

// Cancel removes orderID from the book in O(1); returns false if the id is
// not resting (already filled, already cancelled, or never existed) — a
// non-error outcome per §4.1.
func (b *Book) Cancel(orderID string) bool {
	o, ok := b.orderIndex[orderID]
	if !ok {
		return false
	}
	b.removeOrder(o)
	return true
}

// Snapshot returns a read-only depth view for metrics/tests.
func (b *Book) Snapshot() BookSnapshot {
	snap := BookSnapshot{Symbol: b.Symbol, UpdatedAt: b.updatedAt}
	for lvl := b.bidsHead; lvl != nil; lvl = lvl.next {
		snap.Bids = append(snap.Bids, levelSnapshot(lvl))
	}
	for lvl := b.asksHead; lvl != nil; lvl = lvl.next {
		snap.Asks = append(snap.Asks, levelSnapshot(lvl))
	}
	if b.bidsHead != nil {
		snap.BestBid = b.bidsHead.Price
	}
	if b.asksHead != nil {
		snap.BestAsk = b.asksHead.Price
	}
	return snap
}

func levelSnapshot(lvl *PriceLevel) PriceLevelSnapshot {
	count := 0
	for o := lvl.head; o != nil; o = o.next {
		count++
	}
	return PriceLevelSnapshot{Price: lvl.Price, Quantity: lvl.totalQty, Orders: count}
}
