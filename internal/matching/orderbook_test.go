package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func limitOrder(id, userID string, side Side, qty, price string) *Order {
	return &Order{
		ID: id, UserID: userID, Symbol: "AAPL", Side: side, Type: TypeLimit,
		Quantity: dec(qty), Price: dec(price),
	}
}

// S1 — a resting sell and a crossing buy at the same price match in full.
func TestBook_MatchedLimitTrade(t *testing.T) {
	book := NewBook("AAPL")
	now := time.Now()

	sell := limitOrder("sell-1", "B", SideSell, "10", "150")
	res := book.Submit(sell, now)
	assert.Empty(t, res.Trades)
	assert.False(t, res.FullyFilled)

	buy := limitOrder("buy-1", "A", SideBuy, "10", "150")
	res = book.Submit(buy, now)

	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.True(t, dec("10").Equal(trade.Quantity))
	assert.True(t, dec("150").Equal(trade.Price))
	assert.Equal(t, "buy-1", trade.BuyOrderID)
	assert.Equal(t, "sell-1", trade.SellOrderID)
	assert.True(t, res.FullyFilled)
}

// P4 — two resting orders at the same price fill in arrival order.
func TestBook_PriceTimePriority(t *testing.T) {
	book := NewBook("AAPL")
	now := time.Now()

	book.Submit(limitOrder("sell-1", "B1", SideSell, "5", "100"), now)
	book.Submit(limitOrder("sell-2", "B2", SideSell, "5", "100"), now)

	res := book.Submit(limitOrder("buy-1", "A", SideBuy, "5", "100"), now)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, "sell-1", res.Trades[0].SellOrderID, "earlier-enqueued resting order must match first")
}

// A MARKET order consumes the book at resting prices and never rests.
func TestBook_MarketOrderConsumesAndNeverRests(t *testing.T) {
	book := NewBook("AAPL")
	now := time.Now()

	book.Submit(limitOrder("sell-1", "B", SideSell, "5", "100"), now)

	market := &Order{ID: "buy-1", UserID: "A", Symbol: "AAPL", Side: SideBuy, Type: TypeMarket, Quantity: dec("10")}
	res := book.Submit(market, now)

	require.Len(t, res.Trades, 1)
	assert.True(t, dec("5").Equal(res.Trades[0].Quantity))
	assert.False(t, res.FullyFilled)
	assert.False(t, book.Cancel("buy-1"), "unfilled MARKET residual must not be enqueued")
}

// A MARKET order against an empty opposite side produces no trades.
func TestBook_MarketOrderAgainstEmptyBookProducesNoTrades(t *testing.T) {
	book := NewBook("AAPL")
	market := &Order{ID: "buy-1", UserID: "A", Symbol: "AAPL", Side: SideBuy, Type: TypeMarket, Quantity: dec("10")}

	res := book.Submit(market, time.Now())
	assert.Empty(t, res.Trades)
}

// Cancel is O(1) via the id index and leaves the book consistent.
func TestBook_CancelRemovesRestingOrder(t *testing.T) {
	book := NewBook("AAPL")
	now := time.Now()

	book.Submit(limitOrder("buy-1", "A", SideBuy, "10", "150"), now)
	assert.True(t, book.Cancel("buy-1"))
	assert.False(t, book.Cancel("buy-1"), "cancelling twice is a no-op, not an error")

	res := book.Submit(limitOrder("sell-1", "B", SideSell, "10", "150"), now)
	assert.Empty(t, res.Trades, "cancelled order must not be matchable")
}

// Best bid must stay below best ask whenever both sides are non-empty.
func TestBook_BestBidNeverCrossesBestAsk(t *testing.T) {
	book := NewBook("AAPL")
	now := time.Now()

	book.Submit(limitOrder("sell-1", "B", SideSell, "5", "110"), now)
	book.Submit(limitOrder("buy-1", "A", SideBuy, "5", "100"), now)

	snap := book.Snapshot()
	require.False(t, snap.BestBid.IsZero())
	require.False(t, snap.BestAsk.IsZero())
	assert.True(t, snap.BestBid.LessThan(snap.BestAsk))
}

func TestBook_PartialFillLeavesResidualEnqueued(t *testing.T) {
	book := NewBook("AAPL")
	now := time.Now()

	book.Submit(limitOrder("sell-1", "B", SideSell, "5", "100"), now)
	res := book.Submit(limitOrder("buy-1", "A", SideBuy, "10", "100"), now)

	require.Len(t, res.Trades, 1)
	assert.True(t, dec("5").Equal(res.RemainingQty))
	assert.True(t, book.Cancel("buy-1"), "unfilled LIMIT residual must be enqueued at its own price")
}
