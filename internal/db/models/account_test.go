package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
)

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// S2 — reserving more cash than is available leaves the account untouched
// and surfaces a retryable-free business error.
func TestAccount_ReserveInsufficientBalance(t *testing.T) {
	a := &Account{UserID: "u1", Cash: money("100.0000")}

	err := a.Reserve(money("150.0000"))

	require.Error(t, err)
	assert.True(t, tcerrors.IsBusiness(err))
	assert.True(t, a.Cash.Equal(money("100.0000")))
	assert.True(t, a.ReservedCash.IsZero())
}

func TestAccount_ReserveThenConfirm(t *testing.T) {
	a := &Account{UserID: "u1", Cash: money("100.0000")}

	require.NoError(t, a.Reserve(money("40.0000")))
	assert.True(t, a.Available().Equal(money("60.0000")))

	a.ConfirmReservation(money("40.0000"))
	assert.True(t, a.Cash.Equal(money("60.0000")))
	assert.True(t, a.ReservedCash.IsZero())
	assert.True(t, a.Invariants())
}

// §4.4 compensation: a release after a reservation restores availability
// exactly, with no drift.
func TestAccount_ReserveThenRelease(t *testing.T) {
	a := &Account{UserID: "u1", Cash: money("100.0000")}

	require.NoError(t, a.Reserve(money("40.0000")))
	a.Release(money("40.0000"))

	assert.True(t, a.Available().Equal(money("100.0000")))
	assert.True(t, a.ReservedCash.IsZero())
}

func TestAccount_ReleaseNeverGoesNegative(t *testing.T) {
	a := &Account{UserID: "u1", Cash: money("100.0000"), ReservedCash: money("10.0000")}

	a.Release(money("999.0000"))

	assert.True(t, a.ReservedCash.IsZero())
	assert.True(t, a.Invariants())
}

func TestStockHolding_ReserveInsufficientShares(t *testing.T) {
	h := &StockHolding{UserID: "u1", Symbol: "AAPL", Quantity: money("10"), AvailableQty: money("10")}

	err := h.ReserveShares(money("20"))

	require.Error(t, err)
	assert.True(t, tcerrors.IsBusiness(err))
	assert.True(t, h.AvailableQty.Equal(money("10")))
}

// P10 — average price is the quantity-weighted blend, HALF_UP rounded to
// scale 4, not banker's-rounded.
func TestStockHolding_AddShares_WeightedAveragePrice(t *testing.T) {
	h := &StockHolding{UserID: "u1", Symbol: "AAPL"}

	h.AddShares(money("10"), money("100.0000"))
	assert.True(t, h.AveragePrice.Equal(money("100.0000")))
	assert.True(t, h.Quantity.Equal(money("10")))

	h.AddShares(money("10"), money("110.0000"))
	assert.True(t, h.AveragePrice.Equal(money("105.0000")))
	assert.True(t, h.Quantity.Equal(money("20")))
}

func TestStockHolding_RoundHalfUp4_RoundsUpAtExactlyHalf(t *testing.T) {
	h := &StockHolding{UserID: "u1", Symbol: "AAPL"}

	// The first purchase averages exactly 100.00005 -> HALF_UP to 100.0001
	// (HALF_EVEN would give 100.0000). The second blends
	// (1 * 100.0001 + 2 * 100.00005) / 3 = 100.0000666... -> 100.0001.
	h.AddShares(money("1"), money("100.00005"))
	h.AddShares(money("2"), money("100.00005"))

	assert.True(t, h.AveragePrice.Equal(money("100.0001")), "got %s", h.AveragePrice)
}

func TestStockHolding_RemoveShares_ClosesPositionToZero(t *testing.T) {
	h := &StockHolding{UserID: "u1", Symbol: "AAPL", Quantity: money("10"), AvailableQty: money("10"), AveragePrice: money("100.0000")}

	require.NoError(t, h.ReserveShares(money("10")))
	h.RemoveShares(money("10"))

	assert.True(t, h.Quantity.IsZero())
	assert.True(t, h.AveragePrice.IsZero())
	assert.True(t, h.Invariants())
}

func TestStockHolding_ReleaseSharesNeverExceedsQuantity(t *testing.T) {
	h := &StockHolding{UserID: "u1", Symbol: "AAPL", Quantity: money("5"), AvailableQty: money("2")}

	h.ReleaseShares(money("999"))

	assert.True(t, h.AvailableQty.Equal(money("5")))
	assert.True(t, h.Invariants())
}
