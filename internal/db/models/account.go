package models

import (
	"time"

	"github.com/shopspring/decimal"
	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
)

// Account is the Account Service's owned cash aggregate, §3.
type Account struct {
	UserID       string          `gorm:"primaryKey;type:varchar(36)"`
	Cash         decimal.Decimal `gorm:"type:decimal(24,4)"`
	ReservedCash decimal.Decimal `gorm:"type:decimal(24,4)"`
	Version      int64           `gorm:"default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName pins the gorm table name.
func (Account) TableName() string { return "accounts" }

// Available returns cash not currently reserved.
func (a *Account) Available() decimal.Decimal {
	return a.Cash.Sub(a.ReservedCash)
}

// Reserve moves amount from available to reserved cash, or returns
// InsufficientBalance leaving the account untouched (§4.2).
func (a *Account) Reserve(amount decimal.Decimal) error {
	if a.Available().LessThan(amount) {
		return tcerrors.New(tcerrors.KindBusiness, tcerrors.CodeInsufficientBalance, "insufficient available cash").
			WithEntityID(a.UserID).
			WithDetail("required", amount.String()).
			WithDetail("available", a.Available().String())
	}
	a.ReservedCash = a.ReservedCash.Add(amount)
	return nil
}

// Release reverses a prior Reserve, moving amount back to available.
func (a *Account) Release(amount decimal.Decimal) {
	a.ReservedCash = a.ReservedCash.Sub(amount)
	if a.ReservedCash.IsNegative() {
		a.ReservedCash = decimal.Zero
	}
}

// ConfirmReservation subtracts amount from both reserved and cash, finalizing
// a buyer's reservation on trade execution (§4.2 step 2).
func (a *Account) ConfirmReservation(amount decimal.Decimal) {
	a.ReservedCash = a.ReservedCash.Sub(amount)
	a.Cash = a.Cash.Sub(amount)
}

// Deposit increases cash with no reservation involved (seller proceeds,
// §4.2 step 5).
func (a *Account) Deposit(amount decimal.Decimal) {
	a.Cash = a.Cash.Add(amount)
}

// Withdraw reverses a prior Deposit, for rolling back a confirmed trade's
// seller-proceeds leg (§4.4 compensation).
func (a *Account) Withdraw(amount decimal.Decimal) {
	a.Cash = a.Cash.Sub(amount)
}

// Invariants returns false if cash/reserved bounds are violated (P3).
func (a *Account) Invariants() bool {
	return a.Cash.GreaterThanOrEqual(decimal.Zero) &&
		a.ReservedCash.GreaterThanOrEqual(decimal.Zero) &&
		a.ReservedCash.LessThanOrEqual(a.Cash)
}

// StockHolding is the Account Service's owned per-symbol position, §3.
type StockHolding struct {
	UserID           string          `gorm:"primaryKey;type:varchar(36)"`
	Symbol           string          `gorm:"primaryKey;type:varchar(20)"`
	Quantity         decimal.Decimal `gorm:"type:decimal(24,8)"`
	AvailableQty     decimal.Decimal `gorm:"type:decimal(24,8)"`
	AveragePrice     decimal.Decimal `gorm:"type:decimal(18,4)"`
	Version          int64           `gorm:"default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName pins the gorm table name.
func (StockHolding) TableName() string { return "stock_holdings" }

// ReserveShares moves qty from available to reserved (i.e. out of
// AvailableQty; Quantity is untouched until confirmation), or returns
// InsufficientShares leaving the holding untouched.
func (h *StockHolding) ReserveShares(qty decimal.Decimal) error {
	if h.AvailableQty.LessThan(qty) {
		return tcerrors.New(tcerrors.KindBusiness, tcerrors.CodeInsufficientShares, "insufficient available shares").
			WithEntityID(h.UserID).
			WithDetail("symbol", h.Symbol).
			WithDetail("required", qty.String()).
			WithDetail("available", h.AvailableQty.String())
	}
	h.AvailableQty = h.AvailableQty.Sub(qty)
	return nil
}

// ReleaseShares reverses a prior ReserveShares.
func (h *StockHolding) ReleaseShares(qty decimal.Decimal) {
	h.AvailableQty = h.AvailableQty.Add(qty)
	if h.AvailableQty.GreaterThan(h.Quantity) {
		h.AvailableQty = h.Quantity
	}
}

// RestoreShares reverses a prior RemoveShares, for rolling back a confirmed
// trade's seller leg (§4.4 compensation). Unlike AddShares it does not
// recompute a weighted average: it adds qty back to both Quantity and
// AvailableQty and leaves the average as it stands, except that a position
// that had been closed out (Quantity zero, average zeroed by RemoveShares)
// takes closedAvg as its average; the average it had before closing is not
// recovered.
func (h *StockHolding) RestoreShares(qty, closedAvg decimal.Decimal) {
	wasClosed := h.Quantity.IsZero()
	h.Quantity = h.Quantity.Add(qty)
	h.AvailableQty = h.AvailableQty.Add(qty)
	if wasClosed {
		h.AveragePrice = closedAvg
	}
}

// roundHalfUp4 rounds to scale 4 with halves rounded away from zero
// (HALF_UP), matching §4.2's average-price rounding rule. This gives the
// same result as decimal.Round(4), not RoundBank's HALF_EVEN.
func roundHalfUp4(d decimal.Decimal) decimal.Decimal {
	const scale = 4
	shifted := d.Shift(scale)
	rounded := shifted.Add(decimal.New(5, -1).Mul(decimal.New(sign(shifted), 0))).Truncate(0)
	return rounded.Shift(-scale)
}

func sign(d decimal.Decimal) int64 {
	if d.Sign() < 0 {
		return -1
	}
	return 1
}

// AddShares confirms a buyer's share reservation: new average price is the
// quantity-weighted blend of the old and new purchase, rounded HALF_UP to
// scale 4 (§4.2 step 3 / P10).
func (h *StockHolding) AddShares(qty, price decimal.Decimal) {
	oldQty := h.Quantity
	oldAvg := h.AveragePrice

	newQty := oldQty.Add(qty)
	var newAvg decimal.Decimal
	if newQty.IsZero() {
		newAvg = decimal.Zero
	} else {
		numerator := oldAvg.Mul(oldQty).Add(price.Mul(qty))
		newAvg = roundHalfUp4(numerator.Div(newQty))
	}

	h.Quantity = newQty
	h.AvailableQty = h.AvailableQty.Add(qty)
	h.AveragePrice = newAvg
}

// RemoveShares confirms a seller's share reservation: Quantity decreases by
// qty (AvailableQty was already decremented on reserve); average resets to
// zero once the position is fully closed (§4.2 step 4).
func (h *StockHolding) RemoveShares(qty decimal.Decimal) {
	h.Quantity = h.Quantity.Sub(qty)
	if h.Quantity.LessThanOrEqual(decimal.Zero) {
		h.Quantity = decimal.Zero
		h.AveragePrice = decimal.Zero
	}
}

// Invariants returns false if quantity/availability bounds are violated (P3).
func (h *StockHolding) Invariants() bool {
	return h.AvailableQty.GreaterThanOrEqual(decimal.Zero) &&
		h.AvailableQty.LessThanOrEqual(h.Quantity) &&
		h.AveragePrice.GreaterThanOrEqual(decimal.Zero)
}
