package account

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradcore/internal/db/models"
	"github.com/abdoElHodaky/tradcore/internal/lockmgr"
	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
)

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// newTestService wires a Service against a fresh fakeStore, matching §10's
// "sqlite-free fakes of the repositories" test tooling.
func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	locks := lockmgr.NewManager(lockmgr.DefaultConfig(), zap.NewNop())
	t.Cleanup(locks.Shutdown)
	return newService(fs, fs.withTx, locks, zap.NewNop()), fs
}

// S1 — a matched limit trade settles both legs: the buyer's reserved cash
// becomes a position at the trade price, the seller's shares convert to
// proceeds with their average price untouched.
func TestService_S1_ConfirmTrade(t *testing.T) {
	ctx := context.Background()
	svc, fs := newTestService(t)

	fs.putAccount(&models.Account{UserID: "A", Cash: money("10000")})
	fs.putAccount(&models.Account{UserID: "B", Cash: money("10000")})
	fs.putHolding(&models.StockHolding{UserID: "B", Symbol: "AAPL", Quantity: money("100"), AvailableQty: money("100"), AveragePrice: money("50.0000")})

	_, err := svc.ReserveCash(ctx, "buy-1", "A", "AAPL", money("10"), money("150.00"))
	require.NoError(t, err)
	_, err = svc.ReserveShares(ctx, "sell-1", "B", "AAPL", money("10"))
	require.NoError(t, err)

	buyerBal, sellerBal, err := svc.ConfirmTrade(ctx, "trade-1", "AAPL", "buy-1", "sell-1", "A", "B", money("150.00"), money("10"))
	require.NoError(t, err)

	assert.True(t, buyerBal.Equal(money("8500")), "buyer balance: got %s", buyerBal)
	assert.True(t, sellerBal.Equal(money("11500")), "seller balance: got %s", sellerBal)

	aAcc, err := fs.LockAccount(ctx, "A")
	require.NoError(t, err)
	assert.True(t, aAcc.Cash.Equal(money("8500")))
	assert.True(t, aAcc.ReservedCash.IsZero())

	aHolding, err := fs.LockHolding(ctx, "A", "AAPL")
	require.NoError(t, err)
	assert.True(t, aHolding.Quantity.Equal(money("10")))
	assert.True(t, aHolding.AveragePrice.Equal(money("150.0000")))

	bAcc, err := fs.LockAccount(ctx, "B")
	require.NoError(t, err)
	assert.True(t, bAcc.Cash.Equal(money("11500")))

	bHolding, err := fs.LockHolding(ctx, "B", "AAPL")
	require.NoError(t, err)
	assert.True(t, bHolding.Quantity.Equal(money("90")))
	assert.True(t, bHolding.AveragePrice.Equal(money("50.0000")))
}

// S2 — reserving more cash than is available leaves the account untouched
// and surfaces a business error, not a partial reservation.
func TestService_S2_ReserveCashInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	svc, fs := newTestService(t)
	fs.putAccount(&models.Account{UserID: "A", Cash: money("100")})

	_, err := svc.ReserveCash(ctx, "buy-2", "A", "AAPL", money("10"), money("150.00"))

	require.Error(t, err)
	assert.True(t, tcerrors.IsBusiness(err))

	aAcc, err := fs.LockAccount(ctx, "A")
	require.NoError(t, err)
	assert.True(t, aAcc.Cash.Equal(money("100")))
	assert.True(t, aAcc.ReservedCash.IsZero())

	res, err := fs.GetReservation(ctx, "buy-2")
	require.NoError(t, err)
	assert.Nil(t, res)
}

// S3 — cancelling a resting order before it matches releases the hold back
// to available cash exactly, with no drift.
func TestService_S3_ReleaseReservationBeforeMatch(t *testing.T) {
	ctx := context.Background()
	svc, fs := newTestService(t)
	fs.putAccount(&models.Account{UserID: "A", Cash: money("10000")})

	_, err := svc.ReserveCash(ctx, "buy-3", "A", "AAPL", money("10"), money("150.00"))
	require.NoError(t, err)

	require.NoError(t, svc.ReleaseReservation(ctx, "buy-3"))

	aAcc, err := fs.LockAccount(ctx, "A")
	require.NoError(t, err)
	assert.True(t, aAcc.Cash.Equal(money("10000")))
	assert.True(t, aAcc.ReservedCash.IsZero())

	res, err := fs.GetReservation(ctx, "buy-3")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationReleased, res.Status)

	// Releasing again (redelivery) is a no-op, not an error.
	require.NoError(t, svc.ReleaseReservation(ctx, "buy-3"))
}

// S5 — a redelivered trade-confirmation event must not double-apply: the
// reservation's CONFIRMED status makes the second ConfirmTrade call a no-op.
func TestService_S5_ConfirmTradeIdempotentOnRedelivery(t *testing.T) {
	ctx := context.Background()
	svc, fs := newTestService(t)

	fs.putAccount(&models.Account{UserID: "A", Cash: money("10000")})
	fs.putAccount(&models.Account{UserID: "B", Cash: money("10000")})
	fs.putHolding(&models.StockHolding{UserID: "B", Symbol: "AAPL", Quantity: money("100"), AvailableQty: money("100"), AveragePrice: money("50.0000")})

	_, err := svc.ReserveCash(ctx, "buy-5", "A", "AAPL", money("10"), money("150.00"))
	require.NoError(t, err)
	_, err = svc.ReserveShares(ctx, "sell-5", "B", "AAPL", money("10"))
	require.NoError(t, err)

	_, _, err = svc.ConfirmTrade(ctx, "trade-5", "AAPL", "buy-5", "sell-5", "A", "B", money("150.00"), money("10"))
	require.NoError(t, err)

	// Redelivery of the same trade event.
	_, _, err = svc.ConfirmTrade(ctx, "trade-5", "AAPL", "buy-5", "sell-5", "A", "B", money("150.00"), money("10"))
	require.NoError(t, err)

	aAcc, err := fs.LockAccount(ctx, "A")
	require.NoError(t, err)
	assert.True(t, aAcc.Cash.Equal(money("8500")), "redelivery must not double-debit: got %s", aAcc.Cash)

	bAcc, err := fs.LockAccount(ctx, "B")
	require.NoError(t, err)
	assert.True(t, bAcc.Cash.Equal(money("11500")), "redelivery must not double-credit: got %s", bAcc.Cash)
}

// S6 — rolling back a trade whose counterpart leg failed after confirmation
// must exactly invert ConfirmTrade, including the seller leg's cash and
// average price, which RollbackTrade's earlier bug (zero-valued trade price)
// left corrupted.
func TestService_S6_RollbackTradeAfterConfirmation(t *testing.T) {
	ctx := context.Background()
	svc, fs := newTestService(t)

	fs.putAccount(&models.Account{UserID: "A", Cash: money("10000")})
	fs.putAccount(&models.Account{UserID: "B", Cash: money("10000")})
	fs.putHolding(&models.StockHolding{UserID: "B", Symbol: "AAPL", Quantity: money("100"), AvailableQty: money("100"), AveragePrice: money("50.0000")})

	_, err := svc.ReserveCash(ctx, "buy-6", "A", "AAPL", money("10"), money("150.00"))
	require.NoError(t, err)
	_, err = svc.ReserveShares(ctx, "sell-6", "B", "AAPL", money("10"))
	require.NoError(t, err)

	_, _, err = svc.ConfirmTrade(ctx, "trade-6", "AAPL", "buy-6", "sell-6", "A", "B", money("150.00"), money("10"))
	require.NoError(t, err)

	require.NoError(t, svc.RollbackTrade(ctx, "buy-6", money("150.00")))
	require.NoError(t, svc.RollbackTrade(ctx, "sell-6", money("150.00")))

	aAcc, err := fs.LockAccount(ctx, "A")
	require.NoError(t, err)
	assert.True(t, aAcc.Cash.Equal(money("10000")), "buyer cash should return to pre-trade: got %s", aAcc.Cash)

	aHolding, err := fs.LockHolding(ctx, "A", "AAPL")
	require.NoError(t, err)
	assert.True(t, aHolding.Quantity.IsZero(), "buyer position should unwind to zero: got %s", aHolding.Quantity)

	bAcc, err := fs.LockAccount(ctx, "B")
	require.NoError(t, err)
	assert.True(t, bAcc.Cash.Equal(money("10000")), "seller cash should return to pre-trade: got %s", bAcc.Cash)

	bHolding, err := fs.LockHolding(ctx, "B", "AAPL")
	require.NoError(t, err)
	assert.True(t, bHolding.Quantity.Equal(money("100")), "seller quantity should be restored: got %s", bHolding.Quantity)
	assert.True(t, bHolding.AveragePrice.Equal(money("50.0000")), "seller average price must not be re-blended at the rollback price: got %s", bHolding.AveragePrice)
}
