package account

import (
	"context"

	"github.com/abdoElHodaky/tradcore/internal/db/models"
	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
)

// fakeStore is an in-memory stand-in for store, letting the S1-S6 scenarios
// of §8 run as plain Go tests with no sqlite/postgres dependency (§10).
type fakeStore struct {
	accounts     map[string]*models.Account
	holdings     map[string]*models.StockHolding
	reservations map[string]*models.ReservationInfo
	txlog        []*models.TransactionLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:     make(map[string]*models.Account),
		holdings:     make(map[string]*models.StockHolding),
		reservations: make(map[string]*models.ReservationInfo),
	}
}

// withTx runs fn directly against fs with no transactional isolation,
// matching real Repository.WithTx's call shape for Service's tests.
func (fs *fakeStore) withTx(ctx context.Context, fn func(tx store) error) error {
	return fn(fs)
}

func (fs *fakeStore) putAccount(a *models.Account) {
	cp := *a
	fs.accounts[a.UserID] = &cp
}

func (fs *fakeStore) putHolding(h *models.StockHolding) {
	cp := *h
	fs.holdings[holdingKey(h.UserID, h.Symbol)] = &cp
}

func holdingKey(userID, symbol string) string { return userID + "|" + symbol }

func (fs *fakeStore) LockAccount(ctx context.Context, userID string) (*models.Account, error) {
	acc, ok := fs.accounts[userID]
	if !ok {
		return nil, tcerrors.New(tcerrors.KindNotFound, tcerrors.CodeAccountNotFound, "account not found").WithEntityID(userID)
	}
	cp := *acc
	return &cp, nil
}

func (fs *fakeStore) LockHolding(ctx context.Context, userID, symbol string) (*models.StockHolding, error) {
	if h, ok := fs.holdings[holdingKey(userID, symbol)]; ok {
		cp := *h
		return &cp, nil
	}
	return &models.StockHolding{UserID: userID, Symbol: symbol}, nil
}

func (fs *fakeStore) SaveAccount(ctx context.Context, acc *models.Account) error {
	acc.Version++
	fs.putAccount(acc)
	return nil
}

func (fs *fakeStore) SaveHolding(ctx context.Context, h *models.StockHolding) error {
	h.Version++
	fs.putHolding(h)
	return nil
}

func (fs *fakeStore) GetReservation(ctx context.Context, orderID string) (*models.ReservationInfo, error) {
	res, ok := fs.reservations[orderID]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

func (fs *fakeStore) SaveReservation(ctx context.Context, res *models.ReservationInfo) error {
	cp := *res
	fs.reservations[res.OrderID] = &cp
	return nil
}

// AppendTxLog mimics the real Repository's (trade_id, side) unique index: a
// redelivered append is a no-op rather than a duplicate row (P6).
func (fs *fakeStore) AppendTxLog(ctx context.Context, entry *models.TransactionLog) error {
	for _, e := range fs.txlog {
		if e.TradeID == entry.TradeID && e.Side == entry.Side {
			return nil
		}
	}
	cp := *entry
	fs.txlog = append(fs.txlog, &cp)
	return nil
}
