package account

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradcore/internal/db/models"
	"github.com/abdoElHodaky/tradcore/internal/lockmgr"
	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
)

// Service implements the reserve/confirm/release/rollback primitives of
// §4.2, guarding every multi-row update with an in-process advisory lock
// (held in the same lexicographic user-id order as the DB row locks) so the
// two layers never disagree about lock order.
type Service struct {
	repo   store
	withTx func(ctx context.Context, fn func(tx store) error) error
	locks  *lockmgr.Manager
	logger *zap.Logger
}

// NewService builds a Service backed by a real Repository/gorm transaction.
func NewService(repo *Repository, locks *lockmgr.Manager, logger *zap.Logger) *Service {
	return newService(repo, func(ctx context.Context, fn func(tx store) error) error {
		return repo.WithTx(ctx, func(tx *Repository) error { return fn(tx) })
	}, locks, logger)
}

// newService builds a Service against any store/transaction-runner pair,
// letting tests substitute an in-memory fake for repo and a no-op withTx.
func newService(repo store, withTx func(ctx context.Context, fn func(tx store) error) error, locks *lockmgr.Manager, logger *zap.Logger) *Service {
	return &Service{repo: repo, withTx: withTx, locks: locks, logger: logger}
}

// ReserveCash holds amount of a buyer's cash against orderID. It is
// idempotent on orderID: a reservation already present for this order is
// returned as-is rather than double-reserved (P6).
func (s *Service) ReserveCash(ctx context.Context, orderID, userID, symbol string, quantity, price decimal.Decimal) (*models.ReservationInfo, error) {
	holderID := "reserve:" + orderID
	if err := s.locks.Acquire(ctx, userID, holderID); err != nil {
		return nil, tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeLockTimeout, "failed to acquire account lock").WithEntityID(userID)
	}
	defer s.locks.Release(userID, holderID)

	var out *models.ReservationInfo
	err := s.withTx(ctx, func(tx store) error {
		if existing, _ := tx.GetReservation(ctx, orderID); existing != nil {
			out = existing
			return nil
		}

		acc, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}

		amount := price.Mul(quantity)
		if err := acc.Reserve(amount); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, acc); err != nil {
			return err
		}

		res := &models.ReservationInfo{
			OrderID:        orderID,
			UserID:         userID,
			Symbol:         symbol,
			Side:           models.OrderSideBuy,
			Quantity:       quantity,
			Price:          &price,
			ReservedAmount: amount,
			Status:         models.ReservationActive,
		}
		if err := tx.SaveReservation(ctx, res); err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// ReserveShares holds quantity of a seller's available shares against
// orderID, idempotent on orderID the same way ReserveCash is.
func (s *Service) ReserveShares(ctx context.Context, orderID, userID, symbol string, quantity decimal.Decimal) (*models.ReservationInfo, error) {
	holderID := "reserve:" + orderID
	if err := s.locks.Acquire(ctx, userID, holderID); err != nil {
		return nil, tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeLockTimeout, "failed to acquire account lock").WithEntityID(userID)
	}
	defer s.locks.Release(userID, holderID)

	var out *models.ReservationInfo
	err := s.withTx(ctx, func(tx store) error {
		if existing, _ := tx.GetReservation(ctx, orderID); existing != nil {
			out = existing
			return nil
		}

		holding, err := tx.LockHolding(ctx, userID, symbol)
		if err != nil {
			return err
		}
		if err := holding.ReserveShares(quantity); err != nil {
			return err
		}
		if err := tx.SaveHolding(ctx, holding); err != nil {
			return err
		}

		res := &models.ReservationInfo{
			OrderID:        orderID,
			UserID:         userID,
			Symbol:         symbol,
			Side:           models.OrderSideSell,
			Quantity:       quantity,
			Status:         models.ReservationActive,
		}
		if err := tx.SaveReservation(ctx, res); err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// ConfirmTrade settles both legs of an executed trade in one transaction:
// the buyer's reserved cash is debited and the bought quantity added to their
// holding at the trade price; the seller's reserved shares are removed and
// the proceeds deposited. Buyer and seller ids are locked in lexicographic
// order so concurrent trades sharing a counterparty never deadlock (§4.2
// step 2-5, P5).
func (s *Service) ConfirmTrade(ctx context.Context, tradeID, symbol string, buyOrderID, sellOrderID, buyUserID, sellUserID string, price, quantity decimal.Decimal) (buyerNewBalance, sellerNewBalance decimal.Decimal, err error) {
	holderID := "confirm:" + tradeID
	ids := []string{buyUserID, sellUserID}
	if err := s.locks.AcquireSorted(ctx, ids, holderID); err != nil {
		return decimal.Zero, decimal.Zero, tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeLockTimeout, "failed to acquire account locks for trade confirmation")
	}
	defer s.locks.ReleaseAll(ids, holderID)

	amount := price.Mul(quantity)

	err = s.withTx(ctx, func(tx store) error {
		buyRes, err := tx.GetReservation(ctx, buyOrderID)
		if err != nil {
			return err
		}
		if buyRes == nil || buyRes.Status != models.ReservationActive {
			return nil // already confirmed/released: redelivery, no-op (P6)
		}

		sellRes, err := tx.GetReservation(ctx, sellOrderID)
		if err != nil {
			return err
		}
		if sellRes == nil || sellRes.Status != models.ReservationActive {
			return nil
		}

		buyAcc, err := tx.LockAccount(ctx, buyUserID)
		if err != nil {
			return err
		}
		buyHolding, err := tx.LockHolding(ctx, buyUserID, symbol)
		if err != nil {
			return err
		}
		cashBefore := buyAcc.Cash
		buyAcc.ConfirmReservation(buyRes.ReservedAmount)
		buyHolding.AddShares(quantity, price)
		if err := tx.SaveAccount(ctx, buyAcc); err != nil {
			return err
		}
		if err := tx.SaveHolding(ctx, buyHolding); err != nil {
			return err
		}
		buyRes.Status = models.ReservationConfirmed
		if err := tx.SaveReservation(ctx, buyRes); err != nil {
			return err
		}
		if err := tx.AppendTxLog(ctx, &models.TransactionLog{
			TradeID: tradeID, Side: models.OrderSideBuy, UserID: buyUserID, Symbol: symbol,
			CashBefore: cashBefore, CashAfter: buyAcc.Cash, QuantityDelta: quantity,
		}); err != nil {
			return err
		}
		buyerNewBalance = buyAcc.Cash

		sellAcc, err := tx.LockAccount(ctx, sellUserID)
		if err != nil {
			return err
		}
		sellHolding, err := tx.LockHolding(ctx, sellUserID, symbol)
		if err != nil {
			return err
		}
		sellCashBefore := sellAcc.Cash
		sellHolding.RemoveShares(quantity)
		sellAcc.Deposit(amount)
		if err := tx.SaveAccount(ctx, sellAcc); err != nil {
			return err
		}
		if err := tx.SaveHolding(ctx, sellHolding); err != nil {
			return err
		}
		sellRes.Status = models.ReservationConfirmed
		if err := tx.SaveReservation(ctx, sellRes); err != nil {
			return err
		}
		if err := tx.AppendTxLog(ctx, &models.TransactionLog{
			TradeID: tradeID, Side: models.OrderSideSell, UserID: sellUserID, Symbol: symbol,
			CashBefore: sellCashBefore, CashAfter: sellAcc.Cash, QuantityDelta: quantity.Neg(),
		}); err != nil {
			return err
		}
		sellerNewBalance = sellAcc.Cash
		return nil
	})
	return buyerNewBalance, sellerNewBalance, err
}

// ReleaseReservation releases the hold placed by ReserveCash/ReserveShares
// without confirming it, for order cancellation (§4.2). Idempotent: a
// terminal reservation is left untouched.
func (s *Service) ReleaseReservation(ctx context.Context, orderID string) error {
	holderID := "release:" + orderID
	res, err := s.repo.GetReservation(ctx, orderID)
	if err != nil {
		return err
	}
	if res == nil || res.IsTerminal() {
		return nil
	}

	if err := s.locks.Acquire(ctx, res.UserID, holderID); err != nil {
		return tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeLockTimeout, "failed to acquire account lock").WithEntityID(res.UserID)
	}
	defer s.locks.Release(res.UserID, holderID)

	return s.withTx(ctx, func(tx store) error {
		res, err := tx.GetReservation(ctx, orderID)
		if err != nil {
			return err
		}
		if res == nil || res.IsTerminal() {
			return nil
		}

		switch res.Side {
		case models.OrderSideBuy:
			acc, err := tx.LockAccount(ctx, res.UserID)
			if err != nil {
				return err
			}
			acc.Release(res.ReservedAmount)
			if err := tx.SaveAccount(ctx, acc); err != nil {
				return err
			}
		case models.OrderSideSell:
			holding, err := tx.LockHolding(ctx, res.UserID, res.Symbol)
			if err != nil {
				return err
			}
			holding.ReleaseShares(res.Quantity)
			if err := tx.SaveHolding(ctx, holding); err != nil {
				return err
			}
		}

		res.Status = models.ReservationReleased
		return tx.SaveReservation(ctx, res)
	})
}

// RollbackTrade compensates a trade leg that was confirmed but whose
// counterpart leg failed: it is the inverse of ConfirmTrade for a single
// order, restoring cash/shares to their pre-trade state (§4.4 compensation).
// price is the trade's original execution price, supplied by the caller
// (from the TradeRollbackEvent that carried it). The buy side refunds
// ReservationInfo.ReservedAmount, removes the bought quantity from Quantity
// and AvailableQty, and uses price to back the purchase out of the average
// (rounded half away from zero to scale 4; zero once the position closes).
// The sell side withdraws price * quantity, since its confirmed leg
// deposited that amount with no reservation record of price, and restores
// the shares; a seller position that the trade had closed out gets price as
// its average, so its earlier average is not recovered.
func (s *Service) RollbackTrade(ctx context.Context, orderID string, price decimal.Decimal) error {
	holderID := "rollback:" + uuid.NewString()
	res, err := s.repo.GetReservation(ctx, orderID)
	if err != nil {
		return err
	}
	if res == nil || res.Status != models.ReservationConfirmed {
		return nil
	}

	if err := s.locks.Acquire(ctx, res.UserID, holderID); err != nil {
		return tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeLockTimeout, "failed to acquire account lock").WithEntityID(res.UserID)
	}
	defer s.locks.Release(res.UserID, holderID)

	return s.withTx(ctx, func(tx store) error {
		res, err := tx.GetReservation(ctx, orderID)
		if err != nil {
			return err
		}
		if res == nil || res.Status != models.ReservationConfirmed {
			return nil
		}

		switch res.Side {
		case models.OrderSideBuy:
			acc, err := tx.LockAccount(ctx, res.UserID)
			if err != nil {
				return err
			}
			holding, err := tx.LockHolding(ctx, res.UserID, res.Symbol)
			if err != nil {
				return err
			}
			acc.Deposit(res.ReservedAmount)
			if remaining := holding.Quantity.Sub(res.Quantity); remaining.IsPositive() {
				holding.AveragePrice = holding.AveragePrice.Mul(holding.Quantity).
					Sub(price.Mul(res.Quantity)).Div(remaining).Round(4)
			}
			holding.RemoveShares(res.Quantity)
			holding.AvailableQty = holding.AvailableQty.Sub(res.Quantity)
			if holding.AvailableQty.IsNegative() {
				holding.AvailableQty = decimal.Zero
			}
			if err := tx.SaveAccount(ctx, acc); err != nil {
				return err
			}
			if err := tx.SaveHolding(ctx, holding); err != nil {
				return err
			}
		case models.OrderSideSell:
			acc, err := tx.LockAccount(ctx, res.UserID)
			if err != nil {
				return err
			}
			holding, err := tx.LockHolding(ctx, res.UserID, res.Symbol)
			if err != nil {
				return err
			}
			acc.Withdraw(price.Mul(res.Quantity))
			holding.RestoreShares(res.Quantity, price)
			if err := tx.SaveAccount(ctx, acc); err != nil {
				return err
			}
			if err := tx.SaveHolding(ctx, holding); err != nil {
				return err
			}
		}

		res.Status = models.ReservationReleased
		return tx.SaveReservation(ctx, res)
	})
}
