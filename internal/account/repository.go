// Package account implements the Account Service's reservation-based
// balance and position engine, §4.2.
package account

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/abdoElHodaky/tradcore/internal/db/models"
	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
)

// store is the repository surface Service needs. *Repository satisfies it
// directly against Postgres; internal/account's tests substitute an
// in-memory fake so the S1-S6 scenarios run without a database at all.
type store interface {
	LockAccount(ctx context.Context, userID string) (*models.Account, error)
	LockHolding(ctx context.Context, userID, symbol string) (*models.StockHolding, error)
	SaveAccount(ctx context.Context, acc *models.Account) error
	SaveHolding(ctx context.Context, h *models.StockHolding) error
	GetReservation(ctx context.Context, orderID string) (*models.ReservationInfo, error)
	SaveReservation(ctx context.Context, res *models.ReservationInfo) error
	AppendTxLog(ctx context.Context, entry *models.TransactionLog) error
}

// Repository is the gorm-backed store for accounts, holdings, reservations,
// and the transaction log, with row-level pessimistic locking for the
// multi-row updates §4.2 requires.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository builds a Repository.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// WithTx runs fn inside a DB transaction, handing it a Repository bound to
// that transaction's *gorm.DB.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, logger: r.logger})
	})
}

// LockAccount reads an Account row with SELECT ... FOR UPDATE, returning an
// AccountNotFound error when no row exists for userID.
func (r *Repository) LockAccount(ctx context.Context, userID string) (*models.Account, error) {
	var acc models.Account
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&acc, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tcerrors.New(tcerrors.KindNotFound, tcerrors.CodeAccountNotFound, "account not found").
			WithEntityID(userID)
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// LockHolding reads a StockHolding row with SELECT ... FOR UPDATE, returning
// a fresh zero-quantity row when the user has never held the symbol.
func (r *Repository) LockHolding(ctx context.Context, userID, symbol string) (*models.StockHolding, error) {
	var h models.StockHolding
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&h, "user_id = ? AND symbol = ?", userID, symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.StockHolding{UserID: userID, Symbol: symbol}, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// SaveAccount upserts an Account row, bumping its optimistic version.
func (r *Repository) SaveAccount(ctx context.Context, acc *models.Account) error {
	acc.Version++
	return r.db.WithContext(ctx).Save(acc).Error
}

// SaveHolding upserts a StockHolding row, bumping its optimistic version.
func (r *Repository) SaveHolding(ctx context.Context, h *models.StockHolding) error {
	h.Version++
	return r.db.WithContext(ctx).Save(h).Error
}

// GetReservation reads a reservation by order id.
func (r *Repository) GetReservation(ctx context.Context, orderID string) (*models.ReservationInfo, error) {
	var res models.ReservationInfo
	err := r.db.WithContext(ctx).First(&res, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// SaveReservation upserts a ReservationInfo row.
func (r *Repository) SaveReservation(ctx context.Context, res *models.ReservationInfo) error {
	return r.db.WithContext(ctx).Save(res).Error
}

// AppendTxLog writes an append-only TransactionLog row. The (trade_id, side)
// unique index turns a duplicate append into a no-op error the caller can
// ignore on redelivery (P6).
func (r *Repository) AppendTxLog(ctx context.Context, entry *models.TransactionLog) error {
	err := r.db.WithContext(ctx).Create(entry).Error
	if err != nil && isDuplicateKey(err) {
		return nil
	}
	return err
}

// isDuplicateKey matches on content since gorm surfaces the driver's error
// text rather than a typed sentinel for a unique_violation (Postgres
// SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "23505") ||
		strings.Contains(msg, "UNIQUE constraint")
}
