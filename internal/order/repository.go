// Package order implements the Order Service: order intake/validation,
// transactional outbox-backed publication of OrderCreated/OrderCancelled,
// and the order saga that tracks an order through matching and settlement
// (§4.4's order stage).
package order

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/abdoElHodaky/tradcore/internal/db/models"
	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
)

// Repository is the gorm-backed store for the Order Service's owned Order
// rows.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository builds a Repository.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// WithTx runs fn inside a DB transaction, handing it a Repository bound to
// that transaction's *gorm.DB so the order row and its outbox row commit
// atomically (§4.3).
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, logger: r.logger})
	})
}

// Create inserts a new Order row.
func (r *Repository) Create(ctx context.Context, o *models.Order) error {
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		r.logger.Error("order: failed to create order", zap.Error(err), zap.String("order_id", o.ID))
		return tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeStoreUnavailable, "failed to create order")
	}
	return nil
}

// LockByID reads an Order row with SELECT ... FOR UPDATE, for cancel/update
// paths that must not race a concurrent saga-driven status change.
func (r *Repository) LockByID(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tcerrors.New(tcerrors.KindNotFound, tcerrors.CodeOrderNotFound, "order not found").WithEntityID(id)
	}
	if err != nil {
		return nil, tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeStoreUnavailable, "failed to lock order").WithEntityID(id)
	}
	return &o, nil
}

// GetByID reads an Order row without locking.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := r.db.WithContext(ctx).First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tcerrors.New(tcerrors.KindNotFound, tcerrors.CodeOrderNotFound, "order not found").WithEntityID(id)
	}
	if err != nil {
		return nil, tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeStoreUnavailable, "failed to load order").WithEntityID(id)
	}
	return &o, nil
}

// Save persists changes to an already-loaded Order row, bumping its
// optimistic version.
func (r *Repository) Save(ctx context.Context, o *models.Order) error {
	o.Version++
	if err := r.db.WithContext(ctx).Save(o).Error; err != nil {
		return tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeStoreUnavailable, "failed to save order").WithEntityID(o.ID)
	}
	return nil
}
