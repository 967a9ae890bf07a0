package saga

import (
	"context"
	"errors"
	"time"

	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repository persists SagaState rows for one service's saga stage.
type Repository struct {
	db      *gorm.DB
	logger  *zap.Logger
	stage   Stage
	timeout time.Duration
}

// NewRepository creates a Repository scoped to a single Stage; every row it
// writes carries that stage and every read and update filters on it. SagaID
// alone is the primary key, so one table cannot hold rows of two stages for
// the same saga id. timeout is the stage's
// default saga deadline (30s order / 10s matching / 5s account, §4.4),
// applied to new sagas that don't set TimeoutAt explicitly.
func NewRepository(db *gorm.DB, logger *zap.Logger, stage Stage, timeout time.Duration) *Repository {
	return &Repository{db: db, logger: logger, stage: stage, timeout: timeout}
}

// Start inserts a new saga row, in StateStarted unless s.State is already set.
func (r *Repository) Start(ctx context.Context, s *SagaState) error {
	s.Stage = r.stage
	if s.State == "" {
		s.State = StateStarted
	}
	if s.TimeoutAt.IsZero() {
		s.TimeoutAt = time.Now().Add(r.timeout)
	}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeStoreUnavailable, "failed to start saga").WithEntityID(s.SagaID)
	}
	return nil
}

// GetByOrderID loads the most recent saga row for orderID in this stage.
func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (*SagaState, error) {
	var s SagaState
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND stage = ?", orderID, r.stage).
		Order("created_at DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeStoreUnavailable, "failed to load saga by order id").WithEntityID(orderID)
	}
	return &s, nil
}

// Get loads a saga by id, scoped to this repository's stage.
func (r *Repository) Get(ctx context.Context, sagaID string) (*SagaState, error) {
	var s SagaState
	err := r.db.WithContext(ctx).Where("saga_id = ? AND stage = ?", sagaID, r.stage).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tcerrors.New(tcerrors.KindNotFound, tcerrors.CodeSagaNotFound, "saga not found").WithEntityID(sagaID)
	}
	if err != nil {
		return nil, tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeStoreUnavailable, "failed to load saga").WithEntityID(sagaID)
	}
	return &s, nil
}

// Transition updates a saga's state, returning a NotFound error if absent.
func (r *Repository) Transition(ctx context.Context, sagaID string, next State) error {
	res := r.db.WithContext(ctx).Model(&SagaState{}).
		Where("saga_id = ? AND stage = ?", sagaID, r.stage).
		Update("state", next)
	if res.Error != nil {
		return tcerrors.Wrap(res.Error, tcerrors.KindTechnical, tcerrors.CodeStoreUnavailable, "failed to transition saga").WithEntityID(sagaID)
	}
	if res.RowsAffected == 0 {
		return tcerrors.New(tcerrors.KindNotFound, tcerrors.CodeSagaNotFound, "saga not found").WithEntityID(sagaID)
	}
	return nil
}

// DueForTimeout returns every active saga in this stage whose TimeoutAt has
// passed, for the periodic sweep of §4.4.
func (r *Repository) DueForTimeout(ctx context.Context, now time.Time) ([]SagaState, error) {
	var rows []SagaState
	err := r.db.WithContext(ctx).
		Where("stage = ? AND state NOT IN ? AND timeout_at < ?",
			r.stage,
			[]State{StateCompleted, StateCompensated, StateFailed, StateTimeout},
			now,
		).Find(&rows).Error
	if err != nil {
		return nil, tcerrors.Wrap(err, tcerrors.KindTechnical, tcerrors.CodeStoreUnavailable, "failed to query due sagas")
	}
	return rows, nil
}
