package saga

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// sweepConcurrency bounds how many due sagas are handled at once. Distinct
// sagas own distinct orders/reservations, so unlike the outbox bridge there
// is no ordering constraint to preserve across them.
const sweepConcurrency = 8

// TimeoutHandler reacts to one saga crossing its deadline: publish the
// layer-appropriate failure event and drive any owned aggregate (e.g. the
// order) to its TIMEOUT state. Implemented per service.
type TimeoutHandler interface {
	OnTimeout(ctx context.Context, s SagaState) error
}

// timeoutStore is the repository surface Sweeper needs. *Repository
// satisfies it directly; newSweeper accepts any implementation.
type timeoutStore interface {
	DueForTimeout(ctx context.Context, now time.Time) ([]SagaState, error)
	Transition(ctx context.Context, sagaID string, next State) error
}

// Sweeper runs the periodic timeout sweep of §4.4: every Interval it loads
// sagas past their deadline, marks them TIMEOUT, and invokes the handler.
type Sweeper struct {
	repo     timeoutStore
	handler  TimeoutHandler
	interval time.Duration
	pool     *ants.Pool
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a Sweeper. interval should fall in the 2-5s band named
// by §4.4's timeout loop description.
func NewSweeper(repo *Repository, handler TimeoutHandler, interval time.Duration, logger *zap.Logger) *Sweeper {
	return newSweeper(repo, handler, interval, logger)
}

// newSweeper builds a Sweeper against any timeoutStore.
func newSweeper(repo timeoutStore, handler TimeoutHandler, interval time.Duration, logger *zap.Logger) *Sweeper {
	pool, err := ants.NewPool(sweepConcurrency)
	if err != nil {
		logger.Warn("saga sweeper: falling back to unbounded pool", zap.Error(err))
		pool, _ = ants.NewPool(-1)
	}
	return &Sweeper{repo: repo, handler: handler, interval: interval, pool: pool, logger: logger, done: make(chan struct{})}
}

// Start launches the sweep loop in a background goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	sw.cancel = cancel

	go func() {
		defer close(sw.done)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sw.sweepOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// sweepOnce loads sagas past their deadline and hands each to the handler
// concurrently on sw.pool: different sagas are independent, so there is no
// reason to serialize their compensation.
func (sw *Sweeper) sweepOnce(ctx context.Context) {
	due, err := sw.repo.DueForTimeout(ctx, time.Now())
	if err != nil {
		sw.logger.Error("saga sweep: failed to query due sagas", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, s := range due {
		s := s
		wg.Add(1)
		submitErr := sw.pool.Submit(func() {
			defer wg.Done()
			sw.handleOne(ctx, s)
		})
		if submitErr != nil {
			sw.logger.Warn("saga sweep: pool submit failed, handling inline",
				zap.String("saga_id", s.SagaID), zap.Error(submitErr))
			wg.Done()
			sw.handleOne(ctx, s)
		}
	}
	wg.Wait()
}

func (sw *Sweeper) handleOne(ctx context.Context, s SagaState) {
	if err := sw.repo.Transition(ctx, s.SagaID, StateTimeout); err != nil {
		sw.logger.Error("saga sweep: failed to mark timeout", zap.String("saga_id", s.SagaID), zap.Error(err))
		return
	}
	s.State = StateTimeout

	if err := sw.handler.OnTimeout(ctx, s); err != nil {
		sw.logger.Error("saga sweep: timeout handler failed", zap.String("saga_id", s.SagaID), zap.Error(err))
	}
}

// Stop cancels the sweep loop, waits for it to exit, then releases the
// handler pool.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
	sw.pool.Release()
}
