package matching

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradcore/internal/resilience"
)

// Config controls the engine's worker pool sizing and queue capacities,
// mirroring matching.thread-pool-size / matching.queue-capacity /
// matching.cancel-queue-capacity (§9).
type Config struct {
	WorkerCount         int
	QueueCapacity       int
	CancelQueueCapacity int
	HighWaterMark       int
	SubmitRateLimit     float64 // submissions/sec allowed per worker
	SubmitRateBurst     int
	ShutdownTimeout     time.Duration
	SagaTimeout         time.Duration
	SweepInterval       time.Duration
}

// DefaultConfig returns §4.1/§9's defaults; WorkerCount 0 resolves to 2×NumCPU.
func DefaultConfig() Config {
	return Config{
		WorkerCount:         0,
		QueueCapacity:       100_000,
		CancelQueueCapacity: 10_000,
		HighWaterMark:       50_000,
		SubmitRateLimit:     20_000,
		SubmitRateBurst:     2_000,
		ShutdownTimeout:     10 * time.Second,
		SagaTimeout:         10 * time.Second,
		SweepInterval:       2 * time.Second,
	}
}

// Engine is the fixed pool of symbol-partitioned workers described in
// §4.1's `submit`/`cancel`/`metrics` interface.
type Engine struct {
	workers []*Worker
	n       int
	logger  *zap.Logger

	cancel context.CancelFunc
}

// NewEngine builds an Engine with cfg.WorkerCount workers (2×NumCPU if zero).
func NewEngine(cfg Config, breaker *resilience.Factory, logger *zap.Logger) *Engine {
	n := cfg.WorkerCount
	if n <= 0 {
		n = 2 * runtime.NumCPU()
	}

	workers := make([]*Worker, n)
	for i := 0; i < n; i++ {
		workers[i] = NewWorker(i, cfg.QueueCapacity, cfg.CancelQueueCapacity, cfg.HighWaterMark, cfg.SubmitRateLimit, cfg.SubmitRateBurst, breaker, logger)
	}

	return &Engine{workers: workers, n: n, logger: logger}
}

// Start launches every worker's dispatch loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	for _, w := range e.workers {
		go w.Run(ctx)
	}
}

// Stop cancels the dispatch loops and waits up to timeout for them to drain.
func (e *Engine) Stop(timeout time.Duration) {
	if e.cancel == nil {
		return
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		for _, w := range e.workers {
			w.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		e.logger.Warn("matching engine: shutdown deadline exceeded, workers force-interrupted")
	}
}

func (e *Engine) workerFor(symbol string) *Worker {
	return e.workers[hashSymbol(symbol, e.n)]
}

// Submit routes order to its symbol's worker and blocks for the match
// result, or returns false immediately if the worker's ingress queue is
// full (§4.1 submit(order, traceId) → bool).
func (e *Engine) Submit(ctx context.Context, order *Order) (MatchResult, bool) {
	w := e.workerFor(order.Symbol)
	result := make(chan MatchResult, 1)

	select {
	case w.submitCh <- submitTask{order: order, result: result}:
	default:
		return MatchResult{Rejected: true, RejectReason: "ingress queue full"}, false
	}

	select {
	case res := <-result:
		return res, !res.Rejected
	case <-ctx.Done():
		return MatchResult{Rejected: true, RejectReason: "context cancelled"}, false
	}
}

// Cancel routes a cancellation to the order's symbol worker, per §4.1
// cancel(orderId, symbol, traceId) → bool.
func (e *Engine) Cancel(ctx context.Context, symbol, orderID string) bool {
	w := e.workerFor(symbol)
	result := make(chan bool, 1)

	select {
	case w.cancelCh <- cancelTask{symbol: symbol, orderID: orderID, result: result}:
	default:
		return false
	}

	select {
	case ok := <-result:
		return ok
	case <-ctx.Done():
		return false
	}
}

// ProcessOrderWithResult submits order and polls for its trades with a
// bounded exponential backoff (1,2,4,...,≤50ms; max 10 tries), the shape
// §4.1 names for the saga layer. Since Submit already blocks for the match
// result, the backoff only matters for a queue-full retry.
func (e *Engine) ProcessOrderWithResult(ctx context.Context, order *Order) ([]Trade, error) {
	backoff := time.Millisecond
	const maxBackoff = 50 * time.Millisecond
	const maxTries = 10

	var lastResult MatchResult
	for try := 0; try < maxTries; try++ {
		res, ok := e.Submit(ctx, order)
		if ok || res.RejectReason != "ingress queue full" {
			return res.Trades, nil
		}
		lastResult = res

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return lastResult.Trades, nil
}

// Metrics is a coarse per-worker snapshot for observability.
type Metrics struct {
	WorkerCount int
	Processed   []int64
	Rejected    []int64
}

// Metrics returns a snapshot across every worker.
func (e *Engine) Metrics() Metrics {
	m := Metrics{WorkerCount: e.n, Processed: make([]int64, e.n), Rejected: make([]int64, e.n)}
	for i, w := range e.workers {
		m.Processed[i] = w.processed
		m.Rejected[i] = w.rejected
	}
	return m
}

// Snapshot returns the book snapshot for symbol, routed to its owning
// worker. It must only be called from outside the dispatch loop (tests,
// metrics) since it reads book state without going through the worker's
// channel.
func (e *Engine) Snapshot(symbol string) BookSnapshot {
	w := e.workerFor(symbol)
	return w.bookFor(symbol).Snapshot()
}
