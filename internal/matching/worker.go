package matching

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/abdoElHodaky/tradcore/internal/resilience"
	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
)

// submitTask is one order routed to a worker's ingress queue.
type submitTask struct {
	order  *Order
	result chan MatchResult
}

// cancelTask is one cancellation routed to a worker's cancel queue.
type cancelTask struct {
	symbol  string
	orderID string
	result  chan bool
}

// Worker owns a disjoint subset of symbols' books and runs them on a single
// goroutine: no locks touch book state, only the ingress channels that feed
// it (§4.1). Cancellations are drained completely before any order is
// processed each iteration, guaranteeing cancel-beats-fill.
type Worker struct {
	id       int
	books    map[string]*Book
	submitCh chan submitTask
	cancelCh chan cancelTask
	breaker  *resilience.Factory
	limiter  *rate.Limiter
	logger   *zap.Logger

	highWaterMark int
	rejected      int64
	processed     int64

	done chan struct{}
}

// NewWorker creates a Worker with the given bounded queue capacities. submitRateLimit/
// submitRateBurst bound how many orders per second this worker's books will
// accept, a second backpressure signal alongside the queue high-water mark
// (§4.1).
func NewWorker(id, submitCap, cancelCap, highWaterMark int, submitRateLimit float64, submitRateBurst int, breaker *resilience.Factory, logger *zap.Logger) *Worker {
	return &Worker{
		id:            id,
		books:         make(map[string]*Book),
		submitCh:      make(chan submitTask, submitCap),
		cancelCh:      make(chan cancelTask, cancelCap),
		breaker:       breaker,
		limiter:       rate.NewLimiter(rate.Limit(submitRateLimit), submitRateBurst),
		logger:        logger,
		highWaterMark: highWaterMark,
		done:          make(chan struct{}),
	}
}

func (w *Worker) bookFor(symbol string) *Book {
	b, ok := w.books[symbol]
	if !ok {
		b = NewBook(symbol)
		w.books[symbol] = b
	}
	return b
}

// Run is the worker's dispatch loop; it must run on its own goroutine for
// the lifetime of the engine.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		w.drainCancels()

		select {
		case <-ctx.Done():
			w.drainCancels()
			return
		case t := <-w.submitCh:
			w.drainCancels()
			w.handleSubmit(t)
		case t := <-w.cancelCh:
			w.handleCancel(t)
		}
	}
}

// drainCancels processes every cancellation currently queued without
// blocking, so a cancel queued alongside a fill always lands first.
func (w *Worker) drainCancels() {
	for {
		select {
		case t := <-w.cancelCh:
			w.handleCancel(t)
		default:
			return
		}
	}
}

func (w *Worker) handleCancel(t cancelTask) {
	book := w.bookFor(t.symbol)
	t.result <- book.Cancel(t.orderID)
}

func (w *Worker) handleSubmit(t submitTask) {
	if !w.limiter.Allow() {
		w.processed++
		w.rejected++
		t.result <- MatchResult{Rejected: true, RejectReason: "submission rate limit exceeded"}
		return
	}

	breakerName := "matching.worker." + strconv.Itoa(w.id)

	res := w.breaker.Execute(breakerName, func() (interface{}, error) {
		book := w.bookFor(t.order.Symbol)
		if w.queueDepth(book) >= w.highWaterMark {
			return nil, tcerrors.New(tcerrors.KindTechnical, tcerrors.CodeQueueFull, "book depth above high-water mark")
		}
		return book.Submit(t.order, time.Now()), nil
	})

	w.processed++
	if res.Error != nil {
		w.rejected++
		t.result <- MatchResult{Rejected: true, RejectReason: res.Error.Error()}
		return
	}
	t.result <- res.Value.(MatchResult)
}

// queueDepth approximates a book's resting order count for the backpressure
// high-water mark check of §4.1.
func (w *Worker) queueDepth(b *Book) int {
	depth := 0
	for lvl := b.bidsHead; lvl != nil; lvl = lvl.next {
		for o := lvl.head; o != nil; o = o.next {
			depth++
		}
	}
	for lvl := b.asksHead; lvl != nil; lvl = lvl.next {
		for o := lvl.head; o != nil; o = o.next {
			depth++
		}
	}
	return depth
}

// Stop waits for the worker's Run loop to return after ctx is cancelled.
func (w *Worker) Stop() {
	<-w.done
}

// hashSymbol maps a symbol to a worker index, per §4.1's |hash(symbol)| mod N.
func hashSymbol(symbol string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32()) % n
}
