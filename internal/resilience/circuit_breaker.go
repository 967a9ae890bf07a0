// Package resilience provides the circuit-breaker factory used by the
// matching engine's per-worker submission path.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Result is the outcome of a breaker-guarded execution.
type Result struct {
	Value interface{}
	Error error
}

// Factory creates and memoizes named circuit breakers; the matching engine
// uses one per worker (named "matching.worker.<n>").
type Factory struct {
	logger   *zap.Logger
	breakers map[string]*gobreaker.CircuitBreaker
	settings map[string]gobreaker.Settings
	mu       sync.RWMutex
	metrics  *Metrics
}

// Params is the fx constructor input for Factory.
type Params struct {
	fx.In

	Logger *zap.Logger
}

// NewFactory creates a new circuit breaker Factory.
func NewFactory(params Params) *Factory {
	return &Factory{
		logger:   params.Logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: make(map[string]gobreaker.Settings),
		metrics:  NewMetrics(),
	}
}

// DefaultSettings returns the breaker configuration named in §6: failure
// threshold 10, 30s reset, 5 required successes (half-open probes) to close.
func DefaultSettings(name string, logger *zap.Logger, metrics *Metrics) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.RecordStateChange(name, from.String(), to.String())
		},
	}
}

// Get returns (creating on first use) the breaker for name with default settings.
func (f *Factory) Get(name string) *gobreaker.CircuitBreaker {
	f.mu.RLock()
	cb, exists := f.breakers[name]
	f.mu.RUnlock()
	if exists {
		return cb
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, exists = f.breakers[name]; exists {
		return cb
	}

	settings := DefaultSettings(name, f.logger, f.metrics)
	cb = gobreaker.NewCircuitBreaker(settings)
	f.breakers[name] = cb
	f.settings[name] = settings
	return cb
}

// Execute runs fn through the named breaker and records execution metrics.
func (f *Factory) Execute(name string, fn func() (interface{}, error)) Result {
	cb := f.Get(name)

	start := time.Now()
	result, err := cb.Execute(fn)
	f.metrics.RecordExecution(name, err == nil, time.Since(start))

	return Result{Value: result, Error: err}
}

// ExecuteWithContext runs fn, propagating ctx, through the named breaker.
func (f *Factory) ExecuteWithContext(ctx context.Context, name string, fn func(ctx context.Context) (interface{}, error)) Result {
	cb := f.Get(name)

	start := time.Now()
	result, err := cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	f.metrics.RecordExecution(name, err == nil, time.Since(start))

	return Result{Value: result, Error: err}
}

// State returns the current state of the named breaker, StateClosed if it
// does not yet exist.
func (f *Factory) State(name string) gobreaker.State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cb, exists := f.breakers[name]
	if !exists {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// Metrics returns the shared metrics collector.
func (f *Factory) Metrics() *Metrics {
	return f.metrics
}

// Metrics collects per-breaker execution counters.
type Metrics struct {
	mu sync.RWMutex

	executions map[string]int64
	successes  map[string]int64
	failures   map[string]int64

	stateChanges map[string]map[string]map[string]int64
}

// NewMetrics creates an empty Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		executions:   make(map[string]int64),
		successes:    make(map[string]int64),
		failures:     make(map[string]int64),
		stateChanges: make(map[string]map[string]map[string]int64),
	}
}

// RecordExecution records one guarded call outcome.
func (m *Metrics) RecordExecution(name string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions[name]++
	if success {
		m.successes[name]++
	} else {
		m.failures[name]++
	}
}

// RecordStateChange records a breaker transition.
func (m *Metrics) RecordStateChange(name, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stateChanges[name]; !ok {
		m.stateChanges[name] = make(map[string]map[string]int64)
	}
	if _, ok := m.stateChanges[name][from]; !ok {
		m.stateChanges[name][from] = make(map[string]int64)
	}
	m.stateChanges[name][from][to]++
}

// Snapshot returns (executions, successes, failures) for name.
func (m *Metrics) Snapshot(name string) (executions, successes, failures int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.executions[name], m.successes[name], m.failures[name]
}

// Module wires Factory into the fx graph.
var Module = fx.Options(
	fx.Provide(NewFactory),
)
