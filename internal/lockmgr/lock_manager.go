// Package lockmgr provides the in-process advisory lock manager the account
// engine uses ahead of its DB-level pessimistic locks. Two-party account
// updates (trade confirmation, rollback) acquire locks keyed by user id in
// lexicographic order, matching the DB row-lock acquisition order, so the two
// layers can never disagree about lock order and deadlock each other.
package lockmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// lockInfo tracks the current holder of a single advisory lock.
type lockInfo struct {
	mu sync.Mutex

	isHeld        bool
	currentHolder string
	acquiredAt    time.Time

	acquisitionCount int64
	totalHeldTime    int64 // nanoseconds
}

// Config controls the Manager's timeouts and deadlock detection.
type Config struct {
	LockTimeout               time.Duration
	DeadlockDetectionEnabled  bool
	DeadlockDetectionInterval time.Duration
	MaxLockHoldTime           time.Duration
}

// DefaultConfig returns the manager defaults; LockTimeout matches the
// lock.timeout-ms configuration option (default 3000ms).
func DefaultConfig() Config {
	return Config{
		LockTimeout:               3 * time.Second,
		DeadlockDetectionEnabled:  true,
		DeadlockDetectionInterval: 1 * time.Second,
		MaxLockHoldTime:           30 * time.Second,
	}
}

// Manager serializes concurrent access to a set of named locks (keyed by
// user id for account updates), sorting multi-lock acquisitions to establish
// a single global lock order across all callers.
type Manager struct {
	config Config
	logger *zap.Logger

	mu    sync.RWMutex
	locks map[string]*lockInfo

	graphMu sync.Mutex
	graph   map[string]map[string]bool // waiter -> set of holders it waits on

	totalTimeouts  int64
	totalDeadlocks int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager and, if enabled, starts its background
// deadlock-detection loop.
func NewManager(config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config: config,
		logger: logger,
		locks:  make(map[string]*lockInfo),
		graph:  make(map[string]map[string]bool),
		ctx:    ctx,
		cancel: cancel,
	}

	if config.DeadlockDetectionEnabled {
		m.wg.Add(1)
		go m.detectionLoop()
	}

	return m
}

func (m *Manager) getOrCreate(lockID string) *lockInfo {
	m.mu.RLock()
	li, exists := m.locks[lockID]
	m.mu.RUnlock()
	if exists {
		return li
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if li, exists = m.locks[lockID]; exists {
		return li
	}
	li = &lockInfo{}
	m.locks[lockID] = li
	return li
}

// Acquire acquires lockID for holderID, waiting up to the manager's
// configured timeout.
func (m *Manager) Acquire(ctx context.Context, lockID, holderID string) error {
	return m.AcquireWithTimeout(ctx, lockID, holderID, m.config.LockTimeout)
}

// AcquireWithTimeout acquires lockID for holderID with an explicit timeout.
func (m *Manager) AcquireWithTimeout(ctx context.Context, lockID, holderID string, timeout time.Duration) error {
	li := m.getOrCreate(lockID)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	acquired := make(chan struct{})
	go func() {
		li.mu.Lock()
		if li.isHeld {
			m.recordWait(holderID, li.currentHolder)
			for li.isHeld {
				li.mu.Unlock()
				time.Sleep(time.Millisecond)
				li.mu.Lock()
			}
		}
		li.isHeld = true
		li.currentHolder = holderID
		li.acquiredAt = time.Now()
		atomic.AddInt64(&li.acquisitionCount, 1)
		li.mu.Unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return nil
	case <-waitCtx.Done():
		atomic.AddInt64(&m.totalTimeouts, 1)
		return fmt.Errorf("lockmgr: timeout acquiring lock %s for %s: %w", lockID, holderID, waitCtx.Err())
	}
}

// Release releases lockID held by holderID.
func (m *Manager) Release(lockID, holderID string) error {
	li := m.getOrCreate(lockID)

	li.mu.Lock()
	defer li.mu.Unlock()

	if !li.isHeld {
		return nil
	}
	if li.currentHolder != holderID {
		return fmt.Errorf("lockmgr: lock %s held by %s, not %s", lockID, li.currentHolder, holderID)
	}

	held := time.Since(li.acquiredAt)
	atomic.AddInt64(&li.totalHeldTime, int64(held))

	li.isHeld = false
	li.currentHolder = ""

	m.removeHolder(holderID)
	return nil
}

// AcquireSorted acquires every lock in lockIDs for holderID, sorting the ids
// lexicographically first so that concurrent callers contending for an
// overlapping set of locks always acquire them in the same global order —
// the deadlock-free discipline §4.2 requires for two-party account updates.
// On any failure it releases whatever it had already acquired.
func (m *Manager) AcquireSorted(ctx context.Context, lockIDs []string, holderID string) error {
	sorted := append([]string(nil), lockIDs...)
	sort.Strings(sorted)

	acquired := make([]string, 0, len(sorted))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = m.Release(acquired[i], holderID)
		}
	}

	for _, id := range sorted {
		if err := m.Acquire(ctx, id, holderID); err != nil {
			release()
			return err
		}
		acquired = append(acquired, id)
	}
	return nil
}

// ReleaseAll releases every lock in lockIDs held by holderID, in reverse
// sorted order.
func (m *Manager) ReleaseAll(lockIDs []string, holderID string) error {
	sorted := append([]string(nil), lockIDs...)
	sort.Strings(sorted)
	for i := len(sorted) - 1; i >= 0; i-- {
		if err := m.Release(sorted[i], holderID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) recordWait(waiter, holder string) {
	m.graphMu.Lock()
	defer m.graphMu.Unlock()
	if _, ok := m.graph[waiter]; !ok {
		m.graph[waiter] = make(map[string]bool)
	}
	m.graph[waiter][holder] = true
}

func (m *Manager) removeHolder(holder string) {
	m.graphMu.Lock()
	defer m.graphMu.Unlock()
	delete(m.graph, holder)
	for waiter, holders := range m.graph {
		delete(holders, holder)
		if len(holders) == 0 {
			delete(m.graph, waiter)
		}
	}
}

// detectCycles returns any cycles currently present in the wait-for graph.
func (m *Manager) detectCycles() [][]string {
	m.graphMu.Lock()
	defer m.graphMu.Unlock()

	var cycles [][]string
	for waiter := range m.graph {
		visited := make(map[string]bool)
		if cycle := m.findCycle(waiter, visited, nil); cycle != nil {
			cycles = append(cycles, cycle)
		}
	}
	return cycles
}

func (m *Manager) findCycle(node string, visited map[string]bool, path []string) []string {
	visited[node] = true
	path = append(path, node)

	for holder := range m.graph[node] {
		for i, p := range path {
			if p == holder {
				return append(append([]string{}, path[i:]...), holder)
			}
		}
		if !visited[holder] {
			if cycle := m.findCycle(holder, visited, path); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (m *Manager) detectionLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.DeadlockDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, cycle := range m.detectCycles() {
				atomic.AddInt64(&m.totalDeadlocks, 1)
				m.logger.Warn("potential deadlock detected", zap.Strings("cycle", cycle))
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// Shutdown stops the background detection loop.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// Stats returns coarse counters for observability.
func (m *Manager) Stats() (totalLocks, totalTimeouts, totalDeadlocks int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.locks)), atomic.LoadInt64(&m.totalTimeouts), atomic.LoadInt64(&m.totalDeadlocks)
}
