package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/outposthq/outpost/internal/clock"
	"github.com/outposthq/outpost/internal/netmon"
	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/record"
)

// Status is the manager's reporting state.
type Status string

const (
	// StatusIdle means no drain is running and the last one succeeded.
	StatusIdle Status = "idle"
	// StatusSyncing means a drain is in progress.
	StatusSyncing Status = "syncing"
	// StatusError means the last drain had at least one item failure.
	// Error is a reporting state only; the next trigger drains as usual.
	StatusError Status = "error"
)

// Snapshot is what subscribers receive on every state change: the
// manager status and how many items remain queued (failed included).
// The host application surfaces pending_count > 0 as "changes not yet
// saved to server", never as a blocking error.
type Snapshot struct {
	Status       Status `json:"status"`
	PendingCount int    `json:"pending_count"`
}

// Config holds manager configuration.
type Config struct {
	// Queue is the durable sync queue. Required.
	Queue *queue.Queue

	// Handlers maps each collection to its delivery handler. Required
	// and non-empty; DefaultHandlers builds the standard registry.
	Handlers map[record.Collection]Handler

	// Monitor gates drains on connectivity and triggers one on the
	// transition to online. Nil disables connectivity gating, which is
	// useful in tests.
	Monitor *netmon.Monitor

	// Clock is the timer source. Defaults to the real clock.
	Clock clock.Clock

	// DebounceInterval batches enqueue bursts before draining
	// (default 1s).
	DebounceInterval time.Duration

	// SyncInterval is the periodic drain cadence while online
	// (default 120s).
	SyncInterval time.Duration

	// Logger for manager activity.
	Logger *log.Logger
}

// Manager drains the sync queue against the remote service.
type Manager struct {
	queue    *queue.Queue
	handlers map[record.Collection]Handler
	monitor  *netmon.Monitor
	clk      clock.Clock
	debounce time.Duration
	interval time.Duration
	logger   *log.Logger

	mu        sync.Mutex
	status    Status
	syncing   bool
	disposed  bool
	listeners map[int]func(Snapshot)
	nextID    int

	kick      chan struct{} // debounced post-enqueue trigger
	immediate chan struct{} // online-transition trigger

	unsubMonitor func()
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// New creates a Manager, recovers items a previous run left in
// processing, subscribes to the network monitor, and starts the
// trigger loop. Call Dispose to stop it.
func New(cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if len(cfg.Handlers) == 0 {
		return nil, fmt.Errorf("at least one collection handler is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = time.Second
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		queue:     cfg.Queue,
		handlers:  cfg.Handlers,
		monitor:   cfg.Monitor,
		clk:       cfg.Clock,
		debounce:  cfg.DebounceInterval,
		interval:  cfg.SyncInterval,
		logger:    cfg.Logger,
		status:    StatusIdle,
		listeners: make(map[int]func(Snapshot)),
		kick:      make(chan struct{}, 1),
		immediate: make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	// Items stuck in processing from a crashed run become pending again
	// before the first drain can observe them.
	if err := m.queue.Recover(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("queue recovery failed: %w", err)
	}

	if m.monitor != nil {
		var prevMu sync.Mutex
		prev := netmon.StatusUnknown
		m.unsubMonitor = m.monitor.Subscribe(func(st netmon.State) {
			prevMu.Lock()
			wasOnline := prev == netmon.StatusOnline
			prev = st.Status
			prevMu.Unlock()

			if st.Status == netmon.StatusOnline && !wasOnline {
				select {
				case m.immediate <- struct{}{}:
				default:
				}
			}
		})
	}

	m.wg.Add(1)
	go m.run()

	return m, nil
}

// run is the trigger loop: periodic timer, online transitions, and
// debounced enqueue kicks all funnel into drain.
func (m *Manager) run() {
	defer m.wg.Done()

	ticker := m.clk.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-ticker.C():
			// Periodic drain only while online
			if m.online() {
				m.drain(m.ctx, "")
			}

		case <-m.immediate:
			m.drain(m.ctx, "")

		case <-m.kick:
			// Debounce: wait out the burst, coalescing further kicks.
			timer := m.clk.After(m.debounce)
		debounce:
			for {
				select {
				case <-m.ctx.Done():
					return
				case <-m.kick:
				case <-timer:
					break debounce
				}
			}
			if m.online() {
				m.drain(m.ctx, "")
			}
		}
	}
}

func (m *Manager) online() bool {
	return m.monitor == nil || m.monitor.IsOnline()
}

// Enqueue queues a mutation for delivery and schedules a debounced
// drain. This is the entry point application code uses for anything
// that must reach the remote service.
func (m *Manager) Enqueue(ctx context.Context, op queue.Op, c record.Collection, tenantID string, payload any) (int64, error) {
	id, err := m.queue.Enqueue(ctx, op, c, tenantID, payload)
	if err != nil {
		return 0, err
	}
	m.NotifyEnqueued()
	m.notify()
	return id, nil
}

// NotifyEnqueued schedules a debounced drain. Callers that enqueue
// through the queue directly use this to wake the manager.
func (m *Manager) NotifyEnqueued() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// SyncNow runs a drain immediately, regardless of connectivity state.
// A drain already in progress makes this a no-op.
func (m *Manager) SyncNow(ctx context.Context) {
	m.drain(ctx, "")
}

// SyncTenant drains only one tenant's items.
func (m *Manager) SyncTenant(ctx context.Context, tenantID string) {
	m.drain(ctx, tenantID)
}

// drain delivers all eligible pending items sequentially in creation
// order. Only one drain runs at a time; concurrent triggers are no-ops.
func (m *Manager) drain(ctx context.Context, tenantID string) {
	m.mu.Lock()
	if m.syncing || m.disposed {
		m.mu.Unlock()
		return
	}
	m.syncing = true
	m.status = StatusSyncing
	m.mu.Unlock()
	m.notify()

	failures := 0

	items, err := m.queue.DequeuePending(ctx, tenantID)
	if err != nil {
		m.logger.Printf("Drain aborted: %v", err)
		failures++
	} else {
		for _, item := range items {
			if ctx.Err() != nil {
				break
			}
			if err := m.processItem(ctx, item); err != nil {
				m.logger.Printf("Item %d (%s %s) failed: %v", item.ID, item.Op, item.Collection, err)
				failures++
			}
		}
	}

	m.mu.Lock()
	m.syncing = false
	if failures > 0 {
		m.status = StatusError
	} else {
		m.status = StatusIdle
	}
	m.mu.Unlock()
	m.notify()
}

// processItem delivers one queue item through its collection handler.
func (m *Manager) processItem(ctx context.Context, item *queue.Item) error {
	if err := m.queue.MarkProcessing(ctx, item.ID); err != nil {
		return err
	}

	handler, ok := m.handlers[item.Collection]
	if !ok {
		err := fmt.Errorf("no handler registered for collection %q", item.Collection)
		if markErr := m.queue.MarkFailed(ctx, item.ID, err); markErr != nil {
			return markErr
		}
		return err
	}

	if err := handler.Apply(ctx, item.Op, item.Payload); err != nil {
		if markErr := m.queue.MarkFailed(ctx, item.ID, err); markErr != nil {
			return markErr
		}
		return err
	}

	if err := m.queue.MarkSucceeded(ctx, item.ID); err != nil {
		return err
	}

	// Delivery is confirmed; local bookkeeping failure is logged only.
	if err := handler.OnDelivered(ctx, item.Op, item.Payload); err != nil {
		m.logger.Printf("Warning: delivered item %d but local sync mark failed: %v", item.ID, err)
	}
	return nil
}

// Snapshot returns the current status and queue depth. The depth read
// hits the store, so ctx bounds it.
func (m *Manager) Snapshot(ctx context.Context) Snapshot {
	m.mu.Lock()
	status := m.status
	m.mu.Unlock()

	depth, err := m.queue.Depth(ctx, "")
	if err != nil {
		m.logger.Printf("Warning: failed to read queue depth: %v", err)
	}
	return Snapshot{Status: status, PendingCount: depth}
}

// Subscribe registers a listener. It is invoked immediately with the
// current snapshot, then on every state change, so subscribers never
// need to poll. The returned function unsubscribes.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if !m.disposed {
		m.listeners[id] = fn
	}
	m.mu.Unlock()

	fn(m.Snapshot(m.ctx))

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// notify pushes the current snapshot to every listener.
func (m *Manager) notify() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	fns := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	snap := m.Snapshot(m.ctx)
	for _, fn := range fns {
		fn(snap)
	}
}

// Dispose cancels the timers, detaches from the network monitor and
// clears listeners. An in-flight drain finishes its current item but
// notifies no one.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.listeners = make(map[int]func(Snapshot))
	m.mu.Unlock()

	if m.unsubMonitor != nil {
		m.unsubMonitor()
	}
	m.cancel()
	m.wg.Wait()
}
