// Package netmon detects connectivity and estimates link quality by
// actively probing a small, reliably reachable resource.
//
// Platform connectivity events are authoritative for going offline and
// take effect immediately via ReportConnectivityChange; everything else
// is derived from the probe: success under the latency threshold is
// Good, success over it is Poor, failure is Offline. The monitor
// re-probes on a fixed interval and immediately on every transition
// event.
package netmon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/outposthq/outpost/internal/clock"
)

// Status is the coarse connectivity state.
type Status string

const (
	// StatusUnknown is the state before the first probe completes.
	StatusUnknown Status = "unknown"
	// StatusOnline means the probe target is reachable.
	StatusOnline Status = "online"
	// StatusOffline means the probe failed or the platform reported
	// no connectivity.
	StatusOffline Status = "offline"
)

// Quality is the latency-derived link classification.
type Quality string

const (
	// QualityGood means probe latency under the threshold.
	QualityGood Quality = "good"
	// QualityPoor means the probe succeeded but was slow.
	QualityPoor Quality = "poor"
	// QualityOffline accompanies StatusOffline.
	QualityOffline Quality = "offline"
)

// State is the monitor's current view of the network. Ephemeral;
// recomputed on every probe and never persisted.
type State struct {
	Status    Status    `json:"status"`
	Quality   Quality   `json:"quality"`
	LatencyMS *int64    `json:"last_latency_ms,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Prober measures reachability of the probe target and returns the
// round-trip latency.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// HTTPProber probes via a HEAD request against a small static resource
// reachable over the same transport as the remote service.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a prober for the given URL with a bounded
// per-request timeout.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build probe request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe failed: %w", err)
	}
	latency := time.Since(start)
	_ = resp.Body.Close()

	if resp.StatusCode >= 500 {
		return 0, fmt.Errorf("probe target returned %d", resp.StatusCode)
	}
	return latency, nil
}

// Config holds monitor configuration.
type Config struct {
	// Prober measures reachability. Required.
	Prober Prober

	// Clock is the timer source. Defaults to the real clock.
	Clock clock.Clock

	// ProbeInterval is the periodic re-check cadence (default 30s).
	ProbeInterval time.Duration

	// ProbeTimeout bounds one probe attempt (default 5s).
	ProbeTimeout time.Duration

	// GoodLatency is the Good/Poor threshold (default 500ms).
	GoodLatency time.Duration

	// Logger for monitor activity.
	Logger *log.Logger
}

// Monitor tracks network state and notifies subscribers on changes.
type Monitor struct {
	prober      Prober
	clk         clock.Clock
	interval    time.Duration
	timeout     time.Duration
	goodLatency time.Duration
	logger      *log.Logger

	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
	disposed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Monitor and starts its periodic probe loop.
// Call Dispose to stop the loop and release listeners.
func New(cfg *Config) (*Monitor, error) {
	if cfg == nil || cfg.Prober == nil {
		return nil, fmt.Errorf("prober is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.GoodLatency <= 0 {
		cfg.GoodLatency = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Monitor{
		prober:      cfg.Prober,
		clk:         cfg.Clock,
		interval:    cfg.ProbeInterval,
		timeout:     cfg.ProbeTimeout,
		goodLatency: cfg.GoodLatency,
		logger:      cfg.Logger,
		state:       State{Status: StatusUnknown, Quality: QualityOffline},
		listeners:   make(map[int]func(State)),
		ctx:         ctx,
		cancel:      cancel,
	}

	m.wg.Add(1)
	go m.probeLoop()

	return m, nil
}

// probeLoop re-checks connectivity on the configured interval.
func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	ticker := m.clk.NewTicker(m.interval)
	defer ticker.Stop()

	// Establish an initial state without waiting a full interval.
	m.CheckNow(m.ctx)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C():
			m.CheckNow(m.ctx)
		}
	}
}

// State returns the current network state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOnline reports whether the last observation was Online.
func (m *Monitor) IsOnline() bool {
	return m.State().Status == StatusOnline
}

// CheckNow forces an immediate probe and returns the resulting state.
// After Dispose the probe result is discarded and the last state
// returned unchanged.
func (m *Monitor) CheckNow(ctx context.Context) State {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	latency, err := m.prober.Probe(probeCtx)
	cancel()

	next := State{CheckedAt: m.clk.Now()}
	switch {
	case err != nil:
		next.Status = StatusOffline
		next.Quality = QualityOffline
	case latency < m.goodLatency:
		next.Status = StatusOnline
		next.Quality = QualityGood
	default:
		next.Status = StatusOnline
		next.Quality = QualityPoor
	}
	if err == nil {
		ms := latency.Milliseconds()
		next.LatencyMS = &ms
	}

	return m.applyState(next)
}

// ReportConnectivityChange feeds a platform connectivity event into the
// monitor. Loss of connectivity takes effect immediately without
// waiting for a probe; regained connectivity triggers an immediate
// probe to measure quality.
func (m *Monitor) ReportConnectivityChange(connected bool) {
	if !connected {
		m.applyState(State{
			Status:    StatusOffline,
			Quality:   QualityOffline,
			CheckedAt: m.clk.Now(),
		})
		return
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.CheckNow(m.ctx)
	}()
}

// applyState installs a new state and notifies listeners if the status
// or quality changed. Results arriving after Dispose are discarded.
func (m *Monitor) applyState(next State) State {
	m.mu.Lock()
	if m.disposed {
		prev := m.state
		m.mu.Unlock()
		return prev
	}

	changed := m.state.Status != next.Status || m.state.Quality != next.Quality
	m.state = next

	var fns []func(State)
	if changed {
		fns = make([]func(State), 0, len(m.listeners))
		for _, fn := range m.listeners {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	if changed {
		m.logger.Printf("Network state: %s/%s", next.Status, next.Quality)
		for _, fn := range fns {
			fn(next)
		}
	}
	return next
}

// Subscribe registers a listener. The listener is invoked immediately
// with the current state, then on every change. The returned function
// unsubscribes.
func (m *Monitor) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if !m.disposed {
		m.listeners[id] = fn
	}
	current := m.state
	m.mu.Unlock()

	fn(current)

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// WaitForOnline blocks until the monitor observes Online, the timeout
// elapses, or ctx is cancelled. Returns true only when Online was seen.
func (m *Monitor) WaitForOnline(ctx context.Context, timeout time.Duration) bool {
	online := make(chan struct{}, 1)
	unsub := m.Subscribe(func(st State) {
		if st.Status == StatusOnline {
			select {
			case online <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	select {
	case <-online:
		return true
	case <-ctx.Done():
		return false
	case <-m.clk.After(timeout):
		return false
	}
}

// Dispose stops the probe loop and clears all listeners. In-flight
// probes finish but their results no longer mutate state.
func (m *Monitor) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.listeners = make(map[int]func(State))
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}
