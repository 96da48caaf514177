package clock

import (
	"sync"
	"time"
)

// Fake is a manual Clock for tests. Advance moves virtual time forward
// and fires any tickers or After timers that come due.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	ch       chan time.Time
	next     time.Time
	interval time.Duration // zero for one-shot After timers
	stopped  bool
}

// NewFake creates a fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTicker implements Clock.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{
		ch:       make(chan time.Time, 1),
		next:     f.now.Add(d),
		interval: d,
	}
	f.timers = append(f.timers, t)
	return &fakeTickerHandle{f: f, t: t}
}

// After implements Clock.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{
		ch:   make(chan time.Time, 1),
		next: f.now.Add(d),
	}
	f.timers = append(f.timers, t)
	return t.ch
}

// Advance moves virtual time forward by d, firing due timers in order.
// Sends are non-blocking; a ticker whose channel is full drops the tick,
// matching time.Ticker behavior.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for {
		var earliest *fakeTimer
		for _, t := range f.timers {
			if t.stopped || t.next.After(target) {
				continue
			}
			if earliest == nil || t.next.Before(earliest.next) {
				earliest = t
			}
		}
		if earliest == nil {
			break
		}

		f.now = earliest.next
		select {
		case earliest.ch <- f.now:
		default:
		}

		if earliest.interval > 0 {
			earliest.next = earliest.next.Add(earliest.interval)
		} else {
			earliest.stopped = true
		}
	}

	f.now = target
	f.mu.Unlock()
}

type fakeTickerHandle struct {
	f *Fake
	t *fakeTimer
}

func (h *fakeTickerHandle) C() <-chan time.Time { return h.t.ch }

func (h *fakeTickerHandle) Stop() {
	h.f.mu.Lock()
	h.t.stopped = true
	h.f.mu.Unlock()
}
