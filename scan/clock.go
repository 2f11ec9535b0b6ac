package scan

import (
	"sync"
	"time"
)

// Clock abstracts the time source so deadlines can be driven by tests.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

// Timer is the subset of time.Timer sessions use.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Ticker is the subset of time.Ticker the remote device cleanup uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock uses the time package.
type RealClock struct{}

// NewRealClock returns the wall clock.
func NewRealClock() Clock {
	return RealClock{}
}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type realTimer struct{ t *time.Timer }

func (rt realTimer) C() <-chan time.Time        { return rt.t.C }
func (rt realTimer) Stop() bool                 { return rt.t.Stop() }
func (rt realTimer) Reset(d time.Duration) bool { return rt.t.Reset(d) }

type realTicker struct{ t *time.Ticker }

func (rt realTicker) C() <-chan time.Time { return rt.t.C }
func (rt realTicker) Stop()               { rt.t.Stop() }

// FakeClock only moves when Advance is called.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFakeClock starts a FakeClock at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake time, which only moves on Advance.
func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) NewTimer(d time.Duration) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTimer{clock: fc, deadline: fc.now.Add(d), c: make(chan time.Time, 1), active: true}
	fc.timers = append(fc.timers, ft)
	return ft
}

func (fc *FakeClock) NewTicker(d time.Duration) Ticker {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTicker{clock: fc, interval: d, next: fc.now.Add(d), c: make(chan time.Time, 1), active: true}
	fc.tickers = append(fc.tickers, ft)
	return ft
}

func (fc *FakeClock) After(d time.Duration) <-chan time.Time {
	return fc.NewTimer(d).C()
}

// Timers reports how many timers are still waiting to fire.
func (fc *FakeClock) Timers() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	n := 0
	for _, t := range fc.timers {
		if t.active {
			n++
		}
	}
	return n
}

// Advance moves time forward and fires every timer and ticker that came due.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	live := fc.timers[:0]
	for _, t := range fc.timers {
		if t.active && !fc.now.Before(t.deadline) {
			t.active = false
			select {
			case t.c <- fc.now:
			default:
			}
		}
		if t.active {
			live = append(live, t)
		}
	}
	fc.timers = live

	for _, t := range fc.tickers {
		if !t.active || fc.now.Before(t.next) {
			continue
		}
		for !fc.now.Before(t.next) {
			t.next = t.next.Add(t.interval)
		}
		select {
		case t.c <- fc.now:
		default:
		}
	}
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	c        chan time.Time
	active   bool
}

func (ft *fakeTimer) C() <-chan time.Time { return ft.c }

func (ft *fakeTimer) Stop() bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	was := ft.active
	ft.active = false
	return was
}

func (ft *fakeTimer) Reset(d time.Duration) bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	was := ft.active
	ft.deadline = ft.clock.now.Add(d)
	if !was {
		ft.active = true
		ft.clock.timers = append(ft.clock.timers, ft)
	}
	return was
}

type fakeTicker struct {
	clock    *FakeClock
	interval time.Duration
	next     time.Time
	c        chan time.Time
	active   bool
}

func (ft *fakeTicker) C() <-chan time.Time { return ft.c }

func (ft *fakeTicker) Stop() {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	ft.active = false
}
