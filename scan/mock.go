package scan

import (
	"context"
	"sync"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
)

// TagRead is one scripted ReadTag result.
type TagRead struct {
	Frame beacon.RawFrame
	Err   error
}

// MockDriver is a scriptable Driver for tests.
//
// With Tags nil it hands out an AdvertisementSource that first delivers
// Frames and then whatever is sent with Push. With Tags set it hands out a
// TagSource that returns the scripted reads in order and ErrTagNotPresent
// afterwards.
type MockDriver struct {
	Mod        beacon.Modality
	Caps       []permission.Capability
	AcquireErr error
	StartErr   error
	Frames     []beacon.RawFrame
	Tags       []TagRead

	mu       sync.Mutex
	acquired int
	open     int
	scanning *mockAdvertiser
	started  chan struct{}
}

// NewMockDriver returns a driver for m with no frames.
func NewMockDriver(m beacon.Modality, caps ...permission.Capability) *MockDriver {
	return &MockDriver{Mod: m, Caps: caps}
}

func (d *MockDriver) Modality() beacon.Modality { return d.Mod }

func (d *MockDriver) Capabilities() []permission.Capability { return d.Caps }

func (d *MockDriver) Acquire(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.AcquireErr != nil {
		return nil, d.AcquireErr
	}
	d.acquired++
	d.open++
	if d.Tags != nil {
		return &mockTagReader{driver: d, reads: append([]TagRead(nil), d.Tags...)}, nil
	}
	return &mockAdvertiser{driver: d}, nil
}

// Acquired counts successful Acquire calls.
func (d *MockDriver) Acquired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired
}

// Open counts handles not yet closed.
func (d *MockDriver) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Scanning returns a channel closed once a scan has started.
func (d *MockDriver) Scanning() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started == nil {
		d.started = make(chan struct{})
	}
	return d.started
}

// Push delivers a frame to the running scan. It reports false when no scan
// is running.
func (d *MockDriver) Push(f beacon.RawFrame) bool {
	d.mu.Lock()
	adv := d.scanning
	d.mu.Unlock()
	if adv == nil {
		return false
	}
	return adv.push(f)
}

// Fail ends the running scan with err.
func (d *MockDriver) Fail(err error) {
	d.mu.Lock()
	adv := d.scanning
	d.mu.Unlock()
	if adv != nil {
		adv.fail(err)
	}
}

func (d *MockDriver) closed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open--
}

type mockAdvertiser struct {
	driver *MockDriver

	mu     sync.Mutex
	frames chan beacon.RawFrame
	err    error
	ended  bool
	closed bool
}

func (a *mockAdvertiser) StartScan(ctx context.Context, _ Filter) (<-chan beacon.RawFrame, error) {
	d := a.driver
	if d.StartErr != nil {
		return nil, d.StartErr
	}
	a.mu.Lock()
	a.frames = make(chan beacon.RawFrame, len(d.Frames)+16)
	for _, f := range d.Frames {
		a.frames <- f
	}
	a.mu.Unlock()

	d.mu.Lock()
	d.scanning = a
	if d.started == nil {
		d.started = make(chan struct{})
	}
	select {
	case <-d.started:
	default:
		close(d.started)
	}
	d.mu.Unlock()
	return a.frames, nil
}

func (a *mockAdvertiser) push(f beacon.RawFrame) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return false
	}
	select {
	case a.frames <- f:
		return true
	default:
		return false
	}
}

func (a *mockAdvertiser) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return
	}
	a.ended = true
	a.err = err
	close(a.frames)
}

func (a *mockAdvertiser) StopScan() error {
	a.driver.mu.Lock()
	if a.driver.scanning == a {
		a.driver.scanning = nil
	}
	a.driver.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.ended = true
	return nil
}

func (a *mockAdvertiser) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *mockAdvertiser) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	a.driver.closed()
	return nil
}

type mockTagReader struct {
	driver *MockDriver

	mu     sync.Mutex
	reads  []TagRead
	closed bool
}

func (r *mockTagReader) ReadTag(ctx context.Context) (beacon.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return beacon.RawFrame{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reads) == 0 {
		return beacon.RawFrame{}, ErrTagNotPresent
	}
	next := r.reads[0]
	r.reads = r.reads[1:]
	return next.Frame, next.Err
}

func (r *mockTagReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.driver.closed()
	return nil
}
