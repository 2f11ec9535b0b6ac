// Package bluetooth exposes a Bluetooth LE radio as the iBeacon, Eddystone
// and GATT modalities. One radio scan is shared by every open session.
package bluetooth

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/dotside-studios/seatlink-agent/beacon"
)

// Logf receives radio diagnostics. Replace with SetLogger.
var Logf = log.Printf

// SetLogger replaces Logf; nil silences it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// ErrUnavailable means the host has no usable Bluetooth adapter.
var ErrUnavailable = errors.New("bluetooth adapter unavailable")

// ErrScanEnded is reported to subscribers when the radio stops scanning
// without an error of its own.
var ErrScanEnded = errors.New("bluetooth scan ended")

// Radio is a Bluetooth LE controller that can scan for advertisements.
type Radio interface {
	// Open prepares the adapter. It is called before every scan and must be
	// cheap once the adapter is open.
	Open() error
	// Scan reports advertisements to handle until ctx ends or the radio fails.
	Scan(ctx context.Context, handle func(beacon.Advertisement)) error
}

// Connector reads GATT characteristics from a peripheral.
type Connector interface {
	ReadCharacteristic(ctx context.Context, address, service, characteristic string) ([]byte, error)
}

const subscriptionBuffer = 64

// Hub runs at most one radio scan and fans its advertisements out to every
// subscriber. The scan starts with the first subscriber and stops with the
// last.
type Hub struct {
	radio Radio

	// runMu serialises starting and stopping the scan.
	runMu sync.Mutex

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub wraps radio.
func NewHub(radio Radio) *Hub {
	return &Hub{radio: radio, subs: make(map[*Subscription]struct{})}
}

// Radio returns the wrapped radio.
func (h *Hub) Radio() Radio { return h.radio }

// Open opens the radio.
func (h *Hub) Open() error { return h.radio.Open() }

// Subscription receives advertisements until it is cancelled or the scan
// fails.
type Subscription struct {
	ch     chan beacon.Advertisement
	err    error
	closed bool
}

// C delivers advertisements. It is closed when the subscription ends.
func (s *Subscription) C() <-chan beacon.Advertisement { return s.ch }

// Err reports why the scan ended. Only valid once C is closed.
func (s *Subscription) Err() error { return s.err }

// Subscribe registers a subscriber, starting the scan if needed.
func (h *Hub) Subscribe() *Subscription {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	sub := &Subscription{ch: make(chan beacon.Advertisement, subscriptionBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	h.resume()
	return sub
}

// resume starts the scan when there are subscribers and none is running.
// The caller holds runMu.
func (h *Hub) resume() {
	h.mu.Lock()
	if len(h.subs) == 0 || h.cancel != nil {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.cancel, h.done = cancel, done
	h.mu.Unlock()

	Logf("[ble] starting scan")
	go h.run(ctx, done)
}

// Pause stops the running scan, calls fn and resumes scanning for the
// subscribers that are still there. Subscriptions stay open throughout.
// Controllers refuse to initiate a connection while scanning, so GATT reads
// run inside Pause.
func (h *Hub) Pause(fn func() error) error {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	err := fn()
	h.resume()
	return err
}

// Unsubscribe ends sub. Removing the last subscriber stops the scan and
// waits for the radio to return.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		sub.close(nil)
	}
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	if len(h.subs) == 0 && h.cancel != nil {
		cancel, done = h.cancel, h.done
		h.cancel, h.done = nil, nil
	}
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		Logf("[ble] scan stopped")
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	err := h.radio.Scan(ctx, h.dispatch)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = ErrScanEnded
	}
	Logf("[ble] scan failed: %v", err)

	h.mu.Lock()
	for sub := range h.subs {
		sub.close(err)
		delete(h.subs, sub)
	}
	if h.done == done {
		h.cancel()
		h.cancel, h.done = nil, nil
	}
	h.mu.Unlock()
}

// dispatch never blocks the radio: a subscriber with a full buffer misses
// the advertisement.
func (h *Hub) dispatch(adv beacon.Advertisement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- adv:
		default:
		}
	}
}

// close must be called with the hub lock held.
func (s *Subscription) close(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}
