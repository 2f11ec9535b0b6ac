package bluetooth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
	"github.com/dotside-studios/seatlink-agent/scan"
)

// Bluetooth scans need the radio permission and, on most platforms, location.
var scanCapabilities = []permission.Capability{permission.Bluetooth, permission.Geolocation}

// AdvertisementDriver serves the iBeacon or Eddystone modality from a hub.
type AdvertisementDriver struct {
	hub      *Hub
	modality beacon.Modality
	now      func() time.Time
}

// NewIBeaconDriver serves iBeacon advertisements seen by hub.
func NewIBeaconDriver(hub *Hub) *AdvertisementDriver {
	return &AdvertisementDriver{hub: hub, modality: beacon.ModalityIBeacon, now: time.Now}
}

// NewEddystoneDriver serves Eddystone advertisements seen by hub.
func NewEddystoneDriver(hub *Hub) *AdvertisementDriver {
	return &AdvertisementDriver{hub: hub, modality: beacon.ModalityEddystone, now: time.Now}
}

func (d *AdvertisementDriver) Modality() beacon.Modality { return d.modality }

func (d *AdvertisementDriver) Capabilities() []permission.Capability { return scanCapabilities }

// Acquire opens the shared radio if needed and returns a source that
// subscribes to the hub once scanning starts.
func (d *AdvertisementDriver) Acquire(ctx context.Context) (scan.Handle, error) {
	if err := openRadio(ctx, d.hub, d.modality); err != nil {
		return nil, err
	}
	return newSource(d.hub, d.modality, d.now, nil), nil
}

func openRadio(ctx context.Context, hub *Hub, m beacon.Modality) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := hub.Open(); err != nil {
		if errors.Is(err, ErrUnavailable) {
			return scan.NewUnsupportedError(m, "Acquire", err)
		}
		return scan.NewTransportError(m, "Acquire", err)
	}
	return nil
}

// frameFunc turns one advertisement into frames for the session.
type frameFunc func(ctx context.Context, adv beacon.Advertisement) []beacon.RawFrame

// source is the AdvertisementSource handed to a session.
type source struct {
	hub      *Hub
	modality beacon.Modality
	now      func() time.Time
	frames   frameFunc

	mu     sync.Mutex
	sub    *Subscription
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	stop   sync.Once
}

var _ scan.AdvertisementSource = (*source)(nil)

func newSource(hub *Hub, m beacon.Modality, now func() time.Time, frames frameFunc) *source {
	s := &source{hub: hub, modality: m, now: now, frames: frames}
	if s.frames == nil {
		s.frames = func(_ context.Context, adv beacon.Advertisement) []beacon.RawFrame {
			return beacon.FramesFromAdvertisement(m, adv, s.now())
		}
	}
	return s
}

func (s *source) StartScan(ctx context.Context, f scan.Filter) (<-chan beacon.RawFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return nil, scan.NewTransportError(s.modality, "StartScan", errors.New("scan already started"))
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := s.hub.Subscribe()
	out := make(chan beacon.RawFrame)
	s.sub, s.cancel, s.done = sub, cancel, make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case adv, ok := <-sub.C():
				if !ok {
					if err := sub.Err(); err != nil {
						s.mu.Lock()
						s.err = scan.NewTransportError(s.modality, "Scan", err)
						s.mu.Unlock()
					}
					return
				}
				for _, frame := range s.frames(ctx, adv) {
					if !f.Accepts(frame) {
						continue
					}
					select {
					case out <- frame:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}(s.done)
	return out, nil
}

func (s *source) StopScan() error {
	s.mu.Lock()
	sub, cancel, done := s.sub, s.cancel, s.done
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	s.stop.Do(func() {
		cancel()
		<-done
		s.hub.Unsubscribe(sub)
	})
	return nil
}

func (s *source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the scan; the radio stays open for other sessions.
func (s *source) Close() error {
	return s.StopScan()
}
