package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
	"github.com/dotside-studios/seatlink-agent/protocol"
	"github.com/dotside-studios/seatlink-agent/scan"
)

// frameBuffer bounds the frames queued for one remote scan.
const frameBuffer = 64

// ErrNoDevice is the cause of Unsupported when the request has no usable
// device and there is no local fallback.
var ErrNoDevice = errors.New("no remote device for modality")

// Driver scans a modality on the device bound to the request with
// scan.WithDevice. Requests without a usable device are handed to Fallback,
// usually the local driver.
type Driver struct {
	manager  *Manager
	modality beacon.Modality
	caps     []permission.Capability
	Fallback scan.Driver
	// Gate re-checks the fallback's permissions when a bound device went
	// away after the request's permission check.
	Gate *permission.Gate
}

var _ scan.RequestDriver = (*Driver)(nil)

// NewDriver returns a driver for modality m. caps are the permissions a device
// must not have denied. fallback may be nil.
func NewDriver(manager *Manager, m beacon.Modality, fallback scan.Driver, caps ...permission.Capability) *Driver {
	return &Driver{manager: manager, modality: m, caps: caps, Fallback: fallback}
}

// Modality returns the modality this driver scans.
func (d *Driver) Modality() beacon.Modality { return d.modality }

// Capabilities are the local permissions the fallback needs.
func (d *Driver) Capabilities() []permission.Capability {
	if d.Fallback == nil {
		return nil
	}
	return d.Fallback.Capabilities()
}

// CapabilitiesFor needs no local permissions when the bound device will
// scan; the device checks its own.
func (d *Driver) CapabilitiesFor(ctx context.Context) []permission.Capability {
	if d.device(ctx) != nil {
		return nil
	}
	return d.Capabilities()
}

// HardwareKey is the bound device, so scans on different phones run side by
// side. Scans on the fallback share the local key.
func (d *Driver) HardwareKey(ctx context.Context) string {
	if dev := d.device(ctx); dev != nil {
		return "remote:" + dev.ID
	}
	return ""
}

func (d *Driver) device(ctx context.Context) *Device {
	return d.manager.Pick(scan.DeviceFrom(ctx), d.modality, d.caps...)
}

// Acquire opens a scan on the bound device, or on the fallback when there is
// none. A bound device may have disconnected since the permission check, so
// the fallback's permissions are checked again in that case.
func (d *Driver) Acquire(ctx context.Context) (scan.Handle, error) {
	if dev := d.device(ctx); dev != nil {
		Logf("[remote] %s: scanning on %s", d.modality, dev)
		return newSource(dev, d.modality), nil
	}
	if d.Fallback == nil {
		return nil, scan.NewUnsupportedError(d.modality, "Acquire", ErrNoDevice)
	}
	if scan.DeviceFrom(ctx) != "" && d.Gate != nil {
		if _, err := d.Gate.Ensure(ctx, d.Fallback.Capabilities()...); err != nil {
			return nil, &scan.Error{
				Code: scan.ErrCodePermissionDenied, Op: "Acquire", Modality: d.modality, Message: "permission denied", Cause: err,
			}
		}
	}
	return d.Fallback.Acquire(ctx)
}

// source relays frames a device streams for one scan session.
type source struct {
	dev       *Device
	modality  beacon.Modality
	sessionID string

	mu      sync.Mutex
	frames  chan beacon.RawFrame
	filter  scan.Filter
	started bool
	ended   bool
	err     error
}

func newSource(dev *Device, m beacon.Modality) *source {
	return &source{
		dev:       dev,
		modality:  m,
		sessionID: uuid.New().String(),
		frames:    make(chan beacon.RawFrame, frameBuffer),
	}
}

func (s *source) StartScan(ctx context.Context, f scan.Filter) (<-chan beacon.RawFrame, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, errors.New("scan already started")
	}
	s.started = true
	s.filter = f
	s.mu.Unlock()

	if err := s.dev.attach(s); err != nil {
		return nil, err
	}
	err := s.dev.Send(protocol.TypeStartScan, protocol.StartScanPayload{
		SessionID: s.sessionID,
		Modality:  string(s.modality),
	})
	if err != nil {
		s.dev.detach(s.sessionID)
		return nil, err
	}
	return s.frames, nil
}

// deliver queues a frame, dropping it when the session is not keeping up.
func (s *source) deliver(f beacon.RawFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || !s.filter.Accepts(f) {
		return
	}
	select {
	case s.frames <- f:
	default:
		Logf("[remote] %s: frame buffer full, dropping frame", s.modality)
	}
}

// fail ends the stream; Err reports cause.
func (s *source) fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = cause
	close(s.frames)
	s.dev.detach(s.sessionID)
}

func (s *source) StopScan() error {
	s.mu.Lock()
	if !s.started || s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	close(s.frames)
	s.mu.Unlock()

	s.dev.detach(s.sessionID)
	err := s.dev.Send(protocol.TypeStopScan, protocol.StopScanPayload{SessionID: s.sessionID})
	if errors.Is(err, ErrDeviceGone) {
		return nil
	}
	return err
}

func (s *source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *source) Close() error {
	return s.StopScan()
}
