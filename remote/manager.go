// Package remote lets phones and browsers act as sensors. A device registers
// over a WebSocket connection, and the resolver drives its scans through a
// scan.Driver like any local hardware.
package remote

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
	"github.com/dotside-studios/seatlink-agent/protocol"
)

const (
	// DeviceTimeout is the default inactivity timeout.
	DeviceTimeout = 60 * time.Second
	// CleanupInterval is how often inactive devices are looked for.
	CleanupInterval = 10 * time.Second
)

var (
	ErrDeviceGone     = errors.New("remote device disconnected")
	ErrDeviceNotFound = errors.New("remote device not found")
	ErrManagerClosed  = errors.New("remote manager closed")
)

// Logf receives remote device diagnostics. Replace with SetLogger.
var Logf = log.Printf

// SetLogger replaces Logf; nil silences it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

type handlerFunc func(m *Manager, d *Device, msg protocol.Message) error

// Manager tracks registered devices and routes their messages.
type Manager struct {
	devices           map[string]*Device
	mu                sync.RWMutex
	handlers          map[string]handlerFunc
	inactivityTimeout time.Duration
	now               func() time.Time
	cleanupTicker     *time.Ticker
	stopCleanup       chan struct{}
	closed            bool
}

// NewManager starts a manager that drops devices silent for longer than
// inactivityTimeout. Zero selects DeviceTimeout.
func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = DeviceTimeout
	}
	m := &Manager{
		devices:           make(map[string]*Device),
		inactivityTimeout: inactivityTimeout,
		now:               time.Now,
		stopCleanup:       make(chan struct{}),
	}
	m.handlers = map[string]handlerFunc{
		protocol.TypeFrame:       (*Manager).handleFrame,
		protocol.TypeScanError:   (*Manager).handleScanError,
		protocol.TypePermissions: (*Manager).handlePermissions,
		protocol.TypeHeartbeat:   (*Manager).handleHeartbeat,
	}
	m.startCleanupRoutine()
	return m
}

// Register validates a registration request and adds the device.
func (m *Manager) Register(conn Conn, req protocol.RegisterRequest) (*Device, error) {
	if req.DeviceName == "" {
		return nil, fmt.Errorf("device name is required")
	}
	switch req.Platform {
	case "ios", "android", "web":
	default:
		return nil, fmt.Errorf("invalid platform: %s (must be 'ios', 'android', or 'web')", req.Platform)
	}
	if len(req.Modalities) == 0 {
		return nil, fmt.Errorf("at least one modality is required")
	}
	modalities := make([]beacon.Modality, 0, len(req.Modalities))
	for _, s := range req.Modalities {
		mod, err := beacon.ParseModality(s)
		if err != nil {
			return nil, err
		}
		modalities = append(modalities, mod)
	}
	perms, err := parsePermissions(req.Permissions)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	d := newDevice(uuid.New().String(), conn, req, modalities, perms, m.now())
	m.devices[d.ID] = d

	Logf("[remote] Device registered: %s (%s, %s) modalities=%v", d, req.Platform, req.AppVersion, modalities)
	return d, nil
}

// Unregister removes a device and fails its running scans.
func (m *Manager) Unregister(id string) error {
	m.mu.Lock()
	d, ok := m.devices[id]
	if ok {
		delete(m.devices, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	if err := d.close(ErrDeviceGone); err != nil {
		Logf("[remote] Error closing device %s: %v", id, err)
	}
	Logf("[remote] Device unregistered: %s", d)
	return nil
}

// Device returns a registered device.
func (m *Manager) Device(id string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

// Devices returns the registered devices, most recently seen first.
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen().After(out[j].LastSeen())
	})
	return out
}

// Count returns the number of registered devices.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Available reports whether any device can scan m.
func (m *Manager) Available(mod beacon.Modality) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.Supports(mod) {
			return true
		}
	}
	return false
}

// Pick returns device id when it is registered, supports the modality and
// has not denied any of caps. Devices are only ever picked by id: a guest's
// scan must run on their own phone.
func (m *Manager) Pick(id string, mod beacon.Modality, caps ...permission.Capability) *Device {
	if id == "" {
		return nil
	}
	d, ok := m.Device(id)
	if !ok || !d.Supports(mod) {
		return nil
	}
	for _, c := range caps {
		if d.Permission(c) == permission.Denied {
			return nil
		}
	}
	return d
}

// HandleMessage routes a message received from a registered device.
func (m *Manager) HandleMessage(d *Device, msg protocol.Message) error {
	d.touch(m.now())
	h, ok := m.handlers[msg.Type]
	if !ok {
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
	return h(m, d, msg)
}

func (m *Manager) handleFrame(d *Device, msg protocol.Message) error {
	var p protocol.FramePayload
	if err := msg.Decode(&p); err != nil {
		return fmt.Errorf("invalid frame: %w", err)
	}
	src, ok := d.scan(p.SessionID)
	if !ok {
		// Frames may still arrive after stopScan.
		return nil
	}
	frames, err := framesFromPayload(src.modality, p, m.now())
	if err != nil {
		return fmt.Errorf("invalid frame: %w", err)
	}
	for _, f := range frames {
		src.deliver(f)
	}
	return nil
}

func (m *Manager) handleScanError(d *Device, msg protocol.Message) error {
	var p protocol.ScanErrorPayload
	if err := msg.Decode(&p); err != nil {
		return fmt.Errorf("invalid scan error: %w", err)
	}
	src, ok := d.scan(p.SessionID)
	if !ok {
		return nil
	}
	Logf("[remote] %s: scan %s failed: %s %s", d, p.SessionID, p.Code, p.Message)
	src.fail(scanError(src.modality, p))
	return nil
}

func (m *Manager) handlePermissions(d *Device, msg protocol.Message) error {
	var p protocol.PermissionsPayload
	if err := msg.Decode(&p); err != nil {
		return fmt.Errorf("invalid permissions: %w", err)
	}
	perms, err := parsePermissions(p.Permissions)
	if err != nil {
		return err
	}
	d.setPermissions(perms)
	return nil
}

func (m *Manager) handleHeartbeat(d *Device, msg protocol.Message) error {
	return nil
}

// Close unregisters every device and stops the cleanup routine.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	devices := m.devices
	m.devices = make(map[string]*Device)
	m.mu.Unlock()

	m.cleanupTicker.Stop()
	close(m.stopCleanup)

	for id, d := range devices {
		if err := d.close(ErrManagerClosed); err != nil {
			Logf("[remote] Error closing device %s: %v", id, err)
		}
	}
	Logf("[remote] Manager closed")
}

func (m *Manager) startCleanupRoutine() {
	m.cleanupTicker = time.NewTicker(CleanupInterval)
	go func() {
		for {
			select {
			case <-m.cleanupTicker.C:
				m.cleanupInactiveDevices()
			case <-m.stopCleanup:
				return
			}
		}
	}()
}

// cleanupInactiveDevices removes devices that exceeded the inactivity timeout.
func (m *Manager) cleanupInactiveDevices() {
	now := m.now()
	var stale []*Device

	m.mu.Lock()
	for id, d := range m.devices {
		if now.Sub(d.LastSeen()) > m.inactivityTimeout {
			delete(m.devices, id)
			stale = append(stale, d)
		}
	}
	m.mu.Unlock()

	for _, d := range stale {
		Logf("[remote] Cleaning up inactive device: %s (last seen %v ago)", d, now.Sub(d.LastSeen()).Round(time.Second))
		if err := d.close(ErrDeviceGone); err != nil {
			Logf("[remote] Error closing device %s: %v", d.ID, err)
		}
	}
}

func parsePermissions(in map[string]string) (map[permission.Capability]permission.State, error) {
	out := make(map[permission.Capability]permission.State, len(in))
	for c, s := range in {
		switch capability := permission.Capability(c); capability {
		case permission.Bluetooth, permission.Geolocation, permission.NFC:
			state, err := permission.ParseState(s)
			if err != nil {
				return nil, err
			}
			out[capability] = state
		default:
			return nil, fmt.Errorf("unknown capability %q", c)
		}
	}
	return out, nil
}
