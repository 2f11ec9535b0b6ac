package remote

import (
	"fmt"
	"sync"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
	"github.com/dotside-studios/seatlink-agent/protocol"
)

// Conn is the connection a device was registered on. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Device is a registered remote sensor.
type Device struct {
	ID           string
	Name         string
	Platform     string
	AppVersion   string
	Modalities   []beacon.Modality
	Metadata     map[string]string
	RegisteredAt time.Time

	writeMu sync.Mutex
	conn    Conn

	mu          sync.Mutex
	lastSeen    time.Time
	permissions map[permission.Capability]permission.State
	scans       map[string]*source
	closed      bool
}

func newDevice(id string, conn Conn, req protocol.RegisterRequest, modalities []beacon.Modality, perms map[permission.Capability]permission.State, now time.Time) *Device {
	return &Device{
		ID:           id,
		Name:         req.DeviceName,
		Platform:     req.Platform,
		AppVersion:   req.AppVersion,
		Modalities:   modalities,
		Metadata:     req.Metadata,
		RegisteredAt: now,
		conn:         conn,
		lastSeen:     now,
		permissions:  perms,
		scans:        make(map[string]*source),
	}
}

// String identifies the device in logs.
func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.ID)
}

// Send writes one message to the device. Writes are serialized.
func (d *Device) Send(typ string, payload interface{}) error {
	msg, err := protocol.NewMessage(typ, payload)
	if err != nil {
		return err
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrDeviceGone
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteJSON(msg)
}

// Supports reports whether the device registered the modality.
func (d *Device) Supports(m beacon.Modality) bool {
	for _, dm := range d.Modalities {
		if dm == m {
			return true
		}
	}
	return false
}

// LastSeen returns when the device last sent a message.
func (d *Device) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

// Permission returns the state the device last reported for c. Capabilities
// never reported count as granted.
func (d *Device) Permission(c permission.Capability) permission.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.permissions[c]; ok {
		return s
	}
	return permission.Granted
}

// Scans returns how many scans are running on the device.
func (d *Device) Scans() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.scans)
}

func (d *Device) touch(t time.Time) {
	d.mu.Lock()
	if t.After(d.lastSeen) {
		d.lastSeen = t
	}
	d.mu.Unlock()
}

func (d *Device) setPermissions(perms map[permission.Capability]permission.State) {
	d.mu.Lock()
	for c, s := range perms {
		d.permissions[c] = s
	}
	d.mu.Unlock()
}

func (d *Device) attach(src *source) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceGone
	}
	d.scans[src.sessionID] = src
	return nil
}

func (d *Device) detach(sessionID string) {
	d.mu.Lock()
	delete(d.scans, sessionID)
	d.mu.Unlock()
}

func (d *Device) scan(sessionID string) (*source, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	src, ok := d.scans[sessionID]
	return src, ok
}

// close fails every running scan with cause and closes the connection.
func (d *Device) close(cause error) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	scans := d.scans
	d.scans = make(map[string]*source)
	d.mu.Unlock()

	for _, src := range scans {
		src.fail(cause)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.Close()
}
