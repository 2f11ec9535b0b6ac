package nfc

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
	"github.com/dotside-studios/seatlink-agent/scan"
)

// DefaultReconnectAttempts bounds recovery after a reader I/O error.
const DefaultReconnectAttempts = 3

// Driver exposes a local reader as the NFC modality.
type Driver struct {
	dm                *DeviceManager
	now               func() time.Time
	ReconnectAttempts int
}

// NewDriver builds a driver around opener. An empty devicePath picks the
// first reader found at acquire time.
func NewDriver(opener Opener, devicePath string) *Driver {
	return &Driver{
		dm:                NewDeviceManager(opener, devicePath),
		now:               time.Now,
		ReconnectAttempts: DefaultReconnectAttempts,
	}
}

// Manager exposes the driver's device manager.
func (d *Driver) Manager() *DeviceManager { return d.dm }

func (d *Driver) Modality() beacon.Modality { return beacon.ModalityNFC }

// Capabilities lists what the gate must grant before a local reader is used.
func (d *Driver) Capabilities() []permission.Capability {
	return []permission.Capability{permission.NFC}
}

// Acquire opens the reader. A host without any reader is reported as
// unsupported; a reader that fails to open is a transport failure.
func (d *Driver) Acquire(ctx context.Context) (scan.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.dm.TryConnect(); err != nil {
		if errors.Is(err, ErrNoDevice) {
			return nil, scan.NewUnsupportedError(beacon.ModalityNFC, "Acquire", err)
		}
		return nil, scan.NewTransportError(beacon.ModalityNFC, "Acquire", err)
	}
	return &reader{driver: d}, nil
}

// reader is the handle returned by Acquire.
type reader struct {
	driver *Driver
	once   sync.Once
}

var _ scan.TagSource = (*reader)(nil)

// ReadTag reads the first tag in the field. A tag that leaves mid-read counts
// as absent; an unreadable NDEF area still yields a frame with the UID.
func (r *reader) ReadTag(ctx context.Context) (beacon.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return beacon.RawFrame{}, err
	}
	dm := r.driver.dm
	dev := dm.Device()
	if dev == nil {
		if err := dm.Reconnect(ctx, r.driver.ReconnectAttempts); err != nil {
			return beacon.RawFrame{}, scan.NewTransportError(beacon.ModalityNFC, "ReadTag", err)
		}
		dev = dm.Device()
	}

	tags, err := dev.GetTags()
	if err != nil {
		if IsDeviceError(err) {
			Logf("[nfc] device error: %v. Reconnecting.", err)
			if rerr := dm.Reconnect(ctx, r.driver.ReconnectAttempts); rerr == nil {
				return beacon.RawFrame{}, scan.ErrTagNotPresent
			}
		}
		return beacon.RawFrame{}, scan.NewTransportError(beacon.ModalityNFC, "ReadTag", err)
	}
	if len(tags) == 0 {
		return beacon.RawFrame{}, scan.ErrTagNotPresent
	}

	tag := tags[0]
	uid, err := hex.DecodeString(tag.UID())
	if err != nil || len(uid) == 0 {
		Logf("[nfc] skipping tag with unusable UID %q", tag.UID())
		return beacon.RawFrame{}, scan.ErrTagNotPresent
	}

	message, err := tag.ReadNDEF()
	if err != nil {
		if IsTagRemovedError(err) {
			return beacon.RawFrame{}, scan.ErrTagNotPresent
		}
		Logf("[nfc] %s %s: %v", tag.Type(), tag.UID(), err)
		message = nil
	}

	return beacon.RawFrame{
		Modality:   beacon.ModalityNFC,
		Kind:       beacon.FrameNDEF,
		ReceivedAt: r.driver.now(),
		Payload:    message,
		TagUID:     uid,
	}, nil
}

func (r *reader) Close() error {
	r.once.Do(r.driver.dm.Close)
	return nil
}
