//go:build !linux

package bluetooth

import (
	"context"

	"github.com/dotside-studios/seatlink-agent/beacon"
)

// GoBLE is only available on Linux; elsewhere every call reports
// ErrUnavailable.
type GoBLE struct {
	DeviceID int
}

// NewGoBLE returns a radio that is never available on this platform.
func NewGoBLE(deviceID int) *GoBLE {
	return &GoBLE{DeviceID: deviceID}
}

func (r *GoBLE) Open() error { return ErrUnavailable }

func (r *GoBLE) Scan(ctx context.Context, handle func(beacon.Advertisement)) error {
	return ErrUnavailable
}

func (r *GoBLE) ReadCharacteristic(ctx context.Context, address, service, characteristic string) ([]byte, error) {
	return nil, ErrUnavailable
}

func (r *GoBLE) Close() error { return nil }
