//go:build linux

package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"

	"github.com/dotside-studios/seatlink-agent/beacon"
)

// GoBLE drives a local HCI adapter through go-ble.
type GoBLE struct {
	DeviceID int

	mu  sync.Mutex
	dev *linux.Device
}

var (
	_ Radio     = (*GoBLE)(nil)
	_ Connector = (*GoBLE)(nil)
)

// NewGoBLE uses adapter hci<deviceID>.
func NewGoBLE(deviceID int) *GoBLE {
	return &GoBLE{DeviceID: deviceID}
}

// Open brings up the HCI device. Failures are reported as ErrUnavailable.
func (r *GoBLE) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return nil
	}
	dev, err := linux.NewDevice(goble.OptDeviceID(r.DeviceID))
	if err != nil {
		return fmt.Errorf("%w: hci%d: %v", ErrUnavailable, r.DeviceID, err)
	}
	r.dev = dev
	Logf("[ble] opened adapter hci%d", r.DeviceID)
	return nil
}

func (r *GoBLE) device() (*linux.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return nil, ErrUnavailable
	}
	return r.dev, nil
}

// Scan reports advertisements, duplicates included, until ctx ends.
func (r *GoBLE) Scan(ctx context.Context, handle func(beacon.Advertisement)) error {
	dev, err := r.device()
	if err != nil {
		return err
	}
	err = dev.Scan(ctx, true, func(a goble.Advertisement) {
		handle(convert(a))
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// ReadCharacteristic connects to address, reads one characteristic and
// disconnects.
func (r *GoBLE) ReadCharacteristic(ctx context.Context, address, service, characteristic string) ([]byte, error) {
	dev, err := r.device()
	if err != nil {
		return nil, err
	}
	svcUUID, err := gobleUUID(service)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", service, err)
	}
	charUUID, err := gobleUUID(characteristic)
	if err != nil {
		return nil, fmt.Errorf("characteristic %q: %w", characteristic, err)
	}

	cln, err := dev.Dial(ctx, goble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	defer cln.CancelConnection()

	svcs, err := cln.DiscoverServices([]goble.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("service %s not found", service)
	}
	chars, err := cln.DiscoverCharacteristics([]goble.UUID{charUUID}, svcs[0])
	if err != nil {
		return nil, fmt.Errorf("discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("characteristic %s not found", characteristic)
	}
	return cln.ReadCharacteristic(chars[0])
}

// Close stops the adapter.
func (r *GoBLE) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return nil
	}
	err := r.dev.Stop()
	r.dev = nil
	return err
}

func convert(a goble.Advertisement) beacon.Advertisement {
	rssi := a.RSSI()
	adv := beacon.Advertisement{
		LocalName:        a.LocalName(),
		ManufacturerData: a.ManufacturerData(),
		RSSI:             &rssi,
	}
	if addr := a.Addr(); addr != nil {
		adv.Address = addr.String()
	}
	for _, u := range a.Services() {
		adv.Services = append(adv.Services, beacon.NormalizeServiceUUID(u.String()))
	}
	for _, sd := range a.ServiceData() {
		adv.ServiceData = append(adv.ServiceData, beacon.ServiceData{
			UUID: beacon.NormalizeServiceUUID(sd.UUID.String()),
			Data: sd.Data,
		})
	}
	return adv
}
