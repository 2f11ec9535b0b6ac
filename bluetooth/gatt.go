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

// Battery service and level characteristic, read to confirm presence.
var (
	BatteryService      = beacon.NormalizeServiceUUID("180f")
	BatteryLevel        = beacon.NormalizeServiceUUID("2a19")
	DefaultReadTimeout  = 5 * time.Second
)

// GATTDriver serves the GATT modality: peripherals advertising the configured
// service are connected to and the configured characteristic is read. The
// resulting frame carries the peripheral's name and services so presence
// tokens can identify it.
type GATTDriver struct {
	hub       *Hub
	connector Connector
	now       func() time.Time

	Service        string
	Characteristic string
	ReadTimeout    time.Duration
}

// NewGATTDriver reads the battery level of peripherals seen by hub.
func NewGATTDriver(hub *Hub, connector Connector) *GATTDriver {
	return &GATTDriver{
		hub:            hub,
		connector:      connector,
		now:            time.Now,
		Service:        BatteryService,
		Characteristic: BatteryLevel,
		ReadTimeout:    DefaultReadTimeout,
	}
}

func (d *GATTDriver) Modality() beacon.Modality { return beacon.ModalityGATT }

func (d *GATTDriver) Capabilities() []permission.Capability { return scanCapabilities }

// Acquire returns a source that reads the characteristic of peripherals
// advertising the service, each at most once per session.
func (d *GATTDriver) Acquire(ctx context.Context) (scan.Handle, error) {
	if d.connector == nil {
		return nil, scan.NewUnsupportedError(beacon.ModalityGATT, "Acquire", errors.New("radio cannot connect to peripherals"))
	}
	if err := openRadio(ctx, d.hub, beacon.ModalityGATT); err != nil {
		return nil, err
	}
	p := &gattReader{driver: d, visited: make(map[string]bool)}
	return newSource(d.hub, beacon.ModalityGATT, d.now, p.frames), nil
}

// gattReader connects to each eligible peripheral once per session. The shared
// scan is paused for the duration of each connection.
type gattReader struct {
	driver  *GATTDriver
	mu      sync.Mutex
	visited map[string]bool
}

func (p *gattReader) frames(ctx context.Context, adv beacon.Advertisement) []beacon.RawFrame {
	d := p.driver
	if adv.Address == "" || !advertises(adv, d.Service) {
		return nil
	}
	p.mu.Lock()
	seen := p.visited[adv.Address]
	p.visited[adv.Address] = true
	p.mu.Unlock()
	if seen {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, d.ReadTimeout)
	defer cancel()
	var value []byte
	err := d.hub.Pause(func() error {
		var err error
		value, err = d.connector.ReadCharacteristic(pctx, adv.Address, d.Service, d.Characteristic)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			Logf("[ble] read %s (%s): %v", adv.Address, adv.LocalName, err)
		}
		return nil
	}
	return []beacon.RawFrame{{
		Modality:    beacon.ModalityGATT,
		Kind:        beacon.FrameCharacteristic,
		ReceivedAt:  d.now(),
		Payload:     value,
		RSSI:        adv.RSSI,
		ServiceUUID: d.Service,
		LocalName:   adv.LocalName,
		Services:    adv.Services,
	}}
}

func advertises(adv beacon.Advertisement, service string) bool {
	want := beacon.NormalizeServiceUUID(service)
	for _, s := range adv.Services {
		if beacon.NormalizeServiceUUID(s) == want {
			return true
		}
	}
	for _, sd := range adv.ServiceData {
		if beacon.NormalizeServiceUUID(sd.UUID) == want {
			return true
		}
	}
	return false
}
