package bluetooth

import (
	"context"
	"fmt"
	"sync"

	"github.com/dotside-studios/seatlink-agent/beacon"
)

// MockRadio simulates an adapter. Advertisements queued with Emit are
// delivered by whichever scan is running, or by the next one.
type MockRadio struct {
	OpenErr error
	// Characteristics maps a peripheral address to its characteristic value.
	Characteristics map[string][]byte
	ReadErr         error

	adverts chan beacon.Advertisement
	fail    chan error

	mu      sync.Mutex
	opens   int
	scans   int
	active  int
	reads   []string
	// overlap counts reads made while a scan was running.
	overlap int
	started chan struct{}
}

func NewMockRadio() *MockRadio {
	return &MockRadio{
		Characteristics: make(map[string][]byte),
		adverts:         make(chan beacon.Advertisement, 64),
		fail:            make(chan error, 1),
		started:         make(chan struct{}),
	}
}

func (r *MockRadio) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	return r.OpenErr
}

func (r *MockRadio) Scan(ctx context.Context, handle func(beacon.Advertisement)) error {
	r.mu.Lock()
	r.scans++
	r.active++
	select {
	case <-r.started:
	default:
		close(r.started)
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-r.fail:
			return err
		case adv := <-r.adverts:
			handle(adv)
		}
	}
}

func (r *MockRadio) ReadCharacteristic(ctx context.Context, address, service, characteristic string) ([]byte, error) {
	r.mu.Lock()
	r.reads = append(r.reads, address)
	if r.active > 0 {
		r.overlap++
	}
	value, ok := r.Characteristics[address]
	readErr := r.ReadErr
	r.mu.Unlock()
	if readErr != nil {
		return nil, readErr
	}
	if !ok {
		return nil, fmt.Errorf("no characteristic %s on %s", characteristic, address)
	}
	return value, nil
}

// Emit queues an advertisement.
func (r *MockRadio) Emit(adv beacon.Advertisement) {
	r.adverts <- adv
}

// Fail ends the running scan with err.
func (r *MockRadio) Fail(err error) {
	r.fail <- err
}

// Started is closed once the first scan begins.
func (r *MockRadio) Started() <-chan struct{} { return r.started }

// Scans returns how many scans were started and how many are running.
func (r *MockRadio) Scans() (total, active int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans, r.active
}

// Reads lists the addresses read so far.
func (r *MockRadio) Reads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reads...)
}

// ReadsWhileScanning returns how many reads happened during a running scan.
func (r *MockRadio) ReadsWhileScanning() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlap
}
