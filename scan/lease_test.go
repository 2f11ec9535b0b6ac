package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
)

func TestLeasesExclusive(t *testing.T) {
	leases := NewLeases()

	first, err := leases.Acquire(beacon.ModalityNFC, "")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := leases.Acquire(beacon.ModalityNFC, ""); !errors.Is(err, ErrModalityBusy) {
		t.Errorf("second Acquire() error = %v, want ErrModalityBusy", err)
	}
	if _, err := leases.Acquire(beacon.ModalityGATT, ""); err != nil {
		t.Errorf("Acquire() of another modality error = %v", err)
	}
	if _, err := leases.Acquire(beacon.ModalityNFC, "remote:phone"); err != nil {
		t.Errorf("Acquire() on other hardware error = %v", err)
	}

	first.Release()
	if leases.Held(beacon.ModalityNFC, "") {
		t.Error("Held() = true after Release()")
	}
	second, err := leases.Acquire(beacon.ModalityNFC, "")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}

	// A stale lease must not free its successor.
	first.Release()
	if !leases.Held(beacon.ModalityNFC, "") {
		t.Error("stale Release() freed the current lease")
	}
	second.Release()
}

func TestLeasesWait(t *testing.T) {
	leases := NewLeases()
	held, err := leases.Acquire(beacon.ModalityIBeacon, "")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	got := make(chan *Lease, 1)
	go func() {
		lease, err := leases.Wait(context.Background(), beacon.ModalityIBeacon, "", nil)
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
		got <- lease
	}()

	select {
	case <-got:
		t.Fatal("Wait() returned while the lease was held")
	case <-time.After(20 * time.Millisecond):
	}
	held.Release()

	select {
	case lease := <-got:
		if lease == nil || !leases.Held(beacon.ModalityIBeacon, "") {
			t.Error("Wait() did not take the released lease")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after Release()")
	}

	expire := make(chan time.Time, 1)
	expire <- time.Now()
	if _, err := leases.Wait(context.Background(), beacon.ModalityIBeacon, "", expire); !errors.Is(err, ErrModalityBusy) {
		t.Errorf("Wait() after expiry error = %v, want ErrModalityBusy", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := leases.Wait(ctx, beacon.ModalityIBeacon, "", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() with cancelled context error = %v, want context.Canceled", err)
	}
}

func TestFakeClockTimer(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	timer := clock.NewTimer(5 * time.Second)

	clock.Advance(4 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case at := <-timer.C():
		if !at.Equal(time.Unix(5, 0)) {
			t.Errorf("timer fired at %v, want %v", at, time.Unix(5, 0))
		}
	default:
		t.Fatal("timer did not fire")
	}

	if timer.Stop() {
		t.Error("Stop() of fired timer = true, want false")
	}
	timer.Reset(time.Second)
	clock.Advance(time.Second)
	select {
	case <-timer.C():
	default:
		t.Error("reset timer did not fire")
	}
}

func TestFakeClockTicker(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Minute)

	clock.Advance(30 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}
	clock.Advance(30 * time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire")
	}

	ticker.Stop()
	clock.Advance(time.Minute)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}

func TestFilterAccepts(t *testing.T) {
	ib := FilterFor(beacon.ModalityIBeacon)
	ed := FilterFor(beacon.ModalityEddystone)

	apple := beacon.RawFrame{Kind: beacon.FrameManufacturerData, Payload: []byte{0x4C, 0x00, 0x02}}
	other := beacon.RawFrame{Kind: beacon.FrameManufacturerData, Payload: []byte{0x59, 0x00}}
	eddy := beacon.RawFrame{Kind: beacon.FrameServiceData, ServiceUUID: "FEAA"}
	battery := beacon.RawFrame{Kind: beacon.FrameServiceData, ServiceUUID: "180f"}

	tests := []struct {
		name   string
		filter Filter
		frame  beacon.RawFrame
		want   bool
	}{
		{"apple on ibeacon", ib, apple, true},
		{"other company on ibeacon", ib, other, false},
		{"service data on ibeacon", ib, eddy, false},
		{"eddystone on eddystone", ed, eddy, true},
		{"battery on eddystone", ed, battery, false},
		{"empty filter", Filter{}, battery, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Accepts(tt.frame); got != tt.want {
				t.Errorf("Accepts() = %v, want %v", got, tt.want)
			}
		})
	}
}
