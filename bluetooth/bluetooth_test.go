package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/scan"
)

func init() {
	SetLogger(nil)
	scan.SetLogger(nil)
}

var tableUUID = uuid.MustParse("2f234454-cf6d-4a0f-adf2-f4911ba9ffa6")

func ibeaconAdv(major, minor uint16) beacon.Advertisement {
	rssi := -61
	return beacon.Advertisement{
		Address:          "C8:0F:10:00:00:01",
		ManufacturerData: beacon.EncodeIBeacon(tableUUID, major, minor, -59),
		RSSI:             &rssi,
	}
}

func waitStarted(t *testing.T, r *MockRadio) {
	t.Helper()
	select {
	case <-r.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("radio scan did not start")
	}
}

func receive(t *testing.T, sub *Subscription) beacon.Advertisement {
	t.Helper()
	select {
	case adv, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription closed: %v", sub.Err())
		}
		return adv
	case <-time.After(2 * time.Second):
		t.Fatal("no advertisement received")
		return beacon.Advertisement{}
	}
}

func TestHubSharesOneScan(t *testing.T) {
	radio := NewMockRadio()
	hub := NewHub(radio)

	first := hub.Subscribe()
	second := hub.Subscribe()
	waitStarted(t, radio)

	radio.Emit(ibeaconAdv(1, 1))
	if got := receive(t, first); got.Address != "C8:0F:10:00:00:01" {
		t.Errorf("first Address = %q", got.Address)
	}
	receive(t, second)

	if total, _ := radio.Scans(); total != 1 {
		t.Errorf("scans started = %d, want 1", total)
	}

	hub.Unsubscribe(first)
	if _, active := radio.Scans(); active != 1 {
		t.Errorf("active scans after first unsubscribe = %d, want 1", active)
	}
	if _, ok := <-first.C(); ok {
		t.Error("unsubscribed channel still open")
	}

	hub.Unsubscribe(second)
	if _, active := radio.Scans(); active != 0 {
		t.Errorf("active scans after last unsubscribe = %d, want 0", active)
	}
	hub.Unsubscribe(second)
}

func TestHubScanFailure(t *testing.T) {
	radio := NewMockRadio()
	hub := NewHub(radio)

	sub := hub.Subscribe()
	waitStarted(t, radio)
	radio.Fail(errors.New("controller reset"))

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("unexpected advertisement")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after scan failure")
	}
	if sub.Err() == nil || sub.Err().Error() != "controller reset" {
		t.Errorf("Err() = %v, want controller reset", sub.Err())
	}
	if n := hub.Subscribers(); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}

	// A new subscriber restarts the radio.
	again := hub.Subscribe()
	radio.Emit(ibeaconAdv(1, 1))
	receive(t, again)
	hub.Unsubscribe(again)
}

func runSession(t *testing.T, d scan.Driver, decoder *beacon.Decoder, list beacon.AllowList) scan.Result {
	t.Helper()
	s := scan.NewSession(scan.Config{
		Driver:  d,
		Decoder: decoder,
		Matcher: beacon.NewMatcher(list),
		Timeout: 2 * time.Second,
	})
	return s.Run(context.Background())
}

func TestIBeaconSession(t *testing.T) {
	radio := NewMockRadio()
	hub := NewHub(radio)

	radio.Emit(ibeaconAdv(1, 2))
	radio.Emit(ibeaconAdv(1, 1))

	list := beacon.AllowList{{Identity: beacon.NewIBeacon(tableUUID, 1, 1), TableID: "12"}}
	res := runSession(t, NewIBeaconDriver(hub), nil, list)
	if res.State != scan.Matched || res.TableID != "12" {
		t.Fatalf("Result = %v %q (err %v), want Matched 12", res.State, res.TableID, res.Err)
	}
	if res.Modality != beacon.ModalityIBeacon {
		t.Errorf("Modality = %v, want %v", res.Modality, beacon.ModalityIBeacon)
	}
	if n := hub.Subscribers(); n != 0 {
		t.Errorf("Subscribers() after session = %d, want 0", n)
	}
	if _, active := radio.Scans(); active != 0 {
		t.Errorf("active scans after session = %d, want 0", active)
	}
}

func TestEddystoneSessionIgnoresIBeacon(t *testing.T) {
	radio := NewMockRadio()
	hub := NewHub(radio)

	var ns [10]byte
	var inst [6]byte
	copy(ns[:], "seatlink01")
	inst[5] = 0x2A

	radio.Emit(ibeaconAdv(1, 1))
	radio.Emit(beacon.Advertisement{
		Address:     "C8:0F:10:00:00:02",
		ServiceData: []beacon.ServiceData{{UUID: beacon.EddystoneServiceUUID, Data: beacon.EncodeEddystoneUID(ns, inst, -20)}},
	})

	list := beacon.AllowList{
		{Identity: beacon.NewIBeacon(tableUUID, 1, 1), TableID: "wrong"},
		{Identity: beacon.NewEddystone(ns, inst)},
	}
	res := runSession(t, NewEddystoneDriver(hub), nil, list)
	if res.State != scan.Matched {
		t.Fatalf("State = %v (err %v), want Matched", res.State, res.Err)
	}
	if want := "00000000002a"; res.TableID != want {
		t.Errorf("TableID = %q, want %q", res.TableID, want)
	}
}

func TestModalitiesShareRadio(t *testing.T) {
	radio := NewMockRadio()
	hub := NewHub(radio)
	leases := scan.NewLeases()
	matcher := beacon.NewMatcher(beacon.AllowList{{Identity: beacon.NewIBeacon(tableUUID, 9, 9)}})

	var sessions []*scan.Session
	for _, d := range []scan.Driver{NewIBeaconDriver(hub), NewEddystoneDriver(hub)} {
		s := scan.NewSession(scan.Config{Driver: d, Leases: leases, Matcher: matcher, Timeout: time.Minute})
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		sessions = append(sessions, s)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Subscribers() = %d, want 2", hub.Subscribers())
		}
		time.Sleep(time.Millisecond)
	}
	if total, _ := radio.Scans(); total != 1 {
		t.Errorf("scans started = %d, want 1", total)
	}

	for _, s := range sessions {
		s.Stop()
	}
	if _, active := radio.Scans(); active != 0 {
		t.Errorf("active scans after stop = %d, want 0", active)
	}
}

func TestGATTReadsOncePerPeripheral(t *testing.T) {
	radio := NewMockRadio()
	hub := NewHub(radio)
	radio.Characteristics["D0:00:00:00:00:07"] = []byte{88}

	table := beacon.NewIBeacon(tableUUID, 1, 7)
	decoder := &beacon.Decoder{Tokens: []beacon.PresenceToken{{Token: "Table-Beacon-7", Identity: table}}}

	adv := beacon.Advertisement{
		Address:   "D0:00:00:00:00:07",
		LocalName: "Table-Beacon-7",
		Services:  []string{"180f"},
	}
	radio.Emit(beacon.Advertisement{Address: "D0:00:00:00:00:01", LocalName: "Headphones"})
	radio.Emit(adv)
	radio.Emit(adv)

	res := runSession(t, NewGATTDriver(hub, radio), decoder, beacon.AllowList{{Identity: table, TableID: "7"}})
	if res.State != scan.Matched || res.TableID != "7" {
		t.Fatalf("Result = %v %q (err %v), want Matched 7", res.State, res.TableID, res.Err)
	}
	if reads := radio.Reads(); len(reads) != 1 || reads[0] != adv.Address {
		t.Errorf("Reads() = %v, want [%s]", reads, adv.Address)
	}
	if n := radio.ReadsWhileScanning(); n != 0 {
		t.Errorf("ReadsWhileScanning() = %d, want 0", n)
	}
}

func TestHubPauseResumesSubscribers(t *testing.T) {
	radio := NewMockRadio()
	hub := NewHub(radio)
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)
	waitStarted(t, radio)

	err := hub.Pause(func() error {
		if _, active := radio.Scans(); active != 0 {
			t.Errorf("active scans during Pause = %d, want 0", active)
		}
		return errors.New("read failed")
	})
	if err == nil || err.Error() != "read failed" {
		t.Errorf("Pause() = %v, want the error of fn", err)
	}

	radio.Emit(ibeaconAdv(1, 2))
	receive(t, sub)
	if total, _ := radio.Scans(); total != 2 {
		t.Errorf("total scans = %d, want 2", total)
	}
}

func TestGATTReadFailureIsSkipped(t *testing.T) {
	radio := NewMockRadio()
	radio.ReadErr = errors.New("connection refused")
	hub := NewHub(radio)
	d := NewGATTDriver(hub, radio)

	radio.Emit(beacon.Advertisement{Address: "D0:00:00:00:00:07", Services: []string{"180f"}})

	s := scan.NewSession(scan.Config{
		Driver:  d,
		Matcher: beacon.NewMatcher(nil),
		Timeout: 50 * time.Millisecond,
	})
	if res := s.Run(context.Background()); res.State != scan.TimedOut {
		t.Errorf("State = %v (err %v), want TimedOut", res.State, res.Err)
	}
}

func TestAcquireErrors(t *testing.T) {
	tests := []struct {
		name            string
		openErr         error
		connector       bool
		wantUnsupported bool
	}{
		{"no adapter", fmt.Errorf("%w: hci0: no such device", ErrUnavailable), true, true},
		{"adapter busy", errors.New("device or resource busy"), true, false},
		{"gatt without connector", nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := NewMockRadio()
			radio.OpenErr = tt.openErr
			hub := NewHub(radio)

			var d scan.Driver = NewIBeaconDriver(hub)
			if !tt.connector {
				d = NewGATTDriver(hub, nil)
			}
			_, err := d.Acquire(context.Background())
			if err == nil {
				t.Fatal("Acquire() error = nil")
			}
			if got := scan.IsUnsupported(err); got != tt.wantUnsupported {
				t.Errorf("IsUnsupported(%v) = %v, want %v", err, got, tt.wantUnsupported)
			}
			if !tt.wantUnsupported && !scan.IsTransport(err) {
				t.Errorf("IsTransport(%v) = false, want true", err)
			}
		})
	}
}

func TestScanFailureMidSession(t *testing.T) {
	radio := NewMockRadio()
	hub := NewHub(radio)

	s := scan.NewSession(scan.Config{
		Driver:  NewIBeaconDriver(hub),
		Matcher: beacon.NewMatcher(nil),
		Timeout: time.Minute,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitStarted(t, radio)
	radio.Fail(errors.New("controller reset"))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	res := s.Result()
	if res.State != scan.Failed || !scan.IsTransport(res.Err) {
		t.Errorf("Result = %v %v, want Failed transport", res.State, res.Err)
	}
}
