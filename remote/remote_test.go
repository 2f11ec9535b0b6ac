package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
	"github.com/dotside-studios/seatlink-agent/protocol"
	"github.com/dotside-studios/seatlink-agent/scan"
)

func init() {
	SetLogger(nil)
	scan.SetLogger(nil)
}

var tableUUID = uuid.MustParse("2f234454-cf6d-4a0f-adf2-f4911ba9ffa6")

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(time.Minute)
	t.Cleanup(m.Close)
	return m
}

func register(t *testing.T, m *Manager, perms map[string]string, modalities ...string) (*Device, *MockConn) {
	t.Helper()
	conn := NewMockConn()
	d, err := m.Register(conn, protocol.RegisterRequest{
		DeviceName:  "Counter tablet",
		Platform:    "web",
		Modalities:  modalities,
		Permissions: perms,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return d, conn
}

// waitStart returns the session id of the next startScan sent on conn.
func waitStart(t *testing.T, conn *MockConn) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, msg := range conn.Sent() {
			if msg.Type != protocol.TypeStartScan {
				continue
			}
			var p protocol.StartScanPayload
			if err := msg.Decode(&p); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			return p.SessionID
		}
		select {
		case <-conn.Written():
		case <-deadline:
			t.Fatal("no startScan sent")
		}
	}
}

func send(t *testing.T, m *Manager, d *Device, typ string, payload interface{}) {
	t.Helper()
	msg, err := protocol.NewMessage(typ, payload)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if err := m.HandleMessage(d, msg); err != nil {
		t.Fatalf("HandleMessage(%s) error = %v", typ, err)
	}
}

// startSession scans with d on behalf of the guest owning dev.
func startSession(t *testing.T, dev *Device, d scan.Driver, list beacon.AllowList, opts ...beacon.MatcherOption) *scan.Session {
	t.Helper()
	s := scan.NewSession(scan.Config{
		Driver:  d,
		Matcher: beacon.NewMatcher(list, opts...),
		Timeout: 2 * time.Second,
	})
	if err := s.Start(scan.WithDevice(context.Background(), dev.ID)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return s
}

func wait(t *testing.T, s *scan.Session) scan.Result {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
	}
	return s.Result()
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     protocol.RegisterRequest
		wantErr bool
	}{
		{"valid", protocol.RegisterRequest{DeviceName: "Tablet", Platform: "android", Modalities: []string{"nfc"}}, false},
		{"missing name", protocol.RegisterRequest{Platform: "android", Modalities: []string{"nfc"}}, true},
		{"bad platform", protocol.RegisterRequest{DeviceName: "Tablet", Platform: "symbian", Modalities: []string{"nfc"}}, true},
		{"no modalities", protocol.RegisterRequest{DeviceName: "Tablet", Platform: "ios"}, true},
		{"unknown modality", protocol.RegisterRequest{DeviceName: "Tablet", Platform: "ios", Modalities: []string{"uwb"}}, true},
		{"bad permission state", protocol.RegisterRequest{DeviceName: "Tablet", Platform: "web", Modalities: []string{"gatt"},
			Permissions: map[string]string{"bluetooth": "maybe"}}, true},
		{"unknown capability", protocol.RegisterRequest{DeviceName: "Tablet", Platform: "web", Modalities: []string{"gatt"},
			Permissions: map[string]string{"camera": "granted"}}, true},
	}
	m := newTestManager(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := m.Register(NewMockConn(), tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if _, ok := m.Device(d.ID); !ok {
					t.Errorf("Device(%s) not found after Register", d.ID)
				}
			}
		})
	}
}

func TestRemoteIBeaconSession(t *testing.T) {
	m := newTestManager(t)
	d, conn := register(t, m, nil, "ble-ibeacon")

	s := startSession(t, d, NewDriver(m, beacon.ModalityIBeacon, nil, permission.Bluetooth),
		beacon.AllowList{{Identity: beacon.NewIBeacon(tableUUID, 1, 1), TableID: "12"}})
	sessionID := waitStart(t, conn)

	frame := func(minor uint16) protocol.FramePayload {
		rssi := -58
		return protocol.FramePayload{
			SessionID: sessionID,
			Modality:  "ble-ibeacon",
			Advertisement: &protocol.AdvertisementPayload{
				Address: "C8:0F:10:00:00:01",
				ManufacturerData: []protocol.ManufacturerDataPayload{
					{CompanyID: 0x0059, Data: []byte{0x01, 0x02}},
					{CompanyID: beacon.AppleCompanyID, Data: beacon.EncodeIBeacon(tableUUID, 1, minor, -59)[2:]},
				},
				RSSI: &rssi,
			},
		}
	}
	send(t, m, d, protocol.TypeFrame, frame(2))
	send(t, m, d, protocol.TypeFrame, frame(1))

	res := wait(t, s)
	if res.State != scan.Matched || res.TableID != "12" {
		t.Fatalf("Result = %v %q (err %v), want Matched 12", res.State, res.TableID, res.Err)
	}

	var stopped bool
	for _, msg := range conn.Sent() {
		if msg.Type == protocol.TypeStopScan {
			var p protocol.StopScanPayload
			if err := msg.Decode(&p); err != nil || p.SessionID != sessionID {
				t.Errorf("stopScan payload = %+v, %v", p, err)
			}
			stopped = true
		}
	}
	if !stopped {
		t.Error("stopScan not sent")
	}
	if n := d.Scans(); n != 0 {
		t.Errorf("Scans() = %d, want 0", n)
	}

	// Late frames for a finished scan are ignored.
	send(t, m, d, protocol.TypeFrame, frame(1))
}

func TestRemoteNDEFRecords(t *testing.T) {
	m := newTestManager(t)
	d, conn := register(t, m, map[string]string{"nfc": "granted"}, "nfc")

	s := startSession(t, d, NewDriver(m, beacon.ModalityNFC, nil, permission.NFC), nil, beacon.WithTagText(true))
	sessionID := waitStart(t, conn)

	send(t, m, d, protocol.TypeFrame, protocol.FramePayload{
		SessionID: sessionID,
		Modality:  "nfc",
		NDEF: &protocol.NDEFPayload{
			UID: "04:A2:2B:9C:31:5E:80",
			Records: []protocol.NDEFRecordInput{
				{RecordType: "url", Content: "https://example.com/menu"},
				{RecordType: "text", Content: "TableName=7"},
			},
		},
	})

	res := wait(t, s)
	if res.State != scan.Matched || res.TableID != "7" {
		t.Fatalf("Result = %v %q (err %v), want Matched 7", res.State, res.TableID, res.Err)
	}
	uid, _ := beacon.ParseUID("04A22B9C315E80")
	if res.Identity != beacon.NewNFCTag(uid) {
		t.Errorf("Identity = %v, want nfc tag", res.Identity)
	}
}

func TestRemoteScanErrors(t *testing.T) {
	tests := []struct {
		code            string
		wantUnsupported bool
		wantDenied      bool
	}{
		{protocol.ScanErrUnsupported, true, false},
		{protocol.ScanErrPermissionDenied, false, true},
		{protocol.ScanErrTransport, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			m := newTestManager(t)
			d, conn := register(t, m, nil, "ble-eddystone")

			s := startSession(t, d, NewDriver(m, beacon.ModalityEddystone, nil), nil)
			sessionID := waitStart(t, conn)
			send(t, m, d, protocol.TypeScanError, protocol.ScanErrorPayload{
				SessionID: sessionID, Code: tt.code, Message: "adapter said no",
			})

			res := wait(t, s)
			if res.State != scan.Failed || !scan.IsTransport(res.Err) {
				t.Fatalf("Result = %v %v, want Failed transport", res.State, res.Err)
			}
			if got := scan.IsUnsupported(res.Err); got != tt.wantUnsupported {
				t.Errorf("IsUnsupported(%v) = %v, want %v", res.Err, got, tt.wantUnsupported)
			}
			if got := errors.Is(res.Err, permission.ErrDenied); got != tt.wantDenied {
				t.Errorf("errors.Is(%v, ErrDenied) = %v, want %v", res.Err, got, tt.wantDenied)
			}
		})
	}
}

func TestDisconnectFailsScan(t *testing.T) {
	m := newTestManager(t)
	d, conn := register(t, m, nil, "gatt")

	s := startSession(t, d, NewDriver(m, beacon.ModalityGATT, nil), nil)
	waitStart(t, conn)
	if err := m.Unregister(d.ID); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}

	res := wait(t, s)
	if res.State != scan.Failed || !errors.Is(res.Err, ErrDeviceGone) {
		t.Errorf("Result = %v %v, want Failed with ErrDeviceGone", res.State, res.Err)
	}
	if !conn.Closed() {
		t.Error("connection not closed")
	}
	if err := m.Unregister(d.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Unregister() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDriverSelection(t *testing.T) {
	m := newTestManager(t)
	local := scan.NewMockDriver(beacon.ModalityIBeacon, permission.Bluetooth, permission.Geolocation)
	d := NewDriver(m, beacon.ModalityIBeacon, local, permission.Bluetooth)
	ctx := context.Background()

	if got := d.CapabilitiesFor(ctx); len(got) != 2 {
		t.Errorf("CapabilitiesFor() without device = %v, want local capabilities", got)
	}
	h, err := d.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	h.Close()
	if local.Acquired() != 1 {
		t.Errorf("fallback Acquired() = %d, want 1", local.Acquired())
	}

	// A device that denied Bluetooth is passed over.
	refusing, _ := register(t, m, map[string]string{"bluetooth": "denied"}, "ble-ibeacon")
	if dev := m.Pick(refusing.ID, beacon.ModalityIBeacon, permission.Bluetooth); dev != nil {
		t.Errorf("Pick() = %v, want nil", dev)
	}

	remote, _ := register(t, m, map[string]string{"bluetooth": "granted"}, "ble-ibeacon")
	if dev := m.Pick(remote.ID, beacon.ModalityIBeacon, permission.Bluetooth); dev != remote {
		t.Errorf("Pick() = %v, want %v", dev, remote)
	}
	if dev := m.Pick("", beacon.ModalityIBeacon); dev != nil {
		t.Errorf("Pick() without id = %v, want nil", dev)
	}

	// Unbound requests never reach a phone.
	if got := d.CapabilitiesFor(ctx); len(got) != 2 {
		t.Errorf("CapabilitiesFor() of unbound request = %v, want local capabilities", got)
	}
	if got := d.HardwareKey(ctx); got != "" {
		t.Errorf("HardwareKey() of unbound request = %q, want local", got)
	}

	bound := scan.WithDevice(ctx, remote.ID)
	if got := d.CapabilitiesFor(bound); len(got) != 0 {
		t.Errorf("CapabilitiesFor() with device = %v, want none", got)
	}
	if got, want := d.HardwareKey(bound), "remote:"+remote.ID; got != want {
		t.Errorf("HardwareKey() = %q, want %q", got, want)
	}
	h, err = d.Acquire(bound)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if src, ok := h.(*source); !ok || src.dev != remote {
		t.Errorf("Acquire() = %T, want source on the bound device", h)
	}
	if local.Acquired() != 1 {
		t.Errorf("fallback Acquired() = %d, want 1", local.Acquired())
	}

	none := NewDriver(m, beacon.ModalityNFC, nil)
	if _, err := none.Acquire(bound); !scan.IsUnsupported(err) {
		t.Errorf("Acquire() without capable device or fallback error = %v, want unsupported", err)
	}
}

func TestGuestsScanOnTheirOwnPhones(t *testing.T) {
	m := newTestManager(t)
	a, connA := register(t, m, nil, "ble-ibeacon")
	b, connB := register(t, m, nil, "ble-ibeacon")
	d := NewDriver(m, beacon.ModalityIBeacon, nil, permission.Bluetooth)
	leases := scan.NewLeases()
	list := beacon.AllowList{
		{Identity: beacon.NewIBeacon(tableUUID, 1, 1), TableID: "1"},
		{Identity: beacon.NewIBeacon(tableUUID, 1, 2), TableID: "2"},
	}

	start := func(dev *Device) *scan.Session {
		s := scan.NewSession(scan.Config{Driver: d, Leases: leases, Matcher: beacon.NewMatcher(list), Timeout: 2 * time.Second})
		if err := s.Start(scan.WithDevice(context.Background(), dev.ID)); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		return s
	}
	sa := start(a)
	sb := start(b)
	idA := waitStart(t, connA)
	idB := waitStart(t, connB)

	frame := func(sessionID string, minor uint16) protocol.FramePayload {
		return protocol.FramePayload{
			SessionID: sessionID,
			Modality:  "ble-ibeacon",
			Advertisement: &protocol.AdvertisementPayload{
				ManufacturerData: []protocol.ManufacturerDataPayload{
					{CompanyID: beacon.AppleCompanyID, Data: beacon.EncodeIBeacon(tableUUID, 1, minor, -59)[2:]},
				},
			},
		}
	}
	send(t, m, b, protocol.TypeFrame, frame(idB, 2))
	send(t, m, a, protocol.TypeFrame, frame(idA, 1))

	if res := wait(t, sa); res.State != scan.Matched || res.TableID != "1" {
		t.Errorf("guest A = %v %q (err %v), want table 1", res.State, res.TableID, res.Err)
	}
	if res := wait(t, sb); res.State != scan.Matched || res.TableID != "2" {
		t.Errorf("guest B = %v %q (err %v), want table 2", res.State, res.TableID, res.Err)
	}

	// Frames from one phone never reach the other guest's scan.
	for _, c := range []struct {
		conn *MockConn
		want string
	}{{connA, idA}, {connB, idB}} {
		for _, msg := range c.conn.Sent() {
			if msg.Type != protocol.TypeStartScan {
				continue
			}
			var p protocol.StartScanPayload
			if err := msg.Decode(&p); err != nil || p.SessionID != c.want {
				t.Errorf("startScan = %+v, want session %s", p, c.want)
			}
		}
	}
}

func TestFallbackRechecksPermissions(t *testing.T) {
	m := newTestManager(t)
	local := scan.NewMockDriver(beacon.ModalityIBeacon, permission.Bluetooth)
	d := NewDriver(m, beacon.ModalityIBeacon, local, permission.Bluetooth)
	d.Gate = permission.NewGate(permission.Static{Default: permission.Denied})

	gone, _ := register(t, m, nil, "ble-ibeacon")
	bound := scan.WithDevice(context.Background(), gone.ID)
	if got := d.CapabilitiesFor(bound); len(got) != 0 {
		t.Fatalf("CapabilitiesFor() = %v, want none while the device is connected", got)
	}
	if err := m.Unregister(gone.ID); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}

	_, err := d.Acquire(bound)
	if !errors.Is(err, scan.ErrPermissionDenied) {
		t.Errorf("Acquire() error = %v, want ErrPermissionDenied", err)
	}
	if local.Acquired() != 0 {
		t.Errorf("fallback Acquired() = %d, want 0", local.Acquired())
	}
}

func TestPermissionsUpdate(t *testing.T) {
	m := newTestManager(t)
	d, _ := register(t, m, map[string]string{"bluetooth": "prompt"}, "gatt")

	if got := d.Permission(permission.Bluetooth); got != permission.Prompt {
		t.Errorf("Permission(bluetooth) = %v, want prompt", got)
	}
	if got := d.Permission(permission.Geolocation); got != permission.Granted {
		t.Errorf("Permission(geolocation) = %v, want granted", got)
	}
	send(t, m, d, protocol.TypePermissions, protocol.PermissionsPayload{Permissions: map[string]string{"bluetooth": "denied"}})
	if got := d.Permission(permission.Bluetooth); got != permission.Denied {
		t.Errorf("Permission(bluetooth) = %v, want denied", got)
	}

	msg, _ := protocol.NewMessage("tagData", nil)
	if err := m.HandleMessage(d, msg); err == nil {
		t.Error("HandleMessage(unknown type) error = nil")
	}
}

func TestCleanupInactiveDevices(t *testing.T) {
	m := newTestManager(t)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	stale, staleConn := register(t, m, nil, "nfc")
	now = now.Add(50 * time.Second)
	fresh, _ := register(t, m, nil, "nfc")
	send(t, m, fresh, protocol.TypeHeartbeat, protocol.HeartbeatPayload{Timestamp: now})

	now = now.Add(30 * time.Second)
	m.cleanupInactiveDevices()

	if _, ok := m.Device(stale.ID); ok {
		t.Error("stale device still registered")
	}
	if !staleConn.Closed() {
		t.Error("stale connection not closed")
	}
	if _, ok := m.Device(fresh.ID); !ok {
		t.Error("fresh device removed")
	}
	if got := m.Devices(); len(got) != 1 || got[0] != fresh {
		t.Errorf("Devices() = %v, want [%v]", got, fresh)
	}
}

func TestFramesFromPayload(t *testing.T) {
	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	tnf := uint8(0x09)

	tests := []struct {
		name      string
		payload   protocol.FramePayload
		wantKinds []beacon.FrameKind
		wantErr   bool
	}{
		{"empty", protocol.FramePayload{}, nil, true},
		{"eddystone service data", protocol.FramePayload{Advertisement: &protocol.AdvertisementPayload{
			ServiceData: []protocol.ServiceDataPayload{{UUID: "FEAA", Data: []byte{0x00}}},
		}}, []beacon.FrameKind{beacon.FrameServiceData}, false},
		{"characteristic", protocol.FramePayload{Characteristic: &protocol.CharacteristicPayload{
			ServiceUUID: "battery_service", Value: []byte{88},
		}}, []beacon.FrameKind{beacon.FrameCharacteristic}, false},
		{"characteristic without service", protocol.FramePayload{Characteristic: &protocol.CharacteristicPayload{}}, nil, true},
		{"ndef bad uid", protocol.FramePayload{NDEF: &protocol.NDEFPayload{UID: "zz"}}, nil, true},
		{"ndef bad tnf", protocol.FramePayload{NDEF: &protocol.NDEFPayload{UID: "04AB", Records: []protocol.NDEFRecordInput{{TNF: &tnf}}}}, nil, true},
		{"ndef mime without type", protocol.FramePayload{NDEF: &protocol.NDEFPayload{UID: "04AB", Records: []protocol.NDEFRecordInput{{RecordType: "mime"}}}}, nil, true},
		{"ndef raw", protocol.FramePayload{NDEF: &protocol.NDEFPayload{UID: "04AB", Message: []byte{0xD1, 0x01, 0x00, 'T'}}},
			[]beacon.FrameKind{beacon.FrameNDEF}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := framesFromPayload(beacon.ModalityGATT, tt.payload, at)
			if (err != nil) != tt.wantErr {
				t.Fatalf("framesFromPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(frames) != len(tt.wantKinds) {
				t.Fatalf("len(frames) = %d, want %d", len(frames), len(tt.wantKinds))
			}
			for i, f := range frames {
				if f.Kind != tt.wantKinds[i] {
					t.Errorf("frame %d Kind = %v, want %v", i, f.Kind, tt.wantKinds[i])
				}
				if !f.ReceivedAt.Equal(at) {
					t.Errorf("frame %d ReceivedAt = %v, want %v", i, f.ReceivedAt, at)
				}
			}
		})
	}
}
