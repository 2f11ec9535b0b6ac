package beacon

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func adStruct(typ byte, data ...byte) []byte {
	return append([]byte{byte(len(data) + 1), typ}, data...)
}

func TestParseAdvertisingDataIBeacon(t *testing.T) {
	var raw []byte
	raw = append(raw, adStruct(adFlags, 0x06)...)
	raw = append(raw, adStruct(adManufacturerData, EncodeIBeacon(tableBeaconUUID, 1, 1, -59)...)...)
	raw = append(raw, 0x00, 0x00) // controller padding

	adv, err := ParseAdvertisingData(raw)
	if err != nil {
		t.Fatalf("ParseAdvertisingData() error = %v", err)
	}
	if adv.Flags != 0x06 {
		t.Errorf("Flags = %#x, want 0x06", adv.Flags)
	}

	frames := FramesFromAdvertisement(ModalityIBeacon, adv, time.Unix(0, 0))
	if len(frames) != 1 || frames[0].Kind != FrameManufacturerData {
		t.Fatalf("FramesFromAdvertisement() = %+v, want one manufacturer data frame", frames)
	}
	rec, err := (&Decoder{}).Decode(frames[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if rec.Identity != NewIBeacon(tableBeaconUUID, 1, 1) {
		t.Errorf("Decode() = %v", rec.Identity)
	}
}

func TestParseAdvertisingDataEddystone(t *testing.T) {
	ns := [10]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	inst := [6]byte{0, 0, 0, 0, 0, 9}

	var raw []byte
	raw = append(raw, adStruct(adComplete16, 0xAA, 0xFE, 0x0F, 0x18)...)
	raw = append(raw, adStruct(adServiceData16, append([]byte{0xAA, 0xFE}, EncodeEddystoneUID(ns, inst, -4)...)...)...)
	raw = append(raw, adStruct(adShortName, 'T', '7')...)
	raw = append(raw, adStruct(adCompleteName, 'T', 'a', 'b', 'l', 'e', '7')...)

	adv, err := ParseAdvertisingData(raw)
	if err != nil {
		t.Fatalf("ParseAdvertisingData() error = %v", err)
	}

	wantServices := []string{EddystoneServiceUUID, "0000180f-0000-1000-8000-00805f9b34fb"}
	if diff := cmp.Diff(wantServices, adv.Services); diff != "" {
		t.Errorf("Services mismatch (-want +got):\n%s", diff)
	}
	if adv.LocalName != "Table7" {
		t.Errorf("LocalName = %q, want %q", adv.LocalName, "Table7")
	}

	frames := FramesFromAdvertisement(ModalityEddystone, adv, time.Unix(0, 0))
	if len(frames) != 1 {
		t.Fatalf("FramesFromAdvertisement() returned %d frames, want 1", len(frames))
	}
	rec, err := (&Decoder{}).Decode(frames[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if rec.Identity != NewEddystone(ns, inst) {
		t.Errorf("Decode() = %v", rec.Identity)
	}
}

func TestParseAdvertisingData128BitService(t *testing.T) {
	// 2f234454-cf6d-4a0f-adf2-f4911ba9ffa6, little-endian on air
	le := make([]byte, 16)
	for i := range le {
		le[i] = tableBeaconUUID[15-i]
	}
	adv, err := ParseAdvertisingData(adStruct(adComplete128, le...))
	if err != nil {
		t.Fatalf("ParseAdvertisingData() error = %v", err)
	}
	if len(adv.Services) != 1 || adv.Services[0] != tableBeaconUUID.String() {
		t.Errorf("Services = %v, want [%s]", adv.Services, tableBeaconUUID)
	}
}

func TestParseAdvertisingDataOverrun(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"length past end", []byte{0x05, adFlags, 0x06}},
		{"short service data", adStruct(adServiceData16, 0xAA)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAdvertisingData(tt.raw); err == nil {
				t.Error("ParseAdvertisingData() error = nil, want error")
			}
		})
	}
}

func TestNormalizeServiceUUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"feaa", "0000feaa-0000-1000-8000-00805f9b34fb"},
		{"0xFEAA", "0000feaa-0000-1000-8000-00805f9b34fb"},
		{"0000FEAA", "0000feaa-0000-1000-8000-00805f9b34fb"},
		{"0000FEAA-0000-1000-8000-00805F9B34FB", "0000feaa-0000-1000-8000-00805f9b34fb"},
		{"battery_service", "battery_service"},
		{" Table-7 ", "table-7"},
	}
	for _, tt := range tests {
		if got := NormalizeServiceUUID(tt.in); got != tt.want {
			t.Errorf("NormalizeServiceUUID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFramesFromAdvertisementForeignManufacturer(t *testing.T) {
	adv := Advertisement{ManufacturerData: []byte{0x06, 0x00, 0x01, 0x09}}
	frames := FramesFromAdvertisement(ModalityIBeacon, adv, time.Now())
	_, err := (&Decoder{}).Decode(frames[0])
	if !errors.Is(err, ErrUnsupportedFrameType) {
		t.Errorf("Decode() error = %v, want ErrUnsupportedFrameType", err)
	}
}
