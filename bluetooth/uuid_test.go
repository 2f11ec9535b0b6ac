package bluetooth

import (
	"testing"

	goble "github.com/go-ble/ble"
)

func TestGobleUUIDMatchesDiscoveredForm(t *testing.T) {
	tests := []struct {
		in   string
		peer goble.UUID
	}{
		{BatteryService, goble.UUID16(0x180f)},
		{BatteryLevel, goble.UUID16(0x2a19)},
		{"180F", goble.UUID16(0x180f)},
		{"0x2A19", goble.UUID16(0x2a19)},
		{"6e400001-b5a3-f393-e0a9-e50e24dcca9e", goble.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := gobleUUID(tt.in)
			if err != nil {
				t.Fatalf("gobleUUID(%q) error = %v", tt.in, err)
			}
			if !goble.Contains([]goble.UUID{u}, tt.peer) {
				t.Errorf("gobleUUID(%q) = %s, want it to match %s", tt.in, u, tt.peer)
			}
		})
	}
}

func TestGobleUUIDRejectsGarbage(t *testing.T) {
	if _, err := gobleUUID("not-a-uuid"); err == nil {
		t.Error("gobleUUID(\"not-a-uuid\") error = nil, want error")
	}
}
