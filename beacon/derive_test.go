package beacon

import "testing"

func TestExprDeriver(t *testing.T) {
	ns := [10]byte{0xED, 0xD1, 0xEB, 0xEA, 0xC0, 0x4E, 0x5D, 0xEF, 0xA0, 0x17}
	inst := [6]byte{0, 0, 0, 0, 0, 0x21}

	tests := []struct {
		name string
		expr string
		rec  Record
		want string
	}{
		{"prefix minor", `"T" + string(minor)`, Record{Identity: NewIBeacon(tableBeaconUUID, 3, 14)}, "T14"},
		{"major and minor", `string(major * 100 + minor)`, Record{Identity: NewIBeacon(tableBeaconUUID, 3, 14)}, "314"},
		{"kind switch", `kind == "eddystone" ? instance[10:] : string(minor)`, Record{Identity: NewEddystone(ns, inst)}, "21"},
		{"numeric result", `minor`, Record{Identity: NewIBeacon(tableBeaconUUID, 0, 8)}, "8"},
		{"uid upper", `upper(uid)`, Record{Identity: NewNFCTag([]byte{0xab, 0xcd, 0x01, 0x02})}, "ABCD0102"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewExprDeriver(tt.expr)
			if err != nil {
				t.Fatalf("NewExprDeriver(%q) error = %v", tt.expr, err)
			}
			got, err := d.Derive(tt.rec)
			if err != nil {
				t.Fatalf("Derive() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Derive() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExprDeriverErrors(t *testing.T) {
	if _, err := NewExprDeriver("  "); err == nil {
		t.Error("NewExprDeriver(blank) error = nil, want error")
	}
	if _, err := NewExprDeriver("minor +"); err == nil {
		t.Error("NewExprDeriver(syntax error) error = nil, want error")
	}

	d, err := NewExprDeriver(`hint`)
	if err != nil {
		t.Fatalf("NewExprDeriver() error = %v", err)
	}
	if _, err := d.Derive(Record{Identity: NewIBeacon(tableBeaconUUID, 1, 1)}); err == nil {
		t.Error("Derive() of empty result error = nil, want error")
	}
}
