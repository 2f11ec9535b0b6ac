package permission

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// Static answers from a fixed table. Capabilities missing from the table get
// Default.
type Static struct {
	States  map[Capability]State
	Default State
}

// Query returns the configured state for c, or Default when c is not listed.
func (s Static) Query(_ context.Context, c Capability) (State, error) {
	if st, ok := s.States[c]; ok {
		return st, nil
	}
	return s.Default, nil
}

// Multi combines queriers; the most restrictive answer wins and the first
// error is returned.
type Multi []Querier

// Query asks every querier. Nil entries are skipped.
func (m Multi) Query(ctx context.Context, c Capability) (State, error) {
	result := Granted
	for _, q := range m {
		if q == nil {
			continue
		}
		st, err := q.Query(ctx, c)
		if err != nil {
			return Denied, err
		}
		if st > result {
			result = st
		}
	}
	return result, nil
}

// DefaultRfkillRoot is where Linux exposes radio kill switches.
const DefaultRfkillRoot = "/sys/class/rfkill"

// Rfkill reads Linux rfkill state. Bluetooth is denied when every bluetooth
// radio is soft or hard blocked and Prompt when there is no bluetooth radio
// at all. Location and NFC have no kill switch and are always granted.
type Rfkill struct {
	FS fs.FS
}

// NewRfkill reads from the live /sys tree.
func NewRfkill() *Rfkill {
	return &Rfkill{FS: os.DirFS(DefaultRfkillRoot)}
}

// Query reports Denied when every bluetooth radio is soft or hard blocked and
// Prompt when there is none. Other capabilities are always granted.
func (r *Rfkill) Query(_ context.Context, c Capability) (State, error) {
	if c != Bluetooth {
		return Granted, nil
	}

	entries, err := fs.ReadDir(r.FS, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Prompt, nil
		}
		return Denied, fmt.Errorf("read rfkill: %w", err)
	}

	radios, blocked := 0, 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "rfkill") {
			continue
		}
		typ, err := readTrimmed(r.FS, path.Join(e.Name(), "type"))
		if err != nil || typ != "bluetooth" {
			continue
		}
		radios++

		soft, err := readTrimmed(r.FS, path.Join(e.Name(), "soft"))
		if err != nil {
			return Denied, fmt.Errorf("read rfkill %s: %w", e.Name(), err)
		}
		hard, err := readTrimmed(r.FS, path.Join(e.Name(), "hard"))
		if err != nil {
			return Denied, fmt.Errorf("read rfkill %s: %w", e.Name(), err)
		}
		if soft == "1" || hard == "1" {
			blocked++
		}
	}

	switch {
	case radios == 0:
		return Prompt, nil
	case blocked == radios:
		return Denied, nil
	default:
		return Granted, nil
	}
}

func readTrimmed(fsys fs.FS, name string) (string, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
