package bluetooth

import (
	"strings"

	goble "github.com/go-ble/ble"

	"github.com/dotside-studios/seatlink-agent/beacon"
)

const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// gobleUUID converts a service or characteristic UUID to the form go-ble
// compares against during discovery. Peripherals report SIG-assigned UUIDs in
// their 16-bit form and go-ble matches byte for byte, so UUIDs derived from
// the Bluetooth base UUID are shortened.
func gobleUUID(s string) (goble.UUID, error) {
	n := beacon.NormalizeServiceUUID(s)
	if len(n) == 36 && strings.HasPrefix(n, "0000") && strings.HasSuffix(n, baseUUIDSuffix) {
		return goble.Parse(n[4:8])
	}
	return goble.Parse(n)
}
