package nfc

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"

	"github.com/dotside-studios/seatlink-agent/ndef"
)

// LibNFC opens readers through libnfc.
type LibNFC struct{}

// OpenDevice opens a reader by libnfc connection string; "" picks the first one.
func (LibNFC) OpenDevice(connstring string) (Device, error) {
	dev, err := nfc.Open(connstring)
	if err != nil {
		return nil, err
	}
	return &libnfcDevice{device: dev}, nil
}

func (LibNFC) ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(DeviceEnumDelay)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", DeviceEnumRetries, err)
}

type libnfcDevice struct {
	device nfc.Device
}

func (d *libnfcDevice) Close() error         { return d.device.Close() }
func (d *libnfcDevice) InitiatorInit() error { return d.device.InitiatorInit() }
func (d *libnfcDevice) String() string       { return d.device.String() }
func (d *libnfcDevice) Connection() string   { return d.device.Connection() }

// GetTags asks freefare for the tags it knows, then lists ISO14443A targets
// to pick up Type 4 tags freefare skipped. Only Ultralight family tags have
// their NDEF area read; the others are reported by UID alone.
func (d *libnfcDevice) GetTags() ([]Tag, error) {
	var found []Tag
	seen := make(map[string]bool)

	ffTags, err := freefare.GetTags(d.device)
	if err != nil {
		Logf("[nfc] freefare.GetTags: %v", err)
	}
	for _, ffTag := range ffTags {
		uid := strings.ToUpper(ffTag.UID())
		if seen[uid] {
			continue
		}
		seen[uid] = true
		switch t := ffTag.(type) {
		case freefare.UltralightTag:
			found = append(found, &ultralightTag{tag: t, uid: uid})
		case freefare.ClassicTag:
			found = append(found, &uidTag{uid: uid, kind: "MIFARE Classic"})
		case freefare.DESFireTag:
			found = append(found, &uidTag{uid: uid, kind: "MIFARE DESFire"})
		default:
			found = append(found, &uidTag{uid: uid, kind: fmt.Sprintf("%T", t)})
		}
	}

	modulation := nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}
	targets, listErr := d.device.InitiatorListPassiveTargets(modulation)
	if listErr != nil {
		if err != nil && len(found) == 0 {
			return nil, NewDeviceError("GetTags", fmt.Errorf("freefare (%v) and passive targets (%w)", err, listErr))
		}
		Logf("[nfc] listing passive targets: %v", listErr)
		return found, nil
	}
	for _, target := range targets {
		isoA, ok := target.(*nfc.ISO14443aTarget)
		if !ok || isoA.UIDLen == 0 || int(isoA.UIDLen) > len(isoA.UID) {
			continue
		}
		uid := strings.ToUpper(hex.EncodeToString(isoA.UID[:isoA.UIDLen]))
		if seen[uid] {
			continue
		}
		seen[uid] = true
		if isoA.Sak&0x20 != 0 {
			found = append(found, &uidTag{uid: uid, kind: "ISO14443-4A"})
		}
	}
	return found, nil
}

// uidTag is a tag whose memory is not read.
type uidTag struct {
	uid  string
	kind string
}

func (t *uidTag) UID() string               { return t.uid }
func (t *uidTag) Type() string              { return t.kind }
func (t *uidTag) ReadNDEF() ([]byte, error) { return nil, nil }

type ultralightTag struct {
	tag freefare.UltralightTag
	uid string
}

func (t *ultralightTag) UID() string { return t.uid }

func (t *ultralightTag) Type() string {
	if t.tag.Type() == freefare.UltralightC {
		return "MIFARE Ultralight C"
	}
	return "MIFARE Ultralight"
}

// ReadNDEF reads data pages until the NDEF message TLV is complete or the tag
// stops answering. NTAG21x tags report as plain Ultralight, so the page limit
// is the largest NTAG rather than the 16 pages of the original Ultralight.
func (t *ultralightTag) ReadNDEF() ([]byte, error) {
	if err := t.tag.Connect(); err != nil {
		return nil, NewTagRemovedError("ReadNDEF", t.uid, err)
	}
	defer t.tag.Disconnect()

	maxPages := 231
	if t.tag.Type() == freefare.UltralightC {
		maxPages = 48
	}

	var data []byte
	for page := firstDataPage; page < maxPages; page++ {
		buf, err := t.tag.ReadPage(byte(page))
		if err != nil {
			if page == firstDataPage {
				return nil, NewReadError("ReadNDEF", t.uid, err)
			}
			break
		}
		data = append(data, buf[:]...)
		if msg, ok := ndef.FindMessage(data); ok {
			return msg, nil
		}
	}
	return nil, nil
}
