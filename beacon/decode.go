package beacon

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/dotside-studios/seatlink-agent/ndef"
)

// Apple's Bluetooth SIG company identifier.
const AppleCompanyID = 0x004C

const (
	iBeaconType       = 0x02
	iBeaconBodyLength = 0x15 // bytes following the length byte
	iBeaconFrameSize  = 2 + 2 + iBeaconBodyLength
)

// Eddystone frame types (first byte of the service data).
const (
	EddystoneUID = 0x00
	EddystoneURL = 0x10
	EddystoneTLM = 0x20
	EddystoneEID = 0x30
)

// EddystoneServiceUUID is the 16-bit service UUID Eddystone frames are
// published under, in normalized form.
var EddystoneServiceUUID = NormalizeServiceUUID("feaa")

var tableNamePattern = regexp.MustCompile(`TableName=(\d+)`)

// PresenceToken ties a device name or service UUID seen during a GATT read to
// the identity it stands for.
type PresenceToken struct {
	Token    string
	Identity Identity
}

// Decoder turns RawFrames into Records. The zero value decodes advertisement
// and NFC frames; GATT frames need Tokens.
type Decoder struct {
	Tokens []PresenceToken
}

// Decode dispatches on the frame kind. It never panics and never returns a
// partially filled Record alongside an error.
func (d *Decoder) Decode(f RawFrame) (Record, error) {
	var (
		rec Record
		err error
	)
	switch f.Kind {
	case FrameManufacturerData:
		rec, err = DecodeIBeacon(f.Payload)
	case FrameServiceData:
		rec, err = DecodeEddystone(f.ServiceUUID, f.Payload)
	case FrameCharacteristic:
		rec, err = d.decodeCharacteristic(f)
	case FrameNDEF:
		rec, err = DecodeNDEF(f.TagUID, f.Payload)
	default:
		return Record{}, unsupported(f.Kind, fmt.Sprintf("frame kind %d", int(f.Kind)))
	}
	if err != nil {
		return Record{}, err
	}
	if f.RSSI != nil {
		rssi := *f.RSSI
		rec.SignalStrength = &rssi
	}
	return rec, nil
}

// DecodeIBeacon decodes manufacturer-specific data that starts with the
// company identifier in Bluetooth byte order (0x4C 0x00 for Apple).
//
// Layout after the company identifier:
//
//	[0]      type 0x02
//	[1]      length 0x15
//	[2:18]   proximity UUID
//	[18:20]  major, big-endian
//	[20:22]  minor, big-endian
//	[22]     measured power
func DecodeIBeacon(payload []byte) (Record, error) {
	if len(payload) < 2 {
		return Record{}, malformed(FrameManufacturerData, "missing company identifier")
	}
	company := binary.LittleEndian.Uint16(payload[0:2])
	if company != AppleCompanyID {
		return Record{}, unsupported(FrameManufacturerData, fmt.Sprintf("company 0x%04X", company))
	}

	body := payload[2:]
	if len(body) < 2 {
		return Record{}, malformed(FrameManufacturerData, "truncated iBeacon prefix")
	}
	if body[0] != iBeaconType {
		return Record{}, unsupported(FrameManufacturerData, fmt.Sprintf("apple type 0x%02X", body[0]))
	}
	if body[1] != iBeaconBodyLength {
		return Record{}, malformed(FrameManufacturerData, fmt.Sprintf("length byte 0x%02X", body[1]))
	}
	if len(body) != 2+iBeaconBodyLength {
		return Record{}, malformed(FrameManufacturerData, fmt.Sprintf("body is %d bytes, want %d", len(body), 2+iBeaconBodyLength))
	}

	var id uuid.UUID
	copy(id[:], body[2:18])
	major := binary.BigEndian.Uint16(body[18:20])
	minor := binary.BigEndian.Uint16(body[20:22])
	return Record{Identity: NewIBeacon(id, major, minor)}, nil
}

// EncodeIBeacon builds the manufacturer data DecodeIBeacon accepts.
func EncodeIBeacon(id uuid.UUID, major, minor uint16, measuredPower int8) []byte {
	out := make([]byte, iBeaconFrameSize)
	binary.LittleEndian.PutUint16(out[0:2], AppleCompanyID)
	out[2] = iBeaconType
	out[3] = iBeaconBodyLength
	copy(out[4:20], id[:])
	binary.BigEndian.PutUint16(out[20:22], major)
	binary.BigEndian.PutUint16(out[22:24], minor)
	out[24] = byte(measuredPower)
	return out
}

// DecodeEddystone decodes Eddystone service data. Only UID frames produce a
// record; UID frames are 18 bytes, or 20 with the reserved trailer.
func DecodeEddystone(serviceUUID string, payload []byte) (Record, error) {
	if NormalizeServiceUUID(serviceUUID) != EddystoneServiceUUID {
		return Record{}, unsupported(FrameServiceData, "service "+serviceUUID)
	}
	if len(payload) == 0 {
		return Record{}, malformed(FrameServiceData, "empty Eddystone frame")
	}

	switch payload[0] {
	case EddystoneUID:
	case EddystoneURL, EddystoneTLM, EddystoneEID:
		return Record{}, unsupported(FrameServiceData, fmt.Sprintf("Eddystone frame type 0x%02X", payload[0]))
	default:
		return Record{}, unsupported(FrameServiceData, fmt.Sprintf("unknown Eddystone frame type 0x%02X", payload[0]))
	}

	if len(payload) != 18 && len(payload) != 20 {
		return Record{}, malformed(FrameServiceData, fmt.Sprintf("UID frame is %d bytes", len(payload)))
	}

	var namespace [10]byte
	var instance [6]byte
	copy(namespace[:], payload[2:12])
	copy(instance[:], payload[12:18])
	return Record{Identity: NewEddystone(namespace, instance)}, nil
}

// EncodeEddystoneUID builds an 18-byte UID frame.
func EncodeEddystoneUID(namespace [10]byte, instance [6]byte, txPower int8) []byte {
	out := make([]byte, 18)
	out[0] = EddystoneUID
	out[1] = byte(txPower)
	copy(out[2:12], namespace[:])
	copy(out[12:18], instance[:])
	return out
}

// decodeCharacteristic handles a battery level read used as a presence check.
// The device must present a configured token as its exact local name or as one
// of its service UUIDs.
func (d *Decoder) decodeCharacteristic(f RawFrame) (Record, error) {
	if len(f.Payload) == 0 {
		return Record{}, malformed(FrameCharacteristic, "empty characteristic value")
	}
	for _, tok := range d.Tokens {
		if tokenMatches(tok.Token, f.LocalName, f.Services) {
			return Record{Identity: tok.Identity}, nil
		}
	}
	return Record{}, noRecord(FrameCharacteristic, "no presence token for device")
}

func tokenMatches(token, name string, services []string) bool {
	if token == "" {
		return false
	}
	if strings.EqualFold(token, name) {
		return true
	}
	want := NormalizeServiceUUID(token)
	for _, s := range services {
		if NormalizeServiceUUID(s) == want {
			return true
		}
	}
	return false
}

// DecodeNDEF decodes an NFC tag read. A tag without an NDEF message still
// identifies itself by UID. A Text record of the form "TableName=<n>" becomes
// the record's TableHint.
func DecodeNDEF(uid []byte, message []byte) (Record, error) {
	if len(uid) == 0 {
		return Record{}, malformed(FrameNDEF, "missing tag uid")
	}
	rec := Record{Identity: NewNFCTag(uid)}
	if len(message) == 0 {
		return rec, nil
	}

	records, err := ndef.Parse(message)
	if err != nil {
		return Record{}, malformed(FrameNDEF, err.Error())
	}
	for _, r := range records {
		text, ok := r.Text()
		if !ok {
			continue
		}
		if m := tableNamePattern.FindStringSubmatch(text); m != nil {
			rec.TableHint = m[1]
			break
		}
	}
	return rec, nil
}
