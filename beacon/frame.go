package beacon

import (
	"fmt"
	"time"
)

// Modality is one sensing technology a beacon can be detected with.
type Modality string

const (
	ModalityNFC       Modality = "nfc"
	ModalityGATT      Modality = "gatt"
	ModalityIBeacon   Modality = "ble-ibeacon"
	ModalityEddystone Modality = "ble-eddystone"
)

// Modalities lists every known modality in the default priority order.
var Modalities = []Modality{ModalityNFC, ModalityGATT, ModalityIBeacon, ModalityEddystone}

// ParseModality validates a modality name.
func ParseModality(s string) (Modality, error) {
	for _, m := range Modalities {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown modality %q", s)
}

// FrameKind says which part of a radio exchange a RawFrame payload came from.
type FrameKind int

const (
	// FrameManufacturerData is an AD 0xFF payload, company identifier included.
	FrameManufacturerData FrameKind = iota + 1
	// FrameServiceData is an AD 0x16 payload with the service UUID stripped.
	FrameServiceData
	// FrameCharacteristic is the value read from a GATT characteristic.
	FrameCharacteristic
	// FrameNDEF is an NDEF message read from a tag.
	FrameNDEF
)

func (k FrameKind) String() string {
	switch k {
	case FrameManufacturerData:
		return "manufacturer-data"
	case FrameServiceData:
		return "service-data"
	case FrameCharacteristic:
		return "characteristic"
	case FrameNDEF:
		return "ndef"
	default:
		return "unknown"
	}
}

// RawFrame is one unit of data handed over by a driver. It is decoded once and
// then dropped.
type RawFrame struct {
	Modality   Modality
	Kind       FrameKind
	ReceivedAt time.Time
	Payload    []byte
	RSSI       *int

	// ServiceUUID tags service data and characteristic frames.
	ServiceUUID string
	// LocalName and Services describe the advertising device (GATT reads).
	LocalName string
	Services  []string
	// TagUID is set for NFC frames.
	TagUID []byte
}

// Record is a decoded beacon sighting.
type Record struct {
	Identity       Identity
	SignalStrength *int
	// TableHint is a table id carried by the beacon itself (NFC text record).
	TableHint string
}
