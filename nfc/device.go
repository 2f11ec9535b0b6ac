// Package nfc drives a local libnfc reader as a tag source for the NFC
// modality.
package nfc

import "time"

// Constants for reader handling
const (
	DeviceEnumRetries = 3
	DeviceEnumDelay   = 100 * time.Millisecond

	// Type 2 tags keep their TLV area from page 4 onwards.
	firstDataPage = 4
)

// Device is an opened NFC reader.
type Device interface {
	Close() error
	InitiatorInit() error
	String() string
	Connection() string
	// GetTags lists the tags currently in the field.
	GetTags() ([]Tag, error)
}

// Tag is one tag found in the field.
type Tag interface {
	// UID is the upper-case hex encoded tag UID.
	UID() string
	Type() string
	// ReadNDEF returns the raw NDEF message, or nil when the tag holds none
	// or its memory layout is not readable here.
	ReadNDEF() ([]byte, error)
}

// Opener finds and opens readers.
type Opener interface {
	ListDevices() ([]string, error)
	OpenDevice(connstring string) (Device, error)
}
