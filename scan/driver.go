package scan

import (
	"context"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
)

// Driver gives access to the hardware behind one modality.
type Driver interface {
	Modality() beacon.Modality
	// Capabilities lists the permissions a scan needs.
	Capabilities() []permission.Capability
	// Acquire opens the hardware exclusively. The returned handle implements
	// AdvertisementSource or TagSource. Platforms without the hardware return
	// an error matching ErrUnsupported.
	Acquire(ctx context.Context) (Handle, error)
}

// Handle is an exclusively owned hardware handle.
type Handle interface {
	Close() error
}

// AdvertisementSource streams frames until StopScan. When the stream ends on
// its own the channel is closed and Err reports why.
type AdvertisementSource interface {
	Handle
	StartScan(ctx context.Context, f Filter) (<-chan beacon.RawFrame, error)
	StopScan() error
	Err() error
}

// TagSource performs single-shot tag reads. ReadTag returns an error matching
// ErrTagNotPresent when the field is empty.
type TagSource interface {
	Handle
	ReadTag(ctx context.Context) (beacon.RawFrame, error)
}

// Filter narrows what a source reports. Empty fields accept everything.
type Filter struct {
	Kinds        []beacon.FrameKind
	ServiceUUIDs []string
	CompanyID    *uint16
}

// FilterFor returns the default filter for a modality.
func FilterFor(m beacon.Modality) Filter {
	switch m {
	case beacon.ModalityIBeacon:
		apple := uint16(beacon.AppleCompanyID)
		return Filter{Kinds: []beacon.FrameKind{beacon.FrameManufacturerData}, CompanyID: &apple}
	case beacon.ModalityEddystone:
		return Filter{Kinds: []beacon.FrameKind{beacon.FrameServiceData}, ServiceUUIDs: []string{beacon.EddystoneServiceUUID}}
	case beacon.ModalityGATT:
		return Filter{Kinds: []beacon.FrameKind{beacon.FrameCharacteristic}}
	case beacon.ModalityNFC:
		return Filter{Kinds: []beacon.FrameKind{beacon.FrameNDEF}}
	default:
		return Filter{}
	}
}

// Accepts reports whether a frame passes the filter.
func (f Filter) Accepts(frame beacon.RawFrame) bool {
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if k == frame.Kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.CompanyID != nil && frame.Kind == beacon.FrameManufacturerData {
		if len(frame.Payload) < 2 || uint16(frame.Payload[0])|uint16(frame.Payload[1])<<8 != *f.CompanyID {
			return false
		}
	}
	if len(f.ServiceUUIDs) > 0 && frame.Kind == beacon.FrameServiceData {
		want := beacon.NormalizeServiceUUID(frame.ServiceUUID)
		ok := false
		for _, s := range f.ServiceUUIDs {
			if beacon.NormalizeServiceUUID(s) == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
