package remote

import (
	"errors"
	"fmt"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/ndef"
	"github.com/dotside-studios/seatlink-agent/permission"
	"github.com/dotside-studios/seatlink-agent/protocol"
	"github.com/dotside-studios/seatlink-agent/scan"
)

// framesFromPayload converts a device report into frames for the decoder.
func framesFromPayload(m beacon.Modality, p protocol.FramePayload, now time.Time) ([]beacon.RawFrame, error) {
	at := now
	if p.ReceivedAt != nil && !p.ReceivedAt.IsZero() {
		at = *p.ReceivedAt
	}

	switch {
	case p.Advertisement != nil:
		return advertisementFrames(m, *p.Advertisement, at), nil

	case p.Characteristic != nil:
		c := p.Characteristic
		if c.ServiceUUID == "" {
			return nil, errors.New("characteristic without service uuid")
		}
		return []beacon.RawFrame{{
			Modality:    m,
			Kind:        beacon.FrameCharacteristic,
			ReceivedAt:  at,
			Payload:     c.Value,
			RSSI:        c.RSSI,
			ServiceUUID: beacon.NormalizeServiceUUID(c.ServiceUUID),
			LocalName:   c.LocalName,
			Services:    normalizeServices(c.Services),
		}}, nil

	case p.NDEF != nil:
		uid, err := beacon.ParseUID(p.NDEF.UID)
		if err != nil {
			return nil, err
		}
		msg := p.NDEF.Message
		if len(msg) == 0 && len(p.NDEF.Records) > 0 {
			if msg, err = encodeRecords(p.NDEF.Records); err != nil {
				return nil, err
			}
		}
		return []beacon.RawFrame{{
			Modality:   m,
			Kind:       beacon.FrameNDEF,
			ReceivedAt: at,
			Payload:    msg,
			TagUID:     uid,
		}}, nil

	default:
		return nil, errors.New("frame carries no advertisement, characteristic or ndef data")
	}
}

// advertisementFrames emits one frame per manufacturer data element followed by
// the service data frames.
func advertisementFrames(m beacon.Modality, p protocol.AdvertisementPayload, at time.Time) []beacon.RawFrame {
	adv := beacon.Advertisement{
		Address:   p.Address,
		LocalName: p.LocalName,
		Services:  normalizeServices(p.Services),
		RSSI:      p.RSSI,
	}
	for _, sd := range p.ServiceData {
		adv.ServiceData = append(adv.ServiceData, beacon.ServiceData{
			UUID: beacon.NormalizeServiceUUID(sd.UUID),
			Data: sd.Data,
		})
	}

	var frames []beacon.RawFrame
	for _, md := range p.ManufacturerData {
		one := adv
		one.ServiceData = nil
		one.ManufacturerData = append([]byte{byte(md.CompanyID), byte(md.CompanyID >> 8)}, md.Data...)
		frames = append(frames, beacon.FramesFromAdvertisement(m, one, at)...)
	}
	return append(frames, beacon.FramesFromAdvertisement(m, adv, at)...)
}

func normalizeServices(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = beacon.NormalizeServiceUUID(s)
	}
	return out
}

// encodeRecords builds an NDEF message from high- or low-level record input.
func encodeRecords(in []protocol.NDEFRecordInput) ([]byte, error) {
	records := make([]ndef.Record, 0, len(in))
	for i, r := range in {
		rec, err := recordFromInput(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return ndef.Encode(records)
}

func recordFromInput(r protocol.NDEFRecordInput) (ndef.Record, error) {
	if r.TNF != nil {
		if *r.TNF > ndef.TNFUnchanged {
			return ndef.Record{}, fmt.Errorf("invalid TNF %d", *r.TNF)
		}
		return ndef.Record{TNF: *r.TNF, Type: r.Type, ID: r.ID, Payload: r.Payload}, nil
	}

	switch r.RecordType {
	case "text":
		lang := r.Language
		if lang == "" {
			lang = "en"
		}
		return ndef.TextRecord(r.Content, lang), nil
	case "url", "uri":
		// Identifier code 0x00: no abbreviation.
		return ndef.Record{TNF: ndef.TNFWellKnown, Type: []byte{'U'}, Payload: append([]byte{0x00}, r.Content...)}, nil
	case "mime":
		if r.MimeType == "" {
			return ndef.Record{}, errors.New("mime record without mimeType")
		}
		return ndef.Record{TNF: ndef.TNFMedia, Type: []byte(r.MimeType), Payload: []byte(r.Content)}, nil
	case "":
		return ndef.Record{}, errors.New("record has neither recordType nor tnf")
	default:
		return ndef.Record{}, fmt.Errorf("unsupported record type %q", r.RecordType)
	}
}

// scanError maps a device's scan error onto the session error taxonomy.
func scanError(m beacon.Modality, p protocol.ScanErrorPayload) error {
	cause := errors.New(p.Message)
	if p.Message == "" {
		cause = errors.New(p.Code)
	}
	switch p.Code {
	case protocol.ScanErrUnsupported:
		return scan.NewUnsupportedError(m, "remote scan", cause)
	case protocol.ScanErrPermissionDenied:
		return &scan.Error{
			Code:     scan.ErrCodePermissionDenied,
			Op:       "remote scan",
			Modality: m,
			Message:  "permission denied",
			Cause:    &permission.DeniedError{Capability: capabilityFor(m), Cause: cause},
		}
	default:
		return scan.NewTransportError(m, "remote scan", cause)
	}
}

func capabilityFor(m beacon.Modality) permission.Capability {
	if m == beacon.ModalityNFC {
		return permission.NFC
	}
	return permission.Bluetooth
}
