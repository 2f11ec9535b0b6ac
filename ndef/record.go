// Package ndef parses and builds NFC Data Exchange Format messages as they are
// stored on table tags.
//
// Only the parts needed to identify a table are implemented: record framing,
// well-known Text records, and the TLV container used by Type 2 tags.
package ndef

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type Name Format values (lower three bits of the record header).
const (
	TNFEmpty       = 0x00
	TNFWellKnown   = 0x01
	TNFMedia       = 0x02
	TNFAbsoluteURI = 0x03
	TNFExternal    = 0x04
	TNFUnknown     = 0x05
	TNFUnchanged   = 0x06
)

// Record header flags.
const (
	flagMB = 0x80 // Message Begin
	flagME = 0x40 // Message End
	flagCF = 0x20 // Chunk Flag
	flagSR = 0x10 // Short Record
	flagIL = 0x08 // ID Length present
)

// ErrEmptyMessage is returned when Parse is handed no bytes at all.
var ErrEmptyMessage = errors.New("empty NDEF message")

// Record is one decoded NDEF record.
type Record struct {
	TNF     byte
	Type    []byte
	ID      []byte
	Payload []byte
}

// IsText reports whether r is a well-known Text ("T") record.
func (r Record) IsText() bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'T'
}

// Text returns the decoded text of a Text record.
func (r Record) Text() (string, bool) {
	if !r.IsText() {
		return "", false
	}
	text, err := parseTextPayload(r.Payload)
	if err != nil {
		return "", false
	}
	return text, true
}

// Parse splits raw NDEF message bytes into records. Parsing stops after the
// record carrying the ME flag; trailing bytes are ignored.
func Parse(message []byte) ([]Record, error) {
	if len(message) == 0 {
		return nil, ErrEmptyMessage
	}

	var records []Record
	offset := 0

	for offset < len(message) {
		header := message[offset]
		me := header&flagME != 0
		sr := header&flagSR != 0
		il := header&flagIL != 0
		tnf := header & 0x07

		if header&flagCF != 0 {
			return nil, fmt.Errorf("invalid NDEF message: chunked record at offset %d not supported", offset)
		}

		pos := offset + 1
		if pos+1 > len(message) {
			return nil, fmt.Errorf("invalid NDEF message: truncated type length at offset %d", pos)
		}
		typeLength := int(message[pos])
		pos++

		var payloadLength int
		if sr {
			if pos+1 > len(message) {
				return nil, fmt.Errorf("invalid NDEF message: truncated short payload length at offset %d", pos)
			}
			payloadLength = int(message[pos])
			pos++
		} else {
			if pos+4 > len(message) {
				return nil, fmt.Errorf("invalid NDEF message: truncated payload length at offset %d", pos)
			}
			length := binary.BigEndian.Uint32(message[pos : pos+4])
			if uint64(length) > uint64(len(message)) {
				return nil, fmt.Errorf("invalid NDEF message: payload length %d exceeds message size", length)
			}
			payloadLength = int(length)
			pos += 4
		}

		var idLength int
		if il {
			if pos+1 > len(message) {
				return nil, fmt.Errorf("invalid NDEF message: truncated ID length at offset %d", pos)
			}
			idLength = int(message[pos])
			pos++
		}

		if pos+typeLength > len(message) {
			return nil, fmt.Errorf("invalid NDEF message: truncated type field at offset %d", pos)
		}
		recordType := append([]byte(nil), message[pos:pos+typeLength]...)
		pos += typeLength

		var recordID []byte
		if idLength > 0 {
			if pos+idLength > len(message) {
				return nil, fmt.Errorf("invalid NDEF message: truncated ID field at offset %d", pos)
			}
			recordID = append([]byte(nil), message[pos:pos+idLength]...)
			pos += idLength
		}

		if pos+payloadLength > len(message) {
			return nil, fmt.Errorf("invalid NDEF message: truncated payload at offset %d", pos)
		}
		payload := append([]byte(nil), message[pos:pos+payloadLength]...)
		pos += payloadLength

		records = append(records, Record{
			TNF:     tnf,
			Type:    recordType,
			ID:      recordID,
			Payload: payload,
		})

		offset = pos
		if me {
			break
		}
	}

	return records, nil
}

// Encode serializes records into a single NDEF message, setting MB on the first
// record and ME on the last.
func Encode(records []Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, errors.New("cannot encode empty record list")
	}

	var out []byte
	for i, r := range records {
		if len(r.Type) > 0xFF || len(r.ID) > 0xFF {
			return nil, fmt.Errorf("record %d: type or ID longer than 255 bytes", i)
		}

		header := r.TNF & 0x07
		if i == 0 {
			header |= flagMB
		}
		if i == len(records)-1 {
			header |= flagME
		}
		short := len(r.Payload) <= 0xFF
		if short {
			header |= flagSR
		}
		if len(r.ID) > 0 {
			header |= flagIL
		}

		out = append(out, header, byte(len(r.Type)))
		if short {
			out = append(out, byte(len(r.Payload)))
		} else {
			out = binary.BigEndian.AppendUint32(out, uint32(len(r.Payload)))
		}
		if len(r.ID) > 0 {
			out = append(out, byte(len(r.ID)))
		}
		out = append(out, r.Type...)
		out = append(out, r.ID...)
		out = append(out, r.Payload...)
	}
	return out, nil
}

// FirstText returns the text of the first Text record in records, if any.
func FirstText(records []Record) (string, bool) {
	for _, r := range records {
		if text, ok := r.Text(); ok {
			return text, true
		}
	}
	return "", false
}
