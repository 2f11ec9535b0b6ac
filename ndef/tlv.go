package ndef

// TLV block types found in Type 2 tag memory.
const (
	TLVNull        = 0x00
	TLVLockControl = 0x01
	TLVMemControl  = 0x02
	TLVMessage     = 0x03
	TLVProprietary = 0xFD
	TLVTerminator  = 0xFE
)

// FindMessage walks a TLV block (tag memory starting at the first data page)
// and returns the value of the first NDEF Message TLV. Null TLVs are skipped;
// a Terminator or a truncated TLV ends the search.
func FindMessage(data []byte) ([]byte, bool) {
	offset := 0
	for offset < len(data) {
		switch data[offset] {
		case TLVNull:
			offset++
			continue
		case TLVTerminator:
			return nil, false
		}

		length, headerSize, ok := tlvLength(data[offset:])
		if !ok {
			return nil, false
		}
		start := offset + headerSize
		if start+length > len(data) {
			return nil, false
		}
		if data[offset] == TLVMessage {
			return data[start : start+length], true
		}
		offset = start + length
	}
	return nil, false
}

// WrapMessage encloses message in an NDEF Message TLV followed by a Terminator.
func WrapMessage(message []byte) []byte {
	out := []byte{TLVMessage}
	if len(message) < 0xFF {
		out = append(out, byte(len(message)))
	} else {
		out = append(out, 0xFF, byte(len(message)>>8), byte(len(message)))
	}
	out = append(out, message...)
	return append(out, TLVTerminator)
}

// tlvLength decodes the length field of the TLV starting at data[0]. The
// one-byte form covers 0-254; 0xFF introduces a two-byte big-endian length.
func tlvLength(data []byte) (length, headerSize int, ok bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	if data[1] != 0xFF {
		return int(data[1]), 2, true
	}
	if len(data) < 4 {
		return 0, 0, false
	}
	return int(data[2])<<8 | int(data[3]), 4, true
}
