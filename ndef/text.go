package ndef

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// TextRecord builds a well-known Text record. An empty lang defaults to "en".
func TextRecord(text, lang string) Record {
	return Record{
		TNF:     TNFWellKnown,
		Type:    []byte{'T'},
		Payload: makeTextPayload(text, lang),
	}
}

// EncodeText is shorthand for a message holding a single Text record.
func EncodeText(text, lang string) []byte {
	msg, _ := Encode([]Record{TextRecord(text, lang)})
	return msg
}

func makeTextPayload(text, lang string) []byte {
	if lang == "" {
		lang = "en"
	}
	langCode := []byte(lang)
	if len(langCode) > 0x3F {
		langCode = langCode[:0x3F]
	}
	payload := make([]byte, 0, 1+len(langCode)+len(text))
	payload = append(payload, byte(len(langCode))) // UTF-8, no flags
	payload = append(payload, langCode...)
	payload = append(payload, text...)
	return payload
}

// parseTextPayload extracts text from a Text record payload. Bit 7 of the
// status byte selects UTF-16, bits 0-5 carry the language code length.
func parseTextPayload(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", errors.New("text record payload too short (status byte missing)")
	}
	status := payload[0]
	langLength := int(status & 0x3F)
	utf16Text := status&0x80 != 0

	start := 1 + langLength
	if start > len(payload) {
		return "", errors.New("text record payload too short (language code or text missing)")
	}
	body := payload[start:]

	if !utf16Text {
		return string(body), nil
	}
	if len(body)%2 != 0 {
		return "", fmt.Errorf("invalid UTF-16 text length: %d", len(body))
	}
	return decodeUTF16(body), nil
}

// decodeUTF16 honours a leading byte order mark and defaults to big-endian.
func decodeUTF16(b []byte) string {
	order := binary.ByteOrder(binary.BigEndian)
	if len(b) >= 2 {
		switch {
		case b[0] == 0xFF && b[1] == 0xFE:
			order = binary.LittleEndian
			b = b[2:]
		case b[0] == 0xFE && b[1] == 0xFF:
			b = b[2:]
		}
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = order.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units))
}
