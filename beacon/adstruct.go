package beacon

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AD structure types used by the parser.
const (
	adFlags              = 0x01
	adIncomplete16       = 0x02
	adComplete16         = 0x03
	adIncomplete128      = 0x06
	adComplete128        = 0x07
	adShortName          = 0x08
	adCompleteName       = 0x09
	adServiceData16      = 0x16
	adManufacturerData   = 0xFF
	bluetoothBaseUUIDEnd = "-0000-1000-8000-00805f9b34fb"
)

// ServiceData is one service data element of an advertisement.
type ServiceData struct {
	UUID string
	Data []byte
}

// Advertisement is the decoded content of one advertising packet (plus scan
// response, when the controller merged them).
type Advertisement struct {
	Address          string
	LocalName        string
	Flags            byte
	Services         []string
	ManufacturerData []byte
	ServiceData      []ServiceData
	RSSI             *int
}

// ParseAdvertisingData parses a sequence of length-type-value AD structures.
// A zero length octet ends the data early, as controllers pad to 31 bytes.
func ParseAdvertisingData(b []byte) (Advertisement, error) {
	var adv Advertisement
	for i := 0; i < len(b); {
		length := int(b[i])
		if length == 0 {
			break
		}
		if i+1+length > len(b) {
			return Advertisement{}, fmt.Errorf("AD structure at offset %d overruns data (%d > %d)", i, i+1+length, len(b))
		}
		typ := b[i+1]
		data := b[i+2 : i+1+length]

		switch typ {
		case adFlags:
			if len(data) > 0 {
				adv.Flags = data[0]
			}
		case adIncomplete16, adComplete16:
			for j := 0; j+2 <= len(data); j += 2 {
				adv.Services = append(adv.Services, uuid16String(binary.LittleEndian.Uint16(data[j:])))
			}
		case adIncomplete128, adComplete128:
			for j := 0; j+16 <= len(data); j += 16 {
				adv.Services = append(adv.Services, uuid128String(data[j:j+16]))
			}
		case adShortName, adCompleteName:
			if adv.LocalName == "" || typ == adCompleteName {
				adv.LocalName = string(data)
			}
		case adServiceData16:
			if len(data) < 2 {
				return Advertisement{}, fmt.Errorf("service data at offset %d too short", i)
			}
			adv.ServiceData = append(adv.ServiceData, ServiceData{
				UUID: uuid16String(binary.LittleEndian.Uint16(data[0:2])),
				Data: append([]byte(nil), data[2:]...),
			})
		case adManufacturerData:
			adv.ManufacturerData = append([]byte(nil), data...)
		}
		i += 1 + length
	}
	return adv, nil
}

// FramesFromAdvertisement splits an advertisement into the frames the decoder
// understands: one per manufacturer data block and one per service data
// element.
func FramesFromAdvertisement(m Modality, adv Advertisement, at time.Time) []RawFrame {
	var frames []RawFrame
	if len(adv.ManufacturerData) > 0 {
		frames = append(frames, RawFrame{
			Modality:   m,
			Kind:       FrameManufacturerData,
			ReceivedAt: at,
			Payload:    adv.ManufacturerData,
			RSSI:       adv.RSSI,
			LocalName:  adv.LocalName,
			Services:   adv.Services,
		})
	}
	for _, sd := range adv.ServiceData {
		frames = append(frames, RawFrame{
			Modality:    m,
			Kind:        FrameServiceData,
			ReceivedAt:  at,
			Payload:     sd.Data,
			RSSI:        adv.RSSI,
			ServiceUUID: sd.UUID,
			LocalName:   adv.LocalName,
			Services:    adv.Services,
		})
	}
	return frames
}

// NormalizeServiceUUID returns the lower-case 128-bit form of a service UUID.
// 16- and 32-bit forms ("feaa", "0xFEAA", "0000feaa") are expanded with the
// Bluetooth base UUID. Values that are not UUIDs are lower-cased and returned.
func NormalizeServiceUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	switch len(s) {
	case 4:
		if _, err := hex.DecodeString(s); err == nil {
			return "0000" + s + bluetoothBaseUUIDEnd
		}
	case 8:
		if _, err := hex.DecodeString(s); err == nil {
			return s + bluetoothBaseUUIDEnd
		}
	}
	if u, err := uuid.Parse(s); err == nil {
		return u.String()
	}
	return s
}

func uuid16String(v uint16) string {
	return fmt.Sprintf("0000%04x%s", v, bluetoothBaseUUIDEnd)
}

// uuid128String formats a UUID transmitted little-endian over the air.
func uuid128String(le []byte) string {
	var u uuid.UUID
	for i := 0; i < 16; i++ {
		u[i] = le[15-i]
	}
	return u.String()
}
