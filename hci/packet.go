package hci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dotside-studios/seatlink-agent/beacon"
)

// H4 packet indicators.
const (
	pktCommand = 0x01
	pktACL     = 0x02
	pktSCO     = 0x03
	pktEvent   = 0x04
)

// Events and commands used by the controller.
const (
	evtCommandComplete = 0x0E
	evtCommandStatus   = 0x0F
	evtLEMeta          = 0x3E

	subevtAdvertisingReport = 0x02

	opReset           = 0x0C03
	opSetEventMask    = 0x0C01
	opLESetScanParams = 0x200B
	opLESetScanEnable = 0x200C

	// Controller default event mask plus the LE Meta event.
	eventMask = 0x00001FFFFFFFFFFF | 1<<61
)

// Event is one HCI event packet.
type Event struct {
	Code   byte
	Params []byte
}

// commandPacket frames an HCI command for the UART transport.
func commandPacket(opcode uint16, params []byte) []byte {
	out := make([]byte, 4, 4+len(params))
	out[0] = pktCommand
	binary.LittleEndian.PutUint16(out[1:3], opcode)
	out[3] = byte(len(params))
	return append(out, params...)
}

// packetReader frames H4 packets out of a byte stream. Reads may return no
// data when the port's read timeout expires.
type packetReader struct {
	r   io.Reader
	buf []byte
	tmp [256]byte
}

func newPacketReader(r io.Reader) *packetReader {
	return &packetReader{r: r}
}

// Next returns the next event. ok is false when no complete event is
// buffered yet; ACL and SCO packets are dropped.
func (p *packetReader) Next() (Event, bool, error) {
	for {
		if ev, ok, consumed := p.parse(); consumed {
			if ok {
				return ev, true, nil
			}
			continue
		}
		n, err := p.r.Read(p.tmp[:])
		if n > 0 {
			p.buf = append(p.buf, p.tmp[:n]...)
		}
		if err != nil {
			return Event{}, false, err
		}
		if n == 0 {
			return Event{}, false, nil
		}
	}
}

// parse consumes one packet from the buffer if a complete one is present.
func (p *packetReader) parse() (ev Event, ok, consumed bool) {
	if len(p.buf) == 0 {
		return Event{}, false, false
	}
	switch p.buf[0] {
	case pktEvent:
		if len(p.buf) < 3 {
			return Event{}, false, false
		}
		size := 3 + int(p.buf[2])
		if len(p.buf) < size {
			return Event{}, false, false
		}
		ev = Event{Code: p.buf[1], Params: append([]byte(nil), p.buf[3:size]...)}
		p.buf = p.buf[size:]
		return ev, true, true
	case pktACL:
		if len(p.buf) < 5 {
			return Event{}, false, false
		}
		size := 5 + int(binary.LittleEndian.Uint16(p.buf[3:5]))
		if len(p.buf) < size {
			return Event{}, false, false
		}
		p.buf = p.buf[size:]
		return Event{}, false, true
	case pktSCO:
		if len(p.buf) < 4 {
			return Event{}, false, false
		}
		size := 4 + int(p.buf[3])
		if len(p.buf) < size {
			return Event{}, false, false
		}
		p.buf = p.buf[size:]
		return Event{}, false, true
	default:
		// Out of sync: drop a byte and look for the next indicator.
		p.buf = p.buf[1:]
		return Event{}, false, true
	}
}

// commandResult extracts the opcode and status of a Command Complete or
// Command Status event.
func commandResult(ev Event) (opcode uint16, status byte, ok bool) {
	switch ev.Code {
	case evtCommandComplete:
		if len(ev.Params) < 4 {
			return 0, 0, false
		}
		return binary.LittleEndian.Uint16(ev.Params[1:3]), ev.Params[3], true
	case evtCommandStatus:
		if len(ev.Params) < 4 {
			return 0, 0, false
		}
		return binary.LittleEndian.Uint16(ev.Params[2:4]), ev.Params[0], true
	}
	return 0, 0, false
}

var errShortReport = errors.New("truncated advertising report")

// ParseAdvertisingReports decodes the parameters of an LE Advertising Report
// subevent (subevent code included). The report fields are laid out as
// parallel arrays, one entry per report.
func ParseAdvertisingReports(params []byte) ([]beacon.Advertisement, error) {
	if len(params) < 2 || params[0] != subevtAdvertisingReport {
		return nil, fmt.Errorf("not an advertising report")
	}
	n := int(params[1])
	b := params[2:]
	if len(b) < n*(1+1+6+1) {
		return nil, errShortReport
	}
	// Event types and address types occupy b[:2*n].
	addrs := b[2*n : 8*n]
	lengths := b[8*n : 9*n]
	b = b[9*n:]

	total := 0
	for _, l := range lengths {
		total += int(l)
	}
	if len(b) < total+n {
		return nil, errShortReport
	}
	data := b[:total]
	rssis := b[total : total+n]

	out := make([]beacon.Advertisement, 0, n)
	offset := 0
	for i := 0; i < n; i++ {
		l := int(lengths[i])
		adv, err := beacon.ParseAdvertisingData(data[offset : offset+l])
		offset += l
		if err != nil {
			continue
		}
		adv.Address = formatAddress(addrs[i*6 : i*6+6])
		rssi := int(int8(rssis[i]))
		adv.RSSI = &rssi
		out = append(out, adv)
	}
	return out, nil
}

// formatAddress renders a little-endian device address.
func formatAddress(le []byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", le[5], le[4], le[3], le[2], le[1], le[0])
}
