// Package hci drives a Bluetooth controller attached over a UART (H4
// transport) as a scanning radio, for hosts without a kernel Bluetooth
// stack.
package hci

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/bluetooth"
)

// Logf receives controller diagnostics. Replace with SetLogger.
var Logf = log.Printf

// SetLogger replaces Logf; nil silences it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

const (
	DefaultBaudRate = 115200
	readTimeout     = 100 * time.Millisecond
	commandTimeout  = 2 * time.Second

	// Scan interval and window in 0.625 ms units.
	scanInterval = 0x0010
	scanWindow   = 0x0010
)

// ErrCommandTimeout is returned when the controller does not acknowledge a
// command.
var ErrCommandTimeout = errors.New("hci command timed out")

// Port is the part of a serial port the controller uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// OpenFunc opens a serial port.
type OpenFunc func(path string, mode *serial.Mode) (Port, error)

func openSerial(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// Controller is a UART-attached controller. It implements bluetooth.Radio.
type Controller struct {
	Path     string
	BaudRate int
	// Active requests scan responses, which carry local names.
	Active bool

	open OpenFunc

	mu     sync.Mutex
	port   Port
	reader *packetReader

	scanMu sync.Mutex
}

var _ bluetooth.Radio = (*Controller)(nil)

// NewController uses the controller at path. A zero baud rate selects
// DefaultBaudRate.
func NewController(path string, baudRate int) *Controller {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &Controller{Path: path, BaudRate: baudRate, Active: true, open: openSerial}
}

// Open opens the port and resets the controller. It does nothing when the
// port is already open.
func (c *Controller) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := c.open(c.Path, mode)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", bluetooth.ErrUnavailable, c.Path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}
	reader := newPacketReader(port)

	mask := make([]byte, 8)
	binary.LittleEndian.PutUint64(mask, eventMask)
	for _, cmd := range []struct {
		op     uint16
		params []byte
	}{
		{opReset, nil},
		{opSetEventMask, mask},
	} {
		if err := command(port, reader, cmd.op, cmd.params); err != nil {
			port.Close()
			return err
		}
	}

	c.port, c.reader = port, reader
	Logf("[hci] controller ready on %s at %d baud", c.Path, c.BaudRate)
	return nil
}

// Close closes the port.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port, c.reader = nil, nil
	return err
}

// Scan enables LE scanning and reports advertisements until ctx ends. A
// port failure closes the port so the next Open starts over.
func (c *Controller) Scan(ctx context.Context, handle func(beacon.Advertisement)) error {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	c.mu.Lock()
	port, reader := c.port, c.reader
	c.mu.Unlock()
	if port == nil {
		return bluetooth.ErrUnavailable
	}

	params := make([]byte, 7)
	if c.Active {
		params[0] = 0x01
	}
	binary.LittleEndian.PutUint16(params[1:3], scanInterval)
	binary.LittleEndian.PutUint16(params[3:5], scanWindow)
	if err := command(port, reader, opLESetScanParams, params); err != nil {
		return c.fail(err)
	}
	if err := command(port, reader, opLESetScanEnable, []byte{0x01, 0x00}); err != nil {
		return c.fail(err)
	}

	for {
		if ctx.Err() != nil {
			if err := command(port, reader, opLESetScanEnable, []byte{0x00, 0x00}); err != nil {
				Logf("[hci] disabling scan: %v", err)
			}
			return nil
		}
		ev, ok, err := reader.Next()
		if err != nil {
			return c.fail(err)
		}
		if !ok || ev.Code != evtLEMeta || len(ev.Params) == 0 || ev.Params[0] != subevtAdvertisingReport {
			continue
		}
		advs, err := ParseAdvertisingReports(ev.Params)
		if err != nil {
			Logf("[hci] %v", err)
			continue
		}
		for _, adv := range advs {
			handle(adv)
		}
	}
}

func (c *Controller) fail(err error) error {
	Logf("[hci] %s: %v", c.Path, err)
	c.Close()
	return err
}

// command sends one command and waits for its Command Complete or Command
// Status event. Other events received meanwhile are dropped.
func command(w io.Writer, reader *packetReader, op uint16, params []byte) error {
	if _, err := w.Write(commandPacket(op, params)); err != nil {
		return fmt.Errorf("write command 0x%04X: %w", op, err)
	}
	deadline := time.Now().Add(commandTimeout)
	for {
		ev, ok, err := reader.Next()
		if err != nil {
			return fmt.Errorf("command 0x%04X: %w", op, err)
		}
		if !ok {
			if time.Now().After(deadline) {
				return fmt.Errorf("command 0x%04X: %w", op, ErrCommandTimeout)
			}
			continue
		}
		opcode, status, ok := commandResult(ev)
		if !ok || opcode != op {
			continue
		}
		if status != 0 {
			return fmt.Errorf("command 0x%04X failed with status 0x%02X", op, status)
		}
		return nil
	}
}
