package nfc

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Logf receives reader diagnostics. Replace with SetLogger.
var Logf = log.Printf

// SetLogger replaces Logf; nil silences it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// ReconnectDelay is the base backoff between reconnect attempts.
var ReconnectDelay = 500 * time.Millisecond

// DeviceManager keeps at most one reader open.
type DeviceManager struct {
	opener     Opener
	device     Device
	devicePath string
	hasDevice  bool

	mu sync.RWMutex
}

// NewDeviceManager manages the reader at devicePath, or the first reader
// found when devicePath is empty.
func NewDeviceManager(opener Opener, devicePath string) *DeviceManager {
	return &DeviceManager{opener: opener, devicePath: devicePath}
}

// Device returns the open reader, or nil.
func (dm *DeviceManager) Device() Device {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.device
}

// HasDevice reports whether a reader is open.
func (dm *DeviceManager) HasDevice() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.hasDevice
}

// DevicePath returns the configured or last connected reader path.
func (dm *DeviceManager) DevicePath() string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.devicePath
}

// TryConnect opens and initialises the reader unless an open one still
// answers InitiatorInit.
func (dm *DeviceManager) TryConnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.hasDevice && dm.device != nil {
		err := dm.device.InitiatorInit()
		if err == nil {
			return nil
		}
		Logf("[nfc] device %s stopped answering: %v. Reopening.", dm.device.String(), err)
		dm.closeLocked()
	}

	path := dm.devicePath
	if path == "" {
		devices, err := dm.opener.ListDevices()
		if err != nil {
			return NewDeviceError("ListDevices", err)
		}
		if len(devices) == 0 {
			return ErrNoDevice
		}
		path = devices[0]
		Logf("[nfc] no device path configured, using %s", path)
	}

	dev, err := dm.opener.OpenDevice(path)
	if err != nil {
		return NewDeviceError("OpenDevice", fmt.Errorf("%s: %w", path, err))
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return NewDeviceError("InitiatorInit", fmt.Errorf("%s: %w", path, err))
	}

	dm.device = dev
	dm.hasDevice = true
	dm.devicePath = path
	Logf("[nfc] connected to device: %s", dev.String())
	return nil
}

// Reconnect drops the current reader and retries TryConnect with a linear
// backoff until it succeeds, attempts run out, or ctx ends.
func (dm *DeviceManager) Reconnect(ctx context.Context, attempts int) error {
	dm.Close()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = dm.TryConnect(); lastErr == nil {
			return nil
		}
		Logf("[nfc] reconnect attempt %d/%d failed: %v", attempt, attempts, lastErr)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ReconnectDelay * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("reconnect failed after %d attempts: %w", attempts, lastErr)
}

// Close closes the open reader, if any.
func (dm *DeviceManager) Close() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.closeLocked()
}

func (dm *DeviceManager) closeLocked() {
	if !dm.hasDevice || dm.device == nil {
		return
	}
	if err := dm.device.Close(); err != nil {
		Logf("[nfc] error closing device: %v", err)
	}
	dm.device = nil
	dm.hasDevice = false
}
