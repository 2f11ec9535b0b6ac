package nfc

import (
	"fmt"
	"sync"
)

// MockDevice simulates a reader without hardware.
type MockDevice struct {
	DeviceName       string
	DeviceConnection string
	IsOpen           bool

	// InitError, if set, is returned by InitiatorInit.
	InitError error

	// GetTagsFunc overrides Tags and GetTagsError when set.
	GetTagsFunc  func() ([]Tag, error)
	Tags         []Tag
	GetTagsError error

	// CallLog records every method call.
	CallLog []string

	mu sync.Mutex
}

// NewMockDevice creates an open MockDevice.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		DeviceName:       "Mock NFC Reader",
		DeviceConnection: "mock:usb:001",
		IsOpen:           true,
	}
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, "Close")
	m.IsOpen = false
	return nil
}

func (m *MockDevice) InitiatorInit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, "InitiatorInit")
	if !m.IsOpen {
		return fmt.Errorf("device not open")
	}
	return m.InitError
}

func (m *MockDevice) String() string { return m.DeviceName }

func (m *MockDevice) Connection() string { return m.DeviceConnection }

func (m *MockDevice) GetTags() ([]Tag, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, "GetTags")
	fn, tags, err := m.GetTagsFunc, m.Tags, m.GetTagsError
	m.mu.Unlock()
	if fn != nil {
		return fn()
	}
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// SetTags replaces the tags in the simulated field.
func (m *MockDevice) SetTags(tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tags = tags
}

// Calls returns a copy of the call log.
func (m *MockDevice) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// MockTag is a tag with fixed contents.
type MockTag struct {
	TagUID  string
	TagType string
	NDEF    []byte
	ReadErr error
}

func (t *MockTag) UID() string               { return t.TagUID }
func (t *MockTag) Type() string              { return t.TagType }
func (t *MockTag) ReadNDEF() ([]byte, error) { return t.NDEF, t.ReadErr }

// MockOpener hands out scripted devices.
type MockOpener struct {
	Paths   []string
	ListErr error
	OpenErr error
	// Devices maps a path to the device OpenDevice returns for it.
	Devices map[string]*MockDevice

	mu     sync.Mutex
	opened []string
}

func (o *MockOpener) ListDevices() ([]string, error) {
	if o.ListErr != nil {
		return nil, o.ListErr
	}
	return append([]string(nil), o.Paths...), nil
}

func (o *MockOpener) OpenDevice(path string) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, path)
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	dev, ok := o.Devices[path]
	if !ok {
		return nil, fmt.Errorf("no such device %s", path)
	}
	dev.mu.Lock()
	dev.IsOpen = true
	dev.mu.Unlock()
	return dev, nil
}

// Opened lists the paths passed to OpenDevice.
func (o *MockOpener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}
