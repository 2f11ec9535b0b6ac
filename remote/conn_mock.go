package remote

import (
	"encoding/json"
	"sync"

	"github.com/dotside-studios/seatlink-agent/protocol"
)

// MockConn records what the agent writes to a device.
type MockConn struct {
	WriteErr error

	mu     sync.Mutex
	sent   []protocol.Message
	closed bool
	notify chan struct{}
}

func NewMockConn() *MockConn {
	return &MockConn{notify: make(chan struct{}, 1)}
}

func (c *MockConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	c.sent = append(c.sent, msg)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Sent returns the messages written so far.
func (c *MockConn) Sent() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.sent...)
}

// Closed reports whether Close was called.
func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Written is signalled after each write.
func (c *MockConn) Written() <-chan struct{} { return c.notify }
