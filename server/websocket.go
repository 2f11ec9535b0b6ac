package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dotside-studios/seatlink-agent/buildinfo"
	"github.com/dotside-studios/seatlink-agent/protocol"
)

// wsConn serializes writes; gorilla connections allow one concurrent writer
// and scan sessions send startScan/stopScan from their own goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) reply(id, typ string, payload any, err error) {
	resp := protocol.Response{ID: id, Type: typ, Success: err == nil, Payload: payload}
	if err != nil {
		resp.Type = protocol.TypeError
		resp.Error = err.Error()
	}
	if werr := c.WriteJSON(resp); werr != nil {
		Logf("[server] Failed to reply to device: %v", werr)
	}
}

// handleWebSocket runs one remote sensing device: a register message first,
// then frames and status until the connection drops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeError(w, http.StatusNotFound, protocol.ErrCodeInvalidRequest, "remote sensing disabled")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Logf("[server] WebSocket upgrade error: %v", err)
		return
	}
	conn := &wsConn{conn: ws}
	defer conn.Close()

	Logf("[server] Device connecting from %s", r.RemoteAddr)

	msg, err := readMessage(ws)
	if err != nil {
		conn.reply("", protocol.TypeError, nil, err)
		return
	}
	if msg.Type != protocol.TypeRegister {
		conn.reply(msg.ID, protocol.TypeError, nil, fmt.Errorf("expected %q message, got %q", protocol.TypeRegister, msg.Type))
		return
	}
	var reg protocol.RegisterRequest
	if err := msg.Decode(&reg); err != nil {
		conn.reply(msg.ID, protocol.TypeError, nil, fmt.Errorf("invalid registration: %w", err))
		return
	}
	device, err := s.devices.Register(conn, reg)
	if err != nil {
		Logf("[server] Registration from %s rejected: %v", r.RemoteAddr, err)
		conn.reply(msg.ID, protocol.TypeError, nil, err)
		return
	}
	defer s.devices.Unregister(device.ID)

	info := protocol.ServerInfo{Name: buildinfo.Name, Version: buildinfo.FullVersion()}
	for _, m := range s.resolver.Modalities() {
		info.Modalities = append(info.Modalities, string(m))
	}
	conn.reply(msg.ID, protocol.TypeRegistered, protocol.RegisterResponse{DeviceID: device.ID, ServerInfo: info}, nil)

	for {
		msg, err := readMessage(ws)
		if err != nil {
			if errors.Is(err, errMalformed) {
				conn.reply("", protocol.TypeError, nil, err)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Logf("[server] %s: read error: %v", device, err)
			}
			return
		}
		if err := s.devices.HandleMessage(device, msg); err != nil {
			Logf("[server] %s: %s: %v", device, msg.Type, err)
			conn.reply(msg.ID, protocol.TypeError, nil, err)
			continue
		}
		if msg.ID != "" {
			conn.reply(msg.ID, msg.Type, nil, nil)
		}
	}
}

var errMalformed = errors.New("malformed message")

// readMessage reads one text frame. Frames that are not a JSON envelope
// return errMalformed and leave the connection usable.
func readMessage(ws *websocket.Conn) (protocol.Message, error) {
	var msg protocol.Message
	typ, data, err := ws.ReadMessage()
	if err != nil {
		return msg, err
	}
	if typ != websocket.TextMessage {
		return msg, fmt.Errorf("%w: expected text frame", errMalformed)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return msg, nil
}
