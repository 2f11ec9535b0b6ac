package protocol

import "time"

// ResolveRequest is the body of POST /api/v1/resolve. Empty fields use the
// agent's configured defaults.
type ResolveRequest struct {
	AllowList  []AllowEntryInput `json:"allowList,omitempty"`
	Modalities []string          `json:"modalities,omitempty"`
	TimeoutMs  int64             `json:"timeoutMs,omitempty"`
	Concurrent *bool             `json:"concurrent,omitempty"`
	// DeviceID is the id the guest's phone received when it registered on
	// /ws. Only that device scans for this request; without it only the
	// agent's own hardware is used.
	DeviceID string `json:"deviceId,omitempty"`
}

// AllowEntryInput is one allow-list entry. Identity uses the textual forms
// "ibeacon:<uuid>:<major>:<minor>", "eddystone:<namespace>:<instance>" and
// "nfc:<uid>".
type AllowEntryInput struct {
	Identity string `json:"identity"`
	TableID  string `json:"tableId,omitempty"`
	Label    string `json:"label,omitempty"`
}

// ResolveResponse is the single answer to a resolve request.
type ResolveResponse struct {
	Result     string           `json:"result"` // "table-id", "permission-denied", "not-found", "unsupported", "cancelled"
	TableID    string           `json:"tableId,omitempty"`
	Modality   string           `json:"modality,omitempty"`
	Identity   string           `json:"identity,omitempty"`
	Attempts   []AttemptPayload `json:"attempts"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"durationMs"`
}

// AttemptPayload summarises one modality's scan session.
type AttemptPayload struct {
	Modality string `json:"modality"`
	State    string `json:"state"`
	Frames   int    `json:"frames"`
	Error    string `json:"error,omitempty"`
}

// BeaconPayload is one registered beacon.
type BeaconPayload struct {
	Identity string     `json:"identity"`
	TableID  string     `json:"tableId,omitempty"`
	Label    string     `json:"label,omitempty"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// BeaconsResponse is the body of GET /api/v1/beacons.
type BeaconsResponse struct {
	Beacons []BeaconPayload `json:"beacons"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Modalities    []string `json:"modalities"`
	RemoteDevices int      `json:"remoteDevices"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// Error codes for ErrorResponse
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeInvalidIdentity = "INVALID_IDENTITY"
	ErrCodeInvalidModality = "INVALID_MODALITY"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)
