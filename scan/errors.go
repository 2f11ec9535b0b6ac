package scan

import (
	"errors"
	"strings"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
)

// ErrorCode classifies why a session failed.
type ErrorCode int

const (
	ErrCodePermissionDenied ErrorCode = iota + 200
	ErrCodeUnsupported
	ErrCodeTransport
	ErrCodeModalityBusy
	ErrCodeSessionUsed
	ErrCodeTagNotPresent
)

// Error carries the failing operation and modality along with the cause.
type Error struct {
	Code     ErrorCode
	Op       string
	Modality beacon.Modality
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Modality != "" {
		sb.WriteString(string(e.Modality))
		sb.WriteString(" ")
	}
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrPermissionDenied = &Error{Code: ErrCodePermissionDenied, Message: "permission denied"}
	ErrUnsupported      = &Error{Code: ErrCodeUnsupported, Message: "modality not supported on this platform"}
	ErrTransport        = &Error{Code: ErrCodeTransport, Message: "transport failure"}
	ErrModalityBusy     = &Error{Code: ErrCodeModalityBusy, Message: "modality already in use"}
	ErrSessionUsed      = &Error{Code: ErrCodeSessionUsed, Message: "session already started"}
	// ErrTagNotPresent is returned by TagSource.ReadTag when no tag is in the field.
	ErrTagNotPresent = &Error{Code: ErrCodeTagNotPresent, Message: "no tag present"}
)

// NewUnsupportedError reports that a driver cannot run here.
func NewUnsupportedError(m beacon.Modality, op string, cause error) *Error {
	return &Error{Code: ErrCodeUnsupported, Op: op, Modality: m, Message: "modality not supported on this platform", Cause: cause}
}

// NewTransportError wraps a hardware or connection failure.
func NewTransportError(m beacon.Modality, op string, cause error) *Error {
	return &Error{Code: ErrCodeTransport, Op: op, Modality: m, Message: "transport failure", Cause: cause}
}

// IsUnsupported reports whether err means the modality is unavailable.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// IsTransport reports whether err is a hardware or connection failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// GetErrorCode extracts the code from a scan error, 0 otherwise.
func GetErrorCode(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsPermissionDenied reports whether err means a permission was refused,
// either by the local gate or by a remote device.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, permission.ErrDenied)
}
