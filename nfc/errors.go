package nfc

import (
	"errors"
	"strings"
)

// ErrorCode identifies a reader or tag failure.
type ErrorCode int

const (
	ErrCodeNoDevice ErrorCode = iota + 300
	ErrCodeTagRemoved
	ErrCodeReadFailed
	ErrCodeDeviceIO
)

// NFCError describes a failed reader or tag operation.
type NFCError struct {
	Code    ErrorCode
	Op      string
	TagUID  string
	Message string
	Cause   error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.TagUID != "" {
		sb.WriteString(" (tag ")
		sb.WriteString(e.TagUID)
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

// Is compares by error code.
func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// ErrNoDevice is returned when no reader is attached.
var ErrNoDevice = &NFCError{Code: ErrCodeNoDevice, Message: "no NFC devices found"}

// NewTagRemovedError reports a tag leaving the field mid-read.
func NewTagRemovedError(op, uid string, cause error) *NFCError {
	return &NFCError{Code: ErrCodeTagRemoved, Op: op, TagUID: uid, Message: "tag removed during operation", Cause: cause}
}

// NewReadError reports a failed tag read.
func NewReadError(op, uid string, cause error) *NFCError {
	return &NFCError{Code: ErrCodeReadFailed, Op: op, TagUID: uid, Message: "read failed", Cause: cause}
}

// NewDeviceError reports a reader I/O failure.
func NewDeviceError(op string, cause error) *NFCError {
	return &NFCError{Code: ErrCodeDeviceIO, Op: op, Message: "device I/O error", Cause: cause}
}

// IsTagRemovedError checks if an error indicates the tag was removed.
// libnfc does not type its errors, so the message is checked as well.
func IsTagRemovedError(err error) bool {
	if err == nil {
		return false
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) && nfcErr.Code == ErrCodeTagRemoved {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "tag removed") ||
		strings.Contains(s, "Target was removed") ||
		strings.Contains(s, "RF Transmission Error")
}

// IsDeviceError checks if an error means the reader itself failed.
func IsDeviceError(err error) bool {
	if err == nil {
		return false
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code == ErrCodeDeviceIO || nfcErr.Code == ErrCodeNoDevice
	}
	s := err.Error()
	return strings.Contains(s, "Input / Output Error") ||
		strings.Contains(s, "No such device") ||
		strings.Contains(s, "broken pipe")
}

// GetErrorCode extracts the ErrorCode from an NFCError, 0 otherwise.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}
