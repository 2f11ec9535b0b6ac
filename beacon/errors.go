package beacon

import (
	"errors"
	"strings"
)

// ErrorCode classifies decode failures.
type ErrorCode int

const (
	ErrCodeMalformed ErrorCode = iota + 100
	ErrCodeUnsupportedFrameType
	ErrCodeNoRecord
)

// DecodeError describes why a frame produced no record.
type DecodeError struct {
	Code    ErrorCode
	Kind    FrameKind
	Message string
}

func (e *DecodeError) Error() string {
	var sb strings.Builder
	sb.WriteString("decode ")
	sb.WriteString(e.Kind.String())
	sb.WriteString(": ")
	switch e.Code {
	case ErrCodeMalformed:
		sb.WriteString("malformed frame")
	case ErrCodeUnsupportedFrameType:
		sb.WriteString("unsupported frame type")
	case ErrCodeNoRecord:
		sb.WriteString("no record")
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

// Is matches another *DecodeError by code, so the Err* sentinels work with errors.Is.
func (e *DecodeError) Is(target error) bool {
	if t, ok := target.(*DecodeError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrMalformed            = &DecodeError{Code: ErrCodeMalformed}
	ErrUnsupportedFrameType = &DecodeError{Code: ErrCodeUnsupportedFrameType}
	ErrNoRecord             = &DecodeError{Code: ErrCodeNoRecord}
)

func malformed(kind FrameKind, msg string) *DecodeError {
	return &DecodeError{Code: ErrCodeMalformed, Kind: kind, Message: msg}
}

func unsupported(kind FrameKind, msg string) *DecodeError {
	return &DecodeError{Code: ErrCodeUnsupportedFrameType, Kind: kind, Message: msg}
}

func noRecord(kind FrameKind, msg string) *DecodeError {
	return &DecodeError{Code: ErrCodeNoRecord, Kind: kind, Message: msg}
}

// IsDecodeError reports whether err came from the frame decoder.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
