// Package permission checks the platform capabilities a scan needs before any
// radio or tag reader is touched.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Capability is one platform permission.
type Capability string

const (
	Bluetooth   Capability = "bluetooth"
	Geolocation Capability = "geolocation"
	NFC         Capability = "nfc"
)

// State is the answer to a permission query.
type State int

const (
	Granted State = iota
	Prompt
	Denied
)

// String returns the browser Permissions API name of the state.
func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Prompt:
		return "prompt"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState accepts the names used by browsers' permission API.
func ParseState(s string) (State, error) {
	switch s {
	case "granted":
		return Granted, nil
	case "prompt":
		return Prompt, nil
	case "denied":
		return Denied, nil
	default:
		return Denied, fmt.Errorf("unknown permission state %q", s)
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts the names returned by String.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ErrDenied is matched by every DeniedError.
var ErrDenied = errors.New("permission denied")

// DeniedError names the capability that was refused.
type DeniedError struct {
	Capability Capability
	Cause      error
}

func (e *DeniedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s permission denied: %v", e.Capability, e.Cause)
	}
	return fmt.Sprintf("%s permission denied", e.Capability)
}

func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

func (e *DeniedError) Unwrap() error { return e.Cause }

// Querier reports the current state of a capability.
type Querier interface {
	Query(ctx context.Context, c Capability) (State, error)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func(ctx context.Context, c Capability) (State, error)

func (f QuerierFunc) Query(ctx context.Context, c Capability) (State, error) { return f(ctx, c) }

// Logf receives notices about prompted capabilities. Replace with SetLogger.
var Logf = log.Printf

// SetLogger replaces Logf; nil silences it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Gate checks capabilities one by one.
type Gate struct {
	querier Querier
}

// NewGate returns a Gate backed by q. A nil querier means the platform offers
// no way to ask, and every capability is assumed granted.
func NewGate(q Querier) *Gate {
	return &Gate{querier: q}
}

// Ensure checks each capability independently and stops at the first denial.
// A Prompt answer is let through after logging a notice, and the combined
// state is Prompt if any capability was still undecided. A failing query
// counts as a denial.
func (g *Gate) Ensure(ctx context.Context, caps ...Capability) (State, error) {
	overall := Granted
	for _, c := range dedupe(caps) {
		if err := ctx.Err(); err != nil {
			return Denied, err
		}
		if g == nil || g.querier == nil {
			continue
		}

		state, err := g.querier.Query(ctx, c)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Denied, ctxErr
			}
			Logf("[permission] %s query failed: %v", c, err)
			return Denied, &DeniedError{Capability: c, Cause: err}
		}

		switch state {
		case Granted:
		case Prompt:
			Logf("[permission] %s permission not yet decided, continuing", c)
			overall = Prompt
		default:
			return Denied, &DeniedError{Capability: c}
		}
	}
	return overall, nil
}

func dedupe(caps []Capability) []Capability {
	seen := make(map[Capability]bool, len(caps))
	out := caps[:0:0]
	for _, c := range caps {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
