package resolve

import (
	"fmt"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/scan"
)

// Result is the kind of a resolution outcome.
type Result int

const (
	ResultTableID Result = iota
	ResultPermissionDenied
	ResultNotFound
	ResultUnsupported
	ResultCancelled
)

// String returns the wire name of the result.
func (r Result) String() string {
	switch r {
	case ResultTableID:
		return "table-id"
	case ResultPermissionDenied:
		return "permission-denied"
	case ResultNotFound:
		return "not-found"
	case ResultUnsupported:
		return "unsupported"
	case ResultCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// ParseResult is the inverse of Result.String.
func ParseResult(s string) (Result, error) {
	for r := ResultTableID; r <= ResultCancelled; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown resolution result %q", s)
}

// Attempt summarises one modality's session.
type Attempt struct {
	Modality beacon.Modality
	State    scan.State
	Err      error
	Frames   int
}

// Unsupported reports whether the attempt never ran because the platform
// lacks the modality.
func (a Attempt) Unsupported() bool {
	return a.State == scan.Failed && scan.IsUnsupported(a.Err)
}

// Outcome is the single answer to a resolution request.
type Outcome struct {
	Result     Result
	TableID    string
	Modality   beacon.Modality
	Identity   beacon.Identity
	Attempts   []Attempt
	Caller     string
	StartedAt  time.Time
	FinishedAt time.Time
	// Err explains PermissionDenied and Cancelled outcomes.
	Err error
}

// Found reports whether a table id was resolved.
func (o Outcome) Found() bool { return o.Result == ResultTableID }
