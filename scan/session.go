// Package scan runs one scanning attempt for one modality: permission check,
// exclusive hardware acquisition, frame decoding and matching, deadline and
// cancellation.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
)

// State of a Session.
type State int

const (
	Idle State = iota
	AwaitingPermission
	Scanning
	Matched
	TimedOut
	Failed
	Stopped
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPermission:
		return "awaiting-permission"
	case Scanning:
		return "scanning"
	case Matched:
		return "matched"
	case TimedOut:
		return "timed-out"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s >= Matched
}

// Default timings.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

// Logf receives session diagnostics. Replace with SetLogger.
var Logf = log.Printf

// SetLogger replaces Logf; nil silences it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Config wires a Session to its collaborators. Driver and Matcher are
// required; the rest have defaults.
type Config struct {
	Driver       Driver
	Gate         *permission.Gate
	Leases       *Leases
	Decoder      *beacon.Decoder
	Matcher      *beacon.Matcher
	Timeout      time.Duration
	PollInterval time.Duration
	Filter       *Filter
	Clock        Clock
}

// Result is the terminal report of a session.
type Result struct {
	Modality beacon.Modality
	State    State
	TableID  string
	Identity beacon.Identity
	Err      error
	// Frames counts frames received; Skipped those that failed to decode.
	Frames  int
	Skipped int
}

// Session is a single-use scanning attempt. Create a new one for every try.
type Session struct {
	cfg      Config
	modality beacon.Modality
	filter   Filter

	mu       sync.Mutex
	state    State
	started  bool
	deadline time.Time
	cancel   context.CancelFunc
	handle   Handle
	lease    *Lease
	result   Result

	releaseOnce sync.Once
	done        chan struct{}
	doneOnce    sync.Once
	readers     sync.WaitGroup
}

// NewSession prepares an idle session.
func NewSession(cfg Config) *Session {
	if cfg.Gate == nil {
		cfg.Gate = permission.NewGate(nil)
	}
	if cfg.Leases == nil {
		cfg.Leases = NewLeases()
	}
	if cfg.Decoder == nil {
		cfg.Decoder = &beacon.Decoder{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	s := &Session{
		cfg:  cfg,
		done: make(chan struct{}),
	}
	if cfg.Driver != nil {
		s.modality = cfg.Driver.Modality()
	}
	if cfg.Filter != nil {
		s.filter = *cfg.Filter
	} else {
		s.filter = FilterFor(s.modality)
	}
	return s
}

// Modality returns the modality this session scans.
func (s *Session) Modality() beacon.Modality { return s.modality }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Deadline is zero until the permission check has passed. Waiting for busy
// hardware counts against it.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns the terminal report; it is only complete after Done.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Start begins the session in the background. A session runs once; starting
// it again returns ErrSessionUsed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return &Error{Code: ErrCodeSessionUsed, Op: "Start", Modality: s.modality, Message: "session already started"}
	}
	s.started = true
	if s.cfg.Driver == nil || s.cfg.Matcher == nil {
		s.mu.Unlock()
		s.finish(Failed, "", beacon.Identity{}, errors.New("session needs a driver and a matcher"))
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = AwaitingPermission
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Run starts the session and blocks until it ends.
func (s *Session) Run(ctx context.Context) Result {
	if err := s.Start(ctx); err != nil {
		return Result{Modality: s.modality, State: Failed, Err: err}
	}
	<-s.done
	return s.Result()
}

// Stop cancels the session and waits until its handle is released. Stopping a
// session that already ended is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.started = true
		s.mu.Unlock()
		s.finish(Stopped, "", beacon.Identity{}, nil)
		return
	}
	if s.state.Terminal() {
		s.mu.Unlock()
		<-s.done
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	driver := s.cfg.Driver

	if _, err := s.cfg.Gate.Ensure(ctx, CapabilitiesFor(ctx, driver)...); err != nil {
		if ctx.Err() != nil {
			s.finish(Stopped, "", beacon.Identity{}, ctx.Err())
			return
		}
		s.finish(Failed, "", beacon.Identity{}, &Error{
			Code: ErrCodePermissionDenied, Op: "Start", Modality: s.modality, Message: "permission denied", Cause: err,
		})
		return
	}

	// The deadline covers waiting for busy hardware as well as scanning.
	timer := s.cfg.Clock.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	s.mu.Lock()
	s.deadline = s.cfg.Clock.Now().Add(s.cfg.Timeout)
	s.mu.Unlock()

	lease, err := s.cfg.Leases.Wait(ctx, s.modality, HardwareKey(ctx, driver), timer.C())
	if err != nil {
		if ctx.Err() != nil {
			s.finish(Stopped, "", beacon.Identity{}, ctx.Err())
			return
		}
		s.finish(Failed, "", beacon.Identity{}, err)
		return
	}
	s.mu.Lock()
	s.lease = lease
	s.mu.Unlock()

	handle, err := driver.Acquire(ctx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			s.finish(Stopped, "", beacon.Identity{}, ctx.Err())
		case IsUnsupported(err), errors.Is(err, ErrPermissionDenied):
			s.finish(Failed, "", beacon.Identity{}, err)
		default:
			s.finish(Failed, "", beacon.Identity{}, NewTransportError(s.modality, "Acquire", err))
		}
		return
	}

	s.mu.Lock()
	s.handle = handle
	if s.state.Terminal() {
		s.mu.Unlock()
		s.release()
		return
	}
	s.state = Scanning
	s.mu.Unlock()
	Logf("[scan] %s: scanning until %s", s.modality, s.Deadline().Format(time.RFC3339))

	var (
		frames <-chan beacon.RawFrame
		errs   <-chan error
		src    AdvertisementSource
	)
	switch h := handle.(type) {
	case AdvertisementSource:
		src = h
		frames, err = h.StartScan(ctx, s.filter)
		if err != nil {
			s.finish(Failed, "", beacon.Identity{}, NewTransportError(s.modality, "StartScan", err))
			return
		}
	case TagSource:
		frames, errs = s.pollTags(ctx, h)
	default:
		s.finish(Failed, "", beacon.Identity{}, NewTransportError(s.modality, "Acquire", fmt.Errorf("handle %T is neither an advertisement nor a tag source", handle)))
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.finish(Stopped, "", beacon.Identity{}, ctx.Err())
			return

		case <-timer.C():
			s.finish(TimedOut, "", beacon.Identity{}, nil)
			return

		case err := <-errs:
			s.finish(Failed, "", beacon.Identity{}, NewTransportError(s.modality, "ReadTag", err))
			return

		case frame, ok := <-frames:
			if !ok {
				cause := src.Err()
				if cause == nil {
					cause = errors.New("frame stream closed")
				}
				s.finish(Failed, "", beacon.Identity{}, NewTransportError(s.modality, "Scan", cause))
				return
			}
			if tableID, id, ok := s.evaluate(frame); ok {
				s.finish(Matched, tableID, id, nil)
				return
			}
		}
	}
}

// evaluate decodes and matches one frame. Decode failures and misses are
// skipped.
func (s *Session) evaluate(frame beacon.RawFrame) (string, beacon.Identity, bool) {
	s.mu.Lock()
	s.result.Frames++
	s.mu.Unlock()

	if !s.filter.Accepts(frame) {
		return "", beacon.Identity{}, false
	}
	rec, err := s.cfg.Decoder.Decode(frame)
	if err != nil {
		s.mu.Lock()
		s.result.Skipped++
		s.mu.Unlock()
		return "", beacon.Identity{}, false
	}
	m := s.cfg.Matcher.Match(rec)
	if m.Err != nil {
		Logf("[scan] %s: %s matched entry %d but no table id: %v", s.modality, rec.Identity, m.Index, m.Err)
		return "", beacon.Identity{}, false
	}
	if !m.Matched {
		return "", beacon.Identity{}, false
	}
	return m.TableID, rec.Identity, true
}

// pollTags turns single-shot reads into a frame stream. It waits PollInterval
// between empty reads and stops when ctx is cancelled or a read fails.
func (s *Session) pollTags(ctx context.Context, src TagSource) (<-chan beacon.RawFrame, <-chan error) {
	frames := make(chan beacon.RawFrame)
	errs := make(chan error, 1)

	s.readers.Add(1)
	go func() {
		defer s.readers.Done()
		for {
			frame, err := src.ReadTag(ctx)
			switch {
			case err == nil:
				select {
				case frames <- frame:
				case <-ctx.Done():
					return
				}
			case ctx.Err() != nil:
				return
			case errors.Is(err, ErrTagNotPresent):
			default:
				errs <- err
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-s.cfg.Clock.After(s.cfg.PollInterval):
			}
		}
	}()
	return frames, errs
}

// finish records the terminal state once and releases everything the session
// owns.
func (s *Session) finish(state State, tableID string, id beacon.Identity, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.result.Modality = s.modality
	s.result.State = state
	s.result.TableID = tableID
	s.result.Identity = id
	s.result.Err = err
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.readers.Wait()
	s.release()

	switch state {
	case Matched:
		Logf("[scan] %s: matched %s -> table %s", s.modality, id, tableID)
	case Failed:
		Logf("[scan] %s: failed: %v", s.modality, err)
	default:
		Logf("[scan] %s: %s", s.modality, state)
	}
	s.doneOnce.Do(func() { close(s.done) })
}

// release closes the handle, then frees the lease, exactly once.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		handle, lease := s.handle, s.lease
		s.mu.Unlock()

		if handle != nil {
			if src, ok := handle.(AdvertisementSource); ok {
				if err := src.StopScan(); err != nil {
					Logf("[scan] %s: stop scan: %v", s.modality, err)
				}
			}
			if err := handle.Close(); err != nil {
				Logf("[scan] %s: close handle: %v", s.modality, err)
			}
		}
		if lease != nil {
			lease.Release()
		}
	})
}
