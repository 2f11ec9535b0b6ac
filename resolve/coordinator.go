// Package resolve turns a resolution request into one outcome by running scan
// sessions over the configured modalities in priority order.
package resolve

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
	"github.com/dotside-studios/seatlink-agent/scan"
)

// Logf receives coordinator diagnostics. Replace with SetLogger.
var Logf = log.Printf

// SetLogger replaces Logf; nil silences it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// ErrSuperseded is the cause of an outcome cancelled by a newer request from
// the same caller.
var ErrSuperseded = errors.New("superseded by a newer resolution request")

// Request describes one resolution.
type Request struct {
	AllowList beacon.AllowList
	// Modalities in priority order; empty uses the coordinator default.
	Modalities []beacon.Modality
	// TimeoutPerModality bounds each session; zero uses the default.
	TimeoutPerModality time.Duration
	// Concurrent runs every modality at once instead of one after another.
	Concurrent bool
	// Device is the id of the remote device scanning on the caller's behalf,
	// usually their own phone. Empty scans on local hardware only.
	Device string
}

// Recorder receives every finished outcome.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithGate sets the permission gate. Without one every capability is
// assumed granted.
func WithGate(g *permission.Gate) Option {
	return func(c *Coordinator) { c.gate = g }
}

// WithLeases shares a lease table with other users of the drivers.
func WithLeases(l *scan.Leases) Option {
	return func(c *Coordinator) { c.leases = l }
}

// WithClock sets the clock used for session deadlines.
func WithClock(clock scan.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithDecoder sets the frame decoder (GATT presence tokens live there).
func WithDecoder(d *beacon.Decoder) Option {
	return func(c *Coordinator) { c.decoder = d }
}

// WithMatcherOptions are applied to the matcher built for every request.
func WithMatcherOptions(opts ...beacon.MatcherOption) Option {
	return func(c *Coordinator) { c.matcherOpts = append(c.matcherOpts, opts...) }
}

// WithRecorder logs every outcome.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithDefaults sets the modality order and timeout used when a request leaves
// them empty.
func WithDefaults(modalities []beacon.Modality, timeout time.Duration) Option {
	return func(c *Coordinator) {
		if len(modalities) > 0 {
			c.defaultModalities = append([]beacon.Modality(nil), modalities...)
		}
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

// WithPollInterval sets how often tag readers are polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.pollInterval = d }
}

// Coordinator owns the drivers and runs resolutions against them.
type Coordinator struct {
	drivers           map[beacon.Modality]scan.Driver
	gate              *permission.Gate
	leases            *scan.Leases
	clock             scan.Clock
	decoder           *beacon.Decoder
	matcherOpts       []beacon.MatcherOption
	recorder          Recorder
	defaultModalities []beacon.Modality
	defaultTimeout    time.Duration
	pollInterval      time.Duration

	mu       sync.Mutex
	inflight map[string]*call
}

type call struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New builds a Coordinator. A later driver for the same modality replaces an
// earlier one.
func New(drivers []scan.Driver, opts ...Option) *Coordinator {
	c := &Coordinator{
		drivers:           make(map[beacon.Modality]scan.Driver),
		gate:              permission.NewGate(nil),
		leases:            scan.NewLeases(),
		clock:             scan.NewRealClock(),
		decoder:           &beacon.Decoder{},
		defaultModalities: append([]beacon.Modality(nil), beacon.Modalities...),
		defaultTimeout:    scan.DefaultTimeout,
		inflight:          make(map[string]*call),
	}
	for _, d := range drivers {
		if d != nil {
			c.drivers[d.Modality()] = d
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Modalities lists the modalities that have a driver, in default order.
func (c *Coordinator) Modalities() []beacon.Modality {
	var out []beacon.Modality
	for _, m := range c.defaultModalities {
		if _, ok := c.drivers[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Resolve runs an anonymous request.
func (c *Coordinator) Resolve(ctx context.Context, req Request) Outcome {
	return c.ResolveFor(ctx, "", req)
}

// ResolveFor runs a request on behalf of caller. Only one request per caller
// is in flight: a new one cancels the previous, which returns Cancelled.
// An empty caller opts out of that bookkeeping.
func (c *Coordinator) ResolveFor(ctx context.Context, caller string, req Request) Outcome {
	ctx, done := c.register(ctx, caller)
	defer done()

	started := c.clock.Now()
	out := c.resolve(ctx, req)
	out.Caller = caller
	out.StartedAt = started
	out.FinishedAt = c.clock.Now()

	Logf("[resolve] caller=%q result=%s table=%q modality=%s attempts=%d",
		caller, out.Result, out.TableID, out.Modality, len(out.Attempts))

	if c.recorder != nil {
		if err := c.recorder.RecordOutcome(context.WithoutCancel(ctx), out); err != nil {
			Logf("[resolve] failed to record outcome: %v", err)
		}
	}
	return out
}

func (c *Coordinator) register(ctx context.Context, caller string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if caller == "" {
		return ctx, func() { cancel(nil) }
	}

	cl := &call{cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	prev := c.inflight[caller]
	c.inflight[caller] = cl
	c.mu.Unlock()

	// The superseded call must hand back its hardware before this one
	// starts acquiring the same modalities.
	if prev != nil {
		prev.cancel(ErrSuperseded)
		<-prev.done
	}

	return ctx, func() {
		c.mu.Lock()
		if c.inflight[caller] == cl {
			delete(c.inflight, caller)
		}
		c.mu.Unlock()
		cancel(nil)
		close(cl.done)
	}
}

// step is one modality of a request; driver is nil when none is registered.
type step struct {
	modality beacon.Modality
	driver   scan.Driver
}

func (c *Coordinator) resolve(ctx context.Context, req Request) Outcome {
	modalities := req.Modalities
	if len(modalities) == 0 {
		modalities = c.defaultModalities
	}
	timeout := req.TimeoutPerModality
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx = scan.WithDevice(ctx, req.Device)

	var (
		out      Outcome
		plan     []step
		runnable int
		caps     []permission.Capability
		seen     = make(map[beacon.Modality]bool)
	)
	for _, m := range modalities {
		if seen[m] {
			continue
		}
		seen[m] = true
		d := c.drivers[m]
		plan = append(plan, step{modality: m, driver: d})
		if d != nil {
			runnable++
			caps = append(caps, scan.CapabilitiesFor(ctx, d)...)
		}
	}

	if runnable == 0 {
		for _, st := range plan {
			out.Attempts = append(out.Attempts, missingDriver(st.modality))
		}
		out.Result = ResultUnsupported
		return out
	}

	if _, err := c.gate.Ensure(ctx, caps...); err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx, out)
		}
		out.Result = ResultPermissionDenied
		out.Err = err
		return out
	}

	matcher := beacon.NewMatcher(req.AllowList, c.matcherOpts...)
	newSession := func(d scan.Driver) *scan.Session {
		return scan.NewSession(scan.Config{
			Driver:       d,
			Gate:         c.gate,
			Leases:       c.leases,
			Decoder:      c.decoder,
			Matcher:      matcher,
			Timeout:      timeout,
			PollInterval: c.pollInterval,
			Clock:        c.clock,
		})
	}

	var final *scan.Result
	if req.Concurrent {
		final = c.runConcurrent(ctx, plan, newSession, &out)
	} else {
		final = c.runSequential(ctx, plan, newSession, &out)
	}

	if final != nil && final.State == scan.Matched {
		out.Result = ResultTableID
		out.TableID = final.TableID
		out.Modality = final.Modality
		out.Identity = final.Identity
		return out
	}
	if final != nil {
		// A denial met during a session aborts the request.
		out.Result = ResultPermissionDenied
		out.Modality = final.Modality
		out.Err = final.Err
		return out
	}
	if ctx.Err() != nil {
		return cancelled(ctx, out)
	}

	var busy error
	for _, a := range out.Attempts {
		switch {
		case a.Unsupported():
		case errors.Is(a.Err, scan.ErrModalityBusy):
			busy = a.Err
		default:
			out.Result = ResultNotFound
			return out
		}
	}
	if busy != nil {
		// Nothing was scanned: the hardware stayed with another request.
		out.Result = ResultCancelled
		out.Err = busy
		return out
	}
	out.Result = ResultUnsupported
	return out
}

// decisive reports whether a session result ends the whole request.
func decisive(res scan.Result) bool {
	return res.State == scan.Matched || (res.State == scan.Failed && scan.IsPermissionDenied(res.Err))
}

// runSequential runs one session at a time and stops at the first match or
// permission denial, which it returns.
func (c *Coordinator) runSequential(ctx context.Context, plan []step, newSession func(scan.Driver) *scan.Session, out *Outcome) *scan.Result {
	for _, st := range plan {
		if ctx.Err() != nil {
			return nil
		}
		if st.driver == nil {
			out.Attempts = append(out.Attempts, missingDriver(st.modality))
			continue
		}
		res := newSession(st.driver).Run(ctx)
		out.Attempts = append(out.Attempts, attemptFrom(res))
		if decisive(res) {
			return &res
		}
	}
	return nil
}

// runConcurrent starts every session together. The first match or
// permission denial is kept and the remaining sessions are stopped; anything
// they report afterwards is ignored.
func (c *Coordinator) runConcurrent(ctx context.Context, plan []step, newSession func(scan.Driver) *scan.Session, out *Outcome) *scan.Result {
	sessions := make([]*scan.Session, len(plan))
	for i, st := range plan {
		if st.driver != nil {
			sessions[i] = newSession(st.driver)
		}
	}

	var (
		once  sync.Once
		final *scan.Result
		wg    sync.WaitGroup
	)
	decided := make(chan struct{})

	for _, s := range sessions {
		if s == nil {
			continue
		}
		if err := s.Start(ctx); err != nil {
			Logf("[resolve] %s: %v", s.Modality(), err)
			continue
		}
		wg.Add(1)
		go func(s *scan.Session) {
			defer wg.Done()
			<-s.Done()
			res := s.Result()
			if !decisive(res) {
				return
			}
			once.Do(func() {
				final = &res
				close(decided)
			})
		}(s)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-decided:
		for _, s := range sessions {
			if s != nil {
				s.Stop()
			}
		}
	case <-allDone:
	}
	<-allDone

	for i, s := range sessions {
		if s == nil {
			out.Attempts = append(out.Attempts, missingDriver(plan[i].modality))
			continue
		}
		out.Attempts = append(out.Attempts, attemptFrom(s.Result()))
	}
	return final
}

func missingDriver(m beacon.Modality) Attempt {
	return Attempt{
		Modality: m,
		State:    scan.Failed,
		Err:      scan.NewUnsupportedError(m, "Resolve", errors.New("no driver registered")),
	}
}

func attemptFrom(res scan.Result) Attempt {
	return Attempt{Modality: res.Modality, State: res.State, Err: res.Err, Frames: res.Frames}
}

func cancelled(ctx context.Context, out Outcome) Outcome {
	out.Result = ResultCancelled
	out.Err = context.Cause(ctx)
	return out
}
