// Package scheduler decides when each agent's flows run.
//
// Every (agent, flow) pair has one entry moving through
// Idle -> Running -> Idle (cyclic) or Finished (one-shot). An entry is
// launched only when Idle and its cooldown has expired, so a pair never has
// two runs in flight. Time is logical: callers pass the simulation clock.
//
// Runs that stay Running longer than period + max(period, MinLivenessWindow)
// are reported as liveness faults. They are never cancelled automatically.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TBlauwe/Dynamo-sub000/internal/tracing"
	"github.com/TBlauwe/Dynamo-sub000/pkg/command"
	"github.com/TBlauwe/Dynamo-sub000/pkg/flow"
	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

// DefaultMinLivenessWindow bounds the liveness window of short or one-shot flows.
const DefaultMinLivenessWindow = time.Second

// ErrDuplicateEntry is returned when a flow is added twice for the same agent.
var ErrDuplicateEntry = errors.New("flow already scheduled for agent")

// Options configures a Scheduler.
type Options struct {
	Submitter Submitter
	Commands  command.Sink
	Logger    zerolog.Logger
	Metrics   Recorder

	MinLivenessWindow time.Duration
	OnFault           func(fault *LivenessFault)
}

type entry struct {
	flow   *flow.Flow
	period time.Duration
	cyclic bool

	status     Status
	readyAt    time.Duration
	launchedAt time.Duration
	handle     Handle
	buffer     *command.Buffer
	span       trace.Span
	runID      string

	lastStatus        RunStatus
	lastErr           error
	consecutiveErrors int
	stalled           bool
}

func (e *entry) agent() world.EntityID { return e.flow.Agent().ID }

// Scheduler owns the entries of every agent.
type Scheduler struct {
	opts    Options
	logger  zerolog.Logger
	metrics Recorder

	mu      sync.Mutex
	entries []*entry
	now     time.Duration
}

// New creates a scheduler. Submitter and Commands are required.
func New(opts Options) (*Scheduler, error) {
	if opts.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("command sink is required")
	}
	if opts.MinLivenessWindow <= 0 {
		opts.MinLivenessWindow = DefaultMinLivenessWindow
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}

	return &Scheduler{
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "scheduler").Logger(),
		metrics: metrics,
	}, nil
}

// Add schedules f for its agent at logical time now. The first launch
// happens once opts.Delay has elapsed from now.
func (s *Scheduler) Add(f *flow.Flow, opts EntryOptions, now time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = max(s.now, now)

	for _, e := range s.entries {
		if e.agent() == f.Agent().ID && e.flow.Name() == f.Name() {
			return fmt.Errorf("%w: %s on %s", ErrDuplicateEntry, f.Name(), f.Agent().ID)
		}
	}

	s.entries = append(s.entries, &entry{
		flow:    f,
		period:  opts.Period,
		cyclic:  opts.Cyclic,
		status:  StatusIdle,
		readyAt: now + opts.Delay,
	})

	s.logger.Debug().
		Stringer("agent", f.Agent().ID).
		Str("flow", f.Name()).
		Dur("period", opts.Period).
		Bool("cyclic", opts.Cyclic).
		Msg("Flow scheduled")
	return nil
}

// Remove cancels the in-flight runs of agent and forgets its entries. It
// returns the handles of cancelled runs so callers may wait for them.
func (s *Scheduler) Remove(agent world.EntityID) []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelled []Handle
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.agent() != agent {
			kept = append(kept, e)
			continue
		}
		if e.status == StatusRunning {
			e.handle.Cancel()
			e.span.End()
			go s.settleWhenDone(e.handle, e.buffer)
			cancelled = append(cancelled, e.handle)
		}
	}
	clear(s.entries[len(kept):])
	s.entries = kept
	return cancelled
}

// Trigger launches every idle entry whose cooldown expired at now.
func (s *Scheduler) Trigger(ctx context.Context, now time.Duration) []Launch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now

	var launches []Launch
	for _, e := range s.entries {
		if e.status != StatusIdle || now < e.readyAt {
			continue
		}
		launches = append(launches, s.launch(ctx, e, now))
	}
	return launches
}

func (s *Scheduler) launch(ctx context.Context, e *entry, now time.Duration) Launch {
	f := e.flow
	runID := tracing.NewRunID()

	runCtx := tracing.NewFlowRunContext(ctx, runID, f.Agent().ID.String(), f.Name())
	runCtx, span := tracing.StartSpan(runCtx, "dynamo.scheduler", "flow.run",
		attribute.String("flow", f.Name()),
		attribute.String("agent", f.Agent().ID.String()),
		attribute.Int64("counter", f.Counter()+1),
	)
	logger := tracing.LoggerFromContext(runCtx, s.opts.Logger)

	buffer := command.NewBuffer()
	handle := s.opts.Submitter.Submit(runCtx, f.Graph(flow.RunParams{
		RunID:    runID,
		Commands: buffer,
		Logger:   logger,
	}))

	f.MarkLaunched()
	e.status = StatusRunning
	e.launchedAt = now
	e.handle = handle
	e.buffer = buffer
	e.span = span
	e.runID = runID
	e.stalled = false

	s.metrics.FlowLaunched(f.Name())
	logger.Trace().Dur("now", now).Msg("Flow launched")

	return Launch{Agent: f.Agent().ID, Flow: f.Name(), RunID: runID, Handle: handle}
}

// Reap collects finished runs. Cyclic entries go back to idle with a fresh
// cooldown of one period starting at now.
func (s *Scheduler) Reap(now time.Duration) []Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now

	var done []Completion
	for _, e := range s.entries {
		if e.status != StatusRunning || !e.handle.IsFinished() {
			continue
		}
		done = append(done, s.complete(e, now))
	}
	return done
}

func (s *Scheduler) complete(e *entry, now time.Duration) Completion {
	f := e.flow
	d := e.handle.Duration()
	err := e.handle.Err()
	f.AddDuration(d)

	logger := s.logger.With().
		Stringer("agent", f.Agent().ID).
		Str("flow", f.Name()).
		Str("run_id", e.runID).
		Logger()

	e.lastStatus = classify(err)
	e.lastErr = err
	forwarded := s.settle(e.buffer, e.lastStatus)

	switch e.lastStatus {
	case RunOK:
		e.consecutiveErrors = 0
		logger.Trace().Dur("duration", d).Int("commands", forwarded).Msg("Flow finished")
	case RunCancelled:
		logger.Debug().Dur("duration", d).Int("commands", forwarded).Msg("Flow cancelled")
	default:
		e.consecutiveErrors++
		e.span.RecordError(err)
		e.span.SetStatus(codes.Error, err.Error())
		logger.Warn().
			Err(err).
			Int("consecutiveErrors", e.consecutiveErrors).
			Msg("Flow failed, its commands are discarded")
	}
	e.span.End()

	if e.cyclic {
		e.status = StatusIdle
		e.readyAt = now + e.period
	} else {
		e.status = StatusFinished
	}
	e.handle = nil
	e.buffer = nil
	e.span = nil
	e.stalled = false

	s.metrics.FlowFinished(f.Name(), e.lastStatus, d)

	return Completion{
		Agent:    f.Agent().ID,
		Flow:     f.Name(),
		RunID:    e.runID,
		Status:   e.lastStatus,
		Err:      err,
		Duration: d,
	}
}

func classify(err error) RunStatus {
	switch {
	case err == nil:
		return RunOK
	case errors.Is(err, context.Canceled):
		return RunCancelled
	default:
		return RunError
	}
}

// settle forwards the commands of a finished run to the shared sink, or
// drops them when the run failed. A cancelled run keeps what it pushed
// before stopping. It returns the number of forwarded commands.
func (s *Scheduler) settle(buffer *command.Buffer, status RunStatus) int {
	if status == RunError {
		buffer.Discard()
		return 0
	}
	return buffer.Flush(s.opts.Commands)
}

func (s *Scheduler) settleWhenDone(h Handle, buffer *command.Buffer) {
	<-h.Done()
	s.settle(buffer, classify(h.Err()))
}

// Wait blocks until every launch finished or ctx is done.
func Wait(ctx context.Context, launches []Launch) error {
	for _, l := range launches {
		select {
		case <-l.Handle.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// CancelAll requests cooperative cancellation of every in-flight run.
// Entries stay Running until Reap observes the end of their run.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.status == StatusRunning {
			e.handle.Cancel()
			n++
		}
	}
	if n > 0 {
		s.logger.Info().Int("runs", n).Msg("Cancelling in-flight flows")
	}
	return n
}

// Running returns the number of in-flight runs.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.status == StatusRunning {
			n++
		}
	}
	return n
}

// InFlight returns the handles of every in-flight run.
func (s *Scheduler) InFlight() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var handles []Handle
	for _, e := range s.entries {
		if e.status == StatusRunning {
			handles = append(handles, e.handle)
		}
	}
	return handles
}

// CheckLiveness reports runs that exceeded their liveness window. Each run
// is reported once.
func (s *Scheduler) CheckLiveness(now time.Duration) []*LivenessFault {
	s.mu.Lock()
	var faults []*LivenessFault
	for _, e := range s.entries {
		if e.status != StatusRunning || e.stalled {
			continue
		}
		window := e.period + max(e.period, s.opts.MinLivenessWindow)
		running := now - e.launchedAt
		if running <= window {
			continue
		}
		e.stalled = true
		faults = append(faults, &LivenessFault{
			Agent:      e.agent(),
			Flow:       e.flow.Name(),
			RunID:      e.runID,
			RunningFor: running,
			Window:     window,
		})
	}
	s.mu.Unlock()

	for _, fault := range faults {
		s.logger.Warn().
			Stringer("agent", fault.Agent).
			Str("flow", fault.Flow).
			Str("run_id", fault.RunID).
			Dur("runningFor", fault.RunningFor).
			Dur("window", fault.Window).
			Msg("Flow still running past its liveness window")
		s.metrics.LivenessFault(fault.Flow)
		if s.opts.OnFault != nil {
			s.opts.OnFault(fault)
		}
	}
	return faults
}

// Status returns the entries of agent.
func (s *Scheduler) Status(agent world.EntityID) []EntryState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var states []EntryState
	for _, e := range s.entries {
		if e.agent() == agent {
			states = append(states, s.stateLocked(e))
		}
	}
	return states
}

// Snapshot returns every entry in scheduling order.
func (s *Scheduler) Snapshot() []EntryState {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]EntryState, len(s.entries))
	for i, e := range s.entries {
		states[i] = s.stateLocked(e)
	}
	return states
}

func (s *Scheduler) stateLocked(e *entry) EntryState {
	state := EntryState{
		Agent:             e.agent(),
		Flow:              e.flow.Name(),
		Status:            e.status,
		Period:            e.period,
		Cyclic:            e.cyclic,
		LastLaunch:        e.launchedAt,
		RunID:             e.runID,
		Counter:           e.flow.Counter(),
		Duration:          e.flow.Duration(),
		LastStatus:        e.lastStatus,
		LastError:         e.lastErr,
		ConsecutiveErrors: e.consecutiveErrors,
		Stalled:           e.stalled,
	}
	if e.status == StatusIdle && e.readyAt > s.now {
		state.CooldownRemaining = e.readyAt - s.now
	}
	return state
}
