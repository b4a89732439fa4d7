// Package sim drives the simulation tick.
//
// Each Step runs, in order:
//  1. the synchronous phases, with the store writable;
//  2. a reap of runs that finished since the last tick;
//  3. the scheduler trigger pass, with the store read-only;
//  4. the drain policy: barrier waits for this tick's launches, span does not;
//  5. the command queue drain, with the store writable again;
//  6. the liveness check, then logical time advances.
//
// Per-agent decision failures never fail a Step. They are visible through
// Status.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/TBlauwe/Dynamo-sub000/internal/tracing"
	"github.com/TBlauwe/Dynamo-sub000/pkg/command"
	"github.com/TBlauwe/Dynamo-sub000/pkg/executor"
	"github.com/TBlauwe/Dynamo-sub000/pkg/scheduler"
	"github.com/TBlauwe/Dynamo-sub000/pkg/strategy"
	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

// ErrShutdown is returned by calls made after Shutdown.
var ErrShutdown = errors.New("simulation is shut down")

// PhaseFunc is a synchronous world phase. It runs with the store writable.
type PhaseFunc func(store *world.Store, dt time.Duration) error

type phase struct {
	name string
	run  PhaseFunc
}

// Simulation owns the world and every collaborator of the decision core.
type Simulation struct {
	opts    Options
	logger  zerolog.Logger
	metrics Metrics

	store     *world.Store
	exec      *executor.Executor
	ownsExec  bool
	registry  *strategy.Registry
	queue     *command.Queue
	scheduler *scheduler.Scheduler

	mu       sync.Mutex
	phases   []phase
	models   map[string][]FlowModel
	now      time.Duration
	tick     uint64
	shutdown bool
}

// New creates a simulation. Missing collaborators are created from opts.
func New(opts Options) (*Simulation, error) {
	opts.withDefaults()
	if _, err := ParseDrainPolicy(string(opts.DrainPolicy)); err != nil {
		return nil, err
	}

	s := &Simulation{
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "simulation").Logger(),
		metrics:  opts.Metrics,
		store:    opts.Store,
		exec:     opts.Executor,
		registry: strategy.NewRegistry(),
		models:   make(map[string][]FlowModel),
	}
	if s.store == nil {
		s.store = world.NewStore()
	}
	if s.exec == nil {
		s.exec = executor.New(opts.Workers)
		s.ownsExec = true
	}

	s.queue = command.New(command.Options{Logger: opts.Logger, Metrics: opts.Metrics})

	sched, err := scheduler.New(scheduler.Options{
		Submitter:         scheduler.FromExecutor(s.exec),
		Commands:          s.queue,
		Logger:            opts.Logger,
		Metrics:           opts.Metrics,
		MinLivenessWindow: opts.MinLivenessWindow,
		OnFault:           opts.OnFault,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.scheduler = sched

	s.logger.Debug().
		Str("drainPolicy", string(opts.DrainPolicy)).
		Dur("barrierTimeout", opts.BarrierTimeout).
		Int("workers", s.exec.Workers()).
		Msg("Simulation created")

	return s, nil
}

// Store returns the world store. Mutate it only between steps.
func (s *Simulation) Store() *world.Store { return s.store }

// Registry returns the strategy registry.
func (s *Simulation) Registry() *strategy.Registry { return s.registry }

// Queue returns the command queue.
func (s *Simulation) Queue() *command.Queue { return s.queue }

// Scheduler returns the flow scheduler.
func (s *Simulation) Scheduler() *scheduler.Scheduler { return s.scheduler }

// Now returns the logical time of the next step.
func (s *Simulation) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Tick returns the number of completed steps.
func (s *Simulation) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Status returns the scheduler entries of agent.
func (s *Simulation) Status(agent world.EntityID) []scheduler.EntryState {
	return s.scheduler.Status(agent)
}

// AddPhase appends a synchronous phase. Phases run in insertion order.
func (s *Simulation) AddPhase(name string, fn PhaseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, phase{name: name, run: fn})
}

// Step advances the simulation by one tick of elapsed logical time.
func (s *Simulation) Step(ctx context.Context, elapsed time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return ErrShutdown
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := tracing.StartSpan(ctx, "dynamo.sim", "tick",
		attribute.Int64("tick", int64(s.tick)),
		attribute.Int64("now_ms", s.now.Milliseconds()),
	)
	defer span.End()

	start := time.Now()
	logger := s.logger.With().Uint64("tick", s.tick).Dur("now", s.now).Logger()

	s.store.SetReadOnly(false)
	for _, p := range s.phases {
		if err := p.run(s.store, elapsed); err != nil {
			logger.Error().Err(err).Str("phase", p.name).Msg("Phase failed")
		}
	}

	completed := len(s.scheduler.Reap(s.now))

	s.store.SetReadOnly(true)
	launches := s.scheduler.Trigger(ctx, s.now)

	if s.opts.DrainPolicy == DrainBarrier && len(launches) > 0 {
		if err := s.barrier(ctx, launches, logger); err != nil {
			s.store.SetReadOnly(false)
			return err
		}
	}
	completed += len(s.scheduler.Reap(s.now))

	s.store.SetReadOnly(false)
	drained := s.queue.Drain(ctx, s.store)

	s.scheduler.CheckLiveness(s.now)

	s.now += elapsed
	s.tick++

	d := time.Since(start)
	s.metrics.TickCompleted(len(launches), completed, d)
	logger.Debug().
		Int("launched", len(launches)).
		Int("completed", completed).
		Int("applied", drained.Applied).
		Int("failed", drained.Failed).
		Dur("duration", d).
		Msg("Tick completed")

	return nil
}

// barrier waits for launches up to BarrierTimeout. Only the caller's context
// ending is an error; a timeout leaves slow flows running.
func (s *Simulation) barrier(ctx context.Context, launches []scheduler.Launch, logger zerolog.Logger) error {
	wctx, cancel := context.WithTimeout(ctx, s.opts.BarrierTimeout)
	defer cancel()

	if err := scheduler.Wait(wctx, launches); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn().
			Dur("timeout", s.opts.BarrierTimeout).
			Int("running", s.scheduler.Running()).
			Msg("Barrier timed out, flows left running")
	}
	return nil
}

// StepN runs n steps, stopping at the first error.
func (s *Simulation) StepN(ctx context.Context, n int, elapsed time.Duration) error {
	for i := 0; i < n; i++ {
		if err := s.Step(ctx, elapsed); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops the simulation. In-flight flows are waited for, or
// cancelled when CancelOnShutdown is set; if ctx ends first they are
// cancelled. Commands queued by finished runs are applied by a final drain.
func (s *Simulation) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return nil
	}
	s.shutdown = true

	if s.opts.CancelOnShutdown {
		s.scheduler.CancelAll()
	}

	var waitErr error
	for _, h := range s.scheduler.InFlight() {
		select {
		case <-h.Done():
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
		if waitErr != nil {
			break
		}
	}
	if waitErr != nil {
		n := s.scheduler.CancelAll()
		s.logger.Warn().Err(waitErr).Int("running", n).Msg("Shutdown deadline reached, cancelled in-flight flows")
	}

	// Close cancels the executor's own context and waits for the cancelled
	// graphs to return, so the reap below sees every run.
	var closeErr error
	if s.ownsExec {
		closeErr = s.exec.Close(ctx)
	}

	s.scheduler.Reap(s.now)
	s.store.SetReadOnly(false)
	drained := s.queue.Drain(context.WithoutCancel(ctx), s.store)

	s.logger.Info().
		Uint64("ticks", s.tick).
		Int("applied", drained.Applied).
		Msg("Simulation shut down")

	if waitErr != nil {
		return waitErr
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close executor: %w", closeErr)
	}
	return nil
}
