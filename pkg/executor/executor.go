// Package executor runs DAGs of work units on a bounded pool of workers.
//
// Invariants:
// - A unit never starts before every unit it depends on has finished successfully.
// - The first failing unit cancels the rest of its graph; units not yet started are skipped.
// - Cancellation is cooperative: a running unit finishes its current work before the
//   graph stops.
//
// Usage:
//
//	exec := executor.New(4)
//	defer exec.Close(context.Background())
//	h := exec.Submit(ctx, executor.Graph{Name: "perceive", Units: units})
//	err := h.Wait(ctx)
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned for graphs submitted after Close.
var ErrClosed = errors.New("executor: closed")

// Executor schedules submitted graphs. Work units from every graph share the
// same worker budget.
type Executor struct {
	workers int
	sem     *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	active map[*Handle]struct{}
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an executor running at most workers units at once. A
// non-positive value uses GOMAXPROCS.
func New(workers int) *Executor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
		active:  make(map[*Handle]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Workers returns the worker budget.
func (e *Executor) Workers() int {
	return e.workers
}

// Running returns the number of graphs still in flight.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Submit starts g and returns immediately. Invalid graphs and submissions
// after Close yield an already finished handle carrying the error.
func (e *Executor) Submit(ctx context.Context, g Graph) *Handle {
	if ctx == nil {
		ctx = context.Background()
	}

	h := newHandle(g.Name)

	if err := Validate(g); err != nil {
		h.finish(err)
		return h
	}

	// h.cancel is set before h becomes visible to Cancel through active.
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		h.finish(ErrClosed)
		return h
	}
	e.active[h] = struct{}{}
	e.wg.Add(1)
	e.mu.Unlock()

	stop := context.AfterFunc(e.ctx, cancel)

	go func() {
		defer e.wg.Done()
		err := e.run(runCtx, g, h)
		stop()
		cancel()

		e.mu.Lock()
		delete(e.active, h)
		e.mu.Unlock()

		h.finish(err)
	}()

	return h
}

func (e *Executor) run(ctx context.Context, g Graph, h *Handle) error {
	group, gctx := errgroup.WithContext(ctx)
	done := make([]chan struct{}, len(g.Units))
	for i := range done {
		done[i] = make(chan struct{})
	}

	for i := range g.Units {
		unit := g.Units[i]
		finished := done[i]
		group.Go(func() error {
			defer close(finished)

			for _, d := range unit.Deps {
				<-done[d]
			}
			if err := gctx.Err(); err != nil {
				h.skipped.Add(1)
				return err
			}

			if err := e.sem.Acquire(gctx, 1); err != nil {
				h.skipped.Add(1)
				return err
			}
			defer e.sem.Release(1)

			if err := runUnit(gctx, unit); err != nil {
				return fmt.Errorf("%s: %w", unit.Name, err)
			}
			h.completed.Add(1)
			return nil
		})
	}

	return group.Wait()
}

func runUnit(ctx context.Context, u Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return u.Run(ctx)
}

// Cancel requests cancellation of every in-flight graph.
func (e *Executor) Cancel() {
	e.mu.Lock()
	handles := make([]*Handle, 0, len(e.active))
	for h := range e.active {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Close stops accepting graphs and waits for in-flight ones. If ctx expires
// first, remaining graphs are cancelled and ctx.Err() is returned.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-waited
		return ctx.Err()
	}
}

// Handle tracks one submitted graph.
type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	completed atomic.Int64
	skipped   atomic.Int64

	mu         sync.Mutex
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

func newHandle(name string) *Handle {
	return &Handle{
		name:      name,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.finishedAt = time.Now()
	h.mu.Unlock()
	close(h.done)
}

// Name returns the graph name.
func (h *Handle) Name() string { return h.name }

// Done is closed once the graph has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsFinished reports whether the graph has finished.
func (h *Handle) IsFinished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the graph finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cooperative cancellation. It is safe to call repeatedly
// and after completion.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Err returns the graph error once finished, nil before.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Duration returns the wall-clock run time, or the time elapsed so far.
func (h *Handle) Duration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finishedAt.IsZero() {
		return time.Since(h.startedAt)
	}
	return h.finishedAt.Sub(h.startedAt)
}

// Completed returns the number of units that ran successfully.
func (h *Handle) Completed() int { return int(h.completed.Load()) }

// Skipped returns the number of units that never ran.
func (h *Handle) Skipped() int { return int(h.skipped.Load()) }
