package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/TBlauwe/Dynamo-sub000/internal/tracing"
	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

// ErrTargetGone marks commands whose target entity was destroyed before the drain.
var ErrTargetGone = errors.New("command target no longer exists")

// Command is a deferred world mutation.
type Command struct {
	// Target is the entity the command mutates; world.Nil for world-level commands.
	Target world.EntityID
	// Source names the producer, typically "<flow>/<node>".
	Source string
	Apply  func(store *world.Store) error
}

// Sink is the producer side of the queue handed to flow steps.
type Sink interface {
	Push(cmd Command)
}

// Recorder receives queue metrics.
type Recorder interface {
	CommandEnqueued(pending int)
	CommandsDrained(applied, failed, skipped int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) CommandEnqueued(int)                         {}
func (nopRecorder) CommandsDrained(int, int, int, time.Duration) {}

// Options configures a Queue.
type Options struct {
	Logger  zerolog.Logger
	Metrics Recorder
}

// EventType names a queue event.
type EventType string

const (
	EventEnqueued EventType = "enqueued"
	EventApplied  EventType = "applied"
	EventFailed   EventType = "failed"
)

// Event describes one queue event.
type Event struct {
	Type   EventType
	Seq    uint64
	Target world.EntityID
	Source string
	Err    error
}

// EventHandler handles queue events. Handlers run synchronously on the
// goroutine that produced the event.
type EventHandler func(event Event)

type record struct {
	seq        uint64
	cmd        Command
	enqueuedAt time.Time
}

// DrainResult summarises one Drain pass.
type DrainResult struct {
	Applied  int
	Failed   int
	Skipped  int
	Errors   []error
	Duration time.Duration
}

// Queue is a FIFO of deferred commands.
type Queue struct {
	mu      sync.Mutex
	pending []record
	seq     uint64

	logger  zerolog.Logger
	metrics Recorder

	eventHandlers map[EventType][]EventHandler
	eventMu       sync.RWMutex
}

// New creates an empty queue.
func New(opts Options) *Queue {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Queue{
		logger:        opts.Logger.With().Str("component", "command_queue").Logger(),
		metrics:       metrics,
		eventHandlers: make(map[EventType][]EventHandler),
	}
}

// Push enqueues cmd. Commands without an Apply function are dropped.
func (q *Queue) Push(cmd Command) {
	if cmd.Apply == nil {
		q.logger.Warn().Str("source", cmd.Source).Msg("Dropping command without apply function")
		return
	}

	q.mu.Lock()
	q.seq++
	seq := q.seq
	q.pending = append(q.pending, record{seq: seq, cmd: cmd, enqueuedAt: time.Now()})
	size := len(q.pending)
	q.mu.Unlock()

	q.logger.Trace().
		Uint64("seq", seq).
		Str("source", cmd.Source).
		Stringer("target", cmd.Target).
		Int("queueSize", size).
		Msg("Command enqueued")

	q.metrics.CommandEnqueued(size)
	q.emit(Event{Type: EventEnqueued, Seq: seq, Target: cmd.Target, Source: cmd.Source})
}

// Len returns the number of commands waiting for the next drain.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain applies every pending command against store, which must be
// writable. Commands pushed while a drain is in progress wait for the next one.
func (q *Queue) Drain(ctx context.Context, store *world.Store) DrainResult {
	_, span := tracing.StartSpan(ctx, "dynamo.command", "command.drain")
	defer span.End()

	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	start := time.Now()
	var result DrainResult

	for _, rec := range batch {
		err := q.apply(store, rec.cmd)
		switch {
		case err == nil:
			result.Applied++
			q.emit(Event{Type: EventApplied, Seq: rec.seq, Target: rec.cmd.Target, Source: rec.cmd.Source})
			continue
		case errors.Is(err, ErrTargetGone):
			result.Skipped++
			q.logger.Debug().
				Uint64("seq", rec.seq).
				Str("source", rec.cmd.Source).
				Stringer("target", rec.cmd.Target).
				Msg("Skipping command for destroyed entity")
		default:
			result.Failed++
			q.logger.Error().
				Err(err).
				Uint64("seq", rec.seq).
				Str("source", rec.cmd.Source).
				Stringer("target", rec.cmd.Target).
				Dur("queued", start.Sub(rec.enqueuedAt)).
				Msg("Command failed")
		}
		result.Errors = append(result.Errors, fmt.Errorf("command %d from %s: %w", rec.seq, rec.cmd.Source, err))
		q.emit(Event{Type: EventFailed, Seq: rec.seq, Target: rec.cmd.Target, Source: rec.cmd.Source, Err: err})
	}

	result.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("applied", result.Applied),
		attribute.Int("failed", result.Failed),
		attribute.Int("skipped", result.Skipped),
	)

	if len(batch) > 0 {
		q.logger.Debug().
			Int("applied", result.Applied).
			Int("failed", result.Failed).
			Int("skipped", result.Skipped).
			Dur("duration", result.Duration).
			Msg("Command queue drained")
	}
	q.metrics.CommandsDrained(result.Applied, result.Failed, result.Skipped, result.Duration)

	return result
}

func (q *Queue) apply(store *world.Store, cmd Command) (err error) {
	if cmd.Target != world.Nil && !store.Alive(cmd.Target) {
		return fmt.Errorf("%w: %s", ErrTargetGone, cmd.Target)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cmd.Apply(store)
}

// Clear drops pending commands without applying them and returns how many
// were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	if n > 0 {
		q.logger.Info().Int("cleared", n).Msg("Command queue cleared")
	}
	return n
}

// On registers an event handler for a specific event type.
func (q *Queue) On(eventType EventType, handler EventHandler) {
	q.eventMu.Lock()
	defer q.eventMu.Unlock()

	q.eventHandlers[eventType] = append(q.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type.
func (q *Queue) Off(eventType EventType) {
	q.eventMu.Lock()
	defer q.eventMu.Unlock()

	delete(q.eventHandlers, eventType)
}

func (q *Queue) emit(event Event) {
	q.eventMu.RLock()
	handlers := q.eventHandlers[event.Type]
	q.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
