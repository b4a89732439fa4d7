package sim

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TBlauwe/Dynamo-sub000/pkg/command"
	"github.com/TBlauwe/Dynamo-sub000/pkg/executor"
	"github.com/TBlauwe/Dynamo-sub000/pkg/scheduler"
	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

// DrainPolicy decides how a tick waits for the flows it launched before
// draining the command queue.
type DrainPolicy string

const (
	// DrainBarrier waits, up to BarrierTimeout, for the flows launched this
	// tick before draining. Slower flows keep running and their commands are
	// applied by a later drain.
	DrainBarrier DrainPolicy = "barrier"
	// DrainSpan never waits: every tick drains what is queued so far.
	DrainSpan DrainPolicy = "span"
)

// ParseDrainPolicy parses a policy name. The empty string means DrainBarrier.
func ParseDrainPolicy(s string) (DrainPolicy, error) {
	switch DrainPolicy(s) {
	case "", DrainBarrier:
		return DrainBarrier, nil
	case DrainSpan:
		return DrainSpan, nil
	default:
		return "", fmt.Errorf("unknown drain policy %q (expected %q or %q)", s, DrainBarrier, DrainSpan)
	}
}

// Recorder receives tick metrics.
type Recorder interface {
	TickCompleted(launched, completed int, duration time.Duration)
}

// Metrics is everything the simulation reports to.
type Metrics interface {
	Recorder
	command.Recorder
	scheduler.Recorder
}

type nopMetrics struct{}

func (nopMetrics) TickCompleted(int, int, time.Duration)                    {}
func (nopMetrics) CommandEnqueued(int)                                      {}
func (nopMetrics) CommandsDrained(int, int, int, time.Duration)             {}
func (nopMetrics) FlowLaunched(string)                                      {}
func (nopMetrics) FlowFinished(string, scheduler.RunStatus, time.Duration) {}
func (nopMetrics) LivenessFault(string)                                     {}

const (
	DefaultBarrierTimeout = 5 * time.Second
)

// Options configures a Simulation.
type Options struct {
	Logger  zerolog.Logger
	Metrics Metrics

	// Workers bounds the executor; ignored when Executor is set.
	Workers  int
	Executor *executor.Executor
	Store    *world.Store

	DrainPolicy    DrainPolicy
	BarrierTimeout time.Duration

	MinLivenessWindow time.Duration
	OnFault           func(fault *scheduler.LivenessFault)

	// CancelOnShutdown cancels in-flight flows on Shutdown instead of
	// waiting for them.
	CancelOnShutdown bool
}

func (o *Options) withDefaults() {
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.DrainPolicy == "" {
		o.DrainPolicy = DrainBarrier
	}
	if o.BarrierTimeout <= 0 {
		o.BarrierTimeout = DefaultBarrierTimeout
	}
}
