package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/TBlauwe/Dynamo-sub000/pkg/executor"
	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
)

// RunStatus is the outcome of the last finished run.
type RunStatus string

const (
	RunOK        RunStatus = "ok"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// Handle is an in-flight run as seen by the scheduler.
type Handle interface {
	Done() <-chan struct{}
	IsFinished() bool
	Cancel()
	Err() error
	Duration() time.Duration
}

// Submitter starts graphs. *executor.Executor satisfies it through FromExecutor.
type Submitter interface {
	Submit(ctx context.Context, g executor.Graph) Handle
}

type executorSubmitter struct {
	exec *executor.Executor
}

func (s executorSubmitter) Submit(ctx context.Context, g executor.Graph) Handle {
	return s.exec.Submit(ctx, g)
}

// FromExecutor adapts an executor to Submitter.
func FromExecutor(exec *executor.Executor) Submitter {
	return executorSubmitter{exec: exec}
}

// Recorder receives scheduler metrics.
type Recorder interface {
	FlowLaunched(flow string)
	FlowFinished(flow string, status RunStatus, duration time.Duration)
	LivenessFault(flow string)
}

type nopRecorder struct{}

func (nopRecorder) FlowLaunched(string)                            {}
func (nopRecorder) FlowFinished(string, RunStatus, time.Duration) {}
func (nopRecorder) LivenessFault(string)                           {}

// EntryOptions configures how a flow is relaunched.
type EntryOptions struct {
	// Period is the cooldown between the end of a run and the next launch.
	Period time.Duration
	// Cyclic flows return to idle after a run; others finish for good.
	Cyclic bool
	// Delay postpones the first launch.
	Delay time.Duration
}

// EntryState is a snapshot of one (agent, flow) entry.
type EntryState struct {
	Agent             world.EntityID
	Flow              string
	Status            Status
	Period            time.Duration
	Cyclic            bool
	CooldownRemaining time.Duration
	LastLaunch        time.Duration
	RunID             string
	Counter           int64
	Duration          time.Duration
	LastStatus        RunStatus
	LastError         error
	ConsecutiveErrors int
	Stalled           bool
}

// Launch describes a run started by Trigger.
type Launch struct {
	Agent  world.EntityID
	Flow   string
	RunID  string
	Handle Handle
}

// Completion describes a run collected by Reap.
type Completion struct {
	Agent    world.EntityID
	Flow     string
	RunID    string
	Status   RunStatus
	Err      error
	Duration time.Duration
}

// LivenessFault reports a run that stayed Running well past its period.
type LivenessFault struct {
	Agent      world.EntityID
	Flow       string
	RunID      string
	RunningFor time.Duration
	Window     time.Duration
}

func (f *LivenessFault) Error() string {
	return fmt.Sprintf("liveness fault: flow %s of %s running for %s (window %s)", f.Flow, f.Agent, f.RunningFor, f.Window)
}
