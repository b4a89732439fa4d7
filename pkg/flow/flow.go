// Package flow builds the per-agent decision graph.
//
// A flow is a DAG of process nodes declared once per agent with a Builder.
// Edges exist only through node constructors and After, so they are fixed
// after Build. Node functions receive a Context that exposes the world
// read-only; mutations are deferred through the command queue.
//
// Usage:
//
//	b := flow.NewBuilder("decide", agent, registry)
//	in := flow.Acquire(b, "perceive", perceive)
//	acts := flow.Decide[[]string](b, "actions", "actions", in)
//	flow.Act(b, "act", acts, act)
//	f, err := b.Build()
package flow

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/TBlauwe/Dynamo-sub000/pkg/command"
	"github.com/TBlauwe/Dynamo-sub000/pkg/executor"
	"github.com/TBlauwe/Dynamo-sub000/pkg/strategy"
	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

// Build runs fn on a fresh builder and validates the result.
func Build(name string, agent world.Agent, registry *strategy.Registry, fn BuildFunc) (*Flow, error) {
	b := NewBuilder(name, agent, registry)
	if err := fn(b); err != nil {
		return nil, &strategy.ConfigurationError{Op: "build flow", Name: name, Err: err}
	}
	return b.Build()
}

// Flow is an agent's built decision graph.
type Flow struct {
	name  string
	agent world.Agent
	nodes []*node

	counter  atomic.Int64
	duration atomic.Int64
}

// Name returns the flow name.
func (f *Flow) Name() string { return f.name }

// Agent returns the owning agent.
func (f *Flow) Agent() world.Agent { return f.agent }

// Len returns the number of nodes.
func (f *Flow) Len() int { return len(f.nodes) }

// Counter returns how many times the flow was launched.
func (f *Flow) Counter() int64 { return f.counter.Load() }

// Duration returns the cumulated wall-clock time of finished runs.
func (f *Flow) Duration() time.Duration { return time.Duration(f.duration.Load()) }

// MarkLaunched increments the launch counter.
func (f *Flow) MarkLaunched() { f.counter.Add(1) }

// AddDuration accumulates the duration of a finished run.
func (f *Flow) AddDuration(d time.Duration) { f.duration.Add(int64(d)) }

// RunParams carries what a run needs besides the graph itself.
type RunParams struct {
	RunID    string
	Commands command.Sink
	Logger   zerolog.Logger
}

// Graph returns the executor graph for one run. Units map one to one to
// nodes, in declaration order.
func (f *Flow) Graph(params RunParams) executor.Graph {
	g := executor.Graph{
		Name:  fmt.Sprintf("%s/%s", f.name, f.agent.ID),
		Units: make([]executor.Unit, len(f.nodes)),
	}
	for i, n := range f.nodes {
		g.Units[i] = executor.Unit{
			Name: n.name,
			Deps: depsOf(n),
			Run: func(ctx context.Context) error {
				return n.run(&Context{
					ctx:      ctx,
					agent:    f.agent,
					commands: params.Commands,
					logger:   params.Logger.With().Str("node", n.name).Logger(),
					runID:    params.RunID,
					source:   f.name + "/" + n.name,
				})
			},
		}
	}
	return g
}

// NodeInfo describes a node for debugging.
type NodeInfo struct {
	Name     string
	Role     Role
	Strategy string
	After    []string
}

// Describe lists nodes in declaration order with their predecessors.
func (f *Flow) Describe() []NodeInfo {
	infos := make([]NodeInfo, len(f.nodes))
	for i, n := range f.nodes {
		info := NodeInfo{Name: n.name, Role: n.role, Strategy: n.strategy}
		for _, p := range n.preds {
			info.After = append(info.After, p.name)
		}
		infos[i] = info
	}
	return infos
}
