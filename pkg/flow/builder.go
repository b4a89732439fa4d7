package flow

import (
	"errors"
	"fmt"

	"github.com/TBlauwe/Dynamo-sub000/pkg/executor"
	"github.com/TBlauwe/Dynamo-sub000/pkg/strategy"
	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

var (
	// ErrEmptyFlow is returned when a builder declared no node.
	ErrEmptyFlow = errors.New("flow has no node")
	// ErrForeignNode is returned when a predecessor was declared on another builder.
	ErrForeignNode = errors.New("predecessor belongs to another flow")
	// ErrNilPredecessor is returned for nil predecessors.
	ErrNilPredecessor = errors.New("nil predecessor")
	// ErrDisconnected is returned when the nodes form more than one graph.
	ErrDisconnected = errors.New("flow is not connected")
	// ErrUnreachable is returned when some nodes cannot be reached from a root.
	ErrUnreachable = errors.New("node unreachable from roots")
	// ErrDuplicateNode is returned when two nodes share a name.
	ErrDuplicateNode = errors.New("duplicate node name")
)

// BuildFunc declares the nodes of a flow. It runs once per agent.
type BuildFunc func(b *Builder) error

// Builder collects the process nodes of one agent's flow.
type Builder struct {
	name     string
	agent    world.Agent
	registry *strategy.Registry

	nodes []*node
	names map[string]struct{}
	used  []interface{ Freeze() }
	errs  []error
	built bool
}

// NewBuilder creates a builder for the flow name of agent. Strategies are
// resolved from registry.
func NewBuilder(name string, agent world.Agent, registry *strategy.Registry) *Builder {
	return &Builder{
		name:     name,
		agent:    agent,
		registry: registry,
		names:    make(map[string]struct{}),
	}
}

// Agent returns the agent the flow is built for.
func (b *Builder) Agent() world.Agent { return b.agent }

func (b *Builder) add(n *node) {
	if _, exists := b.names[n.name]; exists {
		b.fail(fmt.Errorf("%w: %s", ErrDuplicateNode, n.name))
	}
	b.names[n.name] = struct{}{}
	n.index = len(b.nodes)
	b.nodes = append(b.nodes, n)
}

func (b *Builder) fail(err error) {
	b.errs = append(b.errs, err)
}

func (b *Builder) pred(name string, d Dependency) *node {
	if d == nil || d.base() == nil {
		b.fail(fmt.Errorf("%w for node %s", ErrNilPredecessor, name))
		return nil
	}
	p := d.base()
	if p.builder != b {
		b.fail(fmt.Errorf("%w: %s depends on %s", ErrForeignNode, name, p.name))
		return nil
	}
	return p
}

// Build validates the declared graph and returns the flow. Every error found
// is reported at once, wrapped in a strategy.ConfigurationError.
func (b *Builder) Build() (*Flow, error) {
	if b.built {
		return nil, b.configError(errors.New("builder already used"))
	}
	b.built = true

	errs := append([]error(nil), b.errs...)
	if len(b.nodes) == 0 {
		errs = append(errs, ErrEmptyFlow)
	}
	if len(errs) == 0 {
		errs = append(errs, b.checkShape()...)
	}
	if len(errs) > 0 {
		return nil, b.configError(errors.Join(errs...))
	}

	for _, s := range b.used {
		s.Freeze()
	}
	return &Flow{name: b.name, agent: b.agent, nodes: b.nodes}, nil
}

func (b *Builder) configError(err error) error {
	return &strategy.ConfigurationError{Op: "build flow", Name: b.name, Err: err}
}

// checkShape rejects graphs that are split in several parts or whose nodes
// cannot all be reached from the roots.
func (b *Builder) checkShape() []error {
	var errs []error

	parent := make([]int, len(b.nodes))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for _, n := range b.nodes {
		for _, p := range n.preds {
			parent[find(n.index)] = find(p.index)
		}
	}
	root := find(0)
	for _, n := range b.nodes[1:] {
		if find(n.index) != root {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDisconnected, n.name))
		}
	}

	g := executor.Graph{Name: b.name, Units: make([]executor.Unit, len(b.nodes))}
	for i, n := range b.nodes {
		g.Units[i] = executor.Unit{Name: n.name, Deps: depsOf(n)}
	}
	levels, err := executor.Levels(g)
	if err != nil {
		reached := make(map[int]bool)
		for _, level := range levels {
			for _, i := range level {
				reached[i] = true
			}
		}
		for i, n := range b.nodes {
			if !reached[i] {
				errs = append(errs, fmt.Errorf("%w: %s", ErrUnreachable, n.name))
			}
		}
	}
	return errs
}

func depsOf(n *node) []int {
	deps := make([]int, len(n.preds))
	for i, p := range n.preds {
		deps[i] = p.index
	}
	return deps
}
