package flow

import (
	"github.com/TBlauwe/Dynamo-sub000/pkg/strategy"
)

// Role tags what a node does in its flow.
type Role string

const (
	// RoleAcquisition nodes are roots that gather the agent's inputs.
	RoleAcquisition Role = "acquisition"
	// RoleValue nodes compute a value with a strategy.
	RoleValue Role = "value"
	// RoleStorage nodes run a strategy for its side effects only.
	RoleStorage Role = "storage"
	// RoleCompute nodes run a plain function.
	RoleCompute Role = "compute"
)

type node struct {
	name     string
	role     Role
	strategy string
	index    int
	builder  *Builder
	preds    []*node
	run      func(c *Context) error
}

// Node is a process node producing a T. Its value is written once per run
// by the node itself and read by dependents, which the executor starts only
// after the node finished.
type Node[T any] struct {
	*node
	value T
}

// Name returns the node name.
func (n *Node[T]) Name() string { return n.name }

// Role returns the node role.
func (n *Node[T]) Role() Role { return n.role }

// Value returns the value produced by the latest run.
func (n *Node[T]) Value() T { return n.value }

// Pair is the value of a Join node.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Dependency is any node handle, used for ordering-only edges.
type Dependency interface {
	base() *node
}

func (n *Node[T]) base() *node {
	if n == nil {
		return nil
	}
	return n.node
}

func addNode[T any](b *Builder, name string, role Role, preds ...*node) *Node[T] {
	n := &Node[T]{node: &node{name: name, role: role, builder: b}}
	for _, p := range preds {
		if p != nil {
			n.preds = append(n.preds, p)
		}
	}
	b.add(n.node)
	return n
}

// Acquire adds a root node computing the agent's inputs.
func Acquire[Out any](b *Builder, name string, fn func(c *Context) (Out, error)) *Node[Out] {
	n := addNode[Out](b, name, RoleAcquisition)
	n.run = func(c *Context) error {
		out, err := fn(c)
		if err != nil {
			return err
		}
		n.value = out
		return nil
	}
	return n
}

// Compute adds a plain step transforming the output of pred.
func Compute[In, Out any](b *Builder, name string, pred *Node[In], fn func(c *Context, in In) (Out, error)) *Node[Out] {
	n := addNode[Out](b, name, RoleCompute, b.pred(name, pred))
	n.run = func(c *Context) error {
		out, err := fn(c, pred.value)
		if err != nil {
			return err
		}
		n.value = out
		return nil
	}
	return n
}

// Act adds a terminal plain step, typically one pushing commands.
func Act[In any](b *Builder, name string, pred *Node[In], fn func(c *Context, in In) error) *Node[struct{}] {
	n := addNode[struct{}](b, name, RoleCompute, b.pred(name, pred))
	n.run = func(c *Context) error {
		return fn(c, pred.value)
	}
	return n
}

// Decide adds a node computing Strategy[Out, In] named strategyName over the
// output of pred. The strategy is resolved when the node is added and frozen
// when the flow is built.
func Decide[Out, In any](b *Builder, name, strategyName string, pred *Node[In]) *Node[Out] {
	n := addNode[Out](b, name, RoleValue, b.pred(name, pred))
	n.strategy = strategyName

	s, err := strategy.Lookup[Out, In](b.registry, strategyName)
	if err != nil {
		b.fail(err)
		return n
	}
	b.used = append(b.used, s)
	n.run = func(c *Context) error {
		out, err := s.Compute(c.agent, pred.value)
		if err != nil {
			return err
		}
		n.value = out
		return nil
	}
	return n
}

// Store adds a node running Strategy[struct{}, In] named strategyName for its
// side effects. Behaviours of such a strategy must route writes through
// commands.
func Store[In any](b *Builder, name, strategyName string, pred *Node[In]) *Node[struct{}] {
	n := addNode[struct{}](b, name, RoleStorage, b.pred(name, pred))
	n.strategy = strategyName

	s, err := strategy.Lookup[struct{}, In](b.registry, strategyName)
	if err != nil {
		b.fail(err)
		return n
	}
	b.used = append(b.used, s)
	n.run = func(c *Context) error {
		_, err := s.Compute(c.agent, pred.value)
		return err
	}
	return n
}

// Join adds a node waiting for a and other and pairing their outputs.
func Join[A, B any](b *Builder, name string, a *Node[A], other *Node[B]) *Node[Pair[A, B]] {
	n := addNode[Pair[A, B]](b, name, RoleCompute, b.pred(name, a), b.pred(name, other))
	n.run = func(*Context) error {
		n.value = Pair[A, B]{First: a.value, Second: other.value}
		return nil
	}
	return n
}

// After adds ordering edges: n starts only once every pred finished.
func After(n Dependency, preds ...Dependency) {
	target := n.base()
	if target == nil {
		return
	}
	for _, p := range preds {
		if pn := target.builder.pred(target.name, p); pn != nil {
			target.preds = append(target.preds, pn)
		}
	}
}
