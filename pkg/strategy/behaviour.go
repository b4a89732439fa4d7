package strategy

import (
	"fmt"
	"sync"

	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

// Agent is the decision subject: an entity plus a read-only world view.
type Agent = world.Agent

// ActivationFunc decides whether a behaviour takes part in a decision. It
// must not have side effects; it is evaluated on every compute.
type ActivationFunc func(agent Agent) bool

// Always is an activation predicate that is always true.
func Always(Agent) bool { return true }

// Behaviour is a named, conditionally active unit of decision logic mapping
// an input to an output.
type Behaviour[Out, In any] struct {
	name    string
	active  ActivationFunc
	compute func(agent Agent, in In) Out
}

// NewBehaviour creates a behaviour. A nil activation means always active.
func NewBehaviour[Out, In any](name string, active ActivationFunc, compute func(Agent, In) Out) Behaviour[Out, In] {
	if active == nil {
		active = Always
	}
	return Behaviour[Out, In]{name: name, active: active, compute: compute}
}

// Name returns the behaviour name.
func (b Behaviour[Out, In]) Name() string { return b.name }

// IsActive evaluates the activation predicate.
func (b Behaviour[Out, In]) IsActive(agent Agent) bool { return b.active(agent) }

// Compute runs the behaviour. Callers must only compute active behaviours.
func (b Behaviour[Out, In]) Compute(agent Agent, in In) Out { return b.compute(agent, in) }

// behaviours is the ordered behaviour list every policy embeds.
type behaviours[Out, In any] struct {
	name string

	mu     sync.RWMutex
	list   []Behaviour[Out, In]
	frozen bool
}

func (s *behaviours[Out, In]) Name() string { return s.name }

// Add appends behaviours in registration order. It fails once the strategy
// is frozen or when a name is reused; a failing batch adds nothing.
func (s *behaviours[Out, In]) Add(bs ...Behaviour[Out, In]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return configError("add behaviour", s.name, ErrFrozen)
	}

	seen := make(map[string]bool, len(s.list)+len(bs))
	for _, existing := range s.list {
		seen[existing.name] = true
	}
	for _, b := range bs {
		if b.compute == nil {
			return configError("add behaviour", b.name, errNoCompute)
		}
		if seen[b.name] {
			return configError("add behaviour", b.name, ErrDuplicate)
		}
		seen[b.name] = true
	}

	s.list = append(s.list, bs...)
	return nil
}

// Behaviours returns behaviour names in registration order.
func (s *behaviours[Out, In]) Behaviours() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.list))
	for i, b := range s.list {
		names[i] = b.name
	}
	return names
}

// Freeze forbids further behaviours. A successful flow build freezes the
// strategies its nodes use.
func (s *behaviours[Out, In]) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (s *behaviours[Out, In]) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// active returns the behaviours whose predicate holds for agent, in
// registration order.
func (s *behaviours[Out, In]) active(agent Agent) ([]Behaviour[Out, In], error) {
	s.mu.RLock()
	list := s.list
	s.mu.RUnlock()

	var out []Behaviour[Out, In]
	for _, b := range list {
		if b.IsActive(agent) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", s.name, ErrNoActiveBehaviour)
	}
	return out, nil
}
