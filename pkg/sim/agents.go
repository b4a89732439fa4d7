package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/TBlauwe/Dynamo-sub000/pkg/flow"
	"github.com/TBlauwe/Dynamo-sub000/pkg/scheduler"
	"github.com/TBlauwe/Dynamo-sub000/pkg/strategy"
	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

var (
	// ErrUnknownModel is returned when creating an agent of a model without flows.
	ErrUnknownModel = errors.New("unknown agent model")
	// ErrNotAgent is returned when destroying an entity that is not an agent.
	ErrNotAgent = errors.New("entity is not an agent")
)

// AgentModel tags an agent entity with its model name.
type AgentModel struct {
	Name string
}

// FlowRef tags the child entity standing for one of an agent's flows.
type FlowRef struct {
	Flow string
}

// FlowModel declares a flow built for every agent of a model.
type FlowModel struct {
	Name   string
	Period time.Duration
	Cyclic bool
	Delay  time.Duration
	Build  flow.BuildFunc
}

// Extensible is a strategy accepting behaviours of type B. Every built-in
// policy is one; B differs from Behaviour[Out, In] for influence graphs.
type Extensible[Out, In, B any] interface {
	strategy.Strategy[Out, In]
	Add(bs ...B) error
}

// RegisterStrategy adds behaviours to st and registers it. It must happen
// before the first agent is created.
func RegisterStrategy[Out, In, B any](s *Simulation, st Extensible[Out, In, B], behaviours ...B) error {
	if err := st.Add(behaviours...); err != nil {
		return err
	}
	if err := strategy.Register[Out, In](s.registry, st); err != nil {
		return err
	}

	s.logger.Debug().
		Str("strategy", st.Name()).
		Str("policy", string(st.Policy())).
		Strs("behaviours", st.Behaviours()).
		Msg("Strategy registered")
	return nil
}

// RegisterFlowBuilder declares a flow for every future agent of model.
func (s *Simulation) RegisterFlowBuilder(model string, fm FlowModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fm.Build == nil {
		return &strategy.ConfigurationError{Op: "register flow", Name: fm.Name, Err: errors.New("no build function")}
	}
	for _, existing := range s.models[model] {
		if existing.Name == fm.Name {
			return &strategy.ConfigurationError{Op: "register flow", Name: fm.Name, Err: strategy.ErrDuplicate}
		}
	}
	s.models[model] = append(s.models[model], fm)
	return nil
}

// CreateAgent creates an agent of model, initialises its components with
// init and builds every flow of the model for it. It must be called between
// steps. The strategy registry is sealed by the first call.
func (s *Simulation) CreateAgent(model string, init func(store *world.Store, id world.EntityID) error) (world.EntityID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return world.Nil, ErrShutdown
	}
	models, ok := s.models[model]
	if !ok {
		return world.Nil, &strategy.ConfigurationError{Op: "create agent", Name: model, Err: ErrUnknownModel}
	}
	s.registry.Seal()

	id, err := s.store.Create()
	if err != nil {
		return world.Nil, err
	}
	if err := s.initAgent(id, model, models, init); err != nil {
		s.scheduler.Remove(id)
		if derr := s.store.Destroy(id); derr != nil {
			s.logger.Error().Err(derr).Stringer("agent", id).Msg("Failed to destroy half-built agent")
		}
		return world.Nil, err
	}

	s.logger.Debug().Stringer("agent", id).Str("model", model).Int("flows", len(models)).Msg("Agent created")
	return id, nil
}

func (s *Simulation) initAgent(id world.EntityID, model string, models []FlowModel, init func(*world.Store, world.EntityID) error) error {
	if err := world.Set(s.store, id, AgentModel{Name: model}); err != nil {
		return err
	}
	if init != nil {
		if err := init(s.store, id); err != nil {
			return fmt.Errorf("failed to initialise agent: %w", err)
		}
	}

	agent := world.NewAgent(id, s.store.View())
	for _, fm := range models {
		f, err := flow.Build(fm.Name, agent, s.registry, fm.Build)
		if err != nil {
			return err
		}

		ref, err := s.store.Create()
		if err != nil {
			return err
		}
		if err := world.Set(s.store, ref, FlowRef{Flow: fm.Name}); err != nil {
			return err
		}
		if err := s.store.SetParent(ref, id); err != nil {
			return err
		}

		opts := scheduler.EntryOptions{Period: fm.Period, Cyclic: fm.Cyclic, Delay: fm.Delay}
		if err := s.scheduler.Add(f, opts, s.now); err != nil {
			return err
		}
	}
	return nil
}

// DestroyAgent cancels the agent's in-flight runs, forgets its flows and
// destroys the agent with its flow entities. Commands already queued for it
// are skipped at the next drain.
func (s *Simulation) DestroyAgent(id world.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !world.Has[AgentModel](s.store, id) {
		return fmt.Errorf("%w: %s", ErrNotAgent, id)
	}

	cancelled := s.scheduler.Remove(id)
	if err := s.store.Destroy(id); err != nil {
		return err
	}

	s.logger.Debug().Stringer("agent", id).Int("cancelledRuns", len(cancelled)).Msg("Agent destroyed")
	return nil
}

// Agents returns the live agents of model, or every agent when model is empty.
func (s *Simulation) Agents(model string) []world.EntityID {
	return world.Query(s.store, func(_ world.EntityID, m AgentModel) bool {
		return model == "" || m.Name == model
	})
}
