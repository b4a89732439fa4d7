package scenario

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/TBlauwe/Dynamo-sub000/pkg/flow"
	"github.com/TBlauwe/Dynamo-sub000/pkg/scheduler"
	"github.com/TBlauwe/Dynamo-sub000/pkg/sim"
	"github.com/TBlauwe/Dynamo-sub000/pkg/strategy"
	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

// Stress is how tense an agent is, in [0, 1].
type Stress struct {
	Level float64
}

// Mood is how an agent feels; it follows stress with some inertia.
type Mood struct {
	Value float64
}

// Message is a gesture sent from one agent to another.
type Message struct {
	From    world.EntityID
	Gesture string
}

// Inbox keeps the latest messages received by an agent.
type Inbox struct {
	Messages []Message
}

// Perception is what an agent sees at the start of a decision.
type Perception struct {
	Stress float64
	Mood   float64
	Peers  []world.EntityID
	Inbox  []Message
}

const (
	flowDecide = "decide"

	actWait = "Wait"
	actFlee = "Flee"
)

// Install registers the strategies, the decide flow of every model of f and
// the world phases on s. It must run before agents are created.
func Install(s *sim.Simulation, f *File) error {
	if err := registerStrategies(s, f); err != nil {
		return err
	}

	for _, fl := range f.Flows {
		err := s.RegisterFlowBuilder(fl.Model, sim.FlowModel{
			Name:   flowDecide,
			Period: fl.Period,
			Cyclic: fl.Cyclic,
			Delay:  fl.Delay,
			Build:  buildDecide,
		})
		if err != nil {
			return err
		}
	}

	s.AddPhase("decay", decayPhase(f.DecayRate))
	s.AddPhase("inbox", trimInboxPhase(f.InboxSize))
	return nil
}

func registerStrategies(s *sim.Simulation, f *File) error {
	threshold := f.StressThreshold
	stressed := func(a strategy.Agent) bool {
		st, _ := world.Get[Stress](a.View, a.ID)
		return st.Level > threshold
	}
	calm := func(a strategy.Agent) bool { return !stressed(a) }

	err := sim.RegisterStrategy[[]string, Perception](s, strategy.NewAccumulate[string, Perception]("actions"),
		strategy.NewBehaviour("wait", nil, func(strategy.Agent, Perception) []string {
			return []string{actWait}
		}),
		strategy.NewBehaviour("flee-when-stressed", stressed, func(_ strategy.Agent, p Perception) []string {
			if p.Stress > 0.9 {
				return []string{actFlee, actFlee}
			}
			return []string{actFlee}
		}),
	)
	if err != nil {
		return err
	}

	err = sim.RegisterStrategy[float64, float64](s, strategy.NewSequential[float64]("mood"),
		strategy.NewBehaviour("inertia", nil, func(_ strategy.Agent, mood float64) float64 {
			return mood * 0.8
		}),
		strategy.NewBehaviour("stress-amplifies", stressed, func(a strategy.Agent, mood float64) float64 {
			st, _ := world.Get[Stress](a.View, a.ID)
			return mood + 0.2*st.Level
		}),
	)
	if err != nil {
		return err
	}

	err = sim.RegisterStrategy[world.EntityID, []world.EntityID](s, strategy.NewInfluenceGraph[world.EntityID]("target"),
		strategy.NewBehaviour("avoid-stressed", nil, func(a strategy.Agent, peers []world.EntityID) []strategy.Influence[world.EntityID] {
			var out []strategy.Influence[world.EntityID]
			for _, p := range peers {
				if st, _ := world.Get[Stress](a.View, p); st.Level > threshold {
					out = append(out, strategy.Against(p))
				}
			}
			return out
		}),
		strategy.NewBehaviour("answer-senders", calm, func(a strategy.Agent, _ []world.EntityID) []strategy.Influence[world.EntityID] {
			inbox, _ := world.Get[Inbox](a.View, a.ID)
			out := make([]strategy.Influence[world.EntityID], 0, len(inbox.Messages))
			for _, m := range inbox.Messages {
				out = append(out, strategy.For(m.From))
			}
			return out
		}),
	)
	if err != nil {
		return err
	}

	return sim.RegisterStrategy[string, Perception](s, strategy.NewRandom[string, Perception]("gesture", strategy.WithSeed(f.Seed)),
		strategy.NewBehaviour("wave", calm, func(strategy.Agent, Perception) string { return "wave" }),
		strategy.NewBehaviour("nod", nil, func(strategy.Agent, Perception) string { return "nod" }),
		strategy.NewBehaviour("shrug", stressed, func(strategy.Agent, Perception) string { return "shrug" }),
	)
}

// decision gathers every output the act node needs.
type decision = flow.Pair[flow.Pair[[]string, float64], flow.Pair[world.EntityID, string]]

func buildDecide(b *flow.Builder) error {
	perceived := flow.Acquire(b, "perceive", perceive)

	actions := flow.Decide[[]string](b, "actions", "actions", perceived)

	moodIn := flow.Compute(b, "mood-in", perceived, func(_ *flow.Context, p Perception) (float64, error) {
		return p.Mood, nil
	})
	mood := flow.Decide[float64](b, "mood", "mood", moodIn)

	peers := flow.Compute(b, "peers", perceived, func(_ *flow.Context, p Perception) ([]world.EntityID, error) {
		return p.Peers, nil
	})
	target := flow.Decide[world.EntityID](b, "target", "target", peers)
	gesture := flow.Decide[string](b, "gesture", "gesture", perceived)

	plan := flow.Join(b, "plan", actions, mood)
	address := flow.Join(b, "address", target, gesture)
	all := flow.Join(b, "decision", plan, address)

	flow.Act(b, "act", all, act)
	return nil
}

func perceive(c *flow.Context) (Perception, error) {
	view := c.View()
	self := c.Agent().ID

	st, _ := world.Get[Stress](view, self)
	mood, _ := world.Get[Mood](view, self)
	inbox, _ := world.Get[Inbox](view, self)

	peers := world.Query(view, func(id world.EntityID, _ Stress) bool { return id != self })

	return Perception{
		Stress: st.Level,
		Mood:   mood.Value,
		Peers:  peers,
		Inbox:  inbox.Messages,
	}, nil
}

func act(c *flow.Context, d decision) error {
	self := c.Agent().ID
	actions, mood := d.First.First, d.First.Second
	target, gesture := d.Second.First, d.Second.Second

	c.Defer(func(s *world.Store) error {
		return world.Set(s, self, Mood{Value: mood})
	})

	flee := 0
	for _, a := range actions {
		if a == actFlee {
			flee++
		}
	}
	if flee > 0 {
		relief := 0.1 * float64(flee)
		c.Defer(func(s *world.Store) error {
			return world.Update(s, self, func(st *Stress) { st.Level = clamp(st.Level - relief) })
		})
	}

	c.DeferFor(target, func(s *world.Store) error {
		if err := world.Update(s, target, func(in *Inbox) {
			in.Messages = append(in.Messages, Message{From: self, Gesture: gesture})
		}); err != nil {
			return err
		}
		if gesture == "shrug" {
			return world.Update(s, target, func(st *Stress) { st.Level = clamp(st.Level + 0.05) })
		}
		return nil
	})

	log := c.Logger()
	log.Trace().
		Strs("actions", actions).
		Float64("mood", mood).
		Stringer("target", target).
		Str("gesture", gesture).
		Msg("Decided")
	return nil
}

func decayPhase(rate float64) sim.PhaseFunc {
	return func(s *world.Store, dt time.Duration) error {
		loss := rate * dt.Seconds()
		var firstErr error
		world.Each(s, func(id world.EntityID, _ Stress) bool {
			err := world.Update(s, id, func(st *Stress) { st.Level = clamp(st.Level - loss) })
			if err != nil && firstErr == nil {
				firstErr = err
			}
			return true
		})
		return firstErr
	}
}

func trimInboxPhase(size int) sim.PhaseFunc {
	return func(s *world.Store, _ time.Duration) error {
		var firstErr error
		world.Each(s, func(id world.EntityID, in Inbox) bool {
			if len(in.Messages) <= size {
				return true
			}
			err := world.Update(s, id, func(in *Inbox) {
				in.Messages = append([]Message(nil), in.Messages[len(in.Messages)-size:]...)
			})
			if err != nil && firstErr == nil {
				firstErr = err
			}
			return true
		})
		return firstErr
	}
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}

// Populate creates the agents of f. Initial stress is jittered with a
// generator seeded from f.Seed.
func Populate(s *sim.Simulation, f *File) ([]world.EntityID, error) {
	rng := rand.New(rand.NewPCG(f.Seed, f.Seed^0x9e3779b97f4a7c15))

	var ids []world.EntityID
	for _, spec := range f.Agents {
		for i := 0; i < spec.Count; i++ {
			level := clamp(spec.Stress + spec.Jitter*(rng.Float64()-0.5))
			id, err := s.CreateAgent(spec.Model, func(store *world.Store, id world.EntityID) error {
				if err := world.Set(store, id, Stress{Level: level}); err != nil {
					return err
				}
				if err := world.Set(store, id, Mood{}); err != nil {
					return err
				}
				return world.Set(store, id, Inbox{})
			})
			if err != nil {
				return ids, fmt.Errorf("failed to create %s agent: %w", spec.Model, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Summary aggregates the state of a running scenario.
type Summary struct {
	Agents     int
	MeanStress float64
	MeanMood   float64
	Messages   int
	Launches   int64
	Failures   int
	Stalled    int
}

// Summarize reads the world and the scheduler of s.
func Summarize(s *sim.Simulation) Summary {
	var sum Summary
	store := s.Store()

	for _, id := range s.Agents("") {
		sum.Agents++
		st, _ := world.Get[Stress](store, id)
		mood, _ := world.Get[Mood](store, id)
		inbox, _ := world.Get[Inbox](store, id)
		sum.MeanStress += st.Level
		sum.MeanMood += mood.Value
		sum.Messages += len(inbox.Messages)
	}
	if sum.Agents > 0 {
		sum.MeanStress /= float64(sum.Agents)
		sum.MeanMood /= float64(sum.Agents)
	}

	for _, e := range s.Scheduler().Snapshot() {
		sum.Launches += e.Counter
		if e.LastStatus == scheduler.RunError {
			sum.Failures++
		}
		if e.Stalled {
			sum.Stalled++
		}
	}
	return sum
}
