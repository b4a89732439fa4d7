package sim

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBlauwe/Dynamo-sub000/pkg/executor"
	"github.com/TBlauwe/Dynamo-sub000/pkg/flow"
	"github.com/TBlauwe/Dynamo-sub000/pkg/scheduler"
	"github.com/TBlauwe/Dynamo-sub000/pkg/strategy"
	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

const tick = 500 * time.Millisecond

type stress struct{ Level float64 }

func newSim(t *testing.T, opts Options) *Simulation {
	t.Helper()
	opts.Logger = zerolog.Nop()
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func isStressed(a strategy.Agent) bool {
	st, _ := world.Get[stress](a.View, a.ID)
	return st.Level > 0.5
}

// calmDown lowers stress of stressed agents through the command queue.
func calmDown(b *flow.Builder) error {
	level := flow.Acquire(b, "perceive", func(c *flow.Context) (float64, error) {
		st, _ := world.Get[stress](c.View(), c.Agent().ID)
		return st.Level, nil
	})
	acts := flow.Decide[[]string](b, "actions", "actions", level)
	flow.Act(b, "act", acts, func(c *flow.Context, acts []string) error {
		for _, a := range acts {
			if a == "Relax" {
				c.Defer(func(s *world.Store) error {
					return world.Update(s, c.Agent().ID, func(st *stress) { st.Level -= 0.1 })
				})
			}
		}
		return nil
	})
	return nil
}

func registerActions(t *testing.T, s *Simulation) {
	t.Helper()
	require.NoError(t, RegisterStrategy[[]string, float64](s, strategy.NewAccumulate[string, float64]("actions"),
		strategy.NewBehaviour("wait", nil, func(strategy.Agent, float64) []string { return []string{"Wait"} }),
		strategy.NewBehaviour("relax", isStressed, func(strategy.Agent, float64) []string { return []string{"Relax"} }),
	))
}

func withStress(level float64) func(*world.Store, world.EntityID) error {
	return func(s *world.Store, id world.EntityID) error {
		return world.Set(s, id, stress{Level: level})
	}
}

func TestSimulationPipeline(t *testing.T) {
	s := newSim(t, Options{})
	registerActions(t, s)
	require.NoError(t, s.RegisterFlowBuilder("person", FlowModel{Name: "decide", Period: tick, Cyclic: true, Build: calmDown}))

	var agents []world.EntityID
	for i := 0; i < 10; i++ {
		id, err := s.CreateAgent("person", withStress(0.9))
		require.NoError(t, err)
		agents = append(agents, id)
	}
	assert.Len(t, s.Agents("person"), 10)

	require.NoError(t, s.Step(context.Background(), tick))
	for _, id := range agents {
		st, _ := world.Get[stress](s.Store(), id)
		assert.InDelta(t, 0.8, st.Level, 1e-9, "command applied exactly once at the drain")
	}

	require.NoError(t, s.StepN(context.Background(), 10, tick))
	for _, id := range agents {
		st, _ := world.Get[stress](s.Store(), id)
		assert.LessOrEqual(t, st.Level, 0.5+1e-9)
		assert.Greater(t, st.Level, 0.3)
	}
	assert.Equal(t, uint64(11), s.Tick())
	assert.Equal(t, 11*tick, s.Now())
	assert.Zero(t, s.Queue().Len())
}

func TestFlowEntitiesAreChildren(t *testing.T) {
	s := newSim(t, Options{})
	registerActions(t, s)
	require.NoError(t, s.RegisterFlowBuilder("person", FlowModel{Name: "decide", Cyclic: true, Build: calmDown}))
	require.NoError(t, s.RegisterFlowBuilder("person", FlowModel{Name: "again", Cyclic: true, Build: calmDown}))

	id, err := s.CreateAgent("person", withStress(0.1))
	require.NoError(t, err)

	children := s.Store().Children(id)
	require.Len(t, children, 2)
	ref, ok := world.Get[FlowRef](s.Store(), children[0])
	require.True(t, ok)
	assert.Equal(t, "decide", ref.Flow)
	assert.Len(t, s.Status(id), 2)

	require.NoError(t, s.DestroyAgent(id))
	assert.False(t, s.Store().Alive(id))
	for _, c := range children {
		assert.False(t, s.Store().Alive(c))
	}
	assert.Empty(t, s.Status(id))

	assert.ErrorIs(t, s.DestroyAgent(children[0]), ErrNotAgent)
}

func TestCyclicCooldown(t *testing.T) {
	s := newSim(t, Options{})
	var runs atomic.Int32
	require.NoError(t, s.RegisterFlowBuilder("ticker", FlowModel{Name: "count", Period: 2 * time.Second, Cyclic: true, Build: func(b *flow.Builder) error {
		flow.Acquire(b, "count", func(*flow.Context) (struct{}, error) {
			runs.Add(1)
			return struct{}{}, nil
		})
		return nil
	}}))
	id, err := s.CreateAgent("ticker", nil)
	require.NoError(t, err)

	// t = 0, 0.5, 1.0, 1.5
	require.NoError(t, s.StepN(context.Background(), 4, tick))
	assert.Equal(t, int32(1), runs.Load(), "no relaunch before the period elapsed")

	// t = 2.0
	require.NoError(t, s.Step(context.Background(), tick))
	assert.Equal(t, int32(2), runs.Load())

	state := s.Status(id)[0]
	assert.Equal(t, int64(2), state.Counter)
	assert.Equal(t, scheduler.RunOK, state.LastStatus)
}

func TestNoActiveBehaviourLeavesStateUnchanged(t *testing.T) {
	s := newSim(t, Options{})
	require.NoError(t, RegisterStrategy[[]string, float64](s, strategy.NewAccumulate[string, float64]("actions"),
		strategy.NewBehaviour("relax", isStressed, func(strategy.Agent, float64) []string { return []string{"Relax"} }),
	))
	require.NoError(t, s.RegisterFlowBuilder("person", FlowModel{Name: "decide", Cyclic: true, Build: calmDown}))

	calm, err := s.CreateAgent("person", withStress(0.2))
	require.NoError(t, err)
	tense, err := s.CreateAgent("person", withStress(0.9))
	require.NoError(t, err)

	require.NoError(t, s.Step(context.Background(), tick), "per-agent failures never fail a step")

	st, _ := world.Get[stress](s.Store(), calm)
	assert.Equal(t, 0.2, st.Level)
	state := s.Status(calm)[0]
	assert.Equal(t, scheduler.RunError, state.LastStatus)
	assert.ErrorIs(t, state.LastError, strategy.ErrNoActiveBehaviour)

	st, _ = world.Get[stress](s.Store(), tense)
	assert.InDelta(t, 0.8, st.Level, 1e-9, "other agents are unaffected")
}

func TestFailedRunDiscardsSiblingCommands(t *testing.T) {
	s := newSim(t, Options{})
	require.NoError(t, RegisterStrategy[[]string, float64](s, strategy.NewAccumulate[string, float64]("actions"),
		strategy.NewBehaviour("relax", isStressed, func(strategy.Agent, float64) []string { return []string{"Relax"} }),
	))
	require.NoError(t, s.RegisterFlowBuilder("person", FlowModel{Name: "decide", Cyclic: true, Build: func(b *flow.Builder) error {
		level := flow.Acquire(b, "perceive", func(c *flow.Context) (float64, error) {
			st, _ := world.Get[stress](c.View(), c.Agent().ID)
			return st.Level, nil
		})
		flow.Act(b, "tense-up", level, func(c *flow.Context, _ float64) error {
			c.Defer(func(s *world.Store) error {
				return world.Set(s, c.Agent().ID, stress{Level: 0.7})
			})
			return nil
		})
		slow := flow.Compute(b, "deliberate", level, func(_ *flow.Context, l float64) (float64, error) {
			time.Sleep(20 * time.Millisecond)
			return l, nil
		})
		flow.Decide[[]string](b, "actions", "actions", slow)
		return nil
	}}))

	var agents []world.EntityID
	for i := 0; i < 3; i++ {
		id, err := s.CreateAgent("person", withStress(0.2))
		require.NoError(t, err)
		agents = append(agents, id)
	}

	require.NoError(t, s.Step(context.Background(), tick))

	for _, id := range agents {
		state := s.Status(id)[0]
		assert.Equal(t, scheduler.RunError, state.LastStatus)
		assert.ErrorIs(t, state.LastError, strategy.ErrNoActiveBehaviour)

		st, _ := world.Get[stress](s.Store(), id)
		assert.Equal(t, 0.2, st.Level, "commands of a failed run are never applied")
	}
	assert.Zero(t, s.Queue().Len())
}

func TestDelayCountsFromCreation(t *testing.T) {
	s := newSim(t, Options{})
	registerActions(t, s)
	require.NoError(t, s.RegisterFlowBuilder("person", FlowModel{Name: "decide", Period: tick, Cyclic: true, Delay: tick, Build: calmDown}))

	require.NoError(t, s.StepN(context.Background(), 2, tick))
	require.Equal(t, 2*tick, s.Now())

	id, err := s.CreateAgent("person", withStress(0.2))
	require.NoError(t, err)

	require.NoError(t, s.Step(context.Background(), tick))
	assert.Zero(t, s.Status(id)[0].Counter, "not launched before the delay elapsed")

	require.NoError(t, s.Step(context.Background(), tick))
	assert.Equal(t, int64(1), s.Status(id)[0].Counter)
	assert.Equal(t, 3*tick, s.Status(id)[0].LastLaunch)
}

func TestStoreModes(t *testing.T) {
	s := newSim(t, Options{})

	var phaseWritable, flowReadOnly atomic.Bool
	s.AddPhase("check", func(store *world.Store, dt time.Duration) error {
		phaseWritable.Store(!store.ReadOnly())
		assert.Equal(t, tick, dt)
		return nil
	})
	require.NoError(t, s.RegisterFlowBuilder("inspect", FlowModel{Name: "inspect", Cyclic: true, Build: func(b *flow.Builder) error {
		flow.Acquire(b, "inspect", func(c *flow.Context) (struct{}, error) {
			flowReadOnly.Store(c.View().ReadOnly())
			return struct{}{}, nil
		})
		return nil
	}}))
	_, err := s.CreateAgent("inspect", nil)
	require.NoError(t, err)

	require.NoError(t, s.Step(context.Background(), tick))
	assert.True(t, phaseWritable.Load())
	assert.True(t, flowReadOnly.Load())
	assert.False(t, s.Store().ReadOnly(), "writable between steps")
}

func TestRegistrationErrors(t *testing.T) {
	s := newSim(t, Options{})
	registerActions(t, s)

	err := RegisterStrategy[[]string, float64](s, strategy.NewAccumulate[string, float64]("actions"))
	assert.ErrorIs(t, err, strategy.ErrDuplicate)

	_, err = s.CreateAgent("ghost", nil)
	assert.ErrorIs(t, err, ErrUnknownModel)

	require.NoError(t, s.RegisterFlowBuilder("person", FlowModel{Name: "decide", Build: calmDown}))
	assert.ErrorIs(t, s.RegisterFlowBuilder("person", FlowModel{Name: "decide", Build: calmDown}), strategy.ErrDuplicate)
	assert.True(t, strategy.IsConfigurationError(s.RegisterFlowBuilder("person", FlowModel{Name: "empty"})))

	_, err = s.CreateAgent("person", withStress(0))
	require.NoError(t, err)

	err = RegisterStrategy[string, string](s, strategy.NewSequential[string]("late"))
	assert.ErrorIs(t, err, strategy.ErrSealed)

	t.Run("broken flow destroys the agent", func(t *testing.T) {
		require.NoError(t, s.RegisterFlowBuilder("broken", FlowModel{Name: "broken", Build: func(b *flow.Builder) error {
			root := flow.Acquire(b, "perceive", func(*flow.Context) (int, error) { return 0, nil })
			flow.Decide[int](b, "missing", "missing", root)
			return nil
		}}))
		before := s.Store().Len()
		_, err := s.CreateAgent("broken", nil)
		assert.True(t, strategy.IsConfigurationError(err))
		assert.Equal(t, before, s.Store().Len())
	})
}

func slowModel(release <-chan struct{}) FlowModel {
	return FlowModel{Name: "slow", Period: tick, Cyclic: true, Build: func(b *flow.Builder) error {
		wait := flow.Acquire(b, "wait", func(c *flow.Context) (struct{}, error) {
			select {
			case <-release:
			case <-c.Context().Done():
				return struct{}{}, c.Context().Err()
			}
			return struct{}{}, nil
		})
		flow.Act(b, "mark", wait, func(c *flow.Context, _ struct{}) error {
			c.Defer(func(s *world.Store) error {
				return world.Update(s, c.Agent().ID, func(st *stress) { st.Level = 1 })
			})
			return nil
		})
		return nil
	}}
}

func TestSpanPolicy(t *testing.T) {
	var faults atomic.Int32
	s := newSim(t, Options{
		DrainPolicy:       DrainSpan,
		MinLivenessWindow: tick,
		OnFault:           func(*scheduler.LivenessFault) { faults.Add(1) },
	})
	release := make(chan struct{})
	require.NoError(t, s.RegisterFlowBuilder("slow", slowModel(release)))
	id, err := s.CreateAgent("slow", withStress(0))
	require.NoError(t, err)

	require.NoError(t, s.StepN(context.Background(), 4, tick), "span never waits for flows")
	assert.Equal(t, scheduler.StatusRunning, s.Status(id)[0].Status)
	assert.Equal(t, int64(1), s.Status(id)[0].Counter, "never two runs of the same flow")
	assert.Equal(t, int32(1), faults.Load(), "running past period + max(period, window)")

	inFlight := s.Scheduler().InFlight()
	require.Len(t, inFlight, 1)
	close(release)
	select {
	case <-inFlight[0].Done():
	case <-time.After(time.Second):
		t.Fatal("slow run did not finish")
	}
	assert.Zero(t, s.Queue().Len(), "commands wait in the run buffer until reaped")

	require.NoError(t, s.Step(context.Background(), tick))
	st, _ := world.Get[stress](s.Store(), id)
	assert.Equal(t, 1.0, st.Level, "a later drain applies commands of slow runs")
}

func TestBarrierTimeout(t *testing.T) {
	s := newSim(t, Options{BarrierTimeout: 20 * time.Millisecond})
	release := make(chan struct{})
	require.NoError(t, s.RegisterFlowBuilder("slow", slowModel(release)))
	id, err := s.CreateAgent("slow", withStress(0))
	require.NoError(t, err)

	require.NoError(t, s.Step(context.Background(), tick))
	assert.Equal(t, scheduler.StatusRunning, s.Status(id)[0].Status)

	close(release)
	require.NoError(t, s.Step(context.Background(), tick))
	require.Eventually(t, func() bool {
		_ = s.Step(context.Background(), tick)
		st, _ := world.Get[stress](s.Store(), id)
		return st.Level == 1
	}, time.Second, 5*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	s, err := New(Options{Logger: zerolog.Nop(), Workers: 2, CancelOnShutdown: true})
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, s.RegisterFlowBuilder("slow", slowModel(release)))
	id, err := s.CreateAgent("slow", withStress(0))
	require.NoError(t, err)

	s.opts.DrainPolicy = DrainSpan
	require.NoError(t, s.Step(context.Background(), tick))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	state := s.Status(id)[0]
	assert.Equal(t, scheduler.RunCancelled, state.LastStatus)
	st, _ := world.Get[stress](s.Store(), id)
	assert.Zero(t, st.Level, "cancelled run pushed nothing")

	assert.ErrorIs(t, s.Step(context.Background(), tick), ErrShutdown)
	_, err = s.CreateAgent("slow", nil)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.NoError(t, s.Shutdown(context.Background()), "idempotent")
}

func TestShutdownDeadline(t *testing.T) {
	s, err := New(Options{Logger: zerolog.Nop(), Workers: 2, DrainPolicy: DrainSpan})
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, s.RegisterFlowBuilder("slow", slowModel(release)))
	id, err := s.CreateAgent("slow", withStress(0))
	require.NoError(t, err)
	require.NoError(t, s.Step(context.Background(), tick))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)

	assert.Equal(t, scheduler.RunCancelled, s.Status(id)[0].LastStatus, "cancelled runs are reaped before returning")
	assert.Zero(t, s.Scheduler().Running())

	late := s.exec.Submit(context.Background(), executor.Graph{Name: "late", Units: []executor.Unit{
		{Name: "noop", Run: func(context.Context) error { return nil }},
	}})
	assert.ErrorIs(t, late.Err(), executor.ErrClosed, "owned executor is closed on the deadline path too")
}

func TestParseDrainPolicy(t *testing.T) {
	p, err := ParseDrainPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DrainBarrier, p)

	p, err = ParseDrainPolicy("span")
	require.NoError(t, err)
	assert.Equal(t, DrainSpan, p)

	_, err = ParseDrainPolicy("later")
	assert.Error(t, err)

	_, err = New(Options{DrainPolicy: "later"})
	assert.Error(t, err)
}
