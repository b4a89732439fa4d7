package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

type stressed struct{ Level float64 }

func newAgent(t *testing.T, level float64) Agent {
	t.Helper()
	s := world.NewStore()
	id, err := s.Create()
	require.NoError(t, err)
	require.NoError(t, world.Set(s, id, stressed{Level: level}))
	return world.NewAgent(id, s.View())
}

func isStressed(agent Agent) bool {
	st, ok := world.Get[stressed](agent.View, agent.ID)
	return ok && st.Level > 0.5
}

func TestAccumulate(t *testing.T) {
	s := NewAccumulate[string, struct{}]("actions")
	require.NoError(t, s.Add(
		NewBehaviour("wait", nil, func(Agent, struct{}) []string { return []string{"Wait"} }),
		NewBehaviour("flee", nil, func(Agent, struct{}) []string { return []string{"Flee", "Wait"} }),
	))

	t.Run("concatenates in registration order", func(t *testing.T) {
		out, err := s.Compute(newAgent(t, 0), struct{}{})
		require.NoError(t, err)
		assert.Equal(t, []string{"Wait", "Flee", "Wait"}, out)
	})

	t.Run("skips inactive behaviours", func(t *testing.T) {
		s := NewAccumulate[string, struct{}]("actions")
		require.NoError(t, s.Add(
			NewBehaviour("wait", nil, func(Agent, struct{}) []string { return []string{"Wait"} }),
			NewBehaviour("flee", isStressed, func(Agent, struct{}) []string { return []string{"Flee"} }),
		))

		calm, err := s.Compute(newAgent(t, 0.1), struct{}{})
		require.NoError(t, err)
		assert.Equal(t, []string{"Wait"}, calm)

		panicked, err := s.Compute(newAgent(t, 0.9), struct{}{})
		require.NoError(t, err)
		assert.Equal(t, []string{"Wait", "Flee"}, panicked)
	})

	assert.Equal(t, PolicyAccumulate, s.Policy())
	assert.Equal(t, []string{"wait", "flee"}, s.Behaviours())
}

func TestSequential(t *testing.T) {
	s := NewSequential[int]("arith")
	require.NoError(t, s.Add(
		NewBehaviour("add1", nil, func(_ Agent, x int) int { return x + 1 }),
		NewBehaviour("double", nil, func(_ Agent, x int) int { return x * 2 }),
	))

	out, err := s.Compute(newAgent(t, 0), 5)
	require.NoError(t, err)
	assert.Equal(t, 12, out)

	t.Run("order matters", func(t *testing.T) {
		r := NewSequential[int]("arith-reversed")
		require.NoError(t, r.Add(
			NewBehaviour("double", nil, func(_ Agent, x int) int { return x * 2 }),
			NewBehaviour("add1", nil, func(_ Agent, x int) int { return x + 1 }),
		))
		out, err := r.Compute(newAgent(t, 0), 5)
		require.NoError(t, err)
		assert.Equal(t, 11, out)
	})
}

func TestRandom(t *testing.T) {
	s := NewRandom[string, struct{}]("gesture", WithSeed(42))
	require.NoError(t, s.Add(
		NewBehaviour("wave", nil, func(Agent, struct{}) string { return "wave" }),
		NewBehaviour("nod", nil, func(Agent, struct{}) string { return "nod" }),
		NewBehaviour("shrug", isStressed, func(Agent, struct{}) string { return "shrug" }),
	))

	agent := newAgent(t, 0.1)
	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		out, err := s.Compute(agent, struct{}{})
		require.NoError(t, err)
		seen[out]++
	}

	assert.NotContains(t, seen, "shrug", "inactive behaviour must never be picked")
	assert.Greater(t, seen["wave"], 0)
	assert.Greater(t, seen["nod"], 0)

	t.Run("same seed same sequence", func(t *testing.T) {
		mk := func() *Random[int, struct{}] {
			r := NewRandom[int, struct{}]("dice", WithSeed(7))
			for i := 0; i < 6; i++ {
				v := i
				require.NoError(t, r.Add(NewBehaviour(string(rune('a'+i)), nil, func(Agent, struct{}) int { return v })))
			}
			return r
		}
		a, b := mk(), mk()
		for i := 0; i < 20; i++ {
			x, _ := a.Compute(agent, struct{}{})
			y, _ := b.Compute(agent, struct{}{})
			assert.Equal(t, x, y)
		}
	})
}

func TestInfluenceGraph(t *testing.T) {
	t.Run("scores and winner", func(t *testing.T) {
		s := NewInfluenceGraph[string]("target")
		require.NoError(t, s.Add(
			NewBehaviour("likes-a", nil, func(Agent, []string) []Influence[string] {
				return []Influence[string]{For("A")}
			}),
			NewBehaviour("prefers-b", nil, func(Agent, []string) []Influence[string] {
				return []Influence[string]{Against("A"), For("B")}
			}),
		))

		agent := newAgent(t, 0)
		scores, err := s.Scores(agent, []string{"A", "B"})
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1}, scores)

		winner, err := s.Compute(agent, []string{"A", "B"})
		require.NoError(t, err)
		assert.Equal(t, "B", winner)
	})

	t.Run("tie goes to first candidate", func(t *testing.T) {
		s := NewInfluenceGraph[string]("target")
		require.NoError(t, s.Add(
			NewBehaviour("silent", nil, func(Agent, []string) []Influence[string] { return nil }),
		))

		agent := newAgent(t, 0)
		for i := 0; i < 50; i++ {
			winner, err := s.Compute(agent, []string{"A", "B"})
			require.NoError(t, err)
			assert.Equal(t, "A", winner)
		}
	})

	t.Run("influences on unknown targets are ignored", func(t *testing.T) {
		s := NewInfluenceGraph[int]("target")
		require.NoError(t, s.Add(
			NewBehaviour("stray", nil, func(Agent, []int) []Influence[int] {
				return []Influence[int]{For(99), For(2), For(2), Against(1)}
			}),
		))
		scores, err := s.Scores(newAgent(t, 0), []int{1, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, []int{-1, 2, 0}, scores)
	})

	t.Run("empty candidate set", func(t *testing.T) {
		s := NewInfluenceGraph[string]("target")
		require.NoError(t, s.Add(NewBehaviour("any", nil, func(Agent, []string) []Influence[string] { return nil })))

		_, err := s.Compute(newAgent(t, 0), nil)
		assert.ErrorIs(t, err, ErrEmptyCandidateSet)
	})
}

func TestNoActiveBehaviour(t *testing.T) {
	agent := newAgent(t, 0.1)

	acc := NewAccumulate[string, struct{}]("actions")
	require.NoError(t, acc.Add(NewBehaviour("flee", isStressed, func(Agent, struct{}) []string { return []string{"Flee"} })))
	_, err := acc.Compute(agent, struct{}{})
	assert.ErrorIs(t, err, ErrNoActiveBehaviour)

	seq := NewSequential[int]("empty")
	_, err = seq.Compute(agent, 1)
	assert.ErrorIs(t, err, ErrNoActiveBehaviour)

	rnd := NewRandom[int, int]("empty")
	_, err = rnd.Compute(agent, 1)
	assert.ErrorIs(t, err, ErrNoActiveBehaviour)

	ig := NewInfluenceGraph[int]("empty")
	_, err = ig.Compute(agent, []int{1})
	assert.ErrorIs(t, err, ErrNoActiveBehaviour)
}

func TestActivationIsReevaluated(t *testing.T) {
	store := world.NewStore()
	id, _ := store.Create()
	require.NoError(t, world.Set(store, id, stressed{Level: 0.1}))
	agent := world.NewAgent(id, store.View())

	s := NewAccumulate[string, struct{}]("actions")
	require.NoError(t, s.Add(
		NewBehaviour("wait", nil, func(Agent, struct{}) []string { return []string{"Wait"} }),
		NewBehaviour("flee", isStressed, func(Agent, struct{}) []string { return []string{"Flee"} }),
	))

	out, _ := s.Compute(agent, struct{}{})
	assert.Equal(t, []string{"Wait"}, out)

	require.NoError(t, world.Set(store, id, stressed{Level: 0.9}))
	out, _ = s.Compute(agent, struct{}{})
	assert.Equal(t, []string{"Wait", "Flee"}, out)
}

func TestBehaviourRegistration(t *testing.T) {
	s := NewSequential[int]("arith")
	inc := NewBehaviour("inc", nil, func(_ Agent, x int) int { return x + 1 })

	require.NoError(t, s.Add(inc))

	err := s.Add(inc)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.True(t, IsConfigurationError(err))

	s.Freeze()
	err = s.Add(NewBehaviour("dec", nil, func(_ Agent, x int) int { return x - 1 }))
	assert.ErrorIs(t, err, ErrFrozen)
	assert.True(t, IsConfigurationError(err))
}

func TestAddIsAllOrNothing(t *testing.T) {
	s := NewSequential[int]("arith")
	require.NoError(t, s.Add(NewBehaviour("inc", nil, func(_ Agent, x int) int { return x + 1 })))

	err := s.Add(
		NewBehaviour("double", nil, func(_ Agent, x int) int { return x * 2 }),
		NewBehaviour("inc", nil, func(_ Agent, x int) int { return x + 1 }),
	)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, []string{"inc"}, s.Behaviours(), "earlier members of a rejected batch are not kept")

	err = s.Add(
		NewBehaviour("square", nil, func(_ Agent, x int) int { return x * x }),
		NewBehaviour("square", nil, func(_ Agent, x int) int { return x * x }),
	)
	assert.ErrorIs(t, err, ErrDuplicate, "duplicates inside one batch are rejected")
	assert.Equal(t, []string{"inc"}, s.Behaviours())

	err = s.Add(
		NewBehaviour("half", nil, func(_ Agent, x int) int { return x / 2 }),
		Behaviour[int, int]{},
	)
	assert.Error(t, err)
	assert.Equal(t, []string{"inc"}, s.Behaviours())
}
