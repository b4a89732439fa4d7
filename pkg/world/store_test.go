package world

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type position struct{ X, Y int }

type stress struct{ Level float64 }

func TestStore_CreateDestroy(t *testing.T) {
	s := NewStore()

	a, err := s.Create()
	require.NoError(t, err)
	b, err := s.Create()
	require.NoError(t, err)

	assert.True(t, s.Alive(a))
	assert.True(t, s.Alive(b))
	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Alive(Nil))

	require.NoError(t, s.Destroy(a))
	assert.False(t, s.Alive(a))
	assert.Equal(t, 1, s.Len())

	t.Run("recycled slot gets a new generation", func(t *testing.T) {
		c, err := s.Create()
		require.NoError(t, err)
		assert.Equal(t, a.index(), c.index())
		assert.NotEqual(t, a, c)
		assert.False(t, s.Alive(a))
		assert.True(t, s.Alive(c))
	})

	t.Run("destroying a stale id fails", func(t *testing.T) {
		err := s.Destroy(a)
		assert.ErrorIs(t, err, ErrEntityNotFound)
	})
}

func TestStore_Components(t *testing.T) {
	s := NewStore()
	id, _ := s.Create()

	require.NoError(t, Set(s, id, position{X: 1, Y: 2}))
	require.NoError(t, Set(s, id, stress{Level: 0.5}))

	p, ok := Get[position](s, id)
	require.True(t, ok)
	assert.Equal(t, position{X: 1, Y: 2}, p)
	assert.True(t, Has[stress](s.View(), id))

	require.NoError(t, Update(s, id, func(st *stress) { st.Level += 0.25 }))
	st, _ := Get[stress](s, id)
	assert.InDelta(t, 0.75, st.Level, 1e-9)

	require.NoError(t, Remove[position](s, id))
	assert.False(t, Has[position](s, id))
	assert.Equal(t, 0, Count[position](s))

	t.Run("update of missing component fails", func(t *testing.T) {
		err := Update(s, id, func(p *position) { p.X = 9 })
		assert.Error(t, err)
	})

	t.Run("components vanish with the entity", func(t *testing.T) {
		require.NoError(t, s.Destroy(id))
		_, ok := Get[stress](s, id)
		assert.False(t, ok)
		assert.Equal(t, 0, Count[stress](s))
	})
}

func TestStore_SwapRemoveKeepsLookups(t *testing.T) {
	s := NewStore()
	ids := make([]EntityID, 4)
	for i := range ids {
		ids[i], _ = s.Create()
		require.NoError(t, Set(s, ids[i], position{X: i}))
	}

	require.NoError(t, s.Destroy(ids[1]))

	for _, i := range []int{0, 2, 3} {
		p, ok := Get[position](s, ids[i])
		require.True(t, ok)
		assert.Equal(t, i, p.X)
	}
	assert.Equal(t, 3, Count[position](s))
}

func TestStore_Query(t *testing.T) {
	s := NewStore()
	var calm, anxious []EntityID
	for i := 0; i < 6; i++ {
		id, _ := s.Create()
		level := 0.1
		if i%2 == 0 {
			level = 0.9
			anxious = append(anxious, id)
		} else {
			calm = append(calm, id)
		}
		require.NoError(t, Set(s, id, stress{Level: level}))
	}

	got := Query(s.View(), func(_ EntityID, st stress) bool { return st.Level > 0.5 })
	assert.ElementsMatch(t, anxious, got)
	assert.Len(t, Query[stress](s, nil), 6)
	assert.Empty(t, Query[position](s, nil))
	assert.Len(t, calm, 3)
}

func TestStore_ReadOnly(t *testing.T) {
	s := NewStore()
	id, _ := s.Create()

	s.SetReadOnly(true)
	assert.True(t, s.View().ReadOnly())

	assert.ErrorIs(t, Set(s, id, position{}), ErrReadOnly)
	assert.ErrorIs(t, s.Destroy(id), ErrReadOnly)
	_, err := s.Create()
	assert.ErrorIs(t, err, ErrReadOnly)

	// Reads keep working.
	assert.True(t, s.Alive(id))

	s.SetReadOnly(false)
	assert.NoError(t, Set(s, id, position{}))
}

func TestStore_Relations(t *testing.T) {
	s := NewStore()
	agent, _ := s.Create()
	flowA, _ := s.Create()
	flowB, _ := s.Create()
	grandchild, _ := s.Create()

	require.NoError(t, s.SetParent(flowA, agent))
	require.NoError(t, s.SetParent(flowB, agent))
	require.NoError(t, s.SetParent(grandchild, flowA))

	assert.Equal(t, []EntityID{flowA, flowB}, s.Children(agent))
	p, ok := s.Parent(flowA)
	require.True(t, ok)
	assert.Equal(t, agent, p)

	t.Run("cycles are rejected", func(t *testing.T) {
		err := s.SetParent(agent, grandchild)
		assert.ErrorIs(t, err, ErrRelationCycle)
	})

	t.Run("destroy cascades to children", func(t *testing.T) {
		require.NoError(t, s.Destroy(agent))
		assert.False(t, s.Alive(flowA))
		assert.False(t, s.Alive(flowB))
		assert.False(t, s.Alive(grandchild))
		assert.Equal(t, 0, s.Len())
	})
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	var ids []EntityID
	for i := 0; i < 32; i++ {
		id, _ := s.Create()
		require.NoError(t, Set(s, id, stress{Level: float64(i)}))
		ids = append(ids, id)
	}
	s.SetReadOnly(true)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := s.View()
			for _, id := range ids {
				_, ok := Get[stress](v, id)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()
}
