package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("register and lookup", func(t *testing.T) {
		r := NewRegistry()
		s := NewSequential[int]("arith")
		require.NoError(t, Register[int, int](r, s))

		got, err := Lookup[int, int](r, "arith")
		require.NoError(t, err)
		assert.Same(t, s, got)
		assert.False(t, s.Frozen(), "only a built flow freezes the strategy")
		assert.Equal(t, 1, r.Len())
	})

	t.Run("same name different types", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, Register[int, int](r, NewSequential[int]("fold")))
		require.NoError(t, Register[string, string](r, NewSequential[string]("fold")))
		assert.Len(t, r.Keys(), 2)

		_, err := Lookup[float64, float64](r, "fold")
		assert.ErrorIs(t, err, ErrNotRegistered)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, Register[int, int](r, NewSequential[int]("arith")))

		err := Register[int, int](r, NewSequential[int]("arith"))
		assert.ErrorIs(t, err, ErrDuplicate)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("missing strategy", func(t *testing.T) {
		r := NewRegistry()
		_, err := Lookup[[]string, struct{}](r, "actions")
		assert.ErrorIs(t, err, ErrNotRegistered)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("sealed registry", func(t *testing.T) {
		r := NewRegistry()
		r.Seal()
		assert.True(t, r.Sealed())

		err := Register[[]string, struct{}](r, NewAccumulate[string, struct{}]("late"))
		assert.ErrorIs(t, err, ErrSealed)
	})

	t.Run("key string", func(t *testing.T) {
		key := KeyOf[[]string, struct{}]("actions")
		assert.Equal(t, "actions(struct {}) []string", key.String())
	})
}
