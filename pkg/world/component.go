package world

import (
	"fmt"
	"reflect"
)

type table interface {
	remove(id EntityID) bool
	has(id EntityID) bool
	size() int
}

// column stores every value of one component type contiguously. owners[i]
// is the entity holding values[i]; sparse maps an arena index to i.
type column[T any] struct {
	values []T
	owners []EntityID
	sparse map[uint32]int
}

func newColumn[T any]() *column[T] {
	return &column[T]{sparse: make(map[uint32]int)}
}

func (c *column[T]) set(id EntityID, v T) {
	if i, ok := c.sparse[id.index()]; ok {
		c.values[i] = v
		c.owners[i] = id
		return
	}
	c.sparse[id.index()] = len(c.values)
	c.values = append(c.values, v)
	c.owners = append(c.owners, id)
}

func (c *column[T]) get(id EntityID) (T, bool) {
	i, ok := c.sparse[id.index()]
	if !ok || c.owners[i] != id {
		var zero T
		return zero, false
	}
	return c.values[i], true
}

// remove swaps the last element into the hole to keep the column dense.
func (c *column[T]) remove(id EntityID) bool {
	i, ok := c.sparse[id.index()]
	if !ok || c.owners[i] != id {
		return false
	}
	last := len(c.values) - 1
	if i != last {
		c.values[i] = c.values[last]
		c.owners[i] = c.owners[last]
		c.sparse[c.owners[i].index()] = i
	}
	var zero T
	c.values[last] = zero
	c.values = c.values[:last]
	c.owners = c.owners[:last]
	delete(c.sparse, id.index())
	return true
}

func (c *column[T]) has(id EntityID) bool {
	i, ok := c.sparse[id.index()]
	return ok && c.owners[i] == id
}

func (c *column[T]) size() int {
	return len(c.values)
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// columnLocked returns the column for T. Callers hold s.mu; create requires
// the write lock.
func columnLocked[T any](s *Store, create bool) *column[T] {
	key := typeOf[T]()
	t, ok := s.tables[key]
	if !ok {
		if !create {
			return nil
		}
		c := newColumn[T]()
		s.tables[key] = c
		return c
	}
	return t.(*column[T])
}

// Set stores component v on id, replacing any previous value of type T.
func Set[T any](s *Store, id EntityID, v T) error {
	if err := s.checkWritable(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.aliveLocked(id) {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	columnLocked[T](s, true).set(id, v)
	return nil
}

// Update applies fn to the T component of id in place. It fails if the
// entity is gone or has no T.
func Update[T any](s *Store, id EntityID, fn func(*T)) error {
	if err := s.checkWritable(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.aliveLocked(id) {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	c := columnLocked[T](s, false)
	if c == nil || !c.has(id) {
		return fmt.Errorf("world: %s has no %s component", id, typeOf[T]())
	}
	fn(&c.values[c.sparse[id.index()]])
	return nil
}

// Remove deletes the T component of id. Removing an absent component is not an error.
func Remove[T any](s *Store, id EntityID) error {
	if err := s.checkWritable(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.aliveLocked(id) {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	if c := columnLocked[T](s, false); c != nil {
		c.remove(id)
	}
	return nil
}

// Get returns the T component of id.
func Get[T any](r Reader, id EntityID) (T, bool) {
	s := r.store()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero T
	if !s.aliveLocked(id) {
		return zero, false
	}
	c := columnLocked[T](s, false)
	if c == nil {
		return zero, false
	}
	return c.get(id)
}

// Has reports whether id carries a T component.
func Has[T any](r Reader, id EntityID) bool {
	_, ok := Get[T](r, id)
	return ok
}

// Count returns how many entities carry a T component.
func Count[T any](r Reader) int {
	s := r.store()
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := columnLocked[T](s, false)
	if c == nil {
		return 0
	}
	return c.size()
}

// Each calls fn for every entity with a T component until fn returns false.
// It iterates over a snapshot, so fn may call back into the store.
func Each[T any](r Reader, fn func(EntityID, T) bool) {
	s := r.store()
	s.mu.RLock()
	c := columnLocked[T](s, false)
	if c == nil {
		s.mu.RUnlock()
		return
	}
	owners := append([]EntityID(nil), c.owners...)
	values := append([]T(nil), c.values...)
	s.mu.RUnlock()

	for i, id := range owners {
		if !fn(id, values[i]) {
			return
		}
	}
}

// Query returns the entities whose T component satisfies pred. A nil pred
// matches every holder of T.
func Query[T any](r Reader, pred func(EntityID, T) bool) []EntityID {
	var out []EntityID
	Each(r, func(id EntityID, v T) bool {
		if pred == nil || pred(id, v) {
			out = append(out, id)
		}
		return true
	})
	return out
}
