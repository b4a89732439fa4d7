// Package world provides the entity store agents perceive and commands mutate.
//
// Invariants:
// - Entity ids are arena slots with a generation; ids of destroyed entities never alias new ones.
// - Components are kept per Go type in struct-of-arrays tables.
// - While the store is read-only every mutation fails with ErrReadOnly. Flow steps only ever
//   see a View, which has no mutation methods at all.
package world

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

var (
	// ErrReadOnly is returned by mutations attempted while flows may be running.
	ErrReadOnly = errors.New("world: store is read-only")
	// ErrEntityNotFound is returned when an id does not refer to a live entity.
	ErrEntityNotFound = errors.New("world: entity not found")
	// ErrRelationCycle is returned when a parent assignment would create a loop.
	ErrRelationCycle = errors.New("world: relation cycle")
)

type slot struct {
	generation uint32
	alive      bool
}

// Store is the authoritative entity/component storage.
type Store struct {
	mu       sync.RWMutex
	slots    []slot
	free     []uint32
	live     int
	tables   map[reflect.Type]table
	parent   map[EntityID]EntityID
	children map[EntityID][]EntityID
	readOnly atomic.Bool
}

// NewStore creates an empty, writable store.
func NewStore() *Store {
	return &Store{
		tables:   make(map[reflect.Type]table),
		parent:   make(map[EntityID]EntityID),
		children: make(map[EntityID][]EntityID),
	}
}

// Reader is implemented by Store and View. Component getters accept either.
type Reader interface {
	store() *Store
}

func (s *Store) store() *Store { return s }

// View returns the read-only facade over s.
func (s *Store) View() View {
	return View{s: s}
}

// SetReadOnly toggles the mutation guard.
func (s *Store) SetReadOnly(readOnly bool) {
	s.readOnly.Store(readOnly)
}

// ReadOnly reports whether mutations are currently rejected.
func (s *Store) ReadOnly() bool {
	return s.readOnly.Load()
}

func (s *Store) checkWritable() error {
	if s.readOnly.Load() {
		return ErrReadOnly
	}
	return nil
}

// Create allocates a new entity.
func (s *Store) Create() (EntityID, error) {
	if err := s.checkWritable(); err != nil {
		return Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var index uint32
	if n := len(s.free); n > 0 {
		index = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		index = uint32(len(s.slots))
		s.slots = append(s.slots, slot{})
	}

	sl := &s.slots[index]
	sl.alive = true
	s.live++

	return makeID(index, sl.generation), nil
}

// Destroy removes an entity, its components and, recursively, its children.
func (s *Store) Destroy(id EntityID) error {
	if err := s.checkWritable(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.aliveLocked(id) {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	s.destroyLocked(id)
	return nil
}

func (s *Store) destroyLocked(id EntityID) {
	kids := append([]EntityID(nil), s.children[id]...)
	for _, child := range kids {
		if s.aliveLocked(child) {
			s.destroyLocked(child)
		}
	}
	delete(s.children, id)

	if p, ok := s.parent[id]; ok {
		s.children[p] = removeID(s.children[p], id)
		delete(s.parent, id)
	}

	for _, t := range s.tables {
		t.remove(id)
	}

	sl := &s.slots[id.index()]
	sl.alive = false
	sl.generation++
	s.free = append(s.free, id.index())
	s.live--
}

// Alive reports whether id refers to a live entity.
func (s *Store) Alive(id EntityID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aliveLocked(id)
}

func (s *Store) aliveLocked(id EntityID) bool {
	if id == Nil {
		return false
	}
	idx := id.index()
	if int(idx) >= len(s.slots) {
		return false
	}
	sl := s.slots[idx]
	return sl.alive && sl.generation == id.generation()
}

// Len returns the number of live entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// Entities lists live entities in arena order.
func (s *Store) Entities() []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EntityID, 0, s.live)
	for i, sl := range s.slots {
		if sl.alive {
			out = append(out, makeID(uint32(i), sl.generation))
		}
	}
	return out
}

// SetParent attaches child under parent. Destroying parent destroys child.
func (s *Store) SetParent(child, parent EntityID) error {
	if err := s.checkWritable(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.aliveLocked(child) {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, child)
	}
	if !s.aliveLocked(parent) {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, parent)
	}
	for p := parent; p != Nil; p = s.parent[p] {
		if p == child {
			return fmt.Errorf("%w: %s under %s", ErrRelationCycle, child, parent)
		}
	}

	if old, ok := s.parent[child]; ok {
		s.children[old] = removeID(s.children[old], child)
	}
	s.parent[child] = parent
	s.children[parent] = append(s.children[parent], child)
	return nil
}

// Parent returns the parent of id, if any.
func (s *Store) Parent(id EntityID) (EntityID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parent[id]
	return p, ok
}

// Children returns a copy of the children of id in attachment order.
func (s *Store) Children(id EntityID) []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]EntityID(nil), s.children[id]...)
}

func removeID(ids []EntityID, id EntityID) []EntityID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// View is a read-only facade over a Store. It is what flow steps and
// behaviours receive, so direct mutation is not expressible from them.
type View struct {
	s *Store
}

func (v View) store() *Store { return v.s }

// Valid reports whether the view is bound to a store.
func (v View) Valid() bool { return v.s != nil }

// Alive reports whether id refers to a live entity.
func (v View) Alive(id EntityID) bool { return v.s.Alive(id) }

// Len returns the number of live entities.
func (v View) Len() int { return v.s.Len() }

// Entities lists live entities.
func (v View) Entities() []EntityID { return v.s.Entities() }

// Parent returns the parent of id, if any.
func (v View) Parent(id EntityID) (EntityID, bool) { return v.s.Parent(id) }

// Children returns the children of id.
func (v View) Children(id EntityID) []EntityID { return v.s.Children(id) }

// ReadOnly reports whether the underlying store currently rejects mutations.
func (v View) ReadOnly() bool { return v.s.ReadOnly() }
