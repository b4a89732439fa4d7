package world

import "fmt"

// EntityID addresses an entity in a Store. The low 32 bits hold the arena
// index plus one, the high 32 bits the slot generation, so an id kept after
// its entity was destroyed is recognised as stale.
type EntityID uint64

// Nil is the zero entity id. It never refers to a live entity.
const Nil EntityID = 0

func makeID(index, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index+1))
}

func (id EntityID) index() uint32 {
	return uint32(id) - 1
}

func (id EntityID) generation() uint32 {
	return uint32(id >> 32)
}

// IsNil reports whether id is the zero id.
func (id EntityID) IsNil() bool {
	return id == Nil
}

func (id EntityID) String() string {
	if id == Nil {
		return "entity(nil)"
	}
	return fmt.Sprintf("entity(%d#%d)", id.index(), id.generation())
}

// Agent is the handle behaviours and flow steps receive: the agent's entity
// and a read-only view over the world it lives in.
type Agent struct {
	ID   EntityID
	View View
}

// NewAgent binds an entity to a read-only view.
func NewAgent(id EntityID, view View) Agent {
	return Agent{ID: id, View: view}
}
