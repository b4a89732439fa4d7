package strategy

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Key identifies a strategy by name and by its output and input types, so
// two strategies may share a name as long as their signatures differ.
type Key struct {
	Name string
	Out  reflect.Type
	In   reflect.Type
}

func (k Key) String() string {
	return fmt.Sprintf("%s(%s) %s", k.Name, k.In, k.Out)
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// KeyOf builds the key of a Strategy[Out, In] named name.
func KeyOf[Out, In any](name string) Key {
	return Key{Name: name, Out: typeOf[Out](), In: typeOf[In]()}
}

// Registry maps keys to strategies. Registration happens once, before flows
// are built; afterwards the registry is sealed and only read.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]any
	sealed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]any)}
}

// Register adds s under KeyOf[Out, In](s.Name()).
func Register[Out, In any](r *Registry, s Strategy[Out, In]) error {
	key := KeyOf[Out, In](s.Name())

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return configError("register strategy", key.String(), ErrSealed)
	}
	if _, exists := r.entries[key]; exists {
		return configError("register strategy", key.String(), ErrDuplicate)
	}
	r.entries[key] = s
	return nil
}

// Lookup resolves a strategy for a flow under construction. The flow
// builder freezes it once the flow is built.
func Lookup[Out, In any](r *Registry, name string) (Strategy[Out, In], error) {
	key := KeyOf[Out, In](name)

	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()

	if !ok {
		return nil, configError("lookup strategy", key.String(), ErrNotRegistered)
	}

	// The key embeds both type parameters, so the assertion cannot fail for
	// entries stored by Register.
	return entry.(Strategy[Out, In]), nil
}

// Seal rejects any further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Keys lists registered keys sorted by their string form.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
