package protocol

import (
	"fmt"
	"reflect"
	"sync"
)

// ID is a packet's protocol ID: its registration index.
type ID int32

// Factory builds an empty packet ready for Read.
type Factory func() Packet

// Registry maps protocol IDs to factories and concrete packet types back to
// protocol IDs.
//
// IDs are assigned in registration order starting at 0 and are never
// reused. Both ends of a connection must register the same packet types in
// the same order; the mapping is not negotiated on the wire.
type Registry struct {
	mu        sync.RWMutex
	factories []Factory
	ids       map[reflect.Type]ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[reflect.Type]ID)}
}

// Register assigns the next protocol ID to the concrete type produced by
// newFn. Registering the same type twice is an error.
func (r *Registry) Register(newFn Factory) (ID, error) {
	sample := newFn()
	if sample == nil {
		return 0, fmt.Errorf("protocol: factory returned nil")
	}
	typ := reflect.TypeOf(sample)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, dup := r.ids[typ]; dup {
		return 0, fmt.Errorf("protocol: %s already registered as %d", typ, id)
	}
	id := ID(len(r.factories))
	r.factories = append(r.factories, newFn)
	r.ids[typ] = id
	return id, nil
}

// MustRegister is Register for start-up code, where a duplicate is a
// programming error.
func (r *Registry) MustRegister(newFn Factory) ID {
	id, err := r.Register(newFn)
	if err != nil {
		panic(err)
	}
	return id
}

// New constructs an empty packet for id.
func (r *Registry) New(id ID) (Packet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id < 0 || int(id) >= len(r.factories) {
		return nil, fmt.Errorf("%w: id %d", ErrUnregisteredPacket, id)
	}
	return r.factories[id](), nil
}

// IDOf returns the protocol ID registered for p's concrete type.
func (r *Registry) IDOf(p Packet) (ID, error) {
	typ := reflect.TypeOf(p)

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.ids[typ]
	if !ok {
		return 0, fmt.Errorf("%w: type %v", ErrUnregisteredPacket, typ)
	}
	return id, nil
}

// Len returns the number of registered packet types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}
