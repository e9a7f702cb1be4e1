package client

import (
	"sync"

	"github.com/luma/hermes/protocol"
)

// Callback receives one decoded inbound message. Callbacks run synchronously
// on the session's reader goroutine; a slow callback stalls ingestion.
type Callback func(msg protocol.Message)

// Registry maps message type IDs to their subscribers, preserving
// registration order within each type.
type Registry struct {
	mu        sync.RWMutex
	listeners map[int][]Callback
}

func NewRegistry() *Registry {
	return &Registry{
		listeners: make(map[int][]Callback),
	}
}

// Register appends cb to the listener list for the type ID.
func (r *Registry) Register(typeID int, cb Callback) {
	r.mu.Lock()
	r.listeners[typeID] = append(r.listeners[typeID], cb)
	r.mu.Unlock()
}

// Get returns the listeners for a type ID, in registration order. An
// unregistered type yields an empty list; the lookup never mutates the map.
func (r *Registry) Get(typeID int) []Callback {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registered := r.listeners[typeID]
	if len(registered) == 0 {
		return nil
	}

	// Copy so dispatch is unaffected by registrations that land mid-flight.
	listeners := make([]Callback, len(registered))
	copy(listeners, registered)

	return listeners
}
