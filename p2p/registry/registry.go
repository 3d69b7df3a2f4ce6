// Package registry maps ProtocolId to the registered protocol name and
// handler metadata, validating both for uniqueness at insertion and again
// as a build-time step so a conflicting registration fails ServiceBuilder.Build
// before any transport is opened (spec.md §4.6).
package registry

import (
	"fmt"
	"sync"

	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/protocol"
)

// ErrDuplicateID is returned when a ProtocolID is registered twice.
type ErrDuplicateID struct{ ID network.ProtocolID }

func (e ErrDuplicateID) Error() string {
	return fmt.Sprintf("registry: protocol id %d already registered", e.ID)
}

// ErrDuplicateName is returned when a protocol Name is registered twice.
type ErrDuplicateName struct{ Name protocol.Name }

func (e ErrDuplicateName) Error() string {
	return fmt.Sprintf("registry: protocol name %q already registered", e.Name)
}

// Registry holds every protocol a Service knows about, keyed both by
// ProtocolID (wire negotiation target) and Name (negotiated string).
type Registry struct {
	mu       sync.RWMutex
	byID     map[network.ProtocolID]*protocol.Meta
	byName   map[protocol.Name]*protocol.Meta
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byID:   make(map[network.ProtocolID]*protocol.Meta),
		byName: make(map[protocol.Name]*protocol.Meta),
	}
}

// Add registers meta, rejecting a collision on either ProtocolID or Name.
func (r *Registry) Add(meta *protocol.Meta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[meta.ID]; exists {
		return ErrDuplicateID{ID: meta.ID}
	}
	if _, exists := r.byName[meta.Name]; exists {
		return ErrDuplicateName{Name: meta.Name}
	}

	r.byID[meta.ID] = meta
	r.byName[meta.Name] = meta
	return nil
}

// ByID looks up a protocol's metadata by its wire identifier.
func (r *Registry) ByID(id network.ProtocolID) (*protocol.Meta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	return m, ok
}

// ByName looks up a protocol's metadata by its negotiated name.
func (r *Registry) ByName(name protocol.Name) (*protocol.Meta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// Validate re-checks the whole registry for internal consistency; wired as
// an fx.Invoke build step so a conflict surfaces at ServiceBuilder.Build
// rather than at first dial.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.byID) != len(r.byName) {
		return fmt.Errorf("registry: %d ids but %d names registered, registration is inconsistent", len(r.byID), len(r.byName))
	}
	for id, meta := range r.byID {
		byName, ok := r.byName[meta.Name]
		if !ok || byName.ID != id {
			return fmt.Errorf("registry: protocol %d/%q is inconsistently registered", id, meta.Name)
		}
	}
	return nil
}

// All returns every registered protocol's metadata.
func (r *Registry) All() []*protocol.Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*protocol.Meta, 0, len(r.byID))
	for _, m := range r.byID {
		out = append(out, m)
	}
	return out
}
