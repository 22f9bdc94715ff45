// Package ir implements the Mu IR data model (spec §3/§4.8): entities with
// unique ids, shared-ownership types/signatures/constants, and the
// function/block/instruction graph a function version owns.
//
// Grounded on the teacher's TypeInfo/Symbol/IRFunc shapes
// (std/compiler/ir.go, std/compiler/frontend.go), restructured from a flat
// stack-machine opcode stream into an explicit block/instruction graph
// per spec §3.
package ir

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ID is a globally unique, never-reused, non-negative integer identifying
// one IR entity.
type ID uint64

var nextID atomic.Uint64

// newID allocates the next process-wide unique id.
func newID() ID {
	return ID(nextID.Add(1) - 1)
}

// EntityHeader is the common header every IR construct embeds, carrying
// id + optional name, mirroring the teacher's convention of planting a
// small header struct into every node type (TypeInfo.Name, Symbol.Name).
type EntityHeader struct {
	id   ID
	name string
}

// NewEntityHeader allocates a fresh id and stores name (may be empty).
func NewEntityHeader(name string) EntityHeader {
	return EntityHeader{id: newID(), name: name}
}

// ID returns the entity's unique id.
func (h EntityHeader) ID() ID { return h.id }

// Name returns the entity's optional human-readable label.
func (h EntityHeader) Name() string { return h.name }

// AsEntity returns h itself, satisfying the Entity contract for embedders
// that want to expose the raw header (e.g. for registry lookups).
func (h EntityHeader) AsEntity() EntityHeader { return h }

// Entity is the contract every IR construct implements (spec §4.8).
type Entity interface {
	ID() ID
	Name() string
	AsEntity() EntityHeader
}

// Interner maintains the process-wide name↔id mapping (spec §3 "name ↔ id
// maintained process-wide"), grounded on the teacher's Package.Symbols /
// qualNames cache pattern (std/compiler/frontend.go).
type Interner struct {
	mu       sync.RWMutex
	byName   map[string]ID
	entities map[ID]Entity
}

// NewInterner constructs an empty Interner.
func NewInterner() *Interner {
	return &Interner{byName: make(map[string]ID), entities: make(map[ID]Entity)}
}

// Register records e under its id, and under its name if non-empty.
// Registering a second entity under a name already taken is an IR
// malformation (spec §7 "duplicate id" sibling case).
func (in *Interner) Register(e Entity) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, exists := in.entities[e.ID()]; exists {
		return errors.Errorf("ir: duplicate id %d", e.ID())
	}
	if name := e.Name(); name != "" {
		if _, exists := in.byName[name]; exists {
			return errors.Errorf("ir: duplicate name %q", name)
		}
		in.byName[name] = e.ID()
	}
	in.entities[e.ID()] = e
	return nil
}

// ByID returns the entity registered under id, or ok=false if none.
func (in *Interner) ByID(id ID) (Entity, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	e, ok := in.entities[id]
	return e, ok
}

// ByName returns the id registered under name, or ok=false if none. Name
// resolution is total over declared names (spec §8 invariant).
func (in *Interner) ByName(name string) (ID, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	id, ok := in.byName[name]
	return id, ok
}

// RLock/RUnlock expose the registry's read lock directly to a caller that
// must hold it across more than one call — namely the compiler pipeline,
// which per spec §5 "read-locks on registries" holds a read lock on the
// entity registry for the whole of one function version's compilation so
// concurrent Register calls for other entities cannot interleave with it.
func (in *Interner) RLock()   { in.mu.RLock() }
func (in *Interner) RUnlock() { in.mu.RUnlock() }
