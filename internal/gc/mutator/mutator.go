// Package mutator implements the per-Mu-thread fast-path allocator (spec
// §4.6): a bump cursor into the current Immix hole, with slow-path refill
// and large-object redirection, plus the yield-point poll mutators use to
// cooperate with GC.
//
// Grounded on the teacher's Alloc fast/slow path split
// (std/runtime/runtime.go: bump pointer against heapEnd, refill via mmap
// on overflow), generalized into an explicit hole/block refill sequence
// against internal/gc/immix and a size-threshold redirect to
// internal/gc/lospace per spec §4.3/§4.4.
package mutator

import (
	"sync"
	"sync/atomic"

	"github.com/mu-vm/muvm/internal/gc/immix"
	"github.com/mu-vm/muvm/internal/gc/lospace"
	"github.com/mu-vm/muvm/internal/maddr"
	"github.com/mu-vm/muvm/internal/objmodel"
)

// YieldFlag is the global stop-the-world request flag every mutator polls.
// It is owned by the GC coordinator (component E) and merely read here;
// keeping it as a bare *atomic.Bool lets Yieldpoint stay a single cheap
// load, matching spec §4.6 "a cheap test of the global yield flag".
type YieldFlag = atomic.Bool

// ParkFunc is called by Yieldpoint when the flag is set; it must block
// until the coordinator resumes mutators. Supplied by the coordinator so
// this package does not import it.
type ParkFunc func()

// Mutator is one Mu thread's allocation fast path.
type Mutator struct {
	mu sync.Mutex

	cursor maddr.Address
	limit  maddr.Address
	block  *immix.Block
	lineNo int

	immixSpace *immix.Space
	loSpace    *lospace.Space
	interner   *objmodel.Interner

	yieldFlag *YieldFlag
	park      ParkFunc

	destroyed bool
}

// New constructs a Mutator bound to the given spaces. yieldFlag/park are
// supplied by the coordinator at VM start.
func New(immixSpace *immix.Space, loSpace *lospace.Space, interner *objmodel.Interner, yieldFlag *YieldFlag, park ParkFunc) *Mutator {
	return &Mutator{
		immixSpace: immixSpace,
		loSpace:    loSpace,
		interner:   interner,
		yieldFlag:  yieldFlag,
		park:       park,
	}
}

// Yieldpoint polls the global yield flag and parks if it is set. It is
// called from Go code; the compiler emits no yield-points that reach it.
func (m *Mutator) Yieldpoint() {
	if m.yieldFlag.Load() {
		m.park()
	}
}

// Alloc returns size bytes aligned to align, routing to the large-object
// space if size exceeds the Immix threshold. The returned address is the
// object payload start (header precedes it); InitObject must be called
// before the object is used by the mutator program.
func (m *Mutator) Alloc(size, align uintptr) (maddr.Address, error) {
	total := objmodel.HeaderSize + size
	if total > immix.MaxSmallObject {
		return m.allocLarge(size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	payload := m.cursor.Plus(objmodel.HeaderSize).AlignUp(align)
	end := payload.Plus(size)
	if end.Diff(m.limit) > 0 {
		if !m.refill(total) {
			return maddr.Zero, nil // caller must trigger GC and retry
		}
		payload = m.cursor.Plus(objmodel.HeaderSize).AlignUp(align)
		end = payload.Plus(size)
	}
	m.cursor = end
	return payload, nil
}

// allocLarge routes to the large-object space, leaving header placement to
// the caller via InitObject (same contract as the small-object path).
func (m *Mutator) allocLarge(size uintptr) (maddr.Address, error) {
	cell, err := m.loSpace.Alloc(objmodel.HeaderSize + size)
	if err != nil {
		return maddr.Zero, err
	}
	if cell == nil {
		return maddr.Zero, nil
	}
	return cell.Addr().Plus(objmodel.HeaderSize), nil
}

// refill acquires the next hole in the current block, or a fresh block
// from the global pool, such that at least minBytes are available. It
// returns false if the Immix space is exhausted (caller must GC/retry).
// Must be called with m.mu held.
func (m *Mutator) refill(minBytes uintptr) bool {
	for {
		if m.block != nil {
			if hole, ok := m.block.FirstHole(m.lineNo); ok && hole.End.Diff(hole.Start) >= int64(minBytes) {
				m.cursor = hole.Start
				m.limit = hole.End
				m.lineNo = int(hole.End.Diff(m.block.Base)) / immix.LineSize
				return true
			}
		}
		b := m.immixSpace.AcquireBlock()
		if b == nil {
			return false
		}
		m.block = b
		m.lineNo = 0
		hole, ok := b.FirstHole(0)
		if !ok {
			continue
		}
		m.cursor = hole.Start
		m.limit = hole.End
	}
}

// InitObject writes the header (descriptor + initial GC state) for an
// object whose payload begins at addr.
func (m *Mutator) InitObject(addr maddr.Address, desc *objmodel.TypeDesc) {
	objmodel.WriteHeader(addr, desc, objmodel.StateUnmarked)
}

// Destroy marks the mutator inactive and drops its reference to its
// current block. The block is not pushed back to a pool here: it stays in
// the space's block list, and the next Sweep sorts it into the free or
// recyclable pool. Per spec §4.6, the coordinator is expected to have
// already removed this mutator from its active set before calling Destroy.
func (m *Mutator) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = true
	m.block = nil
}

// Destroyed reports whether Destroy has been called.
func (m *Mutator) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}
