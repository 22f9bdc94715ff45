// Package coordinator implements stop-the-world precise tracing GC (spec
// §4.5): synchronization barrier, root scan, mark trace, sweep, resume.
//
// No teacher equivalent exists (tinyrange-rtg never collects); built
// directly from spec §4.5, with the externally observable contract
// (complete without OOM under bounded heaps, scenario 3 of spec §8)
// grounded on original_source/tests/test_runtime/test_gc.rs.
package coordinator

import (
	"sync"
	"sync/atomic"

	"github.com/mu-vm/muvm/internal/gc/immix"
	"github.com/mu-vm/muvm/internal/gc/lospace"
	"github.com/mu-vm/muvm/internal/maddr"
	"github.com/mu-vm/muvm/internal/mulog"
	"github.com/mu-vm/muvm/internal/muerr"
	"github.com/mu-vm/muvm/internal/objmodel"
)

// RootProvider supplies every root address a Mu thread currently holds:
// global cells, live stack-map slots for each frame, and the thread's
// exception-object slot (spec §4.5 step 3). The coordinator does not
// import internal/muthread; internal/vm registers RootProviders (its
// thread registry and its global cells) with the coordinator instead.
type RootProvider interface {
	Roots() []maddr.Address
}

// Stats records the outcome of one GC cycle, exposed for diagnostics and
// tests.
type Stats struct {
	Cycle             uint64
	ReclaimedBlocks    int
	RetainedBlocks     int
	RecycledLargeBytes uint64
	MarkedObjects      int
}

// Coordinator owns the stop-the-world machinery for one VM.
type Coordinator struct {
	log mulog.Logger

	immixSpace *immix.Space
	loSpace    *lospace.Space
	interner   *objmodel.Interner

	yieldFlag atomic.Bool

	mu          sync.Mutex
	registered  int           // number of live mutators expected to park
	parked      int           // number currently parked
	cond        *sync.Cond    // signaled when parked==registered, and on resume
	resumeEpoch uint64        // bumped on resume; parked goroutines wait on it changing
	roots       []RootProvider

	cycle uint64

	immixOccupancyThreshold uint64
	loOccupancyThreshold    uint64
}

// New constructs a Coordinator over the given spaces.
func New(immixSpace *immix.Space, loSpace *lospace.Space, interner *objmodel.Interner, log mulog.Logger) *Coordinator {
	c := &Coordinator{
		log:        log.Named("gc"),
		immixSpace: immixSpace,
		loSpace:    loSpace,
		interner:   interner,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// RegisterMutator records one more mutator the barrier must wait for.
func (c *Coordinator) RegisterMutator() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered++
}

// UnregisterMutator removes a mutator from the barrier's expected set
// (called from Mutator.Destroy's caller).
func (c *Coordinator) UnregisterMutator() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered--
}

// RegisterRootProvider adds a source of roots (typically one per Mu
// thread) consulted during root scan.
func (c *Coordinator) RegisterRootProvider(rp RootProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roots = append(c.roots, rp)
}

// YieldFlag returns the flag mutators poll in Yieldpoint.
func (c *Coordinator) YieldFlag() *atomic.Bool { return &c.yieldFlag }

// ParkAtBarrier is called by a mutator's Yieldpoint callback once it
// observes the yield flag set. It blocks until the coordinator resumes.
func (c *Coordinator) ParkAtBarrier() {
	c.mu.Lock()
	epoch := c.resumeEpoch
	c.parked++
	if c.parked >= c.registered {
		c.cond.Broadcast()
	}
	for c.resumeEpoch == epoch {
		c.cond.Wait()
	}
	c.parked--
	c.mu.Unlock()
}

// TriggerGC runs one full stop-the-world cycle synchronously. Per spec
// §4.5: set yield flag, wait for all mutators parked, root scan, trace,
// sweep, resume.
func (c *Coordinator) TriggerGC() Stats {
	c.cycle++
	cycle := c.cycle
	log := c.log.WithUint64("cycle", cycle)
	log.Infof("gc: triggered")

	c.yieldFlag.Store(true)

	c.mu.Lock()
	for c.registered > 0 && c.parked < c.registered {
		c.cond.Wait()
	}
	c.mu.Unlock()

	c.immixSpace.ClearMarks()

	marks := newBitmap()
	liveLarge := make(map[*lospace.Cell]bool)
	markedObjects := c.trace(marks, liveLarge)

	reclaimed, retained := c.immixSpace.Sweep()
	recycled := c.loSpace.Sweep(liveLarge)

	c.yieldFlag.Store(false)
	c.mu.Lock()
	c.resumeEpoch++
	c.cond.Broadcast()
	c.mu.Unlock()

	stats := Stats{
		Cycle:              cycle,
		ReclaimedBlocks:     reclaimed,
		RetainedBlocks:      retained,
		RecycledLargeBytes: recycled,
		MarkedObjects:      markedObjects,
	}
	log.Infof("gc: done reclaimed_blocks=%d retained_blocks=%d recycled_large_bytes=%d marked=%d",
		reclaimed, retained, recycled, markedObjects)
	return stats
}

// trace performs a depth-first mark over every root's transitive closure,
// using each object's header to find its TypeDesc's reference offsets
// (spec §4.5 step 4). It marks Immix lines and large-object cells as it
// goes so Sweep can classify them.
func (c *Coordinator) trace(seen *bitmap, liveLarge map[*lospace.Cell]bool) int {
	var worklist []maddr.Address
	for _, rp := range c.roots {
		worklist = append(worklist, rp.Roots()...)
	}

	marked := 0
	for len(worklist) > 0 {
		addr := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if addr.IsZero() || seen.testAndSet(addr) {
			continue
		}
		marked++
		objmodel.SetState(addr, objmodel.StateMarked)

		if b := c.immixSpace.BlockFor(addr.Minus(objmodel.HeaderSize)); b != nil {
			c.immixSpace.MarkLine(b, addr.Minus(objmodel.HeaderSize))
		}
		for _, cell := range c.loSpace.Cells() {
			if cell.Addr().Plus(objmodel.HeaderSize) == addr {
				liveLarge[cell] = true
			}
		}

		desc, _ := objmodel.ReadHeader(addr)
		if desc == nil {
			continue
		}
		for _, off := range desc.RefOffsets {
			ref := maddr.Address(maddr.Load[uint64](addr.Plus(off)))
			worklist = append(worklist, ref)
		}
	}
	return marked
}

// ShouldTriggerFor reports whether the coordinator's configured
// occupancy thresholds are exceeded, per spec §4.5 step 1. Nothing in this
// module calls it: the mutator's allocation slow path does not start a
// collection, and a collection runs only when TriggerGC is called.
func (c *Coordinator) ShouldTriggerFor(immixBytesUsed, loBytesUsed uint64) bool {
	if c.immixOccupancyThreshold != 0 && immixBytesUsed > c.immixOccupancyThreshold {
		return true
	}
	if c.loOccupancyThreshold != 0 && loBytesUsed > c.loOccupancyThreshold {
		return true
	}
	return false
}

// SetThresholds configures the occupancy thresholds used by ShouldTriggerFor.
func (c *Coordinator) SetThresholds(immixBytes, loBytes uint64) {
	c.immixOccupancyThreshold = immixBytes
	c.loOccupancyThreshold = loBytes
}

// OutOfMemory reports the fatal out-of-memory condition: an allocation
// that still fails after a full GC cycle (spec §4.5 "Failure semantics").
func OutOfMemory() error {
	return muerr.New(muerr.KindOutOfMemory, "mu-vm: out of memory after full gc cycle")
}

// bitmap is a side AddressBitmap used by trace to avoid re-visiting
// objects, grounded on spec §4.5 step 4 ("a side bitmap (AddressBitmap)").
type bitmap struct {
	mu   sync.Mutex
	seen map[maddr.Address]bool
}

func newBitmap() *bitmap { return &bitmap{seen: make(map[maddr.Address]bool)} }

func (b *bitmap) testAndSet(a maddr.Address) (alreadySet bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen[a] {
		return true
	}
	b.seen[a] = true
	return false
}
