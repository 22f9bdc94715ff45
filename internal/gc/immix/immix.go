// Package immix implements the mark-region small-object space (spec §4.3):
// a fixed virtual region partitioned into blocks of lines, bump-allocated
// by mutators and swept line-by-line on GC.
//
// Grounded on the teacher's single mmap-backed bump region
// (std/runtime/runtime.go Alloc: heapPtr/heapEnd), generalized here to
// block/line granularity with a global block pool behind a mutex, per
// spec §4.3's block/line/hole vocabulary.
package immix

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mu-vm/muvm/internal/maddr"
)

func ptrOfSlice(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

const (
	// BlockSize is the size of one Immix block.
	BlockSize = 32 * 1024
	// LineSize is the size of one line within a block.
	LineSize = 256
	// LinesPerBlock is the number of lines in a block.
	LinesPerBlock = BlockSize / LineSize
	// MaxSmallObject is the largest size handled directly by this space;
	// anything bigger must be routed to the large-object space.
	MaxSmallObject = LineSize - 16
)

// Block is one Immix block: a contiguous mmap'd region plus a per-line
// mark map used during sweep.
type Block struct {
	Base    maddr.Address
	Marked  [LinesPerBlock]bool
	inUse   bool // block currently owned by some mutator's cursor
}

// HoleRange is a contiguous run of free lines within a block, [Start, End).
type HoleRange struct {
	Start maddr.Address
	End   maddr.Address
}

// Space is the global Immix region: backing memory plus the free/recyclable
// block pool. Pool pop/push is the only shared mutation visible to
// mutators during normal execution (spec §4.3 "Ordering guarantees").
type Space struct {
	mu sync.Mutex

	region    maddr.Address
	regionEnd maddr.Address
	nextFresh maddr.Address // bump pointer into never-used blocks

	freeBlocks      []*Block // fully unmarked, available whole
	recyclableBlocks []*Block // partially marked, have holes

	allBlocks []*Block // every block ever carved from region, for sweep
}

// New mmaps a region of the given total size and prepares an empty Space.
func New(totalSize uint64) (*Space, error) {
	size := int(maddr.AlignUp(uintptr(totalSize), BlockSize))
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "immix: mmap region")
	}
	base := maddr.FromPointer(ptrOfSlice(data))
	return &Space{
		region:    base,
		regionEnd: base.Plus(uintptr(size)),
		nextFresh: base,
	}, nil
}

// acquireBlock returns a block with at least one fully-free hole: first
// from the recyclable pool, then the free pool, then a fresh carve from
// the region. Returns nil if the region is exhausted.
func (s *Space) acquireBlock() *Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.recyclableBlocks); n > 0 {
		b := s.recyclableBlocks[n-1]
		s.recyclableBlocks = s.recyclableBlocks[:n-1]
		b.inUse = true
		return b
	}
	if n := len(s.freeBlocks); n > 0 {
		b := s.freeBlocks[n-1]
		s.freeBlocks = s.freeBlocks[:n-1]
		b.inUse = true
		return b
	}
	if s.nextFresh.Plus(BlockSize).Diff(s.regionEnd) > 0 {
		return nil
	}
	b := &Block{Base: s.nextFresh, inUse: true}
	s.nextFresh = s.nextFresh.Plus(BlockSize)
	s.allBlocks = append(s.allBlocks, b)
	return b
}

// firstHole returns the first unmarked line range in b at or after
// startLine, scanning b.Marked. A block fresh from acquireBlock is
// entirely unmarked, so its one hole spans the whole block.
func (b *Block) firstHole(startLine int) (HoleRange, bool) {
	i := startLine
	for i < LinesPerBlock && b.Marked[i] {
		i++
	}
	if i >= LinesPerBlock {
		return HoleRange{}, false
	}
	j := i
	for j < LinesPerBlock && !b.Marked[j] {
		j++
	}
	return HoleRange{
		Start: b.Base.Plus(uintptr(i * LineSize)),
		End:   b.Base.Plus(uintptr(j * LineSize)),
	}, true
}

// Sweep marks line-state transitions for every block carved from the
// space: a block with every line marked is retained as-is (still live),
// one with no marked lines returns to the free pool, and one with a mix
// returns to the recyclable pool with its hole boundaries intact for the
// next acquireBlock. Per spec §4.3, this is only ever called between
// mutator execution windows (i.e. during a stop-the-world GC cycle).
func (s *Space) Sweep() (reclaimed, retained int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.freeBlocks = s.freeBlocks[:0]
	s.recyclableBlocks = s.recyclableBlocks[:0]

	for _, b := range s.allBlocks {
		allMarked, noneMarked := true, true
		for _, m := range b.Marked {
			if m {
				noneMarked = false
			} else {
				allMarked = false
			}
		}
		b.inUse = false
		switch {
		case noneMarked:
			s.freeBlocks = append(s.freeBlocks, b)
			reclaimed++
		case allMarked:
			retained++
		default:
			// Marked lines here describe real holes: unmarked lines hold
			// no live data and are safe to bump-allocate into. Marks are
			// left as-is until the next cycle's ClearMarks/trace pass.
			s.recyclableBlocks = append(s.recyclableBlocks, b)
			retained++
		}
	}
	return reclaimed, retained
}

// ClearMarks resets every block's line-mark bitmap to unmarked. The
// coordinator calls this once at the start of a GC cycle, before root
// scan/trace, so that Sweep's "mixed → recyclable, all → retained, none →
// free" classification reflects only the cycle that just ran.
func (s *Space) ClearMarks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.allBlocks {
		for i := range b.Marked {
			b.Marked[i] = false
		}
	}
}

// MarkLine marks the line containing addr as live. Called by the tracer
// during root scan/trace (component E), never by a mutator.
func (s *Space) MarkLine(b *Block, addr maddr.Address) {
	idx := int(addr.Diff(b.Base)) / LineSize
	if idx >= 0 && idx < LinesPerBlock {
		b.Marked[idx] = true
	}
}

// Owns reports whether addr falls within this space's backing region.
func (s *Space) Owns(addr maddr.Address) bool {
	return addr.Diff(s.region) >= 0 && addr.Diff(s.regionEnd) < 0
}

// BlockFor returns the block owning addr, or nil if none (e.g. addr is
// outside the region or in an as-yet-uncarved tail).
func (s *Space) BlockFor(addr maddr.Address) *Block {
	if !s.Owns(addr) {
		return nil
	}
	idx := int(addr.Diff(s.region)) / BlockSize
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.allBlocks) {
		return nil
	}
	return s.allBlocks[idx]
}

// AcquireBlock exposes acquireBlock to the mutator package (component F),
// kept as a distinct method so the lock discipline stays internal to Space.
func (s *Space) AcquireBlock() *Block { return s.acquireBlock() }

// FirstHole exposes Block.firstHole for the mutator fast path.
func (b *Block) FirstHole(startLine int) (HoleRange, bool) { return b.firstHole(startLine) }
