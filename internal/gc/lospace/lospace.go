// Package lospace implements the large-object space: a treadmill free-list
// for objects too big for the Immix space (spec §4.4), organized as four
// logical color bands threaded through one doubly-linked ring.
//
// No teacher equivalent exists (tinyrange-rtg has no large-object path);
// this package is built directly from spec §4.4, with cell bookkeeping
// structured after the treadmill description in
// original_source/src/gc/src/heap/freelist/mod.rs.
package lospace

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

// Color is a treadmill band.
type Color int

const (
	ColorFree Color = iota
	ColorWhite
	ColorGray
	ColorBlack
)

// Cell is one treadmill node: a contiguous backing allocation plus ring
// links and a color. Cells never move; only their Color and ring position
// change.
type Cell struct {
	Base maddr.Address
	Size uintptr

	color      Color
	prev, next *Cell
}

// Addr returns the payload address a mutator should see for this cell
// (the cell has no separate header; the object header is written by the
// caller at Base, same as the Immix space).
func (c *Cell) Addr() maddr.Address { return c.Base }

// Space is the treadmill: one ring of cells, entered via any live cell,
// plus backing-memory bookkeeping for growth.
type Space struct {
	mu sync.Mutex

	maxTotal uint64
	total    uint64

	// ring is any cell currently in the ring; nil if the ring is empty.
	ring *Cell
}

// New prepares an empty treadmill bounded by maxTotal bytes of backing
// allocation.
func New(maxTotal uint64) *Space {
	return &Space{maxTotal: maxTotal}
}

// insert splices c into the ring immediately after s.ring (or starts a new
// ring of one element if the ring is empty).
func (s *Space) insert(c *Cell) {
	if s.ring == nil {
		c.next, c.prev = c, c
		s.ring = c
		return
	}
	c.next = s.ring.next
	c.prev = s.ring
	s.ring.next.prev = c
	s.ring.next = c
}

func (s *Space) remove(c *Cell) {
	if c.next == c {
		s.ring = nil
		return
	}
	c.prev.next = c.next
	c.next.prev = c.prev
	if s.ring == c {
		s.ring = c.next
	}
}

// Alloc returns the first white cell that fits size, recoloring it black
// (in use, assumed live), allocating fresh backing memory if no white
// cell fits. A freshly carved cell is inserted already black, since it is
// handed straight to the caller as live. Returns an error only on mmap
// failure; when a new cell would exceed maxTotal it returns a nil cell and
// a nil error. GC-triggered retry is the
// mutator's/coordinator's responsibility (spec §4.4 "Fallback policy"),
// not this package's.
func (s *Space) Alloc(size uintptr) (*Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.findWhiteFit(size); c != nil {
		c.color = ColorBlack
		return c, nil
	}

	aligned := maddr.AlignUp(size, 4096)
	if s.maxTotal != 0 && s.total+uint64(aligned) > s.maxTotal {
		return nil, nil // caller interprets nil,nil as "needs GC and retry"
	}
	data, err := unix.Mmap(-1, 0, int(aligned), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "lospace: mmap cell")
	}
	c := &Cell{Base: maddr.FromPointer(ptrOfSlice(data)), Size: aligned, color: ColorBlack}
	s.insert(c)
	s.total += uint64(aligned)
	return c, nil
}

func (s *Space) findWhiteFit(size uintptr) *Cell {
	if s.ring == nil {
		return nil
	}
	start := s.ring
	c := start
	for {
		if c.color == ColorWhite && c.Size >= size {
			return c
		}
		c = c.next
		if c == start {
			return nil
		}
	}
}

// MarkGray recolors a black or white cell gray, meaning it was found
// reachable during trace but its own references are not yet scanned.
func (s *Space) MarkGray(c *Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.color = ColorGray
}

// MarkBlack recolors a gray cell black: reachable and fully scanned.
func (s *Space) MarkBlack(c *Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.color = ColorBlack
}

// Sweep recolors every live cell white (ready to be reused or collected
// next cycle) and every other cell free, returning the byte count of the
// cells it newly freed (cells that were already free are not counted
// again). Per spec §4.4, sweep "recolors live cells, recycles unmarked
// cells to the free band": a cell is "live" for this cycle iff the
// coordinator's trace reached it, recorded in the `live` set the
// coordinator builds and passes in.
func (s *Space) Sweep(live map[*Cell]bool) (recycledBytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ring == nil {
		return 0
	}
	start := s.ring
	c := start
	for {
		nextC := c.next
		if live[c] {
			c.color = ColorWhite
		} else {
			if c.color != ColorFree {
				recycledBytes += uint64(c.Size)
			}
			c.color = ColorFree
		}
		if nextC == start {
			break
		}
		c = nextC
	}
	return recycledBytes
}

// Cells returns every cell currently in the ring, for the coordinator's
// root/trace bookkeeping and for tests.
func (s *Space) Cells() []*Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ring == nil {
		return nil
	}
	var out []*Cell
	start := s.ring
	c := start
	for {
		out = append(out, c)
		c = c.next
		if c == start {
			break
		}
	}
	return out
}
