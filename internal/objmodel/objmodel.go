// Package objmodel implements the heap object header layout, GC type
// descriptors, and reference-offset tables shared by the Immix and
// large-object spaces (spec §4.2).
package objmodel

import (
	"hash/maphash"
	"sync"
	"unsafe"

	"github.com/mu-vm/muvm/internal/maddr"
)

// GCState is the one-byte mark/forward/log state carried in every header.
type GCState uint8

const (
	// StateUnmarked is the state a freshly allocated object starts in.
	StateUnmarked GCState = iota
	// StateMarked indicates the object was reached during the last trace.
	StateMarked
	// StateForwarded is reserved for a future evacuating collector; v1 never
	// sets it (objects never move), but the encoding is reserved so a later
	// collector does not need a header format change.
	StateForwarded
	// StateLogged marks an object that holds a cross-generational write the
	// GC must rescan (reserved for a future generational barrier).
	StateLogged
)

// HeaderSize is the byte size of a standard object header: a descriptor
// pointer followed by a one-byte mark state (padded to pointer width).
const HeaderSize = 8 + 8

// ImmortalHeaderSize is fixed per spec §3 regardless of descriptor shape.
const ImmortalHeaderSize = 32

// TypeDesc is an interned, immutable GC type descriptor.
type TypeDesc struct {
	Size         uintptr   // object size in bytes, excluding header
	Align        uintptr   // required alignment
	RefOffsets   []uintptr // byte offsets from object start holding traced refs
	HybridStride int       // variable-tail element stride; 0 for non-hybrids
}

// Header is the in-memory layout written immediately before an object's
// payload. Allocators write this; the tracer reads it back via ReadHeader.
type Header struct {
	Desc  *TypeDesc
	State GCState
}

// WriteHeader writes desc+state into the header region immediately
// preceding payloadAddr.
func WriteHeader(payloadAddr maddr.Address, desc *TypeDesc, state GCState) {
	headerAddr := payloadAddr.Minus(HeaderSize)
	maddr.Store[uint64](headerAddr, uint64(uintptr(descToAddress(desc))))
	maddr.Store[uint8](headerAddr.Plus(8), uint8(state))
}

// ReadHeader reads the header preceding payloadAddr.
func ReadHeader(payloadAddr maddr.Address) (desc *TypeDesc, state GCState) {
	headerAddr := payloadAddr.Minus(HeaderSize)
	raw := maddr.Load[uint64](headerAddr)
	st := maddr.Load[uint8](headerAddr.Plus(8))
	return addressToDesc(maddr.Address(uintptr(raw))), GCState(st)
}

// SetState overwrites just the mark state of the header preceding payloadAddr.
func SetState(payloadAddr maddr.Address, state GCState) {
	headerAddr := payloadAddr.Minus(HeaderSize)
	maddr.Store[uint8](headerAddr.Plus(8), uint8(state))
}

// descToAddress/addressToDesc round-trip a *TypeDesc through an Address.
// TypeDescs are interned and therefore never moved or collected, so storing
// a raw pointer value in heap memory is safe: the Go GC will still see the
// reference because the interning table below keeps every TypeDesc alive
// for the process lifetime.
func descToAddress(d *TypeDesc) maddr.Address {
	return maddr.FromPointer(unsafe.Pointer(d))
}

func addressToDesc(a maddr.Address) *TypeDesc {
	return (*TypeDesc)(a.ToPointer())
}

// Interner deduplicates structurally identical TypeDescs, grounded on the
// teacher's TypeInfo interning in std/compiler/ir.go.
type Interner struct {
	mu    sync.Mutex
	seed  maphash.Seed
	byKey map[uint64]*TypeDesc
}

// NewInterner constructs an empty Interner.
func NewInterner() *Interner {
	return &Interner{
		seed:  maphash.MakeSeed(),
		byKey: make(map[uint64]*TypeDesc),
	}
}

// Intern returns the canonical *TypeDesc for the given shape, allocating a
// new one only the first time a shape is seen.
func (in *Interner) Intern(size, align uintptr, refOffsets []uintptr, hybridStride int) *TypeDesc {
	key := hashShape(in.seed, size, align, refOffsets, hybridStride)

	in.mu.Lock()
	defer in.mu.Unlock()
	if d, ok := in.byKey[key]; ok {
		return d
	}
	offsetsCopy := append([]uintptr(nil), refOffsets...)
	d := &TypeDesc{Size: size, Align: align, RefOffsets: offsetsCopy, HybridStride: hybridStride}
	in.byKey[key] = d
	return d
}

func hashShape(seed maphash.Seed, size, align uintptr, refOffsets []uintptr, hybridStride int) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	var buf [8]byte
	putUint(&buf, uint64(size))
	h.Write(buf[:])
	putUint(&buf, uint64(align))
	h.Write(buf[:])
	putUint(&buf, uint64(hybridStride))
	h.Write(buf[:])
	for _, off := range refOffsets {
		putUint(&buf, uint64(off))
		h.Write(buf[:])
	}
	return h.Sum64()
}

func putUint(buf *[8]byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
