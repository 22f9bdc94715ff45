// Package maddr implements word-sized address and byte-size arithmetic:
// the lowest layer every other core component builds on (spec §4.1).
//
// All arithmetic here is in bytes and is infallible; Load/Store are
// undefined behavior on an unmapped address, same as the teacher's raw
// ReadPtr/WritePtr intrinsics (std/runtime/runtime.go) — callers must
// ensure the range is mapped before calling.
package maddr

import (
	"math/bits"
	"unsafe"
)

// Address is an opaque word-sized machine address.
type Address uintptr

// Zero is the canonical zero address.
const Zero Address = 0

// Plus returns a + n bytes.
func (a Address) Plus(n uintptr) Address {
	return a + Address(n)
}

// Minus returns a - n bytes.
func (a Address) Minus(n uintptr) Address {
	return a - Address(n)
}

// Diff returns the signed byte distance from other to a (a - other).
func (a Address) Diff(other Address) int64 {
	return int64(a) - int64(other)
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Zero
}

// Max returns the greater of a and other.
func (a Address) Max(other Address) Address {
	if a > other {
		return a
	}
	return other
}

// AlignUp rounds x up to the next multiple of a, which must be a power of two.
func AlignUp(x uintptr, a uintptr) uintptr {
	return (x + a - 1) &^ (a - 1)
}

// AlignUp rounds the address up to the next multiple of align (a power of two).
func (a Address) AlignUp(align uintptr) Address {
	return Address(AlignUp(uintptr(a), align))
}

// IsPowerOfTwo reports whether x is a power of two and, if so, its base-2
// logarithm. A zero or non-power-of-two x reports ok=false, matching
// spec's "signals not a power of two" for those inputs.
func IsPowerOfTwo(x uintptr) (log2 uint, ok bool) {
	if x == 0 || x&(x-1) != 0 {
		return 0, false
	}
	return uint(bits.TrailingZeros64(uint64(x))), true
}

// Number is the set of fixed-width scalar types Load/Store may move
// directly between Go values and raw memory.
type Number interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~uintptr
}

// Load reads a T from the address. The address must be mapped and aligned
// for T; violating either is undefined behavior, as with the teacher's
// ReadPtr.
func Load[T Number](a Address) T {
	return *(*T)(unsafe.Pointer(uintptr(a)))
}

// Store writes v as a T at the address, with the same mapping/alignment
// precondition as Load.
func Store[T Number](a Address, v T) {
	*(*T)(unsafe.Pointer(uintptr(a))) = v
}

// FromPointer converts an unsafe.Pointer to an Address.
func FromPointer(p unsafe.Pointer) Address {
	return Address(uintptr(p))
}

// ToPointer converts an Address back to an unsafe.Pointer.
func (a Address) ToPointer() unsafe.Pointer {
	return unsafe.Pointer(uintptr(a))
}
