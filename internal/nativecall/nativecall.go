// Package nativecall executes freshly JIT-compiled machine code in-process:
// it maps a code buffer into executable memory and calls into it following
// the same System V x86-64 convention component M's code emission targets.
//
// No teacher equivalent exists (tinyrange-rtg always produces a standalone
// ELF and never re-enters its own output in-process); grounded on the
// W^X mmap/mprotect sequence the teacher's own `_start` trampoline builds
// by hand in std/compiler/backend_linux_x64.go, and on muthread's
// swapStack as the precedent for a small hand-written Go-ASM leaf routine
// bridging into raw machine code.
package nativecall

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mu-vm/muvm/internal/muerr"
)

// Region is one mapped, executable copy of a CompiledFunction's code.
type Region struct {
	mem   []byte
	entry uintptr
}

// Map copies code into a fresh RW page, then mprotects it to RX (never
// simultaneously writable and executable), and returns a Region ready to
// Call.
func Map(code []byte) (*Region, error) {
	if len(code) == 0 {
		return nil, muerr.New(muerr.KindCodegenUnsupported, "nativecall: cannot map empty code buffer")
	}
	mem, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, muerr.Wrap(muerr.KindOutOfMemory, err, "nativecall: mmap code page")
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, muerr.Wrap(muerr.KindCodegenUnsupported, err, "nativecall: mprotect code page executable")
	}
	return &Region{mem: mem, entry: uintptr(unsafe.Pointer(&mem[0]))}, nil
}

// Close unmaps the region. The Region must not be called again afterward.
func (r *Region) Close() error {
	return unix.Munmap(r.mem)
}

// Call invokes the region's entry point with up to 6 integer/pointer
// arguments placed per the System V ABI (RDI, RSI, RDX, RCX, R8, R9) and
// returns the RAX value, matching what component M's codegen assumes of
// its callers.
func (r *Region) Call(args ...uint64) uint64 {
	var a [6]uint64
	copy(a[:], args)
	return callNative6(r.entry, a[0], a[1], a[2], a[3], a[4], a[5])
}
