// Package muthread implements the Mu thread/stack runtime (component G):
// an OS-thread-bound control struct with published field offsets so
// compiled code can load/store them directly, stack creation, the
// swap-stack primitive, and frame-by-frame exception unwinding.
//
// Grounded on spec §4.7/§9 directly — the teacher has no thread runtime
// of its own (std/runtime/runtime.go is a single-threaded bump allocator
// with no thread-locals or stack switching). The swap-stack leaf function
// follows the save/restore-callee-saved-then-swap-RSP convention Go's own
// runtime uses for goroutine context switches (runtime.gogo), as surveyed
// in ymm135-go's low-level assembly helpers.
package muthread

import (
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mu-vm/muvm/internal/gc/mutator"
	"github.com/mu-vm/muvm/internal/maddr"
	"github.com/mu-vm/muvm/internal/muerr"
)

// MuThread is the per-OS-thread control struct. Field order is fixed and
// the offsets of the last four fields are published as constants (spec
// §4.7 "the byte offsets of these fields are fixed and exposed as
// constants because compiled code emits direct loads/stores to them").
type MuThread struct {
	allocator    *mutator.Mutator
	nativeSPLoc  uint64 // swap-stack save slot: the native SP saved on last swap-out
	userTLS      uint64 // opaque user-defined thread-local word
	exceptionObj uint64 // in-flight exception object reference, 0 if none
}

var sample MuThread

// Published byte offsets, for compiled code's direct-offset loads/stores
// (spec §9 "Thread-local byte offsets").
const (
	AllocatorOffset    = unsafe.Offsetof(sample.allocator)
	NativeSPLocOffset  = unsafe.Offsetof(sample.nativeSPLoc)
	UserTLSOffset      = unsafe.Offsetof(sample.userTLS)
	ExceptionObjOffset = unsafe.Offsetof(sample.exceptionObj)
)

var (
	registryMu sync.RWMutex
	registry   = map[int]*MuThread{}
)

// BindCurrentThread locks the calling goroutine to its current OS thread
// (spec §9 "Mu threads are modeled as goroutines with
// runtime.LockOSThread") and registers a new MuThread keyed by that OS
// thread's id, so CurrentThread can find it from anywhere on the same
// goroutine.
func BindCurrentThread(alloc *mutator.Mutator) *MuThread {
	runtime.LockOSThread()
	t := &MuThread{allocator: alloc}
	registryMu.Lock()
	registry[unix.Gettid()] = t
	registryMu.Unlock()
	return t
}

// CurrentThread returns the MuThread bound to the calling OS thread, or
// nil if none has been bound.
func CurrentThread() *MuThread {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[unix.Gettid()]
}

// UnbindCurrentThread removes the calling OS thread's MuThread and
// releases the goroutine/OS-thread lock.
func UnbindCurrentThread() {
	registryMu.Lock()
	delete(registry, unix.Gettid())
	registryMu.Unlock()
	runtime.UnlockOSThread()
}

// Address returns the address of t's struct in memory, the base compiled
// code adds AllocatorOffset/.../ExceptionObjOffset to.
func (t *MuThread) Address() maddr.Address {
	return maddr.FromPointer(unsafe.Pointer(t))
}

// Allocator returns the thread's mutator.
func (t *MuThread) Allocator() *mutator.Mutator { return t.allocator }

// UserTLS/SetUserTLS access the opaque thread-local word.
func (t *MuThread) UserTLS() uint64     { return t.userTLS }
func (t *MuThread) SetUserTLS(v uint64) { t.userTLS = v }

// ExceptionObj/SetExceptionObj access the in-flight exception slot.
func (t *MuThread) ExceptionObj() uint64     { return t.exceptionObj }
func (t *MuThread) SetExceptionObj(v uint64) { t.exceptionObj = v }

// Stack is an OS-backed native stack a Mu thread swaps onto (spec §4.2
// "Stacks: born on explicit new_stack"). It is mmap'd directly rather
// than carved from Go's own goroutine stacks since compiled code's
// swap-stack primitive manipulates RSP outside any Go stack-growth
// prologue's knowledge.
type Stack struct {
	base maddr.Address
	size uintptr
}

// NewStack allocates a guard-free native stack of the given size (rounded
// up to a page), grounded on the same mmap pattern
// internal/gc/immix.New/internal/gc/lospace.New use for heap memory.
func NewStack(size uintptr) (*Stack, error) {
	size = maddr.AlignUp(size, 4096)
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, muerr.Wrap(muerr.KindOutOfMemory, err, "muthread: mmap stack")
	}
	return &Stack{base: maddr.FromPointer(unsafe.Pointer(&data[0])), size: size}, nil
}

// Top returns the initial stack pointer (stacks grow down on x86-64).
func (s *Stack) Top() maddr.Address { return s.base.Plus(s.size) }

// Base returns the lowest address of the stack's backing region.
func (s *Stack) Base() maddr.Address { return s.base }

// Size returns the stack's byte size.
func (s *Stack) Size() uintptr { return s.size }
