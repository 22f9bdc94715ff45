package vm

import (
	"sync"

	"github.com/mu-vm/muvm/internal/maddr"
	"github.com/mu-vm/muvm/internal/muthread"
)

// ThreadRegistry tracks every Mu thread a VM has bound and implements
// coordinator.RootProvider over them, scanning each thread's exception-
// object slot and user TLS cell as conservative roots (spec §4.5 step 3;
// stack-map-driven frame roots are supplied per-call by the runtime that
// owns the native unwinder, not by this registry). Kept in package vm
// rather than internal/muthread so internal/gc/coordinator never needs to
// import internal/muthread (coordinator.RootProvider's doc comment notes
// this cycle-avoidance explicitly).
type ThreadRegistry struct {
	mu      sync.RWMutex
	threads []*muthread.MuThread
}

func newThreadRegistry() *ThreadRegistry {
	return &ThreadRegistry{}
}

func (r *ThreadRegistry) add(t *muthread.MuThread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = append(r.threads, t)
}

// Roots implements coordinator.RootProvider. The exception-obj and
// user-TLS fields are slots holding a pointer value, not objects
// themselves, so each is dereferenced here before being handed to the
// coordinator: trace() treats every address in this list as an object's
// own payload address and never loads through it itself.
func (r *ThreadRegistry) Roots() []maddr.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roots := make([]maddr.Address, 0, len(r.threads)*2)
	for _, t := range r.threads {
		roots = append(roots, maddr.Address(maddr.Load[uint64](t.Address().Plus(muthread.ExceptionObjOffset))))
		roots = append(roots, maddr.Address(maddr.Load[uint64](t.Address().Plus(muthread.UserTLSOffset))))
	}
	return roots
}
