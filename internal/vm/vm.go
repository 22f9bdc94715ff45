// Package vm implements the VM context (component N): the registries a
// client populates with IR entities, the compiler pipeline that turns a
// function version into installed machine code, the GC subsystem wiring,
// and the thread registry new Mu threads join.
//
// Grounded on the teacher's Package/IRModule global registries
// (std/compiler/frontend.go, std/compiler/ir.go), generalized from the
// teacher's single flat symbol table into the typed id->entity registries
// spec §4.14 names, built over internal/ir's shared Entity/Interner
// contract so every entity kind (types, signatures, constants, globals,
// functions, function versions) shares one name<->id index instead of
// seven parallel maps.
package vm

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/mu-vm/muvm/internal/compiler"
	"github.com/mu-vm/muvm/internal/compiler/codegen"
	"github.com/mu-vm/muvm/internal/config"
	"github.com/mu-vm/muvm/internal/gc/coordinator"
	"github.com/mu-vm/muvm/internal/gc/immix"
	"github.com/mu-vm/muvm/internal/gc/lospace"
	"github.com/mu-vm/muvm/internal/gc/mutator"
	"github.com/mu-vm/muvm/internal/ir"
	"github.com/mu-vm/muvm/internal/maddr"
	"github.com/mu-vm/muvm/internal/mulog"
	"github.com/mu-vm/muvm/internal/muerr"
	"github.com/mu-vm/muvm/internal/muthread"
	"github.com/mu-vm/muvm/internal/objmodel"
)

// VM is the handle a client holds: every IR entity it registers, the
// compiled code those entities produce, the GC subsystem, and the set of
// bound Mu threads all live here (spec §4.14/§6 "global state explicitly
// owned by a VM handle passed into every compiler and runtime entry").
type VM struct {
	opts config.Options
	log  mulog.Logger

	entities *ir.Interner
	types    *objmodel.Interner

	mu                sync.RWMutex
	compiledFunctions map[ir.ID]*codegen.CompiledFunction
	globalStorage     map[ir.ID][]byte

	immixSpace  *immix.Space
	loSpace     *lospace.Space
	coordinator *coordinator.Coordinator
	pipeline    *compiler.Pipeline

	threads *ThreadRegistry
}

// New constructs a VM over opts (normalized with config defaults for any
// zero fields).
func New(opts config.Options) (*VM, error) {
	opts = opts.Normalize()
	log := mulog.Default()

	typeInterner := objmodel.NewInterner()
	immixSpace, err := immix.New(opts.ImmixSize)
	if err != nil {
		return nil, err
	}
	loSpace := lospace.New(opts.LOSize)

	coord := coordinator.New(immixSpace, loSpace, typeInterner, log)

	vm := &VM{
		opts:              opts,
		log:               log,
		entities:          ir.NewInterner(),
		types:             typeInterner,
		compiledFunctions: make(map[ir.ID]*codegen.CompiledFunction),
		globalStorage:     make(map[ir.ID][]byte),
		immixSpace:        immixSpace,
		loSpace:           loSpace,
		coordinator:       coord,
		pipeline:          compiler.New(log),
		threads:           newThreadRegistry(),
	}
	coord.RegisterRootProvider(vm.threads)
	coord.RegisterRootProvider((*globalRootProvider)(vm))
	return vm, nil
}

// globalRootProvider implements coordinator.RootProvider over a VM's
// global-cell storage (spec §4.5 step 3 "iterates global cells"): every
// registered global is a machine word that may hold a traced reference
// (spec §3), so each cell's current value is a candidate root, under the
// same trust model trace() already applies to thread TLS/exception-obj
// roots: a cell must hold either zero or a genuine live address, never an
// arbitrary scalar, since trace() dereferences roots unconditionally.
type globalRootProvider VM

// Roots implements coordinator.RootProvider.
func (g *globalRootProvider) Roots() []maddr.Address {
	vm := (*VM)(g)
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	roots := make([]maddr.Address, 0, len(vm.globalStorage))
	for _, buf := range vm.globalStorage {
		roots = append(roots, maddr.Address(binary.LittleEndian.Uint64(buf)))
	}
	return roots
}

// Options returns the VM's (already normalized) configuration.
func (vm *VM) Options() config.Options { return vm.opts }

// Register adds e (a type, signature, constant, function, or function
// version) to the id/name registry. Use RegisterGlobal for GlobalCell,
// which additionally reserves backing storage.
func (vm *VM) Register(e ir.Entity) error {
	return vm.entities.Register(e)
}

// RegisterGlobal registers g and reserves an 8-byte machine-word backing
// slot for it (spec §3: every Mu SSA value, scalar or reference, is
// machine-word representable; aggregate-typed globals are out of core
// scope, tracked as an open item in DESIGN.md).
func (vm *VM) RegisterGlobal(g *ir.GlobalCell) error {
	if err := vm.entities.Register(g); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.globalStorage[g.ID()] = make([]byte, 8)
	vm.mu.Unlock()
	return nil
}

// IDOf resolves a registered entity's id by name (spec §6 `id_of`).
func (vm *VM) IDOf(name string) (ir.ID, bool) {
	return vm.entities.ByName(name)
}

// Type looks up a registered *ir.Type by id.
func (vm *VM) Type(id ir.ID) (*ir.Type, bool) {
	e, ok := vm.entities.ByID(id)
	if !ok {
		return nil, false
	}
	t, ok := e.(*ir.Type)
	return t, ok
}

// Signature looks up a registered *ir.Signature by id.
func (vm *VM) Signature(id ir.ID) (*ir.Signature, bool) {
	e, ok := vm.entities.ByID(id)
	if !ok {
		return nil, false
	}
	s, ok := e.(*ir.Signature)
	return s, ok
}

// Constant looks up a registered *ir.Constant by id.
func (vm *VM) Constant(id ir.ID) (*ir.Constant, bool) {
	e, ok := vm.entities.ByID(id)
	if !ok {
		return nil, false
	}
	c, ok := e.(*ir.Constant)
	return c, ok
}

// Global looks up a registered *ir.GlobalCell by id.
func (vm *VM) Global(id ir.ID) (*ir.GlobalCell, bool) {
	e, ok := vm.entities.ByID(id)
	if !ok {
		return nil, false
	}
	g, ok := e.(*ir.GlobalCell)
	return g, ok
}

// Function looks up a registered *ir.MuFunction by id.
func (vm *VM) Function(id ir.ID) (*ir.MuFunction, bool) {
	e, ok := vm.entities.ByID(id)
	if !ok {
		return nil, false
	}
	f, ok := e.(*ir.MuFunction)
	return f, ok
}

// FunctionVersion looks up a registered *ir.MuFunctionVersion by id.
func (vm *VM) FunctionVersion(id ir.ID) (*ir.MuFunctionVersion, bool) {
	e, ok := vm.entities.ByID(id)
	if !ok {
		return nil, false
	}
	v, ok := e.(*ir.MuFunctionVersion)
	return v, ok
}

// GlobalAddress returns the address of id's backing storage slot,
// suitable for a compiled function's load/store of that global.
func (vm *VM) GlobalAddress(id ir.ID) (maddr.Address, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	buf, ok := vm.globalStorage[id]
	if !ok {
		return 0, false
	}
	return maddr.FromPointer(unsafe.Pointer(&buf[0])), true
}

// CompiledFunction returns the installed machine code for a function
// version id, if it has been compiled.
func (vm *VM) CompiledFunction(versionID ir.ID) (*codegen.CompiledFunction, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	cf, ok := vm.compiledFunctions[versionID]
	return cf, ok
}

// Compile runs the compiler pipeline over the function version registered
// under versionID and installs the resulting CompiledFunction into the VM
// context (spec §4.13 "installs the compiled artifact into the VM
// context").
func (vm *VM) Compile(versionID ir.ID) (*codegen.CompiledFunction, error) {
	v, ok := vm.FunctionVersion(versionID)
	if !ok {
		return nil, muerr.Newf(muerr.KindIRMalformation, "vm: no function version registered with id %d", versionID)
	}
	sig, ok := vm.Signature(v.SigID)
	if !ok {
		return nil, muerr.Newf(muerr.KindIRMalformation, "vm: function version %d references unregistered signature %d", versionID, v.SigID)
	}
	v.BeginCompiling()

	globalAddr := func(id ir.ID) (uint64, bool) {
		vm.mu.RLock()
		defer vm.mu.RUnlock()
		buf, ok := vm.globalStorage[id]
		if !ok {
			return 0, false
		}
		return uint64(maddr.FromPointer(unsafe.Pointer(&buf[0]))), true
	}
	cf, err := vm.pipeline.Compile(vm.entities, v, sig, globalAddr)
	if err != nil {
		return nil, err
	}

	vm.mu.Lock()
	vm.compiledFunctions[versionID] = cf
	vm.mu.Unlock()

	vm.log.Infof("vm: installed compiled function %q (%d bytes)", cf.Name, len(cf.Code))
	return cf, nil
}

// Coordinator returns the VM's GC coordinator, for explicit trigger_gc
// requests and diagnostics.
func (vm *VM) Coordinator() *coordinator.Coordinator { return vm.coordinator }

// TypeInterner exposes the structural TypeDesc interner objects allocate
// against, for clients constructing object layouts before calling Alloc.
func (vm *VM) TypeInterner() *objmodel.Interner { return vm.types }

// NewMutator constructs a Mutator bound to this VM's heap spaces, parking
// through the coordinator's barrier on yield. Callers (typically
// MakePrimordialThread) must RegisterMutator/UnregisterMutator with the
// coordinator around its lifetime.
func (vm *VM) NewMutator() *mutator.Mutator {
	return mutator.New(vm.immixSpace, vm.loSpace, vm.types, vm.coordinator.YieldFlag(), vm.coordinator.ParkAtBarrier)
}

// BoundThread is the result of MakePrimordialThread: a Mu thread joined to
// this VM, its freshly allocated native stack, and the compiled entry it
// should swap onto first.
type BoundThread struct {
	Thread *muthread.MuThread
	Stack  *muthread.Stack
	Entry  *codegen.CompiledFunction
}

// MakePrimordialThread binds the calling OS thread as a new Mu thread with
// its own mutator and a freshly allocated native stack, ready to swap onto
// funcVersionID's compiled entry (spec §6 `make_primordial_thread(func_id,
// args)`). args are the entry function's incoming arguments; they are
// neither stored on the returned BoundThread nor placed on the native
// stack.
func (vm *VM) MakePrimordialThread(funcVersionID ir.ID, args []uint64, stackSize uintptr) (*BoundThread, error) {
	cf, ok := vm.CompiledFunction(funcVersionID)
	if !ok {
		return nil, muerr.Newf(muerr.KindIRMalformation, "vm: function version %d has not been compiled", funcVersionID)
	}

	m := vm.NewMutator()
	vm.coordinator.RegisterMutator()

	th := muthread.BindCurrentThread(m)
	stack, err := muthread.NewStack(stackSize)
	if err != nil {
		muthread.UnbindCurrentThread()
		vm.coordinator.UnregisterMutator()
		return nil, err
	}

	vm.threads.add(th)
	_ = args // accepted for API symmetry with spec §6; not stored or marshaled
	return &BoundThread{Thread: th, Stack: stack, Entry: cf}, nil
}

// EmitContext serializes every installed compiled function and the
// relocatable global table into a single self-describing, length-prefixed
// little-endian blob a loader can consume (spec §6 "Persisted state"):
// a symbol table, the concatenated machine code, the global reference
// table, and each function's stack map.
func (vm *VM) EmitContext() ([]byte, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	var buf []byte
	buf = appendUint32(buf, uint32(len(vm.compiledFunctions)))
	for id, cf := range vm.compiledFunctions {
		buf = appendUint64(buf, uint64(id))
		buf = appendString(buf, cf.Name)
		buf = appendUint32(buf, uint32(cf.FrameSize))
		buf = appendBytes(buf, cf.Code)

		buf = appendUint32(buf, uint32(len(cf.StackMaps)))
		for _, sm := range cf.StackMaps {
			buf = appendUint32(buf, uint32(sm.ReturnOffset))
			buf = appendUint32(buf, uint32(len(sm.RefOffsets)))
			for _, off := range sm.RefOffsets {
				buf = appendUint32(buf, uint32(off))
			}
		}
	}

	buf = appendUint32(buf, uint32(len(vm.globalStorage)))
	for id, storage := range vm.globalStorage {
		buf = appendUint64(buf, uint64(id))
		buf = appendBytes(buf, storage)
	}

	return buf, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}
