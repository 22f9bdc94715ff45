// Command muvmc is a thin end-to-end smoke driver: it runs five of spec
// §8's concrete scenarios (all but the register-allocation one), printing
// pass/fail for each. The factorial, global-access and constant-function
// scenarios register hand-constructed IR on a VM, compile it through the
// full pipeline and execute the resulting machine code via
// internal/nativecall; the thread-local and GC scenarios drive the runtime
// directly. It is not part of the VM's external contract — tests exercise the
// same scenarios in depth under internal/vm; this binary exists so the
// whole stack (IR construction through JIT execution) can be exercised
// from a single process without `go test`.
package main

import (
	"fmt"
	"math"
	"os"

	"github.com/mu-vm/muvm/internal/config"
	"github.com/mu-vm/muvm/internal/ir"
	"github.com/mu-vm/muvm/internal/maddr"
	"github.com/mu-vm/muvm/internal/mulog"
	"github.com/mu-vm/muvm/internal/muthread"
	"github.com/mu-vm/muvm/internal/nativecall"
	"github.com/mu-vm/muvm/internal/vm"
)

var log = mulog.Default().Named("muvmc")

type scenario struct {
	name string
	run  func() error
}

func main() {
	scenarios := []scenario{
		{"factorial", scenarioFactorial},
		{"global-access", scenarioGlobalAccess},
		{"constant-function", scenarioConstantFunction},
		{"thread-local-offsets", scenarioThreadLocalOffsets},
		{"gc-smoke", scenarioGCSmoke},
	}

	failed := 0
	for _, s := range scenarios {
		if err := s.run(); err != nil {
			log.Errorf("%s: FAIL: %v", s.name, err)
			failed++
			continue
		}
		log.Infof("%s: PASS", s.name)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d/%d scenarios failed\n", failed, len(scenarios))
		os.Exit(1)
	}
}

// scenarioFactorial builds an iterative 5! over one i64 parameter. There is
// no Phi/SSA-merge support in isel, so loop-carried state threads through
// two global cells rather than a loop-header SSA value.
func scenarioFactorial() error {
	v, err := vm.New(config.Default())
	if err != nil {
		return err
	}

	i64 := ir.NewIntType("i64", 64)
	sig := ir.NewSignature("fac.sig", []*ir.Type{i64}, []*ir.Type{i64})
	fv := ir.NewMuFunctionVersion("fac.v1", sig.ID())
	gCounter := ir.NewGlobalCell("fac.i", i64)
	gAcc := ir.NewGlobalCell("fac.acc", i64)
	one := ir.NewIntConstant("one", i64, 1)

	entry := ir.NewBlock("entry")
	loopHead := ir.NewBlock("loopHead")
	loopBody := ir.NewBlock("loopBody")
	exit := ir.NewBlock("exit")

	param0 := ir.NewParamValue(sig, 0)
	storeN := ir.NewInstruction("", ir.OpStore, ir.NewGlobalValue(gCounter), param0)
	storeAcc1 := ir.NewInstruction("", ir.OpStore, ir.NewGlobalValue(gAcc), ir.NewConstantValue(one))
	toLoopHead := ir.NewInstruction("", ir.OpBranch)
	toLoopHead.Targets = []*ir.Block{loopHead}
	entry.AppendInst(storeN)
	entry.AppendInst(storeAcc1)
	entry.AppendInst(toLoopHead)

	loadI := ir.NewInstruction("", ir.OpLoad, ir.NewGlobalValue(gCounter))
	loadI.ResultTy = i64
	condBr := ir.NewInstruction("", ir.OpCondBranch, loadI.Result(), ir.NewConstantValue(one))
	condBr.Targets = []*ir.Block{loopBody, exit}
	loopHead.AppendInst(loadI)
	loopHead.AppendInst(condBr)

	loadI2 := ir.NewInstruction("", ir.OpLoad, ir.NewGlobalValue(gCounter))
	loadI2.ResultTy = i64
	loadAcc := ir.NewInstruction("", ir.OpLoad, ir.NewGlobalValue(gAcc))
	loadAcc.ResultTy = i64
	mul := ir.NewInstruction("", ir.OpMul, loadAcc.Result(), loadI2.Result())
	mul.ResultTy = i64
	sub := ir.NewInstruction("", ir.OpSub, loadI2.Result(), ir.NewConstantValue(one))
	sub.ResultTy = i64
	storeNewAcc := ir.NewInstruction("", ir.OpStore, ir.NewGlobalValue(gAcc), mul.Result())
	storeNewI := ir.NewInstruction("", ir.OpStore, ir.NewGlobalValue(gCounter), sub.Result())
	backEdge := ir.NewInstruction("", ir.OpBranch)
	backEdge.Targets = []*ir.Block{loopHead}
	loopBody.AppendInst(loadI2)
	loopBody.AppendInst(loadAcc)
	loopBody.AppendInst(mul)
	loopBody.AppendInst(sub)
	loopBody.AppendInst(storeNewAcc)
	loopBody.AppendInst(storeNewI)
	loopBody.AppendInst(backEdge)

	loadResult := ir.NewInstruction("", ir.OpLoad, ir.NewGlobalValue(gAcc))
	loadResult.ResultTy = i64
	ret := ir.NewInstruction("", ir.OpRet, loadResult.Result())
	exit.AppendInst(loadResult)
	exit.AppendInst(ret)

	fv.Content.AddBlock(entry)
	fv.Content.AddBlock(loopHead)
	fv.Content.AddBlock(loopBody)
	fv.Content.AddBlock(exit)

	if err := v.Register(sig); err != nil {
		return err
	}
	if err := v.RegisterGlobal(gCounter); err != nil {
		return err
	}
	if err := v.RegisterGlobal(gAcc); err != nil {
		return err
	}
	if err := v.Register(fv); err != nil {
		return err
	}

	cf, err := v.Compile(fv.ID())
	if err != nil {
		return err
	}
	region, err := nativecall.Map(cf.Code)
	if err != nil {
		return err
	}
	defer region.Close()

	if got := region.Call(5); got != 120 {
		return fmt.Errorf("fac(5) = %d, want 120", got)
	}
	return nil
}

// scenarioGlobalAccess stores 42 into a global then loads and returns it.
func scenarioGlobalAccess() error {
	v, err := vm.New(config.Default())
	if err != nil {
		return err
	}

	i64 := ir.NewIntType("i64", 64)
	sig := ir.NewSignature("ga.sig", nil, []*ir.Type{i64})
	fv := ir.NewMuFunctionVersion("ga.v1", sig.ID())
	g := ir.NewGlobalCell("ga.cell", i64)
	answer := ir.NewIntConstant("answer", i64, 42)

	b := ir.NewBlock("entry")
	store := ir.NewInstruction("", ir.OpStore, ir.NewGlobalValue(g), ir.NewConstantValue(answer))
	load := ir.NewInstruction("", ir.OpLoad, ir.NewGlobalValue(g))
	load.ResultTy = i64
	ret := ir.NewInstruction("", ir.OpRet, load.Result())
	b.AppendInst(store)
	b.AppendInst(load)
	b.AppendInst(ret)
	fv.Content.AddBlock(b)

	if err := v.Register(sig); err != nil {
		return err
	}
	if err := v.RegisterGlobal(g); err != nil {
		return err
	}
	if err := v.Register(fv); err != nil {
		return err
	}

	cf, err := v.Compile(fv.ID())
	if err != nil {
		return err
	}
	region, err := nativecall.Map(cf.Code)
	if err != nil {
		return err
	}
	defer region.Close()

	if got := region.Call(); got != 42 {
		return fmt.Errorf("global access returned %d, want 42", got)
	}

	addr, ok := v.GlobalAddress(g.ID())
	if !ok {
		return fmt.Errorf("global address not found after compile")
	}
	if got := maddr.Load[int64](addr); got != 42 {
		return fmt.Errorf("global backing store holds %d, want 42", got)
	}
	return nil
}

// scenarioConstantFunction compiles a function returning the constant 0 as
// i64. Core scope stops at in-process execution of the emitted code rather
// than an actual dlopen of a linked shared object.
func scenarioConstantFunction() error {
	v, err := vm.New(config.Default())
	if err != nil {
		return err
	}

	i64 := ir.NewIntType("i64", 64)
	sig := ir.NewSignature("zero.sig", nil, []*ir.Type{i64})
	fv := ir.NewMuFunctionVersion("zero.v1", sig.ID())
	zero := ir.NewIntConstant("zero", i64, 0)

	b := ir.NewBlock("entry")
	c := ir.NewInstruction("", ir.OpConst, ir.NewConstantValue(zero))
	c.ResultTy = i64
	ret := ir.NewInstruction("", ir.OpRet, c.Result())
	b.AppendInst(c)
	b.AppendInst(ret)
	fv.Content.AddBlock(b)

	if err := v.Register(sig); err != nil {
		return err
	}
	if err := v.Register(fv); err != nil {
		return err
	}

	cf, err := v.Compile(fv.ID())
	if err != nil {
		return err
	}
	region, err := nativecall.Map(cf.Code)
	if err != nil {
		return err
	}
	defer region.Close()

	if got := region.Call(); got != 0 {
		return fmt.Errorf("constant function returned %d, want 0", got)
	}
	return nil
}

// scenarioThreadLocalOffsets binds the current OS thread as a Mu thread and
// confirms UserTLS/ExceptionObj are observable through both the struct's
// accessors and a direct address-plus-offset write/read.
func scenarioThreadLocalOffsets() error {
	v, err := vm.New(config.Default())
	if err != nil {
		return err
	}

	i64 := ir.NewIntType("i64", 64)
	sig := ir.NewSignature("tls.sig", nil, []*ir.Type{i64})
	fv := ir.NewMuFunctionVersion("tls.v1", sig.ID())
	zero := ir.NewIntConstant("zero", i64, 0)
	b := ir.NewBlock("entry")
	c := ir.NewInstruction("", ir.OpConst, ir.NewConstantValue(zero))
	c.ResultTy = i64
	ret := ir.NewInstruction("", ir.OpRet, c.Result())
	b.AppendInst(c)
	b.AppendInst(ret)
	fv.Content.AddBlock(b)

	if err := v.Register(sig); err != nil {
		return err
	}
	if err := v.Register(fv); err != nil {
		return err
	}
	if _, err := v.Compile(fv.ID()); err != nil {
		return err
	}

	bt, err := v.MakePrimordialThread(fv.ID(), nil, 64<<10)
	if err != nil {
		return err
	}
	defer muthread.UnbindCurrentThread()

	maddr.Store[uint64](bt.Thread.Address().Plus(muthread.UserTLSOffset), math.MaxUint64)
	if got := bt.Thread.UserTLS(); got != math.MaxUint64 {
		return fmt.Errorf("UserTLS() = %d, want MaxUint64", got)
	}

	bt.Thread.SetExceptionObj(0xdeadbeef)
	if got := maddr.Load[uint64](bt.Thread.Address().Plus(muthread.ExceptionObjOffset)); got != 0xdeadbeef {
		return fmt.Errorf("exception-obj slot holds %#x, want 0xdeadbeef", got)
	}
	return nil
}

// scenarioGCSmoke allocates far more small objects than fit in a small
// heap, none retained, under a reduced size relative to the full
// 10,000,000/40MiB test scenario (internal/vm/scenarios_test.go runs the
// full-size version) so the smoke driver stays fast.
func scenarioGCSmoke() error {
	v, err := vm.New(config.Options{ImmixSize: 4 << 20, LOSize: 4 << 20, NGCThreads: 1})
	if err != nil {
		return err
	}

	desc := v.TypeInterner().Intern(24, 8, nil, 0)
	m := v.NewMutator()

	const count = 200_000
	for i := 0; i < count; i++ {
		addr, err := m.Alloc(24, 8)
		if err != nil {
			return err
		}
		if addr.IsZero() {
			v.Coordinator().TriggerGC()
			addr, err = m.Alloc(24, 8)
			if err != nil {
				return err
			}
			if addr.IsZero() {
				return fmt.Errorf("allocation %d still failed after a GC cycle", i)
			}
		}
		m.InitObject(addr, desc)
	}
	return nil
}
