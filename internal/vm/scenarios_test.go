package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/mu-vm/muvm/internal/config"
	"github.com/mu-vm/muvm/internal/ir"
	"github.com/mu-vm/muvm/internal/maddr"
	"github.com/mu-vm/muvm/internal/muthread"
	"github.com/mu-vm/muvm/internal/nativecall"
)

// These tests exercise the six concrete scenarios end to end. The
// factorial, global-access, constant-function and register-allocation
// scenarios register real IR on a VM, compile it through the full
// pipeline, and execute its machine code in-process via internal/nativecall
// rather than merely decoding it; the thread-local and GC scenarios drive
// the runtime directly.

// buildFactorial constructs an iterative factorial over one i64 parameter.
// There is no Phi/SSA-merge support in isel, so loop-carried state (the
// counter and accumulator) is threaded through two global cells rather
// than a loop-header SSA value.
func buildFactorial(t *testing.T) (v *ir.MuFunctionVersion, sig *ir.Signature, gCounter, gAcc *ir.GlobalCell) {
	t.Helper()
	i64 := ir.NewIntType("i64", 64)
	sig = ir.NewSignature("fac.sig", []*ir.Type{i64}, []*ir.Type{i64})
	v = ir.NewMuFunctionVersion("fac.v1", sig.ID())

	gCounter = ir.NewGlobalCell("fac.i", i64)
	gAcc = ir.NewGlobalCell("fac.acc", i64)

	one := ir.NewIntConstant("one", i64, 1)

	entry := ir.NewBlock("entry")
	loopHead := ir.NewBlock("loopHead")
	loopBody := ir.NewBlock("loopBody")
	exit := ir.NewBlock("exit")

	// entry: store(gCounter, param0); store(gAcc, 1); branch loopHead
	param0 := ir.NewParamValue(sig, 0)
	storeN := ir.NewInstruction("", ir.OpStore, ir.NewGlobalValue(gCounter), param0)
	storeAcc1 := ir.NewInstruction("", ir.OpStore, ir.NewGlobalValue(gAcc), ir.NewConstantValue(one))
	toLoopHead := ir.NewInstruction("", ir.OpBranch)
	toLoopHead.Targets = []*ir.Block{loopHead}
	entry.AppendInst(storeN)
	entry.AppendInst(storeAcc1)
	entry.AppendInst(toLoopHead)

	// loopHead: i := load(gCounter); condbranch(i, 1) -> [loopBody, exit]
	loadI := ir.NewInstruction("", ir.OpLoad, ir.NewGlobalValue(gCounter))
	loadI.ResultTy = i64
	condBr := ir.NewInstruction("", ir.OpCondBranch, loadI.Result(), ir.NewConstantValue(one))
	condBr.Targets = []*ir.Block{loopBody, exit}
	loopHead.AppendInst(loadI)
	loopHead.AppendInst(condBr)

	// loopBody: i2 := load(gCounter); acc := load(gAcc);
	//           newAcc := acc * i2; newI := i2 - 1;
	//           store(gAcc, newAcc); store(gCounter, newI); branch loopHead
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

	// exit: result := load(gAcc); ret(result)
	loadResult := ir.NewInstruction("", ir.OpLoad, ir.NewGlobalValue(gAcc))
	loadResult.ResultTy = i64
	ret := ir.NewInstruction("", ir.OpRet, loadResult.Result())
	exit.AppendInst(loadResult)
	exit.AppendInst(ret)

	v.Content.AddBlock(entry)
	v.Content.AddBlock(loopHead)
	v.Content.AddBlock(loopBody)
	v.Content.AddBlock(exit)
	return v, sig, gCounter, gAcc
}

func TestScenarioFactorial(t *testing.T) {
	vm := newTestVM(t)

	v, sig, gCounter, gAcc := buildFactorial(t)
	require.NoError(t, vm.Register(sig))
	require.NoError(t, vm.RegisterGlobal(gCounter))
	require.NoError(t, vm.RegisterGlobal(gAcc))
	require.NoError(t, vm.Register(v))

	cf, err := vm.Compile(v.ID())
	require.NoError(t, err)

	region, err := nativecall.Map(cf.Code)
	require.NoError(t, err)
	defer region.Close()

	require.Equal(t, uint64(120), region.Call(5))
	require.Equal(t, uint64(1), region.Call(1))
	require.Equal(t, uint64(5040), region.Call(7))
}

func TestScenarioGlobalAccess(t *testing.T) {
	vm := newTestVM(t)

	i64 := ir.NewIntType("i64", 64)
	sig := ir.NewSignature("ga.sig", nil, []*ir.Type{i64})
	v := ir.NewMuFunctionVersion("ga.v1", sig.ID())
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
	v.Content.AddBlock(b)

	require.NoError(t, vm.Register(sig))
	require.NoError(t, vm.RegisterGlobal(g))
	require.NoError(t, vm.Register(v))

	cf, err := vm.Compile(v.ID())
	require.NoError(t, err)

	region, err := nativecall.Map(cf.Code)
	require.NoError(t, err)
	defer region.Close()

	require.Equal(t, uint64(42), region.Call())

	// The global's backing storage is directly observable through the VM,
	// independent of having run the compiled function.
	addr, ok := vm.GlobalAddress(g.ID())
	require.True(t, ok)
	require.Equal(t, int64(42), maddr.Load[int64](addr))
}

func TestScenarioConstantFunction(t *testing.T) {
	vm := newTestVM(t)

	i64 := ir.NewIntType("i64", 64)
	sig := ir.NewSignature("zero.sig", nil, []*ir.Type{i64})
	v := ir.NewMuFunctionVersion("zero.v1", sig.ID())
	zero := ir.NewIntConstant("zero", i64, 0)

	b := ir.NewBlock("entry")
	c := ir.NewInstruction("", ir.OpConst, ir.NewConstantValue(zero))
	c.ResultTy = i64
	ret := ir.NewInstruction("", ir.OpRet, c.Result())
	b.AppendInst(c)
	b.AppendInst(ret)
	v.Content.AddBlock(b)

	require.NoError(t, vm.Register(sig))
	require.NoError(t, vm.Register(v))

	cf, err := vm.Compile(v.ID())
	require.NoError(t, err)

	// Approximates "loaded as a native dynamic library; calling it from host
	// code returns 0": the scope here stops at in-process execution of the
	// emitted code rather than an actual dlopen of a linked .so.
	region, err := nativecall.Map(cf.Code)
	require.NoError(t, err)
	defer region.Close()
	require.Equal(t, uint64(0), region.Call())
}

func TestScenarioThreadLocalOffsets(t *testing.T) {
	vm := newTestVM(t)

	sig, _, v := buildConstFunction(t)
	require.NoError(t, vm.Register(sig))
	require.NoError(t, vm.Register(v))
	_, err := vm.Compile(v.ID())
	require.NoError(t, err)

	bt, err := vm.MakePrimordialThread(v.ID(), nil, 64<<10)
	require.NoError(t, err)
	defer muthread.UnbindCurrentThread()

	// Writing through the thread-local offset the compiled prologue would
	// use must be observable through the struct's named accessor, and vice
	// versa (spec scenario: thread-local offsets resolve to the same slot
	// whichever side writes it).
	maddr.Store[uint64](bt.Thread.Address().Plus(muthread.UserTLSOffset), math.MaxUint64)
	require.Equal(t, uint64(math.MaxUint64), bt.Thread.UserTLS())

	bt.Thread.SetExceptionObj(0xdeadbeef)
	require.Equal(t, uint64(0xdeadbeef), maddr.Load[uint64](bt.Thread.Address().Plus(muthread.ExceptionObjOffset)))
}

// TestScenarioGCSmokeTest allocates far more small objects than fit in a
// small heap, none retained, and expects the coordinator to reclaim enough
// space for the run to complete without OOM. The allocating goroutine must
// not register its mutator with the coordinator: TriggerGC's wait loop
// blocks until every *registered* mutator has parked, and nothing else
// would ever call ParkAtBarrier from this single-threaded test.
func TestScenarioGCSmokeTest(t *testing.T) {
	if testing.Short() {
		t.Skip("10,000,000-allocation GC stress scenario skipped in -short mode")
	}

	vm, err := New(config.Options{ImmixSize: 40 << 20, LOSize: 40 << 20, NGCThreads: 1})
	require.NoError(t, err)

	desc := vm.TypeInterner().Intern(24, 8, nil, 0)
	m := vm.NewMutator()

	const count = 10_000_000
	for i := 0; i < count; i++ {
		addr, err := m.Alloc(24, 8)
		require.NoError(t, err)
		if addr.IsZero() {
			vm.Coordinator().TriggerGC()
			addr, err = m.Alloc(24, 8)
			require.NoError(t, err)
			require.Falsef(t, addr.IsZero(), "allocation %d still failed after a GC cycle", i)
		}
		m.InitObject(addr, desc)
	}
}

// buildRegisterPressure constructs a function with 14 simultaneously-live
// values — one more than asmx86.NumGPR-1 physical colors — guaranteeing
// regalloc.Run's spill-rewrite loop fires at least once. Fourteen globals
// are each stored with a distinct known value and loaded back; all 14
// loads are emitted before any of them is consumed, so at the point right
// after the last load every one of them is live at once (each is used
// twice later, which keeps it a persisted tree root rather than fused
// inline — see passes.TreeGen).
func buildRegisterPressure(t *testing.T) (v *ir.MuFunctionVersion, sig *ir.Signature, want uint64) {
	t.Helper()
	const n = 14
	i64 := ir.NewIntType("i64", 64)
	sig = ir.NewSignature("pressure.sig", nil, []*ir.Type{i64})
	v = ir.NewMuFunctionVersion("pressure.v1", sig.ID())

	b := ir.NewBlock("entry")

	globals := make([]*ir.GlobalCell, n)
	for i := 0; i < n; i++ {
		g := ir.NewGlobalCell(nameForIndex("pressure.g", i), i64)
		globals[i] = g
		val := ir.NewIntConstant(nameForIndex("pressure.c", i), i64, int64(i+1))
		store := ir.NewInstruction("", ir.OpStore, ir.NewGlobalValue(g), ir.NewConstantValue(val))
		b.AppendInst(store)
	}

	loads := make([]*ir.Instruction, n)
	for i := 0; i < n; i++ {
		load := ir.NewInstruction("", ir.OpLoad, ir.NewGlobalValue(globals[i]))
		load.ResultTy = i64
		b.AppendInst(load)
		loads[i] = load
	}

	// Each load's result is used twice (doubled), which forces TreeGen to
	// keep it as its own root rather than fusing it into the doubling add —
	// and since all 14 loads already ran above, all 14 are live right here.
	doubles := make([]*ir.Instruction, n)
	for i := 0; i < n; i++ {
		dbl := ir.NewInstruction("", ir.OpAdd, loads[i].Result(), loads[i].Result())
		dbl.ResultTy = i64
		b.AppendInst(dbl)
		doubles[i] = dbl
	}

	total := doubles[0]
	for i := 1; i < n; i++ {
		sum := ir.NewInstruction("", ir.OpAdd, total.Result(), doubles[i].Result())
		sum.ResultTy = i64
		b.AppendInst(sum)
		total = sum
	}
	ret := ir.NewInstruction("", ir.OpRet, total.Result())
	b.AppendInst(ret)
	v.Content.AddBlock(b)

	var sum int64
	for i := 0; i < n; i++ {
		sum += 2 * int64(i+1)
	}
	return v, sig, uint64(sum)
}

func nameForIndex(prefix string, i int) string {
	digits := "0123456789"
	return prefix + string(digits[i/10]) + string(digits[i%10])
}

func TestScenarioRegisterAllocationSanity(t *testing.T) {
	vm := newTestVM(t)

	v, sig, want := buildRegisterPressure(t)
	require.NoError(t, vm.Register(sig))
	// Globals were created inside buildRegisterPressure and referenced only
	// by id from the IR; register them here via the function's own blocks.
	registerGlobalsOf(t, vm, v)
	require.NoError(t, vm.Register(v))

	cf, err := vm.Compile(v.ID())
	require.NoError(t, err)

	require.Greater(t, cf.FrameSize, 0, "expected at least one spill slot given 14 live values over 13 colors")
	require.Greater(t, countStackLocalMovs(t, cf.Code), 0, "expected spill loads/stores referencing a stack slot")

	region, err := nativecall.Map(cf.Code)
	require.NoError(t, err)
	defer region.Close()

	require.Equal(t, want, region.Call())
}

// registerGlobalsOf walks v's blocks for OpStore/OpLoad instructions
// referencing a ValueGlobal operand and registers each distinct global
// exactly once, since buildRegisterPressure doesn't return the slice.
func registerGlobalsOf(t *testing.T, vm *VM, v *ir.MuFunctionVersion) {
	t.Helper()
	seen := map[ir.ID]bool{}
	for _, blk := range v.Content.Blocks {
		for _, inst := range blk.Instructions() {
			for _, operand := range inst.Operands {
				if operand.Kind != ir.ValueGlobal {
					continue
				}
				g := operand.Global
				if seen[g.ID()] {
					continue
				}
				seen[g.ID()] = true
				require.NoError(t, vm.RegisterGlobal(g))
			}
		}
	}
}

// countStackLocalMovs decodes code and counts mov instructions whose
// memory operand is rbp-relative (asmx86.LoadLocal/StoreLocal's encoding),
// i.e. spill reloads/spills rather than the prologue/epilogue frame setup.
func countStackLocalMovs(t *testing.T, code []byte) int {
	t.Helper()
	count := 0
	off := 0
	for off < len(code) {
		inst, err := x86asm.Decode(code[off:], 64)
		require.NoError(t, err)
		if inst.Op == x86asm.MOV {
			for _, a := range inst.Args {
				if a == nil {
					continue
				}
				if mem, ok := a.(x86asm.Mem); ok && mem.Base == x86asm.RBP && mem.Disp != 0 {
					count++
					break
				}
			}
		}
		off += inst.Len
	}
	return count
}
