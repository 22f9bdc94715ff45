package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mu-vm/muvm/internal/compiler/isel"
)

// linearFunction builds a straight-line Function (no branches) with the
// given instructions, used as-is (callers supply their own MCRet).
func linearFunction(numVRegs int, insts ...isel.MCInst) *isel.Function {
	return &isel.Function{Name: "f", Insts: insts, NumVRegs: numVRegs}
}

func TestComputeLivenessSimpleChain(t *testing.T) {
	// v0 = movimm; v1 = movimm; v2 = add v0, v1; ret v2
	fn := linearFunction(3,
		isel.MCInst{Op: isel.MCMovImm, Defs: []isel.VReg{0}},
		isel.MCInst{Op: isel.MCMovImm, Defs: []isel.VReg{1}},
		isel.MCInst{Op: isel.MCAdd, Defs: []isel.VReg{2}, Uses: []isel.VReg{0, 1}},
		isel.MCInst{Op: isel.MCRet, Uses: []isel.VReg{2}},
	)
	lv := ComputeLiveness(fn)
	require.True(t, lv.LiveOut[0][0])
	require.False(t, lv.LiveOut[2][0]) // v0 dead after the add consumes it
	require.True(t, lv.LiveIn[3][2])
}

func TestBuildInterferenceGraphFindsOverlap(t *testing.T) {
	// The second add uses v0 again, which keeps v0 alive past v1's
	// definition and forces an explicit v0/v1 overlap.
	fn := linearFunction(4,
		isel.MCInst{Op: isel.MCMovImm, Defs: []isel.VReg{0}},
		isel.MCInst{Op: isel.MCMovImm, Defs: []isel.VReg{1}},
		isel.MCInst{Op: isel.MCAdd, Defs: []isel.VReg{2}, Uses: []isel.VReg{0, 1}},
		isel.MCInst{Op: isel.MCAdd, Defs: []isel.VReg{3}, Uses: []isel.VReg{2, 0}},
		isel.MCInst{Op: isel.MCRet, Uses: []isel.VReg{3}},
	)
	lv := ComputeLiveness(fn)
	g := Build(fn, lv)
	require.True(t, g.Neighbors(0)[1] || g.Neighbors(1)[0])
}

func TestAllocateColorsWithinBudgetWhenGraphIsSmall(t *testing.T) {
	fn := linearFunction(3,
		isel.MCInst{Op: isel.MCMovImm, Defs: []isel.VReg{0}},
		isel.MCInst{Op: isel.MCMovImm, Defs: []isel.VReg{1}},
		isel.MCInst{Op: isel.MCAdd, Defs: []isel.VReg{2}, Uses: []isel.VReg{0, 1}},
		isel.MCInst{Op: isel.MCRet, Uses: []isel.VReg{2}},
	)
	lv := ComputeLiveness(fn)
	g := Build(fn, lv)
	alloc := Allocate(g)
	require.Empty(t, alloc.Spills)
	// All three vregs get distinct colors where they interfere.
	require.Len(t, alloc.Color, 3)
}

func TestRunConvergesAndSpillsWhenOverSubscribed(t *testing.T) {
	// Define more vregs up front than K, each consumed at its own later,
	// separate single-operand use point: this keeps all of them
	// simultaneously live across the defining block (forcing spills) while
	// never asking any one instruction for more live values than K can
	// hold, so the spill-rewrite loop is guaranteed to converge.
	numVRegs := K + 5
	var insts []isel.MCInst
	for i := 0; i < numVRegs; i++ {
		insts = append(insts, isel.MCInst{Op: isel.MCMovImm, Defs: []isel.VReg{isel.VReg(i)}})
	}
	for i := 0; i < numVRegs; i++ {
		insts = append(insts, isel.MCInst{Op: isel.MCNeg, Defs: []isel.VReg{isel.VReg(numVRegs + i)}, Uses: []isel.VReg{isel.VReg(i)}})
	}
	insts = append(insts, isel.MCInst{Op: isel.MCRet})
	fn := linearFunction(numVRegs*2, insts...)

	color := Run(fn)
	require.NotEmpty(t, color)
	// After Run returns, every original def should have been colored or
	// replaced by a reload feeding a now-colored fresh vreg; either way
	// the final instruction stream must contain spill traffic since the
	// live set exceeded K simultaneously.
	hasSpillTraffic := false
	for _, inst := range fn.Insts {
		if inst.Op == isel.MCSpill || inst.Op == isel.MCReload {
			hasSpillTraffic = true
			break
		}
	}
	require.True(t, hasSpillTraffic)
}
