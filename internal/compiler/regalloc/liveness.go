// Package regalloc implements Chaitin-Briggs graph-coloring register
// allocation over the abstract machine code isel produces (component L):
// liveness analysis, interference-graph construction, simplify/spill
// worklist coloring, and a spill-rewrite loop.
//
// The teacher (tinyrange-rtg) has no register allocator of its own — its
// backend is an ad hoc push/pop stack machine (std/compiler/backend_x64.go
// spills every intermediate value to the native stack immediately). This
// package is instead structured directly on the classical algorithm as
// implemented in original_source/src/compiler/backend/reg_alloc/{liveness,coloring}.rs,
// translated into Go idiom (explicit slices/maps rather than the Rust
// bit-vector/union-find types) and driven by isel.Function rather than a
// Rust-side instruction stream.
package regalloc

import "github.com/mu-vm/muvm/internal/compiler/isel"

// Liveness holds, per instruction index, the set of virtual registers
// live immediately before (LiveIn) and after (LiveOut) that instruction.
type Liveness struct {
	LiveIn  []map[isel.VReg]bool
	LiveOut []map[isel.VReg]bool
}

// ComputeLiveness runs the standard backward dataflow fixpoint
// (LiveIn[n] = Uses[n] ∪ (LiveOut[n] - Defs[n]); LiveOut[n] = ∪ LiveIn[succ])
// over fn's instruction-level CFG.
func ComputeLiveness(fn *isel.Function) *Liveness {
	n := len(fn.Insts)
	succs := instSuccessors(fn)

	lv := &Liveness{
		LiveIn:  make([]map[isel.VReg]bool, n),
		LiveOut: make([]map[isel.VReg]bool, n),
	}
	for i := range fn.Insts {
		lv.LiveIn[i] = map[isel.VReg]bool{}
		lv.LiveOut[i] = map[isel.VReg]bool{}
	}

	changed := true
	for changed {
		changed = false
		for i := n - 1; i >= 0; i-- {
			inst := fn.Insts[i]

			newOut := map[isel.VReg]bool{}
			for _, s := range succs[i] {
				for r := range lv.LiveIn[s] {
					newOut[r] = true
				}
			}

			newIn := map[isel.VReg]bool{}
			for r := range newOut {
				if !isDef(inst, r) {
					newIn[r] = true
				}
			}
			for _, u := range inst.Uses {
				newIn[u] = true
			}

			if !setsEqual(newIn, lv.LiveIn[i]) || !setsEqual(newOut, lv.LiveOut[i]) {
				lv.LiveIn[i] = newIn
				lv.LiveOut[i] = newOut
				changed = true
			}
		}
	}
	return lv
}

func isDef(inst isel.MCInst, r isel.VReg) bool {
	for _, d := range inst.Defs {
		if d == r {
			return true
		}
	}
	return false
}

func setsEqual(a, b map[isel.VReg]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for r := range a {
		if !b[r] {
			return false
		}
	}
	return true
}

// instSuccessors computes, for each instruction index, the indices of its
// control-flow successors: fallthrough for ordinary/MCJcc instructions,
// the label target for MCJmp/MCJcc, and none for MCRet.
func instSuccessors(fn *isel.Function) [][]int {
	n := len(fn.Insts)
	succs := make([][]int, n)
	for i, inst := range fn.Insts {
		switch inst.Op {
		case isel.MCRet:
			// no successors
		case isel.MCJmp:
			if idx, ok := fn.LabelIndex(inst.Label); ok {
				succs[i] = []int{idx}
			}
		case isel.MCJcc:
			if idx, ok := fn.LabelIndex(inst.Label); ok {
				succs[i] = append(succs[i], idx)
			}
			if i+1 < n {
				succs[i] = append(succs[i], i+1)
			}
		default:
			if i+1 < n {
				succs[i] = []int{i + 1}
			}
		}
	}
	return succs
}
