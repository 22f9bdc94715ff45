package codegen

import "github.com/mu-vm/muvm/internal/compiler/isel"

// Peephole removes identity moves (reg := reg) and drops a reload that
// immediately follows a spill of the same slot from the same vreg
// (spill slot; reload slot into that vreg), mutating fn.Insts and
// re-keying fn.CallRefSlots to the calls' new indices. Grounded on the teacher's
// hasPending push-coalescing peephole in std/compiler/backend.go, which
// elides a push immediately undone by a matching pop; this is the same
// "don't emit work that's immediately undone" shape generalized past the
// push/pop stack machine to register-allocated code.
func Peephole(fn *isel.Function) {
	out := fn.Insts[:0:0]
	var refSlots map[int][]int
	if fn.CallRefSlots != nil {
		refSlots = map[int][]int{}
	}
	for i := 0; i < len(fn.Insts); i++ {
		inst := fn.Insts[i]
		if isIdentityMove(inst) {
			continue
		}
		if slots, ok := fn.CallRefSlots[i]; ok {
			refSlots[len(out)] = slots
		}
		if i+1 < len(fn.Insts) && isRedundantSpillReload(inst, fn.Insts[i+1]) {
			out = append(out, inst)
			i++
			continue
		}
		out = append(out, inst)
	}
	fn.Insts = out
	if refSlots != nil {
		fn.CallRefSlots = refSlots
	}
}

// isIdentityMove reports whether inst is a no-op register copy (its sole
// def is the same vreg as its sole use). Copies between distinct vregs
// that happen to share a color are not detected here.
func isIdentityMove(inst isel.MCInst) bool {
	if inst.Op != isel.MCMovReg {
		return false
	}
	return len(inst.Defs) == 1 && len(inst.Uses) == 1 && inst.Defs[0] == inst.Uses[0]
}

// isRedundantSpillReload reports whether a is a spill to slot S and b is
// an immediately following reload of the same slot S into the same vreg
// that was just spilled — a pattern regalloc's "spill everywhere" rewrite
// can introduce across adjacent instructions when a value is defined and
// then immediately used again after a spill round.
func isRedundantSpillReload(a, b isel.MCInst) bool {
	if a.Op != isel.MCSpill || b.Op != isel.MCReload {
		return false
	}
	if a.Imm != b.Imm {
		return false
	}
	return len(a.Uses) == 1 && len(b.Defs) == 1 && a.Uses[0] == b.Defs[0]
}
