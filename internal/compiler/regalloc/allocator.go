package regalloc

import "github.com/mu-vm/muvm/internal/compiler/isel"

// Run computes liveness, builds the interference graph, colors it, and
// rewrites any spilled vregs to explicit MCReload/MCSpill frame-slot
// traffic, repeating until a coloring with no spills is found. Any traced
// reference vreg (fn.RefVRegs) live across an MCCall is forced into the
// same rewrite even if it colored cleanly, since a live reference must
// sit in a frame slot the GC can enumerate, not in a caller-clobbered
// register, for the call's stack map to be sound (spec §6/§8). Once no
// further rewriting is needed, CallRefSlots is computed from the final,
// stable spill slots. It mutates fn in place and returns the final
// vreg->physical-register coloring.
//
// Grounded structurally on
// original_source/src/compiler/backend/reg_alloc/mod.rs's top-level
// "build, color, if spills: rewrite and retry" driver loop.
func Run(fn *isel.Function) map[isel.VReg]int {
	for {
		lv := ComputeLiveness(fn)
		g := Build(fn, lv)
		alloc := Allocate(g)
		forced := callLiveRefVRegs(fn, lv)
		spills := mergeVRegSets(alloc.Spills, forced)
		if len(spills) == 0 {
			computeCallRefSlots(fn)
			return alloc.Color
		}
		rewriteSpills(fn, spills)
	}
}

// callLiveRefVRegs returns every traced-reference vreg (fn.RefVRegs) that
// is live-out of an MCCall instruction: it must still be valid after the
// call returns, and since the callee may trigger a GC before then, it
// must live in an enumerable frame slot rather than a register the callee
// is free to clobber. Deliberately LiveOut, not LiveIn: a vreg used only
// as the call's own argument and not needed afterward is already
// consumed by the time the call's stack map matters, and using LiveIn
// here would force its reload (itself live-in at the very call it was
// reloaded for) right back onto this list every round, looping forever.
func callLiveRefVRegs(fn *isel.Function, lv *Liveness) []isel.VReg {
	seen := map[isel.VReg]bool{}
	var out []isel.VReg
	for i, inst := range fn.Insts {
		if inst.Op != isel.MCCall {
			continue
		}
		for r := range lv.LiveOut[i] {
			if fn.RefVRegs[r] && !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}

// mergeVRegSets returns the union of a and b with no duplicates.
func mergeVRegSets(a, b []isel.VReg) []isel.VReg {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	seen := map[isel.VReg]bool{}
	var out []isel.VReg
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// computeCallRefSlots fills fn.CallRefSlots once regalloc has converged
// (no further spilling needed): for every MCSpill of a traced vreg, every
// MCCall instruction reachable from it by a forward walk of the real CFG
// (instSuccessors, which includes loop back-edges) may observe that slot
// still holding a live reference, since "spill everywhere" never reuses
// or clears a slot once written (spec §6/§8). A plain linear scan by
// instruction order would miss a call that precedes its spill textually
// but follows it on a later loop iteration; the reachability walk handles
// that correctly.
func computeCallRefSlots(fn *isel.Function) {
	fn.CallRefSlots = map[int][]int{}
	succs := instSuccessors(fn)
	for i, inst := range fn.Insts {
		if inst.Op != isel.MCSpill || !fn.RefVRegs[inst.Uses[0]] {
			continue
		}
		slot := int(inst.Imm)
		visited := make([]bool, len(fn.Insts))
		queue := append([]int(nil), succs[i]...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if visited[j] {
				continue
			}
			visited[j] = true
			if fn.Insts[j].Op == isel.MCCall {
				fn.CallRefSlots[j] = appendUnique(fn.CallRefSlots[j], slot)
			}
			queue = append(queue, succs[j]...)
		}
	}
}

func appendUnique(slots []int, s int) []int {
	for _, v := range slots {
		if v == s {
			return slots
		}
	}
	return append(slots, s)
}

// rewriteSpills replaces every def/use of a spilled vreg with a fresh
// vreg loaded from (MCReload) or stored to (MCSpill) a dedicated frame
// slot immediately before/after the instruction that needs it, so each
// spilled vreg is live for at most one instruction going into the next
// coloring attempt (the classical "spill everywhere" rewrite, simple and
// always terminating since live ranges only shrink).
func rewriteSpills(fn *isel.Function, spills []isel.VReg) {
	slot := map[isel.VReg]int{}
	wasRef := map[isel.VReg]bool{}
	for _, v := range spills {
		slot[v] = fn.NumSlots
		fn.NumSlots++
		wasRef[v] = fn.RefVRegs[v]
	}
	isSpilled := func(r isel.VReg) (int, bool) {
		s, ok := slot[r]
		return s, ok
	}

	nextVReg := isel.VReg(fn.NumVRegs)
	markRef := func(v isel.VReg, ref bool) {
		if ref {
			fn.RefVRegs[v] = true
		}
	}

	var out []isel.MCInst
	for _, inst := range fn.Insts {
		var pre, post []isel.MCInst
		newUses := make([]isel.VReg, len(inst.Uses))
		for i, u := range inst.Uses {
			if s, ok := isSpilled(u); ok {
				fresh := nextVReg
				nextVReg++
				markRef(fresh, wasRef[u])
				pre = append(pre, isel.MCInst{Op: isel.MCReload, Defs: []isel.VReg{fresh}, Imm: int64(s), IRBlock: inst.IRBlock})
				newUses[i] = fresh
			} else {
				newUses[i] = u
			}
		}
		newDefs := make([]isel.VReg, len(inst.Defs))
		for i, d := range inst.Defs {
			if s, ok := isSpilled(d); ok {
				fresh := nextVReg
				nextVReg++
				markRef(fresh, wasRef[d])
				post = append(post, isel.MCInst{Op: isel.MCSpill, Uses: []isel.VReg{fresh}, Imm: int64(s), IRBlock: inst.IRBlock})
				newDefs[i] = fresh
			} else {
				newDefs[i] = d
			}
		}
		inst.Uses = newUses
		inst.Defs = newDefs
		out = append(out, pre...)
		out = append(out, inst)
		out = append(out, post...)
	}
	fn.Insts = out
	fn.NumVRegs = int(nextVReg)
	fn.RelinkLabels()
}
