package regalloc

import (
	"github.com/mu-vm/muvm/internal/asmx86"
	"github.com/mu-vm/muvm/internal/compiler/isel"
)

// K is the number of colorable physical registers: asmx86.NumGPR less one.
// Colors index asmx86.GPROrder, so its last entry is never handed out.
const K = asmx86.NumGPR - 1

// Allocation is the result of a successful coloring attempt: every vreg
// maps to a color index in [0, K), which codegen turns into a physical
// register through asmx86.GPROrder, or the allocation failed and Spills names the vregs that must be rewritten to
// memory and retried.
type Allocation struct {
	Color  map[isel.VReg]int
	Spills []isel.VReg
}

// Allocate runs the Chaitin-Briggs simplify/spill/select loop over fn's
// interference graph, grounded on
// original_source/src/compiler/backend/reg_alloc/coloring.rs's worklist
// structure: repeatedly remove (simplify) nodes of degree < K, pushing
// them onto a stack; when none remain, pick a spill candidate (highest
// degree, breaking ties by first-seen) and push it as an optimistic spill
// candidate; then pop the stack, assigning each node the lowest color not
// used by its already-colored neighbors. A node that cannot be colored
// this way becomes an actual spill.
func Allocate(g *InterferenceGraph) *Allocation {
	nodes := g.Nodes()
	removed := map[isel.VReg]bool{}
	degree := map[isel.VReg]int{}
	for _, n := range nodes {
		degree[n] = g.Degree(n)
	}

	var stack []isel.VReg
	var spillCandidates []isel.VReg

	remaining := len(nodes)
	for remaining > 0 {
		progressed := false
		for _, n := range nodes {
			if removed[n] {
				continue
			}
			if liveDegree(g, n, removed) < K {
				stack = append(stack, n)
				removed[n] = true
				remaining--
				progressed = true
			}
		}
		if progressed {
			continue
		}
		// No low-degree node: pick the highest-degree remaining node as an
		// optimistic spill candidate (it may still color if its neighbors
		// don't use every color).
		var best isel.VReg
		bestDeg := -1
		found := false
		for _, n := range nodes {
			if removed[n] {
				continue
			}
			d := liveDegree(g, n, removed)
			if d > bestDeg {
				bestDeg = d
				best = n
				found = true
			}
		}
		if !found {
			break
		}
		stack = append(stack, best)
		spillCandidates = append(spillCandidates, best)
		removed[best] = true
		remaining--
	}

	color := map[isel.VReg]int{}
	var actualSpills []isel.VReg
	isSpillCandidate := map[isel.VReg]bool{}
	for _, s := range spillCandidates {
		isSpillCandidate[s] = true
	}

	for i := len(stack) - 1; i >= 0; i-- {
		n := stack[i]
		used := map[int]bool{}
		for nb := range g.Neighbors(n) {
			if c, ok := color[nb]; ok {
				used[c] = true
			}
		}
		c, ok := firstFreeColor(used)
		if !ok {
			actualSpills = append(actualSpills, n)
			continue
		}
		color[n] = c
	}

	return &Allocation{Color: color, Spills: actualSpills}
}

// liveDegree counts n's neighbors not yet removed from the graph,
// matching the "significant degree" used by the simplify worklist (spec
// §4.12).
func liveDegree(g *InterferenceGraph, n isel.VReg, removed map[isel.VReg]bool) int {
	d := 0
	for nb := range g.Neighbors(n) {
		if !removed[nb] {
			d++
		}
	}
	return d
}

func firstFreeColor(used map[int]bool) (int, bool) {
	for c := 0; c < K; c++ {
		if !used[c] {
			return c, true
		}
	}
	return 0, false
}
