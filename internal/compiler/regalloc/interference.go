package regalloc

import "github.com/mu-vm/muvm/internal/compiler/isel"

// InterferenceGraph is an undirected adjacency-set graph over virtual
// registers: two vregs interfere if one is live at a point where the
// other is defined (and they are not the two sides of a redundant move,
// which coalescing may later erase).
type InterferenceGraph struct {
	adj map[isel.VReg]map[isel.VReg]bool
}

// NewInterferenceGraph allocates an empty graph over the given vreg count.
func NewInterferenceGraph(numVRegs int) *InterferenceGraph {
	g := &InterferenceGraph{adj: make(map[isel.VReg]map[isel.VReg]bool, numVRegs)}
	for i := 0; i < numVRegs; i++ {
		g.adj[isel.VReg(i)] = map[isel.VReg]bool{}
	}
	return g
}

// AddEdge records mutual interference between a and b (a no-op if a==b).
func (g *InterferenceGraph) AddEdge(a, b isel.VReg) {
	if a == b {
		return
	}
	if g.adj[a] == nil {
		g.adj[a] = map[isel.VReg]bool{}
	}
	if g.adj[b] == nil {
		g.adj[b] = map[isel.VReg]bool{}
	}
	g.adj[a][b] = true
	g.adj[b][a] = true
}

// Neighbors returns the set of vregs interfering with r.
func (g *InterferenceGraph) Neighbors(r isel.VReg) map[isel.VReg]bool {
	return g.adj[r]
}

// Degree returns the number of vregs interfering with r.
func (g *InterferenceGraph) Degree(r isel.VReg) int {
	return len(g.adj[r])
}

// Nodes returns every vreg present in the graph.
func (g *InterferenceGraph) Nodes() []isel.VReg {
	nodes := make([]isel.VReg, 0, len(g.adj))
	for r := range g.adj {
		nodes = append(nodes, r)
	}
	return nodes
}

// Build constructs the interference graph from liveness results: at each
// instruction, every defined vreg interferes with every vreg live-out of
// that instruction (standard def-vs-liveout construction, which also
// correctly handles dead defs since liveout still excludes them only if
// truly unused).
func Build(fn *isel.Function, lv *Liveness) *InterferenceGraph {
	g := NewInterferenceGraph(fn.NumVRegs)
	for i, inst := range fn.Insts {
		for _, d := range inst.Defs {
			for out := range lv.LiveOut[i] {
				if out == d {
					continue
				}
				// A move's source does not interfere with its own
				// destination, so the two may receive the same color.
				if inst.IsMove && len(inst.Uses) == 1 && inst.Uses[0] == out {
					continue
				}
				g.AddEdge(d, out)
			}
		}
	}
	return g
}
