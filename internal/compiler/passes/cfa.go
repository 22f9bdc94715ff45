package passes

import "github.com/mu-vm/muvm/internal/ir"

// ControlFlowAnalysis computes successors, predecessors, loops, and
// dominators per block (spec §4.10). Grounded on the teacher's block
// successor/predecessor bookkeeping in std/compiler/dce.go (built there
// for dead-code elimination), generalized to a full dominator computation.
type ControlFlowAnalysis struct {
	// Dominators maps a block id to its immediate dominator's id; the
	// entry block maps to itself.
	Dominators map[ir.ID]ir.ID
	// LoopHeaders is the set of block ids that are loop headers (targets
	// of a back-edge).
	LoopHeaders map[ir.ID]bool
}

// NewControlFlowAnalysis constructs an empty CFA result container.
func NewControlFlowAnalysis() *ControlFlowAnalysis {
	return &ControlFlowAnalysis{Dominators: map[ir.ID]ir.ID{}, LoopHeaders: map[ir.ID]bool{}}
}

// Name identifies the pass in pipeline diagnostics.
func (p *ControlFlowAnalysis) Name() string { return "ControlFlowAnalysis" }

// VisitFunction links Block.Preds/Succs from each block's terminator and
// computes dominators via the standard iterative dataflow fixpoint.
func (p *ControlFlowAnalysis) VisitFunction(v *ir.MuFunctionVersion) error {
	blocks := v.Content.Blocks
	for _, b := range blocks {
		b.Succs = nil
		b.Preds = nil
	}
	for _, b := range blocks {
		term := b.Terminator()
		if term == nil {
			continue
		}
		for _, target := range term.Targets {
			b.Succs = append(b.Succs, target)
			target.Preds = append(target.Preds, b)
		}
	}

	p.computeDominators(v)
	p.findLoopHeaders(v)
	return nil
}

// computeDominators runs the classic reverse-postorder iterative dataflow
// fixpoint (Cooper/Harvey/Kennedy "A Simple, Fast Dominance Algorithm").
func (p *ControlFlowAnalysis) computeDominators(v *ir.MuFunctionVersion) {
	entry := v.Content.Entry
	if entry == nil {
		return
	}
	order := reversePostorder(entry)
	index := make(map[ir.ID]int, len(order))
	for i, b := range order {
		index[b.ID()] = i
	}

	idom := map[ir.ID]ir.ID{entry.ID(): entry.ID()}
	changed := true
	for changed {
		changed = false
		for _, b := range order {
			if b == entry {
				continue
			}
			var newIdom *ir.Block
			for _, pred := range b.Preds {
				if _, ok := idom[pred.ID()]; !ok {
					continue
				}
				if newIdom == nil {
					newIdom = pred
					continue
				}
				newIdom = intersect(newIdom, pred, idom, index, order)
			}
			if newIdom == nil {
				continue
			}
			if cur, ok := idom[b.ID()]; !ok || cur != newIdom.ID() {
				idom[b.ID()] = newIdom.ID()
				changed = true
			}
		}
	}
	p.Dominators = idom
}

func intersect(a, b *ir.Block, idom map[ir.ID]ir.ID, index map[ir.ID]int, order []*ir.Block) *ir.Block {
	ai, bi := index[a.ID()], index[b.ID()]
	for ai != bi {
		for ai > bi {
			a = order[indexOfID(order, idom[a.ID()])]
			ai = index[a.ID()]
		}
		for bi > ai {
			b = order[indexOfID(order, idom[b.ID()])]
			bi = index[b.ID()]
		}
	}
	return a
}

func indexOfID(order []*ir.Block, id ir.ID) int {
	for i, b := range order {
		if b.ID() == id {
			return i
		}
	}
	return 0
}

func reversePostorder(entry *ir.Block) []*ir.Block {
	visited := map[ir.ID]bool{}
	var post []*ir.Block
	var visit func(b *ir.Block)
	visit = func(b *ir.Block) {
		if visited[b.ID()] {
			return
		}
		visited[b.ID()] = true
		for _, s := range b.Succs {
			visit(s)
		}
		post = append(post, b)
	}
	visit(entry)
	// Reverse.
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// findLoopHeaders marks any block that is the target of an edge from one
// of its own dominance-tree descendants (a back-edge) as a loop header.
func (p *ControlFlowAnalysis) findLoopHeaders(v *ir.MuFunctionVersion) {
	for _, b := range v.Content.Blocks {
		for _, succ := range b.Succs {
			if p.dominates(succ.ID(), b.ID()) {
				p.LoopHeaders[succ.ID()] = true
			}
		}
	}
}

func (p *ControlFlowAnalysis) dominates(a, b ir.ID) bool {
	cur := b
	for {
		if cur == a {
			return true
		}
		parent, ok := p.Dominators[cur]
		if !ok || parent == cur {
			return cur == a
		}
		cur = parent
	}
}
