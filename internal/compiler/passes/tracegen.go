package passes

import "github.com/mu-vm/muvm/internal/ir"

// TraceGen linearizes blocks into a hot/cold trace order to maximize
// fall-through and minimize branches (spec §4.10). With no profile data
// available at this stage, "hot" is approximated as "not a loop-exit cold
// path": a simple depth-first layout starting at the entry block that
// keeps each block adjacent to its first successor, which is the layout
// the teacher's single-pass linear code emission already assumes
// (std/compiler/backend_x64.go emits functions/blocks in encounter order).
type TraceGen struct {
	cfa   *ControlFlowAnalysis
	Order map[ir.ID][]*ir.Block // function version id -> trace order
}

// NewTraceGen constructs a TraceGen consulting cfa for loop-header info.
func NewTraceGen(cfa *ControlFlowAnalysis) *TraceGen {
	return &TraceGen{cfa: cfa, Order: make(map[ir.ID][]*ir.Block)}
}

// Name identifies the pass in pipeline diagnostics.
func (p *TraceGen) Name() string { return "TraceGen" }

// VisitFunction lays out blocks depth-first from the entry, always
// visiting the "likely" successor (the first Succs entry, or the
// non-loop-header successor when a block ends a loop) before other
// successors, so the common path falls straight through.
func (p *TraceGen) VisitFunction(v *ir.MuFunctionVersion) error {
	entry := v.Content.Entry
	if entry == nil {
		p.Order[v.ID()] = nil
		return nil
	}
	visited := map[ir.ID]bool{}
	var order []*ir.Block
	var visit func(b *ir.Block)
	visit = func(b *ir.Block) {
		if visited[b.ID()] {
			return
		}
		visited[b.ID()] = true
		order = append(order, b)
		succs := p.orderedSuccessors(b)
		for _, s := range succs {
			visit(s)
		}
	}
	visit(entry)
	// Append any block unreachable from entry (malformed but tolerated at
	// this stage) so the pipeline still produces a total order.
	for _, b := range v.Content.Blocks {
		if !visited[b.ID()] {
			order = append(order, b)
		}
	}
	p.Order[v.ID()] = order
	return nil
}

// orderedSuccessors returns b's successors with loop headers sorted last,
// so the forward (non-looping) path is laid out contiguously.
func (p *TraceGen) orderedSuccessors(b *ir.Block) []*ir.Block {
	succs := append([]*ir.Block(nil), b.Succs...)
	if p.cfa == nil {
		return succs
	}
	for i := 1; i < len(succs); i++ {
		if p.cfa.LoopHeaders[succs[0].ID()] && !p.cfa.LoopHeaders[succs[i].ID()] {
			succs[0], succs[i] = succs[i], succs[0]
		}
	}
	return succs
}
