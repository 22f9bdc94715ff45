package ir

// TreeNode is either a Value or an Instruction (spec §3). Most callers
// work with Instructions directly (Values are reached via Instruction
// operands/results), but Block.Nodes preserves the spec's ordered
// TreeNode sequence for passes that want a uniform walk.
type TreeNode struct {
	Value *Value
	Inst  *Instruction
}

// Block is an ordered sequence of TreeNodes within a function version,
// keyed by id (spec §3 "ordered collection of Blocks keyed by id").
type Block struct {
	EntityHeader

	Nodes []TreeNode

	// Preds and Succs are populated by passes.ControlFlowAnalysis
	// (component J); nil before that pass runs. LiveIn and LiveOut are not
	// filled in by any pass: liveness is computed per machine instruction
	// by regalloc.ComputeLiveness instead.
	Preds, Succs []*Block
	LiveIn       map[ID]bool
	LiveOut      map[ID]bool
}

// NewBlock constructs an empty Block.
func NewBlock(name string) *Block {
	return &Block{EntityHeader: NewEntityHeader(name)}
}

// AppendInst appends an instruction to the block.
func (b *Block) AppendInst(inst *Instruction) {
	b.Nodes = append(b.Nodes, TreeNode{Inst: inst})
}

// AppendValue appends a standalone value (e.g. a local variable
// declaration) to the block.
func (b *Block) AppendValue(v *Value) {
	b.Nodes = append(b.Nodes, TreeNode{Value: v})
}

// Instructions returns just the Instruction nodes, in order.
func (b *Block) Instructions() []*Instruction {
	out := make([]*Instruction, 0, len(b.Nodes))
	for _, n := range b.Nodes {
		if n.Inst != nil {
			out = append(out, n.Inst)
		}
	}
	return out
}

// Terminator returns the block's terminating instruction, or nil if the
// block is malformed (no terminator yet, e.g. mid-construction).
func (b *Block) Terminator() *Instruction {
	insts := b.Instructions()
	if len(insts) == 0 {
		return nil
	}
	last := insts[len(insts)-1]
	if last.IsTerminator() {
		return last
	}
	return nil
}
