package passes

import "github.com/mu-vm/muvm/internal/ir"

// Tree is a fused expression tree: a root instruction plus the child
// trees feeding its operands that were safe to fuse (single-def,
// single-use, same block). Grounded on the teacher's implicit
// stack-machine operand fusion in instruction selection
// (std/compiler/backend_x64.go: compileFunc consumes a stack-machine
// opcode stream where each push is, in effect, an already-fused operand
// tree); TreeGen makes that fusion an explicit, inspectable pass output so
// the tree-pattern matcher (component K) can consume it directly.
type Tree struct {
	Root     *ir.Instruction
	Children []*Tree // parallel to Root.Operands; nil entry means "leaf value, not fused"
}

// TreeGen fuses single-use single-def instruction chains into expression
// trees (spec §4.10).
type TreeGen struct {
	defUse *DefUse
	Roots  map[ir.ID][]*Tree // block id -> root trees, in block order
}

// NewTreeGen constructs a TreeGen that consults defUse for fusability.
func NewTreeGen(defUse *DefUse) *TreeGen {
	return &TreeGen{defUse: defUse, Roots: make(map[ir.ID][]*Tree)}
}

// Name identifies the pass in pipeline diagnostics.
func (p *TreeGen) Name() string { return "TreeGen" }

// VisitFunction builds, for each block, the forest of trees rooted at
// instructions whose result is either unused-for-fusion (multi-use, used
// across blocks, or has no result) i.e. every instruction that is NOT
// itself fused as a child elsewhere.
func (p *TreeGen) VisitFunction(v *ir.MuFunctionVersion) error {
	for _, b := range v.Content.Blocks {
		fused := make(map[ir.ID]bool)
		insts := b.Instructions()
		trees := make(map[ir.ID]*Tree, len(insts))
		for _, inst := range insts {
			trees[inst.ID()] = p.buildTree(inst, b, fused)
		}
		var roots []*Tree
		for _, inst := range insts {
			if !fused[inst.ID()] {
				roots = append(roots, trees[inst.ID()])
			}
		}
		p.Roots[b.ID()] = roots
	}
	return nil
}

// buildTree constructs the Tree for inst, marking any single-def
// single-use operand defined in the same block as fused (a child of this
// tree rather than a root of its own).
func (p *TreeGen) buildTree(inst *ir.Instruction, b *ir.Block, fused map[ir.ID]bool) *Tree {
	t := &Tree{Root: inst, Children: make([]*Tree, len(inst.Operands))}
	for i, operand := range inst.Operands {
		if operand.Kind != ir.ValueSSAResult {
			continue
		}
		def := operand.Def
		if !p.sameBlock(def, b) || !p.defUse.IsSingleUse(def) {
			continue
		}
		fused[def.ID()] = true
		t.Children[i] = p.buildTree(def, b, fused)
	}
	return t
}

func (p *TreeGen) sameBlock(inst *ir.Instruction, b *ir.Block) bool {
	for _, n := range b.Nodes {
		if n.Inst == inst {
			return true
		}
	}
	return false
}
