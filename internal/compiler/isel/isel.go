// Package isel implements x86-64 instruction selection (component K): a
// tree-pattern matcher consuming passes.TreeGen output, emitting an
// abstract machine-code stream where register operands are virtual
// (unbounded), for the register allocator (component L) to color before
// final byte emission (component M).
//
// Grounded on the teacher's per-opcode lowering switch in
// std/compiler/backend_x64.go (compileFunc), restructured from
// direct-to-bytes emission into a two-stage IR→abstract-MC→bytes
// pipeline so register allocation can run in between.
package isel

import (
	"github.com/mu-vm/muvm/internal/compiler/passes"
	"github.com/mu-vm/muvm/internal/ir"
	"github.com/mu-vm/muvm/internal/muerr"
)

// VReg is a virtual (unbounded) register id. Values 0..NumParams-1 are
// reserved for the function's parameters, which codegen maps to the ABI
// argument registers (asmx86.ArgRegs); the allocator treats those as
// already-colored nodes of infinite degree (spec §4.12/§9).
type VReg int

// MCOp enumerates the abstract machine operations isel may emit. Each
// maps to one or more asmx86 encodings in component M.
type MCOp int

const (
	MCMovImm MCOp = iota
	MCMovReg
	MCAdd
	MCSub
	MCMul
	MCSDiv // one def via cqo/idiv (asmx86.Cqo/IdivR); Imm selects which half: 0 = quotient (OpSDiv), 1 = remainder (OpSRem)
	MCNeg
	MCAnd
	MCOr
	MCXor
	MCCmp
	MCSetcc
	MCLoad
	MCStore
	MCLea
	MCCall
	MCRet
	MCJmp
	MCJcc
	MCLabel
	MCYieldpoint // lowers to a load+test of the word at [rbp]; selection never emits it
	MCReload     // load a spilled vreg's value from its frame slot (Imm = slot index)
	MCSpill      // store a vreg's value to its frame slot (Imm = slot index)
)

// MCInst is one abstract machine instruction: virtual-register defs/uses,
// an immediate/displacement payload, and CFG linkage for the allocator's
// liveness pass (spec §4.11 "record: opcode, operand roles, ...,
// predecessors/successors, IR-block membership, and whether it is a
// move").
type MCInst struct {
	Op      MCOp
	Defs    []VReg
	Uses    []VReg
	Imm     int64
	Cond    byte // condition code for MCJcc/MCSetcc, from asmx86.Cond*
	Label   int  // target label id for MCJmp/MCJcc/MCLabel
	IRBlock ir.ID
	IsMove  bool

	Preds, Succs []int // instruction indices, filled in by Function.linkCFG
}

// Function is the abstract machine-code output for one function version:
// a flat instruction list (already trace-ordered) plus the virtual
// register count and frame-slot bookkeeping the allocator/emitter need.
type Function struct {
	Name      string
	Insts     []MCInst
	NumVRegs  int
	NumParams int
	NumSlots  int // frame slots reserved for spills, grown by regalloc's spill-rewrite loop
	labels    map[int]int // label id -> instruction index, resolved after selection

	// RefVRegs marks every vreg known to hold a traced (GC-managed)
	// reference value, per the defining Value/Instruction's IsTraced type
	// (spec §3). regalloc.Run consults this to pin such a vreg to a
	// permanent frame slot whenever it is live across a call, and
	// propagates the marking onto the fresh vregs its spill rewrite
	// introduces.
	RefVRegs map[VReg]bool

	// CallRefSlots maps an MCCall instruction's index in Insts to the
	// frame slot indices (not yet byte offsets) holding a traced
	// reference that may be live across that call, filled in by
	// regalloc.Run once coloring converges (spec §6/§8 "a stack map
	// exists enumerating live-ref slots").
	CallRefSlots map[int][]int
}

// Selector lowers one function version's trace-ordered blocks into a
// Function. State resets per VisitFunction call.
type Selector struct {
	treeGen *passes.TreeGen
	trace   *passes.TraceGen

	fn       *Function
	nextVReg VReg
	nextLbl  int
	blockLbl map[ir.ID]int
	valReg   map[ir.ID]VReg // SSA value id -> vreg holding it
}

// NewSelector constructs a Selector consuming the given TreeGen/TraceGen
// pass results.
func NewSelector(treeGen *passes.TreeGen, trace *passes.TraceGen) *Selector {
	return &Selector{treeGen: treeGen, trace: trace}
}

// Name identifies the pass in pipeline diagnostics.
func (s *Selector) Name() string { return "InstructionSelection" }

// SelectFunction lowers v into a Function. sig is v's signature: its
// parameter count reserves the first len(sig.Params) virtual registers,
// one per incoming argument, so ValueParam operands can reference them
// directly by index without colliding with vregs synthesized for SSA
// temporaries; its parameter types seed RefVRegs for any reference-typed
// argument.
func (s *Selector) SelectFunction(v *ir.MuFunctionVersion, sig *ir.Signature) (*Function, error) {
	numParams := len(sig.Params)
	s.fn = &Function{Name: v.Name(), NumParams: numParams, labels: map[int]int{}, RefVRegs: map[VReg]bool{}}
	s.nextVReg = VReg(numParams)
	s.nextLbl = 0
	s.blockLbl = map[ir.ID]int{}
	s.valReg = map[ir.ID]VReg{}

	for i, p := range sig.Params {
		if p.IsTraced() {
			s.fn.RefVRegs[VReg(i)] = true
		}
	}

	order := s.trace.Order[v.ID()]
	if order == nil {
		order = v.Content.Blocks
	}
	for _, b := range order {
		s.blockLbl[b.ID()] = s.newLabel()
	}
	for _, b := range order {
		s.emit(MCInst{Op: MCLabel, Label: s.blockLbl[b.ID()], IRBlock: b.ID()})
		for _, root := range s.treeGen.Roots[b.ID()] {
			if err := s.lowerTree(root, b.ID()); err != nil {
				return nil, err
			}
		}
	}
	s.fn.NumVRegs = int(s.nextVReg)
	for idx, inst := range s.fn.Insts {
		if inst.Op == MCLabel {
			s.fn.labels[inst.Label] = idx
		}
	}
	return s.fn, nil
}

// LabelIndex returns the instruction index of the MCLabel with the given
// label id, for CFG linking in the register allocator (component L).
func (f *Function) LabelIndex(label int) (int, bool) {
	idx, ok := f.labels[label]
	return idx, ok
}

// RelinkLabels rebuilds the label->index map after a pass (e.g. the
// register allocator's spill rewrite) has inserted or removed
// instructions, invalidating prior indices.
func (f *Function) RelinkLabels() {
	if f.labels == nil {
		f.labels = map[int]int{}
	} else {
		for k := range f.labels {
			delete(f.labels, k)
		}
	}
	for idx, inst := range f.Insts {
		if inst.Op == MCLabel {
			f.labels[inst.Label] = idx
		}
	}
}

func (s *Selector) newVReg() VReg {
	v := s.nextVReg
	s.nextVReg++
	return v
}

func (s *Selector) newLabel() int {
	l := s.nextLbl
	s.nextLbl++
	return l
}

func (s *Selector) emit(i MCInst) {
	s.fn.Insts = append(s.fn.Insts, i)
}

// lowerTree emits MC for one fused expression tree rooted at t, returning
// nothing: results are recorded into s.valReg keyed by the root
// instruction's SSA id (if it has a result) so later trees referencing it
// by Value find the same vreg — this only happens for instructions that
// TreeGen left un-fused (multi-use), since fused single-use defs are
// lowered inline as children and never looked up by id.
func (s *Selector) lowerTree(t *passes.Tree, blockID ir.ID) error {
	inst := t.Root

	operandRegs := make([]VReg, len(inst.Operands))
	for i, operand := range inst.Operands {
		reg, err := s.lowerOperand(operand, t.Children[i], blockID)
		if err != nil {
			return err
		}
		operandRegs[i] = reg
	}

	dst, err := s.lowerOp(inst, operandRegs, blockID)
	if err != nil {
		return err
	}
	if inst.Result() != nil {
		s.valReg[inst.ID()] = dst
		if inst.ResultTy != nil && inst.ResultTy.IsTraced() {
			s.fn.RefVRegs[dst] = true
		}
	}
	return nil
}

// lowerOperand resolves a use-site Value to a VReg, recursing into a
// fused child tree if one was provided, or looking up/lowering the value
// directly otherwise (constants, params, globals, or a not-fused SSA def).
func (s *Selector) lowerOperand(v *ir.Value, child *passes.Tree, blockID ir.ID) (VReg, error) {
	if child != nil {
		if err := s.lowerTree(child, blockID); err != nil {
			return 0, err
		}
		return s.valReg[child.Root.ID()], nil
	}
	switch v.Kind {
	case ir.ValueConstant:
		dst := s.newVReg()
		s.emit(MCInst{Op: MCMovImm, Defs: []VReg{dst}, Imm: v.Constant.IntVal, IRBlock: blockID})
		return dst, nil
	case ir.ValueParam:
		// Parameters are referenced as fixed low-numbered vregs
		// 0..NumParams-1 reserved during selection; codegen.Emit maps
		// them to the System V argument registers (asmx86.ArgRegs).
		return VReg(v.ParamIdx), nil
	case ir.ValueGlobal:
		dst := s.newVReg()
		s.emit(MCInst{Op: MCLea, Defs: []VReg{dst}, Imm: int64(v.Global.ID()), IRBlock: blockID})
		return dst, nil
	case ir.ValueSSAResult:
		reg, ok := s.valReg[v.Def.ID()]
		if !ok {
			return 0, muerr.Newf(muerr.KindCodegenUnsupported,
				"isel: value defined by instruction %d used before selection reached its def", v.Def.ID())
		}
		return reg, nil
	default:
		return 0, muerr.Newf(muerr.KindCodegenUnsupported, "isel: unhandled value kind %v", v.Kind)
	}
}

// lowerOp emits the MC instruction(s) for inst given its already-lowered
// operand registers, returning the vreg holding its result (zero value if
// it has none).
func (s *Selector) lowerOp(inst *ir.Instruction, operands []VReg, blockID ir.ID) (VReg, error) {
	bin := func(op MCOp) (VReg, error) {
		dst := s.newVReg()
		s.emit(MCInst{Op: op, Defs: []VReg{dst}, Uses: operands, IRBlock: blockID})
		return dst, nil
	}
	switch inst.Op {
	case ir.OpConst:
		return operands[0], nil
	case ir.OpAdd:
		return bin(MCAdd)
	case ir.OpSub:
		return bin(MCSub)
	case ir.OpMul:
		return bin(MCMul)
	case ir.OpSDiv, ir.OpSRem:
		dst := s.newVReg()
		imm := int64(0) // 0 selects the cqo/idiv quotient, 1 the remainder
		if inst.Op == ir.OpSRem {
			imm = 1
		}
		s.emit(MCInst{Op: MCSDiv, Defs: []VReg{dst}, Uses: operands, Imm: imm, IRBlock: blockID})
		return dst, nil
	case ir.OpNeg:
		dst := s.newVReg()
		s.emit(MCInst{Op: MCNeg, Defs: []VReg{dst}, Uses: operands, IRBlock: blockID})
		return dst, nil
	case ir.OpAnd:
		return bin(MCAnd)
	case ir.OpOr:
		return bin(MCOr)
	case ir.OpXor:
		return bin(MCXor)
	case ir.OpICmp:
		s.emit(MCInst{Op: MCCmp, Uses: operands, IRBlock: blockID})
		dst := s.newVReg()
		s.emit(MCInst{Op: MCSetcc, Defs: []VReg{dst}, Cond: condFor(inst.Predicate), IRBlock: blockID})
		return dst, nil
	case ir.OpLoad:
		return bin(MCLoad)
	case ir.OpStore:
		s.emit(MCInst{Op: MCStore, Uses: operands, IRBlock: blockID})
		return 0, nil
	case ir.OpCall, ir.OpCCall:
		dst := s.newVReg()
		s.emit(MCInst{Op: MCCall, Defs: []VReg{dst}, Uses: operands, IRBlock: blockID})
		return dst, nil
	case ir.OpRet:
		s.emit(MCInst{Op: MCRet, Uses: operands, IRBlock: blockID})
		return 0, nil
	case ir.OpBranch:
		target := inst.Targets[0]
		s.emit(MCInst{Op: MCJmp, Label: s.blockLbl[target.ID()], IRBlock: blockID})
		return 0, nil
	case ir.OpCondBranch:
		thenLbl := s.blockLbl[inst.Targets[0].ID()]
		elseLbl := s.blockLbl[inst.Targets[1].ID()]
		s.emit(MCInst{Op: MCCmp, Uses: operands, IRBlock: blockID})
		s.emit(MCInst{Op: MCJcc, Cond: condFor(ir.ICmpNE), Label: thenLbl, IRBlock: blockID})
		s.emit(MCInst{Op: MCJmp, Label: elseLbl, IRBlock: blockID})
		return 0, nil
	default:
		return 0, muerr.Newf(muerr.KindCodegenUnsupported, "isel: unsupported opcode %v", inst.Op)
	}
}
