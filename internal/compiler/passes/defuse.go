// Package passes implements the front-end analysis/lowering passes run
// before instruction selection (spec §4.10): DefUse, TreeGen,
// ControlFlowAnalysis, TraceGen.
//
// Each pass is deterministic given the same input, must not renumber SSA
// ids, and treats malformed IR as fatal to the current function version's
// compile (spec §4.10).
package passes

import (
	"github.com/mu-vm/muvm/internal/ir"
	"github.com/mu-vm/muvm/internal/muerr"
)

// DefUse builds, for each SSA value, the list of using instructions
// (spec §4.10). The result is kept on the pass and queried through
// UsesOf and IsSingleUse.
type DefUse struct {
	uses map[ir.ID][]*ir.Instruction
}

// NewDefUse constructs an empty DefUse pass result container.
func NewDefUse() *DefUse {
	return &DefUse{uses: make(map[ir.ID][]*ir.Instruction)}
}

// Name identifies the pass in pipeline diagnostics.
func (p *DefUse) Name() string { return "DefUse" }

// VisitFunction walks every instruction operand in v and records, for the
// operand's defining instruction's result value, that inst uses it.
// Per spec §8 "every use points to exactly one def within v", an operand
// whose Def instruction is not reachable in v's own blocks is an IR
// malformation.
func (p *DefUse) VisitFunction(v *ir.MuFunctionVersion) error {
	defined := make(map[ir.ID]bool)
	for _, b := range v.Content.Blocks {
		for _, inst := range b.Instructions() {
			if r := inst.Result(); r != nil {
				defined[inst.ID()] = true
			}
		}
	}
	for _, b := range v.Content.Blocks {
		for _, inst := range b.Instructions() {
			for _, operand := range inst.Operands {
				if operand.Kind != ir.ValueSSAResult {
					continue
				}
				defID := operand.Def.ID()
				if !defined[defID] {
					return muerr.Newf(muerr.KindIRMalformation,
						"defuse: instruction %d uses value defined by instruction %d not present in version %d",
						inst.ID(), defID, v.ID())
				}
				p.uses[defID] = append(p.uses[defID], inst)
			}
		}
	}
	return nil
}

// UsesOf returns every instruction using the SSA value defined by def.
func (p *DefUse) UsesOf(def *ir.Instruction) []*ir.Instruction {
	return p.uses[def.ID()]
}

// IsSingleUse reports whether def's result has exactly one using
// instruction, the condition TreeGen fuses on.
func (p *DefUse) IsSingleUse(def *ir.Instruction) bool {
	return len(p.uses[def.ID()]) == 1
}
