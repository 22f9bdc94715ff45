// Package compiler sequences the compilation pipeline (component I): an
// ordered list of Pass implementations threading a shared Context, turning
// one ir.MuFunctionVersion into a codegen.CompiledFunction.
//
// Grounded on the teacher's sequential, single-pass-object-per-stage shape
// (std/compiler/backend.go's generateAmd64ELF calls compileFunc, which
// itself runs DCE then a single linear lowering pass); here each stage is
// its own Pass value held in a Pipeline.Passes slice so the ordering is
// data, not a hardcoded call chain, matching spec §4.9's declarative
// "ordered front-pass pipeline" and its VisitFunction(vm, func_version)
// per-pass contract.
package compiler

import (
	"github.com/mu-vm/muvm/internal/compiler/codegen"
	"github.com/mu-vm/muvm/internal/compiler/isel"
	"github.com/mu-vm/muvm/internal/compiler/passes"
	"github.com/mu-vm/muvm/internal/compiler/regalloc"
	"github.com/mu-vm/muvm/internal/ir"
	"github.com/mu-vm/muvm/internal/mulog"
)

// GlobalAddrFunc resolves a registered global cell's id to its backing
// storage address. The VM (component N) supplies this from its own
// global-storage table, since addresses aren't known until the global is
// registered, before compilation runs.
type GlobalAddrFunc func(id ir.ID) (uint64, bool)

// Context threads one compile's inputs and the intermediate result of
// each stage between Passes. A Pass reads what it needs from an earlier
// stage and writes its own result back for later stages to consume,
// instead of the driver hardcoding the call chain itself.
type Context struct {
	GlobalAddr GlobalAddrFunc
	Sig        *ir.Signature

	DefUse  *passes.DefUse
	TreeGen *passes.TreeGen
	CFA     *passes.ControlFlowAnalysis
	Trace   *passes.TraceGen

	MCFn  *isel.Function
	Color map[isel.VReg]int

	Result *codegen.CompiledFunction
}

// Pass is one stage of the pipeline (spec §4.9). VisitFunction performs
// the stage's work over v, reading/writing ctx for the stages before and
// after it. The spec's VisitFunction(vm, func_version) signature takes a
// "vm" argument the pass may consult; here that's folded into ctx
// (GlobalAddr, Sig) rather than a *vm.VM parameter directly, since the vm
// package already imports this one and a direct reference would cycle.
type Pass interface {
	Name() string
	VisitFunction(ctx *Context, v *ir.MuFunctionVersion) error
}

// FunctionStarter is an optional Pass extension for a stage that needs to
// reset or validate state before VisitFunction runs (spec §4.9 "may
// implement StartFunction/FinishFunction around VisitFunction").
type FunctionStarter interface {
	StartFunction(ctx *Context, v *ir.MuFunctionVersion) error
}

// FunctionFinisher is an optional Pass extension for a stage that needs to
// run cleanup or bookkeeping after VisitFunction succeeds.
type FunctionFinisher interface {
	FinishFunction(ctx *Context, v *ir.MuFunctionVersion) error
}

// Pipeline runs an ordered list of Passes over one function version at a
// time, holding a read lock on the entity registry and a write lock on
// the function version for the whole sequence (spec §5 "read-locks on
// registries... write-lock only on the target function version").
type Pipeline struct {
	Passes []Pass
	log    mulog.Logger
}

// New constructs the default Pipeline logging through log.
func New(log mulog.Logger) *Pipeline {
	return &Pipeline{Passes: defaultPasses(), log: log}
}

// NewDefault constructs the default Pipeline logging through mulog.Default().
func NewDefault() *Pipeline {
	return New(mulog.Default())
}

// defaultPasses returns the spec §4.9 stage order: DefUse -> TreeGen ->
// ControlFlowAnalysis -> TraceGen -> InstructionSelection ->
// RegisterAllocation -> PeepholeOptimization -> CodeEmission.
func defaultPasses() []Pass {
	return []Pass{
		&defUsePass{},
		&treeGenPass{},
		&cfaPass{},
		&traceGenPass{},
		&iselPass{},
		&regallocPass{},
		&peepholePass{},
		&codeEmissionPass{},
	}
}

// Compile runs the pipeline's passes in order over v, returning the
// installable artifact. registry is the entity registry v's signature and
// any referenced types/globals are registered in; sig is v's signature.
func (p *Pipeline) Compile(registry *ir.Interner, v *ir.MuFunctionVersion, sig *ir.Signature, globalAddr GlobalAddrFunc) (*codegen.CompiledFunction, error) {
	log := p.log.Named("compiler").WithUint64("func_version", uint64(v.ID()))
	log.Debugf("starting compilation of %s", v.Name())

	registry.RLock()
	defer registry.RUnlock()
	v.Lock()
	defer v.Unlock()

	ctx := &Context{GlobalAddr: globalAddr, Sig: sig}
	for _, pass := range p.Passes {
		if starter, ok := pass.(FunctionStarter); ok {
			if err := starter.StartFunction(ctx, v); err != nil {
				return nil, err
			}
		}
		if err := pass.VisitFunction(ctx, v); err != nil {
			return nil, err
		}
		if finisher, ok := pass.(FunctionFinisher); ok {
			if err := finisher.FinishFunction(ctx, v); err != nil {
				return nil, err
			}
		}
		log.Debugf("ran pass %s", pass.Name())
	}
	log.Debugf("emitted %d bytes of machine code", len(ctx.Result.Code))
	return ctx.Result, nil
}

// defUsePass adapts passes.DefUse to the Pass interface.
type defUsePass struct{}

func (a *defUsePass) Name() string { return "DefUse" }
func (a *defUsePass) VisitFunction(ctx *Context, v *ir.MuFunctionVersion) error {
	du := passes.NewDefUse()
	if err := du.VisitFunction(v); err != nil {
		return err
	}
	ctx.DefUse = du
	return nil
}

// treeGenPass adapts passes.TreeGen to the Pass interface.
type treeGenPass struct{}

func (a *treeGenPass) Name() string { return "TreeGen" }
func (a *treeGenPass) VisitFunction(ctx *Context, v *ir.MuFunctionVersion) error {
	tg := passes.NewTreeGen(ctx.DefUse)
	if err := tg.VisitFunction(v); err != nil {
		return err
	}
	ctx.TreeGen = tg
	return nil
}

// cfaPass adapts passes.ControlFlowAnalysis to the Pass interface.
type cfaPass struct{}

func (a *cfaPass) Name() string { return "ControlFlowAnalysis" }
func (a *cfaPass) VisitFunction(ctx *Context, v *ir.MuFunctionVersion) error {
	cfa := passes.NewControlFlowAnalysis()
	if err := cfa.VisitFunction(v); err != nil {
		return err
	}
	ctx.CFA = cfa
	return nil
}

// traceGenPass adapts passes.TraceGen to the Pass interface.
type traceGenPass struct{}

func (a *traceGenPass) Name() string { return "TraceGen" }
func (a *traceGenPass) VisitFunction(ctx *Context, v *ir.MuFunctionVersion) error {
	trace := passes.NewTraceGen(ctx.CFA)
	if err := trace.VisitFunction(v); err != nil {
		return err
	}
	ctx.Trace = trace
	return nil
}

// iselPass adapts isel.Selector to the Pass interface.
type iselPass struct{}

func (a *iselPass) Name() string { return "InstructionSelection" }
func (a *iselPass) VisitFunction(ctx *Context, v *ir.MuFunctionVersion) error {
	sel := isel.NewSelector(ctx.TreeGen, ctx.Trace)
	fn, err := sel.SelectFunction(v, ctx.Sig)
	if err != nil {
		return err
	}
	ctx.MCFn = fn
	return nil
}

// regallocPass adapts regalloc.Run to the Pass interface.
type regallocPass struct{}

func (a *regallocPass) Name() string { return "RegisterAllocation" }
func (a *regallocPass) VisitFunction(ctx *Context, _ *ir.MuFunctionVersion) error {
	ctx.Color = regalloc.Run(ctx.MCFn)
	return nil
}

// peepholePass adapts codegen.Peephole to the Pass interface.
type peepholePass struct{}

func (a *peepholePass) Name() string { return "PeepholeOptimization" }
func (a *peepholePass) VisitFunction(ctx *Context, _ *ir.MuFunctionVersion) error {
	codegen.Peephole(ctx.MCFn)
	return nil
}

// codeEmissionPass adapts codegen.Emit to the Pass interface.
type codeEmissionPass struct{}

func (a *codeEmissionPass) Name() string { return "CodeEmission" }
func (a *codeEmissionPass) VisitFunction(ctx *Context, _ *ir.MuFunctionVersion) error {
	cf, err := codegen.Emit(ctx.MCFn, ctx.Color, ctx.GlobalAddr)
	if err != nil {
		return err
	}
	ctx.Result = cf
	return nil
}
