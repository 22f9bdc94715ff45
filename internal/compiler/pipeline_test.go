package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mu-vm/muvm/internal/ir"
)

func buildAddFunction(t *testing.T) (*ir.MuFunctionVersion, *ir.Signature) {
	t.Helper()
	i32 := ir.NewIntType("i32", 32)
	sig := ir.NewSignature("sig", nil, []*ir.Type{i32})
	v := ir.NewMuFunctionVersion("f.v1", sig.ID())

	b := ir.NewBlock("entry")
	five := ir.NewIntConstant("five", i32, 5)
	three := ir.NewIntConstant("three", i32, 3)
	c5 := ir.NewInstruction("", ir.OpConst, ir.NewConstantValue(five))
	c5.ResultTy = i32
	c3 := ir.NewInstruction("", ir.OpConst, ir.NewConstantValue(three))
	c3.ResultTy = i32
	add := ir.NewInstruction("", ir.OpAdd, c5.Result(), c3.Result())
	add.ResultTy = i32
	ret := ir.NewInstruction("", ir.OpRet, add.Result())

	b.AppendInst(c5)
	b.AppendInst(c3)
	b.AppendInst(add)
	b.AppendInst(ret)
	v.Content.AddBlock(b)
	return v, sig
}

func TestPipelineCompileProducesCode(t *testing.T) {
	v, sig := buildAddFunction(t)
	registry := ir.NewInterner()
	p := NewDefault()
	cf, err := p.Compile(registry, v, sig, nil)
	require.NoError(t, err)
	require.NotEmpty(t, cf.Code)
}

func TestPipelineCompileRejectsMalformedIR(t *testing.T) {
	i32 := ir.NewIntType("i32", 32)
	sig := ir.NewSignature("sig", nil, []*ir.Type{i32})
	v := ir.NewMuFunctionVersion("f.v1", sig.ID())
	b := ir.NewBlock("entry")

	orphanDef := ir.NewInstruction("", ir.OpConst, ir.NewConstantValue(ir.NewIntConstant("x", i32, 1)))
	orphanDef.ResultTy = i32
	use := ir.NewInstruction("", ir.OpRet, orphanDef.Result())
	b.AppendInst(use)
	v.Content.AddBlock(b)

	registry := ir.NewInterner()
	p := NewDefault()
	_, err := p.Compile(registry, v, sig, nil)
	require.Error(t, err)
}
