package vm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mu-vm/muvm/internal/config"
	"github.com/mu-vm/muvm/internal/ir"
)

func buildConstFunction(t *testing.T) (*ir.Signature, *ir.MuFunction, *ir.MuFunctionVersion) {
	t.Helper()
	i32 := ir.NewIntType("i32", 32)
	sig := ir.NewSignature("sig.const", nil, []*ir.Type{i32})
	f := ir.NewMuFunction("f.const", sig.ID())
	v := ir.NewMuFunctionVersion("f.const.v1", sig.ID())

	b := ir.NewBlock("entry")
	seven := ir.NewIntConstant("seven", i32, 7)
	c := ir.NewInstruction("", ir.OpConst, ir.NewConstantValue(seven))
	c.ResultTy = i32
	ret := ir.NewInstruction("", ir.OpRet, c.Result())
	b.AppendInst(c)
	b.AppendInst(ret)
	v.Content.AddBlock(b)

	require.NoError(t, f.AddVersion(v))
	return sig, f, v
}

func newTestVM(t *testing.T) *VM {
	t.Helper()
	v, err := New(config.Options{ImmixSize: 1 << 20, LOSize: 1 << 20, NGCThreads: 1})
	require.NoError(t, err)
	return v
}

func TestRegisterAndIDOfRoundTrip(t *testing.T) {
	vm := newTestVM(t)
	sig, f, v := buildConstFunction(t)

	require.NoError(t, vm.Register(sig))
	require.NoError(t, vm.Register(f))
	require.NoError(t, vm.Register(v))

	id, ok := vm.IDOf("f.const.v1")
	require.True(t, ok)
	require.Equal(t, v.ID(), id)

	got, ok := vm.FunctionVersion(id)
	require.True(t, ok)
	require.Same(t, v, got)
}

func TestCompileInstallsCompiledFunction(t *testing.T) {
	vm := newTestVM(t)
	sig, _, v := buildConstFunction(t)
	require.NoError(t, vm.Register(sig))
	require.NoError(t, vm.Register(v))

	cf, err := vm.Compile(v.ID())
	require.NoError(t, err)
	require.NotEmpty(t, cf.Code)

	again, ok := vm.CompiledFunction(v.ID())
	require.True(t, ok)
	require.Same(t, cf, again)
}

func TestCompileRejectsUnknownFunctionVersion(t *testing.T) {
	vm := newTestVM(t)
	_, err := vm.Compile(ir.ID(999999))
	require.Error(t, err)
}

func TestRegisterGlobalReservesStorageAndIsAddressable(t *testing.T) {
	vm := newTestVM(t)
	i64 := ir.NewIntType("i64", 64)
	g := ir.NewGlobalCell("counter", i64)
	require.NoError(t, vm.RegisterGlobal(g))

	addr, ok := vm.GlobalAddress(g.ID())
	require.True(t, ok)
	require.NotZero(t, addr)
}

func TestEmitContextProducesSelfDescribingBlob(t *testing.T) {
	vm := newTestVM(t)
	sig, _, v := buildConstFunction(t)
	require.NoError(t, vm.Register(sig))
	require.NoError(t, vm.Register(v))
	_, err := vm.Compile(v.ID())
	require.NoError(t, err)

	i32 := ir.NewIntType("i32", 32)
	g := ir.NewGlobalCell("g", i32)
	require.NoError(t, vm.RegisterGlobal(g))

	blob, err := vm.EmitContext()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(blob), 4)
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(blob[0:4]))
}

func TestMakePrimordialThreadRequiresCompiledEntry(t *testing.T) {
	vm := newTestVM(t)
	_, err := vm.MakePrimordialThread(ir.ID(123), nil, 4096)
	require.Error(t, err)
}
