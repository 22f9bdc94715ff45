package asmx86

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

// decodeAll feeds b's bytes through the x86asm decoder and asserts that
// every byte is consumed by some instruction, i.e. the encoder never
// produces a byte sequence x86asm considers undecodable mid-stream.
func decodeAll(t *testing.T, b *Buffer) []x86asm.Inst {
	t.Helper()
	var insts []x86asm.Inst
	off := 0
	for off < len(b.Bytes) {
		inst, err := x86asm.Decode(b.Bytes[off:], 64)
		require.NoError(t, err, "undecodable bytes at offset %d: % x", off, b.Bytes[off:])
		require.Greater(t, inst.Len, 0)
		insts = append(insts, inst)
		off += inst.Len
	}
	return insts
}

func TestMovRegImm64Decodes(t *testing.T) {
	var b Buffer
	b.MovRegImm64(RAX, 0x123456789a)
	insts := decodeAll(t, &b)
	require.Len(t, insts, 1)
	require.Equal(t, x86asm.MOV, insts[0].Op)
}

func TestArithmeticSequenceDecodes(t *testing.T) {
	var b Buffer
	b.MovRegImm64(RAX, 5)
	b.MovRegImm64(RCX, 7)
	b.AddRR(RAX, RCX)
	b.SubRR(RAX, RCX)
	b.ImulRR(RAX, RCX)
	b.Cqo()
	b.IdivR(RCX)
	b.Ret()
	insts := decodeAll(t, &b)
	require.Len(t, insts, 8)
	require.Equal(t, x86asm.RET, insts[len(insts)-1].Op)
}

func TestPrologueEpilogueDecodes(t *testing.T) {
	var b Buffer
	b.Prologue(32)
	b.Epilogue()
	insts := decodeAll(t, &b)
	// push rbp; mov rbp,rsp; sub rsp,imm32; mov rsp,rbp; pop rbp; ret
	require.Len(t, insts, 6)
	require.Equal(t, x86asm.PUSH, insts[0].Op)
	require.Equal(t, x86asm.RET, insts[5].Op)
}

func TestCallFixupPatchesRel32(t *testing.T) {
	var b Buffer
	disp := b.CallRel32()
	b.Ret()
	targetOffset := b.Len()
	b.Nop()
	b.PatchRel32(disp, targetOffset)

	insts := decodeAll(t, &b)
	require.Equal(t, x86asm.CALL, insts[0].Op)
}

func TestLocalSlotAccessDecodes(t *testing.T) {
	var b Buffer
	b.StoreLocal(8, RAX)
	b.LoadLocal(8, RCX)
	b.LeaLocal(200, RDX) // forces disp32 form
	insts := decodeAll(t, &b)
	require.Len(t, insts, 3)
}
