// Package asmx86 is the x86-64/System V instruction encoder used by the
// code emission stage (component M). It encodes one mnemonic at a time into
// a byte Buffer; it does not know about IR, virtual registers, or fixups —
// those live in internal/compiler/isel and internal/compiler/codegen.
//
// Encoding tables are grounded directly on the teacher's mnemonic-level
// x86-64 assembler (std/compiler/x64.go): REX-prefix computation, ModR/M
// construction, and the register-immediate/register-register/local-slot
// emitters are carried over file-for-file, generalized from a single
// CodeGen receiver into a standalone Buffer type other packages compose.
package asmx86

// Physical GPR encodings (spec §4.11/§4.12 "K = target GPR count").
const (
	RAX = 0
	RCX = 1
	RDX = 2
	RBX = 3
	RSP = 4
	RBP = 5
	RSI = 6
	RDI = 7
	R8  = 8
	R9  = 9
	R10 = 10
	R11 = 11
	R12 = 12
	R13 = 13
	R14 = 14
	R15 = 15
)

// NumGPR is the number of general-purpose registers available to the
// allocator as colors, excluding RSP/RBP which are reserved for the frame.
const NumGPR = 14

// GPROrder maps an allocator color index (0..NumGPR-1) to its physical
// register encoding, skipping RSP/RBP so a color can never alias the frame
// pointer or stack pointer (component L assigns colors as plain small
// integers; this table is where they become real registers).
var GPROrder = [NumGPR]int{RAX, RCX, RDX, RBX, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15}

// ArgRegs lists the System V AMD64 integer/pointer argument registers in
// order, grounded on the teacher's hardcoded REG_RDI/REG_RSI call-site
// wiring (std/compiler/backend_linux_x64.go). Only the first 6 integer
// arguments are supported; stack-passed arguments are out of scope.
var ArgRegs = [6]int{RDI, RSI, RDX, RCX, R8, R9}

// Condition codes for Jcc/SETcc, values are the second opcode byte of the
// two-byte 0F 8x family.
const (
	CondE  = 0x84 // equal / zero
	CondNE = 0x85 // not equal / not zero
	CondL  = 0x8C // less (signed)
	CondGE = 0x8D // greater or equal (signed)
	CondLE = 0x8E // less or equal (signed)
	CondG  = 0x8F // greater (signed)
	CondAE = 0x83 // above or equal (unsigned) / not carry
	CondB  = 0x82 // below (unsigned) / carry
	CondA  = 0x87 // above (unsigned)
	CondBE = 0x86 // below or equal (unsigned)
	CondNS = 0x89 // not sign
)

// Buffer accumulates encoded machine-code bytes for one function.
type Buffer struct {
	Bytes []byte
}

func (b *Buffer) emit(bs ...byte) {
	b.Bytes = append(b.Bytes, bs...)
}

func (b *Buffer) emitU32(v uint32) {
	b.emit(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (b *Buffer) emitU64(v uint64) {
	b.emitU32(uint32(v))
	b.emitU32(uint32(v >> 32))
}

// Len returns the current buffer length, used by callers computing label
// and fixup offsets.
func (b *Buffer) Len() int { return len(b.Bytes) }

// rexRR computes the REX prefix for a 64-bit reg-reg operation, where dst
// contributes REX.R and src contributes REX.B (Intel operand order quirk
// carried verbatim from the teacher's rexRR).
func rexRR(dst, src int) byte {
	rex := byte(0x48)
	if dst >= 8 {
		rex |= 0x04
	}
	if src >= 8 {
		rex |= 0x01
	}
	return rex
}

func modrmRR(dst, src int) byte {
	return byte(0xc0 | ((dst & 7) << 3) | (src & 7))
}

// MovRegImm64 emits `movabs reg, imm64`.
func (b *Buffer) MovRegImm64(reg int, val uint64) {
	rex := byte(0x48)
	if reg >= 8 {
		rex = 0x49
	}
	b.emit(rex, byte(0xb8+(reg&7)))
	b.emitU64(val)
}

// LoadLocal emits `mov reg, [rbp - offset]`.
func (b *Buffer) LoadLocal(offset int, reg int) {
	b.rbpRelative(0x8b, offset, reg)
}

// StoreLocal emits `mov [rbp - offset], reg`.
func (b *Buffer) StoreLocal(offset int, reg int) {
	b.rbpRelative(0x89, offset, reg)
}

// LeaLocal emits `lea reg, [rbp - offset]`.
func (b *Buffer) LeaLocal(offset int, reg int) {
	b.rbpRelative(0x8d, offset, reg)
}

func (b *Buffer) rbpRelative(opcode byte, offset int, reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex = 0x4c
	}
	modrm := byte(0x45 | ((reg & 7) << 3))
	negOff := -offset
	if negOff >= -128 && negOff <= 127 {
		b.emit(rex, opcode, modrm, byte(negOff))
		return
	}
	modrm = byte(0x85 | ((reg & 7) << 3))
	b.emit(rex, opcode, modrm)
	b.emitU32(uint32(int32(negOff)))
}

// LoadMem emits `mov dst, [addrReg]` (register-indirect, zero displacement).
func (b *Buffer) LoadMem(dst, addrReg int) {
	b.regIndirect(0x8b, addrReg, dst)
}

// StoreMem emits `mov [addrReg], src` (register-indirect, zero displacement).
func (b *Buffer) StoreMem(addrReg, src int) {
	b.regIndirect(0x89, addrReg, src)
}

// regIndirect emits a ModR/M `[addrReg]` memory operand addressed by reg,
// using a disp8 of 0 rather than mod=00 so RBP/R13 bases never get
// misencoded as RIP-relative; RSP/R12 bases additionally require a SIB
// byte since r/m=100 always signals "SIB follows" regardless of mod.
func (b *Buffer) regIndirect(opcode byte, addrReg int, reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x04
	}
	if addrReg >= 8 {
		rex |= 0x01
	}
	modrm := byte(0x40 | ((reg & 7) << 3) | (addrReg & 7))
	b.emit(rex, opcode, modrm)
	if addrReg&7 == 4 {
		b.emit(0x24) // SIB: scale=00, index=none, base=addrReg
	}
	b.emit(0x00) // disp8 = 0
}

// PushR emits `push reg`.
func (b *Buffer) PushR(reg int) {
	if reg >= 8 {
		b.emit(0x41, byte(0x50+(reg&7)))
	} else {
		b.emit(byte(0x50 + reg))
	}
}

// PopR emits `pop reg`.
func (b *Buffer) PopR(reg int) {
	if reg >= 8 {
		b.emit(0x41, byte(0x58+(reg&7)))
	} else {
		b.emit(byte(0x58 + reg))
	}
}

// MovRR emits `mov dst, src`.
func (b *Buffer) MovRR(dst, src int) { b.emit(rexRR(src, dst), 0x89, modrmRR(src, dst)) }

// AddRR emits `add dst, src`.
func (b *Buffer) AddRR(dst, src int) { b.emit(rexRR(src, dst), 0x01, modrmRR(src, dst)) }

// SubRR emits `sub dst, src`.
func (b *Buffer) SubRR(dst, src int) { b.emit(rexRR(src, dst), 0x29, modrmRR(src, dst)) }

// AndRR emits `and dst, src`.
func (b *Buffer) AndRR(dst, src int) { b.emit(rexRR(src, dst), 0x21, modrmRR(src, dst)) }

// OrRR emits `or dst, src`.
func (b *Buffer) OrRR(dst, src int) { b.emit(rexRR(src, dst), 0x09, modrmRR(src, dst)) }

// XorRR emits `xor dst, src`.
func (b *Buffer) XorRR(dst, src int) { b.emit(rexRR(src, dst), 0x31, modrmRR(src, dst)) }

// CmpRR emits `cmp a, b`.
func (b *Buffer) CmpRR(a, bb int) { b.emit(rexRR(bb, a), 0x39, modrmRR(bb, a)) }

// TestRR emits `test a, b`.
func (b *Buffer) TestRR(a, bb int) { b.emit(rexRR(bb, a), 0x85, modrmRR(bb, a)) }

// SetccR emits `setcc reg[0:8]` followed by `movzx reg, reg[0:8]`, leaving
// the full 0/1 result in reg rather than just its low byte, per the
// teacher's convention of always operating on full 64-bit GPR values.
func (b *Buffer) SetccR(cond byte, reg int) {
	rex := byte(0x40)
	if reg >= 8 {
		rex |= 0x41
	}
	b.emit(rex, 0x0f, byte(0x90|(cond&0x0f)), byte(0xc0|(reg&7)))
	rexMov := byte(0x48)
	if reg >= 8 {
		rexMov = 0x4d
	}
	b.emit(rexMov, 0x0f, 0xb6, byte(0xc0|((reg&7)<<3)|(reg&7)))
}

// ImulRR emits `imul dst, src` (two-byte opcode 0F AF).
func (b *Buffer) ImulRR(dst, src int) { b.emit(rexRR(dst, src), 0x0f, 0xaf, modrmRR(dst, src)) }

// NegR emits `neg reg`.
func (b *Buffer) NegR(reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	b.emit(rex, 0xf7, byte(0xd8|(reg&7)))
}

// Cqo emits `cqo` (sign-extend rax into rdx:rax, for idiv).
func (b *Buffer) Cqo() { b.emit(0x48, 0x99) }

// IdivR emits `idiv reg` (signed divide rdx:rax by reg).
func (b *Buffer) IdivR(reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	b.emit(rex, 0xf7, byte(0xf8|(reg&7)))
}

// Ret emits `ret`.
func (b *Buffer) Ret() { b.emit(0xc3) }

// Nop emits a single-byte `nop`.
func (b *Buffer) Nop() { b.emit(0x90) }

// CallRel32 emits `call rel32` with a placeholder displacement of 0 and
// returns the byte offset of the 4-byte displacement field, for the
// caller to patch once the target is known (mirrors the teacher's
// CallFixup/patchRel32At split).
func (b *Buffer) CallRel32() (dispOffset int) {
	b.emit(0xe8)
	dispOffset = b.Len()
	b.emitU32(0)
	return dispOffset
}

// JmpRel32 emits an unconditional near jump with a placeholder rel32.
func (b *Buffer) JmpRel32() (dispOffset int) {
	b.emit(0xe9)
	dispOffset = b.Len()
	b.emitU32(0)
	return dispOffset
}

// JccRel32 emits a conditional near jump (0F 8x) with a placeholder rel32.
func (b *Buffer) JccRel32(cond byte) (dispOffset int) {
	b.emit(0x0f, cond)
	dispOffset = b.Len()
	b.emitU32(0)
	return dispOffset
}

// PatchRel32 patches a 4-byte rel32 field at dispOffset so that it points
// from the instruction following the field to targetOffset.
func (b *Buffer) PatchRel32(dispOffset int, targetOffset int) {
	rel := int32(targetOffset - (dispOffset + 4))
	b.Bytes[dispOffset] = byte(rel)
	b.Bytes[dispOffset+1] = byte(rel >> 8)
	b.Bytes[dispOffset+2] = byte(rel >> 16)
	b.Bytes[dispOffset+3] = byte(rel >> 24)
}

// Prologue emits the standard System V frame setup: push rbp; mov rbp,
// rsp; sub rsp, frameSize.
func (b *Buffer) Prologue(frameSize int) {
	b.PushR(RBP)
	b.MovRR(RBP, RSP)
	if frameSize > 0 {
		b.subRSPImm32(uint32(frameSize))
	}
}

// Epilogue emits `mov rsp, rbp; pop rbp; ret`.
func (b *Buffer) Epilogue() {
	b.MovRR(RSP, RBP)
	b.PopR(RBP)
	b.Ret()
}

func (b *Buffer) subRSPImm32(v uint32) {
	b.emit(0x48, 0x81, 0xec)
	b.emitU32(v)
}
