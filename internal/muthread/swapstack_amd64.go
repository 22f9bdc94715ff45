//go:build amd64

package muthread

// swapStack saves the current callee-saved registers and stack pointer,
// switches RSP to newSP, then restores the callee-saved registers found
// there and returns — control resumes wherever that stack last called
// swapStack from (or a bootstrap trampoline frame NewStack's caller
// prepared for a never-yet-run stack). Implemented in
// swapstack_amd64.s.
//
// Clobbers: none visible to the Go caller (all Go-ABI caller-saved
// registers are the compiler's to clobber as usual; AX and BX are used as
// scratch across the switch). Preserves: BP, R12, R13, R14, R15 across
// the switch by construction (they are pushed/popped around it), even
// though the *values* resumed belong to whichever stack execution
// returns to.
//
//go:noescape
func swapStack(save *uint64, newSP uint64)
