package muthread

// SwapStack saves the current native stack pointer into t's nativeSPLoc
// slot and switches execution onto targetSP. For first entry onto a
// fresh Stack, targetSP is that Stack's Top(); to resume a previously
// suspended Mu thread, targetSP is the nativeSPLoc it last saved via a
// prior SwapStack call.
func (t *MuThread) SwapStack(targetSP uint64) {
	swapStack(&t.nativeSPLoc, targetSP)
}
