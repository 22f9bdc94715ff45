//go:build amd64

package nativecall

// callNative6 calls entry(a0, a1, a2, a3, a4, a5) using the System V
// amd64 integer calling convention and returns its RAX value. Implemented
// in call_amd64.s.
//
//go:noescape
func callNative6(entry uintptr, a0, a1, a2, a3, a4, a5 uint64) uint64
