package objmodel

import (
	"testing"
	"unsafe"

	"github.com/mu-vm/muvm/internal/maddr"
	"github.com/stretchr/testify/require"
)

func addressOfSlice(b []byte) maddr.Address {
	return maddr.FromPointer(unsafe.Pointer(&b[0]))
}

func TestHeaderRoundTrip(t *testing.T) {
	in := NewInterner()
	desc := in.Intern(24, 8, []uintptr{0, 8}, 0)

	buf := make([]byte, HeaderSize+24)
	payload := addressOfSlice(buf[HeaderSize:])

	WriteHeader(payload, desc, StateUnmarked)
	gotDesc, gotState := ReadHeader(payload)
	require.Same(t, desc, gotDesc)
	require.Equal(t, StateUnmarked, gotState)

	SetState(payload, StateMarked)
	_, gotState = ReadHeader(payload)
	require.Equal(t, StateMarked, gotState)
}

func TestInternerDedup(t *testing.T) {
	in := NewInterner()
	a := in.Intern(16, 8, []uintptr{0}, 0)
	b := in.Intern(16, 8, []uintptr{0}, 0)
	c := in.Intern(16, 8, []uintptr{8}, 0)
	require.Same(t, a, b)
	require.NotSame(t, a, c)
}

func TestEncodeDecodeIsIdentity(t *testing.T) {
	in := NewInterner()
	for _, shape := range [][2]int{{8, 8}, {24, 16}, {4096, 32}} {
		d := in.Intern(uintptr(shape[0]), uintptr(shape[1]), []uintptr{0}, 0)
		buf := make([]byte, HeaderSize+shape[0])
		payload := addressOfSlice(buf[HeaderSize:])
		WriteHeader(payload, d, StateUnmarked)
		got, _ := ReadHeader(payload)
		require.Equal(t, d, got)
	}
}
