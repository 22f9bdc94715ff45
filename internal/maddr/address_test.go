package maddr

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestAlignUpIdempotent(t *testing.T) {
	for _, a := range []uintptr{4, 8, 16, 32, 256} {
		for _, x := range []uintptr{0, 1, 3, 7, 15, 255, 4096, 100003} {
			once := AlignUp(x, a)
			twice := AlignUp(once, a)
			require.Equal(t, once, twice, "align_up not idempotent for x=%d a=%d", x, a)
			if x%a == 0 {
				require.Equal(t, x, once)
			} else {
				require.NotEqual(t, x, once)
			}
		}
	}
}

func TestAddressAlignUp(t *testing.T) {
	a := Address(13)
	require.Equal(t, Address(16), a.AlignUp(8))
	require.Equal(t, Address(16), a.AlignUp(8).AlignUp(8))
}

func TestDiff(t *testing.T) {
	a := Address(100)
	b := Address(40)
	require.Equal(t, int64(60), a.Diff(b))
	require.Equal(t, int64(-60), b.Diff(a))
}

func TestIsPowerOfTwo(t *testing.T) {
	cases := []struct {
		x    uintptr
		log2 uint
		ok   bool
	}{
		{0, 0, false},
		{1, 0, true},
		{2, 1, true},
		{3, 0, false},
		{4, 2, true},
		{32 * 1024, 15, true},
		{1000, 0, false},
	}
	for _, c := range cases {
		log2, ok := IsPowerOfTwo(c.x)
		require.Equal(t, c.ok, ok, "x=%d", c.x)
		if c.ok {
			require.Equal(t, c.log2, log2, "x=%d", c.x)
		}
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	var buf [8]byte
	a := FromPointer(unsafe.Pointer(&buf))
	Store[uint64](a, 0xdeadbeefcafebabe)
	require.Equal(t, uint64(0xdeadbeefcafebabe), Load[uint64](a))

	Store[uint32](a, 0x11223344)
	require.Equal(t, uint32(0x11223344), Load[uint32](a))
}

func TestMax(t *testing.T) {
	require.Equal(t, Address(10), Address(3).Max(Address(10)))
	require.Equal(t, Address(10), Address(10).Max(Address(3)))
}

func TestIsZero(t *testing.T) {
	require.True(t, Zero.IsZero())
	require.False(t, Address(1).IsZero())
}
