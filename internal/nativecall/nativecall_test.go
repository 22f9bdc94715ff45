package nativecall

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallReturnsConstant(t *testing.T) {
	// mov eax, 42; ret
	code := []byte{0xb8, 0x2a, 0x00, 0x00, 0x00, 0xc3}
	r, err := Map(code)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, uint64(42), r.Call())
}

func TestCallPassesFirstArgumentThrough(t *testing.T) {
	// mov eax, edi; ret  (identity on the first SysV integer argument)
	code := []byte{0x89, 0xf8, 0xc3}
	r, err := Map(code)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, uint64(17), r.Call(17))
}

func TestMapRejectsEmptyCode(t *testing.T) {
	_, err := Map(nil)
	require.Error(t, err)
}
