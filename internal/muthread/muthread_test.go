package muthread

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/mu-vm/muvm/internal/compiler/codegen"
	"github.com/mu-vm/muvm/internal/maddr"
)

func TestThreadLocalOffsetsObserveFieldWrites(t *testing.T) {
	th := BindCurrentThread(nil)
	defer UnbindCurrentThread()

	base := th.Address()
	maddr.Store[uint64](base.Plus(ExceptionObjOffset), ^uint64(0))
	require.Equal(t, ^uint64(0), th.ExceptionObj())

	maddr.Store[uint64](base.Plus(UserTLSOffset), 0x1234)
	require.Equal(t, uint64(0x1234), th.UserTLS())
}

func TestBindCurrentThreadIsRetrievableAndUnbindable(t *testing.T) {
	th := BindCurrentThread(nil)
	require.Same(t, th, CurrentThread())
	UnbindCurrentThread()
	require.Nil(t, CurrentThread())
}

func TestOffsetsAreMonotonicAndWithinStructSize(t *testing.T) {
	require.Less(t, AllocatorOffset, NativeSPLocOffset)
	require.Less(t, NativeSPLocOffset, UserTLSOffset)
	require.Less(t, UserTLSOffset, ExceptionObjOffset)
	require.Less(t, ExceptionObjOffset, unsafe.Sizeof(MuThread{}))
}

func TestNewStackSizesAndAlignsTop(t *testing.T) {
	s, err := NewStack(4096 * 4)
	require.NoError(t, err)
	require.Equal(t, uintptr(4096*4), s.Size())
	require.Equal(t, s.Base().Plus(s.Size()), s.Top())
}

func TestNewStackRoundsUpToPage(t *testing.T) {
	s, err := NewStack(1)
	require.NoError(t, err)
	require.Equal(t, uintptr(4096), s.Size())
}

func TestUnwindFindsLandingPadInOuterFrame(t *testing.T) {
	inner := &codegen.CompiledFunction{Name: "inner"}
	outer := &codegen.CompiledFunction{
		Name: "outer",
		Exceptions: []codegen.ExceptionTableEntry{
			{StartOffset: 10, EndOffset: 20, LandingPadOffset: 100},
		},
	}
	frames := []Frame{
		{Func: inner, ReturnOffset: 5},
		{Func: outer, ReturnOffset: 15},
	}
	f, pad, err := Unwind(frames)
	require.NoError(t, err)
	require.Equal(t, outer, f.Func)
	require.Equal(t, 100, pad)
}

func TestUnwindReportsUncaughtWhenNoFrameMatches(t *testing.T) {
	frames := []Frame{{Func: &codegen.CompiledFunction{}, ReturnOffset: 0}}
	_, _, err := Unwind(frames)
	require.Error(t, err)
}

func TestStackMapAtFindsCallSiteEntry(t *testing.T) {
	fn := &codegen.CompiledFunction{
		StackMaps: []codegen.StackMapEntry{
			{ReturnOffset: 42, RefOffsets: []int{8, 16}},
		},
	}
	offs := StackMapAt(Frame{Func: fn, ReturnOffset: 42})
	require.Equal(t, []int{8, 16}, offs)
}
