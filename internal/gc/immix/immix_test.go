package immix

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireBlockCarvesFreshThenReuses(t *testing.T) {
	sp, err := New(4 * BlockSize)
	require.NoError(t, err)

	b1 := sp.AcquireBlock()
	require.NotNil(t, b1)
	hole, ok := b1.FirstHole(0)
	require.True(t, ok)
	require.Equal(t, b1.Base, hole.Start)
	require.Equal(t, b1.Base.Plus(BlockSize), hole.End)

	b2 := sp.AcquireBlock()
	require.NotNil(t, b2)
	require.NotEqual(t, b1.Base, b2.Base)
}

func TestAcquireBlockExhaustion(t *testing.T) {
	sp, err := New(1 * BlockSize)
	require.NoError(t, err)
	b1 := sp.AcquireBlock()
	require.NotNil(t, b1)
	b2 := sp.AcquireBlock()
	require.Nil(t, b2)
}

func TestSweepReclaimsUnmarkedBlocks(t *testing.T) {
	sp, err := New(2 * BlockSize)
	require.NoError(t, err)

	b1 := sp.AcquireBlock()
	_ = sp.AcquireBlock() // b2, left fully unmarked too

	// Mark every line of b1 live.
	for i := 0; i < LinesPerBlock; i++ {
		sp.MarkLine(b1, b1.Base.Plus(uintptr(i*LineSize)))
	}

	reclaimed, retained := sp.Sweep()
	require.Equal(t, 1, reclaimed) // b2 fully reclaimed
	require.Equal(t, 1, retained)  // b1 fully marked, retained
}

func TestSweepProducesRecyclableHole(t *testing.T) {
	sp, err := New(1 * BlockSize)
	require.NoError(t, err)
	b := sp.AcquireBlock()

	// Mark only the first half of the lines live.
	for i := 0; i < LinesPerBlock/2; i++ {
		sp.MarkLine(b, b.Base.Plus(uintptr(i*LineSize)))
	}
	reclaimed, retained := sp.Sweep()
	require.Equal(t, 0, reclaimed)
	require.Equal(t, 1, retained)

	// The swept block comes back from the recyclable pool.
	got := sp.AcquireBlock()
	require.Same(t, b, got)
}

func TestOwnsAndBlockFor(t *testing.T) {
	sp, err := New(2 * BlockSize)
	require.NoError(t, err)
	b := sp.AcquireBlock()
	require.True(t, sp.Owns(b.Base))
	require.False(t, sp.Owns(b.Base.Minus(1)))
	require.Same(t, b, sp.BlockFor(b.Base.Plus(10)))
}
