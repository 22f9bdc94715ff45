package lospace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocCarvesFreshCellBlack(t *testing.T) {
	sp := New(0)
	c, err := sp.Alloc(4096)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, ColorBlack, c.color)
}

func TestSweepRecyclesUnreachableToFreeAndKeepsLiveWhite(t *testing.T) {
	sp := New(0)
	live, err := sp.Alloc(4096)
	require.NoError(t, err)
	dead, err := sp.Alloc(4096)
	require.NoError(t, err)

	recycled := sp.Sweep(map[*Cell]bool{live: true})
	require.Equal(t, uint64(dead.Size), recycled)
	require.Equal(t, ColorWhite, live.color)
	require.Equal(t, ColorFree, dead.color)
}

func TestAllocReusesWhiteCellBeforeGrowing(t *testing.T) {
	sp := New(0)
	c1, err := sp.Alloc(4096)
	require.NoError(t, err)
	sp.Sweep(map[*Cell]bool{c1: true}) // c1 -> white, reusable
	totalBefore := sp.total

	c2, err := sp.Alloc(100) // fits inside c1
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.Equal(t, totalBefore, sp.total) // no new backing memory grown
}

func TestAllocFailsOverCap(t *testing.T) {
	sp := New(4096)
	_, err := sp.Alloc(4096)
	require.NoError(t, err)
	c, err := sp.Alloc(4096)
	require.NoError(t, err)
	require.Nil(t, c) // exceeds maxTotal, caller must trigger GC and retry
}

func TestMarkGrayThenBlack(t *testing.T) {
	sp := New(0)
	c, err := sp.Alloc(4096)
	require.NoError(t, err)
	sp.MarkGray(c)
	require.Equal(t, ColorGray, c.color)
	sp.MarkBlack(c)
	require.Equal(t, ColorBlack, c.color)
}

func TestCellsReturnsRing(t *testing.T) {
	sp := New(0)
	c1, _ := sp.Alloc(1024)
	c2, _ := sp.Alloc(1024)
	cells := sp.Cells()
	require.ElementsMatch(t, []*Cell{c1, c2}, cells)
}
