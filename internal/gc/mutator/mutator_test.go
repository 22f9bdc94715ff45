package mutator

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mu-vm/muvm/internal/gc/immix"
	"github.com/mu-vm/muvm/internal/gc/lospace"
	"github.com/mu-vm/muvm/internal/objmodel"
)

func newTestMutator(t *testing.T, immixBytes uint64) (*Mutator, *immix.Space) {
	t.Helper()
	sp, err := immix.New(immixBytes)
	require.NoError(t, err)
	lo := lospace.New(0)
	interner := objmodel.NewInterner()
	var flag atomic.Bool
	parked := false
	m := New(sp, lo, interner, &flag, func() { parked = true })
	_ = parked
	return m, sp
}

func TestAllocFastPathBumpsCursor(t *testing.T) {
	m, _ := newTestMutator(t, 4*immix.BlockSize)
	interner := objmodel.NewInterner()
	desc := interner.Intern(24, 8, nil, 0)

	a1, err := m.Alloc(24, 8)
	require.NoError(t, err)
	require.False(t, a1.IsZero())
	m.InitObject(a1, desc)

	a2, err := m.Alloc(24, 8)
	require.NoError(t, err)
	require.Greater(t, a2.Diff(a1), int64(0))
}

func TestAllocRoutesLargeObjectsToLOS(t *testing.T) {
	m, _ := newTestMutator(t, immix.BlockSize)
	big := uintptr(immix.MaxSmallObject + 1000)
	a, err := m.Alloc(big, 8)
	require.NoError(t, err)
	require.False(t, a.IsZero())
}

func TestAllocRefillsAcrossBlocks(t *testing.T) {
	m, _ := newTestMutator(t, 2*immix.BlockSize)
	var last = m
	_ = last
	// Allocate enough small objects to exhaust one block's lines: each
	// takes 80 bytes with its header, so 512 of them overflow 32 KiB.
	n := immix.LinesPerBlock * 4
	for i := 0; i < n; i++ {
		_, err := m.Alloc(64, 8)
		require.NoError(t, err)
	}
}

func TestYieldpointParksWhenFlagSet(t *testing.T) {
	sp, err := immix.New(immix.BlockSize)
	require.NoError(t, err)
	lo := lospace.New(0)
	interner := objmodel.NewInterner()
	var flag atomic.Bool
	parked := false
	m := New(sp, lo, interner, &flag, func() { parked = true })

	m.Yieldpoint()
	require.False(t, parked)

	flag.Store(true)
	m.Yieldpoint()
	require.True(t, parked)
}

func TestDestroyMarksInactive(t *testing.T) {
	m, _ := newTestMutator(t, immix.BlockSize)
	require.False(t, m.Destroyed())
	m.Destroy()
	require.True(t, m.Destroyed())
}
