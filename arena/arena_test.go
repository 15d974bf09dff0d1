// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arena_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbgraph/libtcgcfg/arena"
)

func TestAllocWithinOneBlock(t *testing.T) {
	a := arena.New(arena.WithMinBlockSize(4096))
	defer a.FreeAll()

	b1 := a.Alloc(4)
	copy(b1, []byte{1, 2, 3, 4})
	b2 := a.Alloc(4)
	copy(b2, []byte{4, 3, 2, 1})

	require.Equal(t, []byte{1, 2, 3, 4}, b1, "first allocation must not be disturbed by the second")
	stats := a.Stats()
	require.EqualValues(t, 8, stats.UsedBytes)
	require.EqualValues(t, 1, stats.Blocks)
}

func TestAllocGrowsNewBlockWhenFull(t *testing.T) {
	a := arena.New(arena.WithMinBlockSize(64))
	defer a.FreeAll()

	a.Alloc(60)
	big := a.Alloc(128)
	require.Len(t, big, 128)

	stats := a.Stats()
	require.Equal(t, 2, stats.Blocks, "a request larger than the remainder of the current block must map a new one")
}

func TestAllocZeroesEvenAfterReuse(t *testing.T) {
	a := arena.New(arena.WithMinBlockSize(4096))
	defer a.FreeAll()

	b := a.Alloc(8)
	for i := range b {
		b[i] = 0xff
	}
	m := a.Mark()
	a.ResetTo(m)

	z := a.AllocZero(8)
	for _, v := range z {
		require.EqualValues(t, 0, v)
	}
}

func TestResetToRewindsOnlyPastMarker(t *testing.T) {
	a := arena.New(arena.WithMinBlockSize(4096))
	defer a.FreeAll()

	a.Alloc(16)
	m := a.Mark()
	a.Alloc(32)

	before := a.Stats()
	require.EqualValues(t, 48, before.UsedBytes)

	a.ResetTo(m)
	after := a.Stats()
	require.EqualValues(t, 16, after.UsedBytes, "ResetTo must rewind to exactly the marked offset")

	// allocating again should reuse the same (still-mapped) block, not
	// grow the chain.
	a.Alloc(8)
	require.Equal(t, before.Blocks, a.Stats().Blocks)
}

func TestResetRewindsToEmpty(t *testing.T) {
	a := arena.New(arena.WithMinBlockSize(4096))
	defer a.FreeAll()

	a.Alloc(100)
	a.Reset()
	require.EqualValues(t, 0, a.Stats().UsedBytes)
}

func TestMarkerFromOtherArenaPanics(t *testing.T) {
	a1 := arena.New()
	a2 := arena.New()
	defer a1.FreeAll()
	defer a2.FreeAll()

	a1.Alloc(8)
	m := a1.Mark()

	require.Panics(t, func() { a2.ResetTo(m) })
}

func TestMultiBlockChainSpansBlocksAcrossResets(t *testing.T) {
	a := arena.New(arena.WithMinBlockSize(64))
	defer a.FreeAll()

	a.Alloc(50)
	a.Alloc(50) // forces a second block
	require.Equal(t, 2, a.Stats().Blocks)

	a.Reset()
	require.EqualValues(t, 0, a.Stats().UsedBytes)
	require.Equal(t, 2, a.Stats().Blocks, "Reset keeps mapped blocks for reuse rather than unmapping")
}

func TestPairIsTwoIndependentArenas(t *testing.T) {
	p := arena.NewPair(arena.WithMinBlockSize(4096))
	defer p.FreeAll()

	p.Persistent.Alloc(16)
	require.EqualValues(t, 0, p.Temporary.Stats().UsedBytes)
}
