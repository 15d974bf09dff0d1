// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package srctree_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tbgraph/libtcgcfg/ir"
	"github.com/tbgraph/libtcgcfg/srctree"
)

func noStackAccess(*ir.Block, int) srctree.ClassifyResult {
	return srctree.ClassifyResult{Kind: srctree.NotStackAccess}
}

func TestQueryFindsSimpleMovChain(t *testing.T) {
	// i0: mov t1, #5
	// i1: mov t2, t1
	storage := []ir.Instruction{
		{Op: ir.OpMovI64, Outputs: []ir.Temp{{Index: 1, Kind: ir.TempLocal}}, Inputs: []ir.Temp{{Index: 9, Kind: ir.TempConstant, Value: 5}}},
		{Op: ir.OpMovI64, Outputs: []ir.Temp{{Index: 2, Kind: ir.TempLocal}}, Inputs: []ir.Temp{{Index: 1, Kind: ir.TempLocal}}},
	}
	blk := ir.NewBlock(0x1000, storage, 0, 2)

	s := srctree.NewSearcher(noStackAccess)
	tree := s.Query(blk, 1, 1) // operand 1 of instr 1 = its single input
	require.Len(t, tree.Children, 1)
	require.Len(t, tree.Children[0].Alternatives, 1)
	require.Equal(t, 0, tree.Children[0].Alternatives[0].InstIndex)
}

func TestQueryMergesAcrossPredecessors(t *testing.T) {
	// pred1: i0 mov t1, #1     pred2: i0 mov t1, #2
	//              \                    /
	//               succ: i0 mov t3, t1 (merge point)
	pred1 := ir.NewBlock(0x100, []ir.Instruction{
		{Op: ir.OpMovI64, Outputs: []ir.Temp{{Index: 1, Kind: ir.TempLocal}}, Inputs: []ir.Temp{{Index: 9, Kind: ir.TempConstant, Value: 1}}},
	}, 0, 1)
	pred2 := ir.NewBlock(0x200, []ir.Instruction{
		{Op: ir.OpMovI64, Outputs: []ir.Temp{{Index: 1, Kind: ir.TempLocal}}, Inputs: []ir.Temp{{Index: 9, Kind: ir.TempConstant, Value: 2}}},
	}, 0, 1)
	succ := ir.NewBlock(0x300, []ir.Instruction{
		{Op: ir.OpMovI64, Outputs: []ir.Temp{{Index: 3, Kind: ir.TempLocal}}, Inputs: []ir.Temp{{Index: 1, Kind: ir.TempLocal}}},
	}, 0, 1)
	require.NoError(t, succ.AddPred(ir.Edge{Src: pred1, Dst: succ, Type: ir.EdgeDirect}))
	require.NoError(t, succ.AddPred(ir.Edge{Src: pred2, Dst: succ, Type: ir.EdgeDirect}))

	s := srctree.NewSearcher(noStackAccess)
	tree := s.Query(succ, 0, 1)
	require.Len(t, tree.Children[0].Alternatives, 2)
}

func TestQueryLoopDoesNotHang(t *testing.T) {
	a := ir.NewBlock(0x100, []ir.Instruction{
		{Op: ir.OpMovI64, Outputs: []ir.Temp{{Index: 1, Kind: ir.TempLocal}}, Inputs: []ir.Temp{{Index: 1, Kind: ir.TempLocal}}},
	}, 0, 1)
	// a loops back to itself.
	require.NoError(t, a.AddPred(ir.Edge{Src: a, Dst: a, Type: ir.EdgeDirect}))

	s := srctree.NewSearcher(noStackAccess)
	done := make(chan *ir.SrcInfo, 1)
	go func() { done <- s.Query(a, 0, 1) }()
	select {
	case tree := <-done:
		require.NotNil(t, tree)
	case <-time.After(2 * time.Second):
		t.Fatal("Query did not terminate on a self-referencing block")
	}
}

func TestQueryTwoBlockCycleDoesNotHang(t *testing.T) {
	// a: add t1, t1, t2   (redefines t1, a -> b)
	// b: add t1, t1, t3   (redefines t1, b -> a)
	// Every defining site found must still fan out using the accumulated
	// visited set, not a set reset to just that block, or the search
	// bounces between a and b forever.
	a := ir.NewBlock(0x100, []ir.Instruction{
		{Op: ir.OpAddI64, Outputs: []ir.Temp{{Index: 1, Kind: ir.TempLocal}}, Inputs: []ir.Temp{{Index: 1, Kind: ir.TempLocal}, {Index: 2, Kind: ir.TempLocal}}},
	}, 0, 1)
	b := ir.NewBlock(0x200, []ir.Instruction{
		{Op: ir.OpAddI64, Outputs: []ir.Temp{{Index: 1, Kind: ir.TempLocal}}, Inputs: []ir.Temp{{Index: 1, Kind: ir.TempLocal}, {Index: 3, Kind: ir.TempLocal}}},
	}, 0, 1)
	require.NoError(t, a.AddPred(ir.Edge{Src: b, Dst: a, Type: ir.EdgeDirect}))
	require.NoError(t, b.AddPred(ir.Edge{Src: a, Dst: b, Type: ir.EdgeDirect}))

	s := srctree.NewSearcher(noStackAccess)
	done := make(chan *ir.SrcInfo, 1)
	go func() { done <- s.Query(a, 0, 1) }()
	select {
	case tree := <-done:
		require.NotNil(t, tree)
	case <-time.After(2 * time.Second):
		t.Fatal("Query did not terminate on a two-block defining-site cycle")
	}
}

func TestBranchAddTruncatesPastCap(t *testing.T) {
	b := &ir.SrcInfoBranch{}
	for i := 0; i < ir.MaxBranchesPerChild+3; i++ {
		b.Add(&ir.SrcInfo{InstIndex: i})
	}
	require.Len(t, b.Alternatives, ir.MaxBranchesPerChild)
	require.True(t, b.Truncated)
}

