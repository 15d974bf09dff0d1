// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbgraph/libtcgcfg/ir"
	"github.com/tbgraph/libtcgcfg/render"
)

func TestFormatInstructionRendersOperands(t *testing.T) {
	inst := ir.Instruction{
		Op:      ir.OpSubI64,
		Outputs: []ir.Temp{{Kind: ir.TempGlobal, MemOffset: 100}},
		Inputs:  []ir.Temp{{Kind: ir.TempGlobal, MemOffset: 100}, {Kind: ir.TempConstant, Value: 8}},
	}
	require.Equal(t, "g100 = sub_i64 g100, $8", render.FormatInstruction(inst))
}

func TestStackMagnitudeLabel(t *testing.T) {
	require.Equal(t, "?", render.StackMagnitudeLabel(ir.Top))
	require.Equal(t, "0", render.StackMagnitudeLabel(ir.Bottom))
	require.Equal(t, "8", render.StackMagnitudeLabel(ir.StackMagnitude(8)))
}

func TestDumpIRWritesOneLinePerInstruction(t *testing.T) {
	blk := ir.NewBlock(0x1000, []ir.Instruction{
		{Op: ir.OpInsnStart, Constants: []int64{0x1000}},
		{Op: ir.OpExitTB},
	}, 0, 2)
	feed := render.NewFeed([]*ir.Block{blk})

	var buf bytes.Buffer
	require.NoError(t, render.DumpIR(feed, &buf))
	require.Contains(t, buf.String(), "block 0x1000:")
	require.Contains(t, buf.String(), "exit_tb")
}

func TestDumpMaxStackLabelsInsnStartRowsBare(t *testing.T) {
	blk := ir.NewBlock(0x1000, []ir.Instruction{
		{Op: ir.OpInsnStart, Constants: []int64{0x1000}},
	}, 0, 1)
	feed := render.NewFeed([]*ir.Block{blk}).WithStackAnalysis()

	var buf bytes.Buffer
	require.NoError(t, render.DumpMaxStack(feed, &buf))
	require.Contains(t, buf.String(), "r w  insn_start")
}

func TestDumpSrcTreeHandlesConstantOperand(t *testing.T) {
	root := &ir.SrcInfo{OpIndex: -1, Children: make([]ir.SrcInfoBranch, 1)}
	var buf bytes.Buffer
	require.NoError(t, render.DumpSrcTree(root, &buf))
	require.Contains(t, buf.String(), "constant operand")
}

func TestDumpSrcTreeWalksDefiningSites(t *testing.T) {
	blk := ir.NewBlock(0x1000, []ir.Instruction{
		{Op: ir.OpMovI64, Outputs: []ir.Temp{{Kind: ir.TempLocal, Index: 1}}, Inputs: []ir.Temp{{Kind: ir.TempConstant, Value: 1}}},
	}, 0, 1)
	leaf := &ir.SrcInfo{Block: blk, InstIndex: 0, OpIndex: 0, Children: []ir.SrcInfoBranch{{}}}
	root := &ir.SrcInfo{OpIndex: -1, Children: []ir.SrcInfoBranch{{Alternatives: []*ir.SrcInfo{leaf}}}}

	var buf bytes.Buffer
	require.NoError(t, render.DumpSrcTree(root, &buf))
	require.Contains(t, buf.String(), "block 0x1000[0]")
	require.Contains(t, buf.String(), "<leaf>")
}
