// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x86_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbgraph/libtcgcfg/ir"
	"github.com/tbgraph/libtcgcfg/lifter"
	"github.com/tbgraph/libtcgcfg/lifter/x86"
)

func TestArchInfoReportsDistinctOffsets(t *testing.T) {
	a := x86.New()
	info := a.ArchInfo()
	require.Equal(t, 8, info.WordSize)
	require.False(t, info.IsARM)
	require.NotEqual(t, info.PCOffset, info.SPOffset)
	require.NotEqual(t, info.SPOffset, info.BPOffset)
}

func TestTranslateMovRegToReg(t *testing.T) {
	// 48 89 d8 = mov rax, rbx
	code := []byte{0x48, 0x89, 0xd8}
	a := x86.New()
	blk, _, err := a.TranslateBlock(code, len(code), 0x1000, 0)
	require.NoError(t, err)
	require.Greater(t, blk.InstructionCount(), 0)

	found := false
	for i := 0; i < blk.InstructionCount(); i++ {
		inst := blk.Instruction(i)
		if inst.Op == ir.OpMovI64 && len(inst.Outputs) == 1 && len(inst.Inputs) == 1 {
			found = true
		}
	}
	require.True(t, found, "expected a mov_i64 between two globals")
}

func TestTranslatePushAdjustsStackPointer(t *testing.T) {
	// 55 = push rbp
	code := []byte{0x55}
	a := x86.New()
	blk, _, err := a.TranslateBlock(code, len(code), 0x1000, 0)
	require.NoError(t, err)

	var sawSub, sawStore bool
	for i := 0; i < blk.InstructionCount(); i++ {
		inst := blk.Instruction(i)
		switch inst.Op {
		case ir.OpSubI64:
			sawSub = true
		case ir.OpQemuSt64A64:
			sawStore = true
		}
	}
	require.True(t, sawSub, "push must adjust sp")
	require.True(t, sawStore, "push must store the register")
}

func TestTranslateRetIsIndirectPCWrite(t *testing.T) {
	// c3 = ret
	code := []byte{0xc3}
	a := x86.New()
	info := a.ArchInfo()
	blk, _, err := a.TranslateBlock(code, len(code), 0x1000, 0)
	require.NoError(t, err)

	last := blk.Instruction(blk.InstructionCount() - 1)
	require.Equal(t, ir.OpExitTB, last.Op)

	var pcWrite *ir.Instruction
	for i := 0; i < blk.InstructionCount(); i++ {
		inst := blk.Instruction(i)
		if len(inst.Outputs) == 1 && inst.Outputs[0].Kind == ir.TempGlobal && inst.Outputs[0].MemOffset == info.PCOffset {
			pcWrite = &inst
		}
	}
	require.NotNil(t, pcWrite, "ret must write the PC global")
	require.NotEqual(t, ir.TempConstant, pcWrite.Inputs[0].Kind, "ret's PC-write must be indirect")
}

func TestTranslateConditionalJumpProducesTwoPCWrites(t *testing.T) {
	// 74 05 = je +5
	code := []byte{0x74, 0x05}
	a := x86.New()
	info := a.ArchInfo()
	blk, _, err := a.TranslateBlock(code, len(code), 0x1000, 0)
	require.NoError(t, err)

	pcWrites := 0
	exits := 0
	for i := 0; i < blk.InstructionCount(); i++ {
		inst := blk.Instruction(i)
		if inst.Op == ir.OpExitTB {
			exits++
		}
		if len(inst.Outputs) == 1 && inst.Outputs[0].Kind == ir.TempGlobal && inst.Outputs[0].MemOffset == info.PCOffset {
			pcWrites++
			require.Equal(t, ir.TempConstant, inst.Inputs[0].Kind)
		}
	}
	require.Equal(t, 2, pcWrites)
	require.Equal(t, 2, exits)
}

func TestTranslateCallDoesNotTerminateBlock(t *testing.T) {
	// e8 00 00 00 00 = call +0, followed by c3 = ret
	code := []byte{0xe8, 0x00, 0x00, 0x00, 0x00, 0xc3}
	a := x86.New()
	blk, _, err := a.TranslateBlock(code, len(code), 0x1000, 0)
	require.NoError(t, err)

	var sawCall bool
	for i := 0; i < blk.InstructionCount(); i++ {
		if blk.Instruction(i).Op == ir.OpCall {
			sawCall = true
		}
	}
	require.True(t, sawCall)
	last := blk.Instruction(blk.InstructionCount() - 1)
	require.Equal(t, ir.OpExitTB, last.Op, "translation must continue past the call into the ret")
}

func TestHelperInfoDirectVsIndirect(t *testing.T) {
	a := x86.New()

	direct := ir.Instruction{Op: ir.OpCall, Constants: []int64{0x2000}}
	h, err := a.HelperInfo(direct)
	require.NoError(t, err)
	require.Equal(t, "sub_2000", h.FuncName)
	require.False(t, h.NoWriteGlobalsSet())

	indirect := ir.Instruction{Op: ir.OpCall, Inputs: []ir.Temp{{Kind: ir.TempGlobal}}}
	h2, err := a.HelperInfo(indirect)
	require.NoError(t, err)
	require.Equal(t, "indirect_call", h2.FuncName)

	_, err = a.HelperInfo(ir.Instruction{Op: ir.OpMovI64})
	require.Error(t, err)
}

func TestTranslateBlockRespectsMaxLen(t *testing.T) {
	// two "push rbp" back to back; maxLen limits translation to the first.
	code := []byte{0x55, 0x55}
	a := x86.New()
	blk, consumed, err := a.TranslateBlock(code, 1, 0x1000, 0)
	require.NoError(t, err)
	require.Equal(t, 1, consumed, "maxLen must cap how many bytes are consumed")

	for i := 0; i < blk.InstructionCount(); i++ {
		if blk.Instruction(i).Op == ir.OpInsnStart {
			require.Equal(t, uint64(0x1000), blk.Instruction(i).GuestAddr())
		}
	}
}

var _ lifter.Adapter = x86.New()
