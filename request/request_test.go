// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package request_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbgraph/libtcgcfg/ir"
	"github.com/tbgraph/libtcgcfg/lifter/x86"
	"github.com/tbgraph/libtcgcfg/request"
)

func TestRunLiftsStraightLineRegion(t *testing.T) {
	// 55            push rbp
	// 48 89 d8      mov rax, rbx
	// c3            ret
	code := []byte{0x55, 0x48, 0x89, 0xd8, 0xc3}

	res, err := request.Run(x86.New(), request.Region{Bytes: code, GuestAddr: 0x1000}, request.Options{})
	require.NoError(t, err)
	defer res.Arena.FreeAll()

	require.Len(t, res.Blocks, 1)
	require.False(t, res.Feed.StackAnalyzed)
	require.Greater(t, res.Blocks[0].InstructionCount(), 0)
}

func TestRunContinuesPastUnloweredOpcode(t *testing.T) {
	// 0f 0b is UD2, an opcode this adapter decodes but doesn't lower,
	// followed by a valid "ret" (0xc3). UD2 contributes no IR, and lifting
	// must carry on past it rather than abort the whole region.
	code := []byte{0x0f, 0x0b, 0xc3}

	res, err := request.Run(x86.New(), request.Region{Bytes: code, GuestAddr: 0x1000}, request.Options{})
	require.NoError(t, err)
	defer res.Arena.FreeAll()

	require.NotEmpty(t, res.Blocks)
	found := false
	for _, blk := range res.Blocks {
		for i := 0; i < blk.InstructionCount(); i++ {
			if blk.Instruction(i).Op == ir.OpExitTB {
				found = true
			}
		}
	}
	require.True(t, found, "the ret after the bad opcode must still be lifted")
}

func TestRunMaxStackAnnotatesBlocks(t *testing.T) {
	// 55            push rbp
	// c3            ret
	code := []byte{0x55, 0xc3}

	res, err := request.Run(x86.New(), request.Region{Bytes: code, GuestAddr: 0x1000}, request.Options{RunMaxStack: true})
	require.NoError(t, err)
	defer res.Arena.FreeAll()

	require.True(t, res.Feed.StackAnalyzed)
	require.NotEmpty(t, res.Blocks)
	require.NotNil(t, res.Blocks[0].StackState)
}

func TestRunQueryResolvesSourceTree(t *testing.T) {
	// 48 89 d8      mov rax, rbx
	// c3            ret
	code := []byte{0x48, 0x89, 0xd8, 0xc3}

	res, err := request.Run(x86.New(), request.Region{Bytes: code, GuestAddr: 0x1000}, request.Options{
		Query: &request.QuerySpec{GuestAddr: 0x1000, InstOffset: 1, OperandIndex: 1},
	})
	require.NoError(t, err)
	defer res.Arena.FreeAll()

	require.NotNil(t, res.Feed.QueryTree)
}

func TestRunQueryRejectsOutputOperandIndex(t *testing.T) {
	code := []byte{0x48, 0x89, 0xd8, 0xc3}

	_, err := request.Run(x86.New(), request.Region{Bytes: code, GuestAddr: 0x1000}, request.Options{
		Query: &request.QuerySpec{GuestAddr: 0x1000, InstOffset: 1, OperandIndex: 0},
	})
	require.Error(t, err)
}

func TestRunQueryRejectsUnknownGuestAddr(t *testing.T) {
	code := []byte{0xc3}

	_, err := request.Run(x86.New(), request.Region{Bytes: code, GuestAddr: 0x1000}, request.Options{
		Query: &request.QuerySpec{GuestAddr: 0x5000, InstOffset: 0, OperandIndex: 0},
	})
	require.Error(t, err)
}
