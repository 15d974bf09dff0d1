// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package x86 is the one concrete lifter.Adapter this repo ships (spec.md
// §4.2): it decodes a representative subset of x86-64 (mov/add/sub between
// registers, immediates and simple base+displacement memory operands,
// push/pop, lea, call/ret/jmp/jcc) into the IR described in package ir.
// It exists so the rest of the system — the CFG builder, the folder, the
// fixpoint, the CLI — has something real to drive end to end; a production
// lifter is the external collaborator spec.md §1 treats as out of scope.
//
// The decode loop's shape (a position cursor advancing by each decoded
// instruction's length, stopping clean at the first undecodable byte) is
// grounded on the teacher's disasm.Disassembly walk (disasm/disasm.go).
package x86

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/tbgraph/libtcgcfg/ir"
	"github.com/tbgraph/libtcgcfg/lifter"
)

// canonical64 maps every register form this adapter recognizes to its
// 64-bit parent. Sub-32-bit register widths are out of scope for a
// reference adapter (see DESIGN.md); an instruction using an 8/16-bit
// register form emits no IR beyond its insn_start, the same way an
// unrecognized opcode does, and translation continues with the next
// instruction.
var canonical64 = map[x86asm.Reg]x86asm.Reg{
	x86asm.EAX: x86asm.RAX, x86asm.RAX: x86asm.RAX,
	x86asm.ECX: x86asm.RCX, x86asm.RCX: x86asm.RCX,
	x86asm.EDX: x86asm.RDX, x86asm.RDX: x86asm.RDX,
	x86asm.EBX: x86asm.RBX, x86asm.RBX: x86asm.RBX,
	x86asm.ESP: x86asm.RSP, x86asm.RSP: x86asm.RSP,
	x86asm.EBP: x86asm.RBP, x86asm.RBP: x86asm.RBP,
	x86asm.ESI: x86asm.RSI, x86asm.RSI: x86asm.RSI,
	x86asm.EDI: x86asm.RDI, x86asm.RDI: x86asm.RDI,
	x86asm.R8L: x86asm.R8, x86asm.R8: x86asm.R8,
	x86asm.R9L: x86asm.R9, x86asm.R9: x86asm.R9,
	x86asm.R10L: x86asm.R10, x86asm.R10: x86asm.R10,
	x86asm.R11L: x86asm.R11, x86asm.R11: x86asm.R11,
	x86asm.R12L: x86asm.R12, x86asm.R12: x86asm.R12,
	x86asm.R13L: x86asm.R13, x86asm.R13: x86asm.R13,
	x86asm.R14L: x86asm.R14, x86asm.R14: x86asm.R14,
	x86asm.R15L: x86asm.R15, x86asm.R15: x86asm.R15,
	x86asm.RIP: x86asm.RIP,
}

var is32BitForm = map[x86asm.Reg]bool{
	x86asm.EAX: true, x86asm.ECX: true, x86asm.EDX: true, x86asm.EBX: true,
	x86asm.ESP: true, x86asm.EBP: true, x86asm.ESI: true, x86asm.EDI: true,
	x86asm.R8L: true, x86asm.R9L: true, x86asm.R10L: true, x86asm.R11L: true,
	x86asm.R12L: true, x86asm.R13L: true, x86asm.R14L: true, x86asm.R15L: true,
}

var registerOrder = []x86asm.Reg{
	x86asm.RAX, x86asm.RCX, x86asm.RDX, x86asm.RBX,
	x86asm.RSP, x86asm.RBP, x86asm.RSI, x86asm.RDI,
	x86asm.R8, x86asm.R9, x86asm.R10, x86asm.R11,
	x86asm.R12, x86asm.R13, x86asm.R14, x86asm.R15,
	x86asm.RIP,
}

var conditionalJumps = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JE: true, x86asm.JG: true, x86asm.JGE: true, x86asm.JL: true,
	x86asm.JLE: true, x86asm.JNE: true, x86asm.JNO: true, x86asm.JNP: true,
	x86asm.JNS: true, x86asm.JO: true, x86asm.JP: true, x86asm.JS: true,
	x86asm.JCXZ: true, x86asm.JECXZ: true, x86asm.JRCXZ: true,
}

// Adapter is the x86-64 reference lifter.Adapter.
type Adapter struct {
	alloc     lifter.AllocFunc
	regOffset map[x86asm.Reg]int32
}

// New builds an x86-64 Adapter.
func New() *Adapter {
	a := &Adapter{regOffset: make(map[x86asm.Reg]int32, len(registerOrder))}
	for i, r := range registerOrder {
		a.regOffset[r] = int32(i * 8)
	}
	return a
}

// SetAllocator implements lifter.Adapter. The callback backs every
// emitted instruction's operand and constant lists (builder.go's emit);
// when unset (e.g. a test driving TranslateBlock directly) those lists
// fall back to ordinary Go-heap slices.
func (a *Adapter) SetAllocator(alloc lifter.AllocFunc) { a.alloc = alloc }

// ArchInfo implements lifter.Adapter.
func (a *Adapter) ArchInfo() lifter.ArchInfo {
	return lifter.ArchInfo{
		PCOffset: a.regOffset[x86asm.RIP],
		SPOffset: a.regOffset[x86asm.RSP],
		BPOffset: a.regOffset[x86asm.RBP],
		WordSize: 8,
		IsARM:    false,
	}
}

// HelperInfo implements lifter.Adapter. This adapter never analyzes a
// call target's body, so every call is conservatively reported as able to
// write globals: FuncFlags is always zero.
func (a *Adapter) HelperInfo(callInst ir.Instruction) (lifter.HelperInfo, error) {
	if callInst.Op != ir.OpCall {
		return lifter.HelperInfo{}, fmt.Errorf("x86: HelperInfo called on non-call instruction %s", callInst.Op)
	}
	if len(callInst.Constants) == 0 {
		return lifter.HelperInfo{FuncName: "indirect_call"}, nil
	}
	return lifter.HelperInfo{FuncName: fmt.Sprintf("sub_%x", uint64(callInst.Constants[0]))}, nil
}

// TranslateBlock implements lifter.Adapter.
func (a *Adapter) TranslateBlock(bytes []byte, maxLen int, guestAddr uint64, flags lifter.Flags) (*ir.Block, int, error) {
	b := newBuilder(a, guestAddr)

	limit := len(bytes)
	if maxLen < limit {
		limit = maxLen
	}

	pos := 0
	for pos < limit {
		inst, err := x86asm.Decode(bytes[pos:limit], 64)
		if err != nil || inst.Len == 0 {
			break
		}
		addr := guestAddr + uint64(pos)
		b.emitInsnStart(addr)
		terminated := b.lower(inst, addr)
		pos += inst.Len
		if terminated {
			break
		}
	}
	return b.finish(), pos, nil
}
