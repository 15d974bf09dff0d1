// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x86

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/tbgraph/libtcgcfg/ir"
	"github.com/tbgraph/libtcgcfg/lifter"
)

// builder accumulates one lifted block's instruction stream and hands out
// fresh temps. Constructed fresh per TranslateBlock call.
type builder struct {
	a         *Adapter
	guestAddr uint64
	storage   []ir.Instruction
	nextTemp  int
	globals   map[int32]ir.Temp
}

func newBuilder(a *Adapter, guestAddr uint64) *builder {
	return &builder{a: a, guestAddr: guestAddr, globals: make(map[int32]ir.Temp)}
}

// emit appends inst to the block's instruction stream, first re-homing its
// operand and constant lists from the Go heap into the adapter's arena
// (set via SetAllocator). ir.Temp and int64 carry no pointers, so this is
// safe even though the ir.Instruction slice they hang off of stays a
// normal Go slice.
func (b *builder) emit(inst ir.Instruction) {
	inst.Outputs = arenaCopy[ir.Temp](b.a.alloc, inst.Outputs)
	inst.Inputs = arenaCopy[ir.Temp](b.a.alloc, inst.Inputs)
	inst.Constants = arenaCopy[int64](b.a.alloc, inst.Constants)
	b.storage = append(b.storage, inst)
}

// arenaCopy copies src into alloc-backed storage, or returns nil for an
// empty src (most instructions carry no constants and many carry no
// outputs).
func arenaCopy[T any](alloc lifter.AllocFunc, src []T) []T {
	if len(src) == 0 {
		return nil
	}
	if alloc == nil {
		out := make([]T, len(src))
		copy(out, src)
		return out
	}
	out := lifter.AllocSlice[T](alloc, len(src))
	copy(out, src)
	return out
}

func (b *builder) emitInsnStart(addr uint64) {
	b.emit(ir.Instruction{Op: ir.OpInsnStart, Constants: []int64{int64(addr)}})
}

func (b *builder) finish() *ir.Block {
	return ir.NewBlock(b.guestAddr, b.storage, 0, len(b.storage))
}

func (b *builder) newLocal() ir.Temp {
	t := ir.Temp{Index: b.nextTemp, Kind: ir.TempLocal}
	b.nextTemp++
	return t
}

func (b *builder) newConst(v int64) ir.Temp {
	t := ir.Temp{Index: b.nextTemp, Kind: ir.TempConstant, Value: v}
	b.nextTemp++
	return t
}

func (b *builder) global(offset int32) ir.Temp {
	if t, ok := b.globals[offset]; ok {
		return t
	}
	t := ir.Temp{Index: b.nextTemp, Kind: ir.TempGlobal, MemOffset: offset}
	b.nextTemp++
	b.globals[offset] = t
	return t
}

// regGlobal resolves r to the global temp aliasing its 64-bit parent
// register, or reports false if r isn't one this adapter recognizes.
func (b *builder) regGlobal(r x86asm.Reg) (ir.Temp, bool) {
	parent, ok := canonical64[r]
	if !ok {
		return ir.Temp{}, false
	}
	off, ok := b.a.regOffset[parent]
	if !ok {
		return ir.Temp{}, false
	}
	return b.global(off), true
}

// widthOps picks the 32 or 64-bit opcode variant matching r's decoded
// width (EAX family vs RAX family).
func widthOps(r x86asm.Reg, op32, op64 ir.Opcode) ir.Opcode {
	if is32BitForm[r] {
		return op32
	}
	return op64
}

// memOperand resolves a simple base(+displacement) memory operand. SIB
// (scaled index) and segment-override addressing are out of scope for a
// reference adapter; such instructions are left untranslated.
func (b *builder) memOperand(m x86asm.Mem) (base ir.Temp, disp int64, ok bool) {
	if m.Index != 0 || m.Segment != 0 {
		return ir.Temp{}, 0, false
	}
	base, ok = b.regGlobal(m.Base)
	if !ok {
		return ir.Temp{}, 0, false
	}
	return base, m.Disp, true
}

// memAddress resolves m to a temp holding its effective address, emitting
// an add_i64 only when a nonzero displacement needs folding in.
func (b *builder) memAddress(m x86asm.Mem) (ir.Temp, bool) {
	base, disp, ok := b.memOperand(m)
	if !ok {
		return ir.Temp{}, false
	}
	if disp == 0 {
		return base, true
	}
	addr := b.newLocal()
	b.emit(ir.Instruction{Op: ir.OpAddI64, Outputs: []ir.Temp{addr}, Inputs: []ir.Temp{base, b.newConst(disp)}})
	return addr, true
}
