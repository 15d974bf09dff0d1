// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x86

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/tbgraph/libtcgcfg/ir"
)

// lower translates one decoded instruction into zero or more IR
// instructions appended to b, and reports whether it ended the block (a
// control-transfer: ret/jmp/jcc). call does not end the block: execution
// resumes at the next instruction in the same lifted block, matching how
// a TCG-style translator keeps a call inline and only splits on a genuine
// PC-write it can't resolve to "the next instruction".
func (b *builder) lower(inst x86asm.Inst, addr uint64) (terminated bool) {
	switch {
	case inst.Op == x86asm.MOV:
		b.lowerMov(inst)
	case inst.Op == x86asm.ADD:
		b.lowerAddSub(inst, ir.OpAddI32, ir.OpAddI64)
	case inst.Op == x86asm.SUB:
		b.lowerAddSub(inst, ir.OpSubI32, ir.OpSubI64)
	case inst.Op == x86asm.LEA:
		b.lowerLea(inst)
	case inst.Op == x86asm.PUSH:
		b.lowerPush(inst)
	case inst.Op == x86asm.POP:
		b.lowerPop(inst)
	case inst.Op == x86asm.CALL:
		b.lowerCall(inst, addr)
	case inst.Op == x86asm.RET:
		b.lowerRet()
		return true
	case inst.Op == x86asm.JMP:
		b.lowerJmp(inst, addr)
		return true
	case conditionalJumps[inst.Op]:
		b.lowerJcc(inst, addr)
		return true
	}
	// Anything else (arithmetic flags ops, SSE, string ops, ...) falls
	// through untranslated; the instruction still occupies guest bytes
	// (insn_start already emitted) but contributes no IR.
	return false
}

func (b *builder) lowerMov(inst x86asm.Inst) {
	switch dst := inst.Args[0].(type) {
	case x86asm.Reg:
		dstTemp, ok := b.regGlobal(dst)
		if !ok {
			return
		}
		switch src := inst.Args[1].(type) {
		case x86asm.Reg:
			srcTemp, ok := b.regGlobal(src)
			if !ok {
				return
			}
			b.emit(ir.Instruction{Op: widthOps(dst, ir.OpMovI32, ir.OpMovI64), Outputs: []ir.Temp{dstTemp}, Inputs: []ir.Temp{srcTemp}})
		case x86asm.Imm:
			b.emit(ir.Instruction{Op: widthOps(dst, ir.OpMovI32, ir.OpMovI64), Outputs: []ir.Temp{dstTemp}, Inputs: []ir.Temp{b.newConst(int64(src))}})
		case x86asm.Mem:
			addr, ok := b.memAddress(src)
			if !ok {
				return
			}
			ld := ir.OpQemuLd64A64
			if is32BitForm[dst] {
				ld = ir.OpQemuLd32A64
			}
			b.emit(ir.Instruction{Op: ld, Outputs: []ir.Temp{dstTemp}, Inputs: []ir.Temp{addr}})
		}
	case x86asm.Mem:
		addr, ok := b.memAddress(dst)
		if !ok {
			return
		}
		switch src := inst.Args[1].(type) {
		case x86asm.Reg:
			srcTemp, ok := b.regGlobal(src)
			if !ok {
				return
			}
			st := ir.OpQemuSt64A64
			if is32BitForm[src] {
				st = ir.OpQemuSt32A64
			}
			b.emit(ir.Instruction{Op: st, Inputs: []ir.Temp{srcTemp, addr}})
		case x86asm.Imm:
			b.emit(ir.Instruction{Op: ir.OpQemuSt64A64, Inputs: []ir.Temp{b.newConst(int64(src)), addr}})
		}
	}
}

func (b *builder) lowerAddSub(inst x86asm.Inst, op32, op64 ir.Opcode) {
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		return
	}
	dstTemp, ok := b.regGlobal(dst)
	if !ok {
		return
	}
	var rhs ir.Temp
	switch src := inst.Args[1].(type) {
	case x86asm.Reg:
		t, ok := b.regGlobal(src)
		if !ok {
			return
		}
		rhs = t
	case x86asm.Imm:
		rhs = b.newConst(int64(src))
	default:
		return
	}
	op := op64
	if is32BitForm[dst] {
		op = op32
	}
	b.emit(ir.Instruction{Op: op, Outputs: []ir.Temp{dstTemp}, Inputs: []ir.Temp{dstTemp, rhs}})
}

func (b *builder) lowerLea(inst x86asm.Inst) {
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		return
	}
	mem, ok := inst.Args[1].(x86asm.Mem)
	if !ok {
		return
	}
	dstTemp, ok := b.regGlobal(dst)
	if !ok {
		return
	}
	base, disp, ok := b.memOperand(mem)
	if !ok {
		return
	}
	if disp == 0 {
		b.emit(ir.Instruction{Op: ir.OpMovI64, Outputs: []ir.Temp{dstTemp}, Inputs: []ir.Temp{base}})
		return
	}
	b.emit(ir.Instruction{Op: ir.OpAddI64, Outputs: []ir.Temp{dstTemp}, Inputs: []ir.Temp{base, b.newConst(disp)}})
}

// lowerPush models `push reg` as an explicit sub_i64 of the stack pointer
// followed by a store, so stackfold/srctree see the same sp-adjust +
// qemu_st pattern a real TCG push lowering produces.
func (b *builder) lowerPush(inst x86asm.Inst) {
	reg, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		return
	}
	regTemp, ok := b.regGlobal(reg)
	if !ok {
		return
	}
	spTemp, _ := b.regGlobal(x86asm.RSP)
	b.emit(ir.Instruction{Op: ir.OpSubI64, Outputs: []ir.Temp{spTemp}, Inputs: []ir.Temp{spTemp, b.newConst(int64(b.a.ArchInfo().WordSize))}})
	b.emit(ir.Instruction{Op: ir.OpQemuSt64A64, Inputs: []ir.Temp{regTemp, spTemp}})
}

func (b *builder) lowerPop(inst x86asm.Inst) {
	reg, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		return
	}
	regTemp, ok := b.regGlobal(reg)
	if !ok {
		return
	}
	spTemp, _ := b.regGlobal(x86asm.RSP)
	b.emit(ir.Instruction{Op: ir.OpQemuLd64A64, Outputs: []ir.Temp{regTemp}, Inputs: []ir.Temp{spTemp}})
	b.emit(ir.Instruction{Op: ir.OpAddI64, Outputs: []ir.Temp{spTemp}, Inputs: []ir.Temp{spTemp, b.newConst(int64(b.a.ArchInfo().WordSize))}})
}

// lowerCall does not end the block: execution returns to the instruction
// following call on the normal (non-exceptional) path.
func (b *builder) lowerCall(inst x86asm.Inst, addr uint64) {
	switch target := inst.Args[0].(type) {
	case x86asm.Rel:
		dest := int64(addr) + int64(inst.Len) + int64(target)
		b.emit(ir.Instruction{Op: ir.OpCall, Constants: []int64{dest}})
	case x86asm.Reg:
		regTemp, ok := b.regGlobal(target)
		if !ok {
			b.emit(ir.Instruction{Op: ir.OpCall})
			return
		}
		b.emit(ir.Instruction{Op: ir.OpCall, Inputs: []ir.Temp{regTemp}})
	default:
		b.emit(ir.Instruction{Op: ir.OpCall})
	}
}

// lowerRet loads the return address off the top of the stack into the PC
// global — an indirect PC-write (non-constant input), so cfg's fallthrough
// rule correctly treats it as unresolved rather than as a fallthrough.
func (b *builder) lowerRet() {
	spTemp, _ := b.regGlobal(x86asm.RSP)
	pcTemp, _ := b.regGlobal(x86asm.RIP)
	retAddr := b.newLocal()
	b.emit(ir.Instruction{Op: ir.OpQemuLd64A64, Outputs: []ir.Temp{retAddr}, Inputs: []ir.Temp{spTemp}})
	b.emit(ir.Instruction{Op: ir.OpMovI64, Outputs: []ir.Temp{pcTemp}, Inputs: []ir.Temp{retAddr}})
	b.emit(ir.Instruction{Op: ir.OpExitTB})
}

func (b *builder) lowerJmp(inst x86asm.Inst, addr uint64) {
	pcTemp, _ := b.regGlobal(x86asm.RIP)
	switch target := inst.Args[0].(type) {
	case x86asm.Rel:
		dest := uint64(int64(addr) + int64(inst.Len) + int64(target))
		b.emit(ir.Instruction{Op: ir.OpMovI64, Outputs: []ir.Temp{pcTemp}, Inputs: []ir.Temp{b.newConst(int64(dest))}})
	case x86asm.Reg:
		regTemp, ok := b.regGlobal(target)
		if ok {
			b.emit(ir.Instruction{Op: ir.OpMovI64, Outputs: []ir.Temp{pcTemp}, Inputs: []ir.Temp{regTemp}})
		}
	}
	b.emit(ir.Instruction{Op: ir.OpExitTB})
}

// lowerJcc models a conditional jump as two (pc-write, exit_tb) pairs in
// the same lifted block: one for the taken target, one for the
// fallthrough. This is what lets cfg's structural fallthrough rule (no
// synthetic third edge needed once resolved exits == exit_tb count)
// produce exactly the two successors a Jcc has.
func (b *builder) lowerJcc(inst x86asm.Inst, addr uint64) {
	pcTemp, _ := b.regGlobal(x86asm.RIP)
	if rel, ok := inst.Args[0].(x86asm.Rel); ok {
		taken := uint64(int64(addr) + int64(inst.Len) + int64(rel))
		b.emit(ir.Instruction{Op: ir.OpMovI64, Outputs: []ir.Temp{pcTemp}, Inputs: []ir.Temp{b.newConst(int64(taken))}})
		b.emit(ir.Instruction{Op: ir.OpExitTB})
	}
	fallthroughAddr := addr + uint64(inst.Len)
	b.emit(ir.Instruction{Op: ir.OpMovI64, Outputs: []ir.Temp{pcTemp}, Inputs: []ir.Temp{b.newConst(int64(fallthroughAddr))}})
	b.emit(ir.Instruction{Op: ir.OpExitTB})
}
