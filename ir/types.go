// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ir defines the target-independent register-transfer IR that the
// lifter produces and the analysis packages (cfg, stackfold, srctree,
// maxstack, render) consume. Everything here is a plain value type: the
// analyses that walk it live in their own packages.
package ir

import "fmt"

// Opcode enumerates the IR operations the core recognizes by name. A lifter
// may emit opcodes this core has no special handling for; those are
// represented as OpOther and treated conservatively (an unrecognized
// instruction can't be folded or treated as a stack access).
type Opcode int

const (
	OpOther Opcode = iota

	// OpInsnStart marks a source-level instruction boundary. Its first
	// constant operand is the guest address of that instruction.
	OpInsnStart
	// OpCall is a helper call; see HelperInfo for its effect on globals.
	OpCall
	// OpExitTB marks a translation-block exit.
	OpExitTB

	OpMovI32
	OpMovI64
	OpAddI32
	OpAddI64
	OpSubI32
	OpSubI64

	// The four qemu_ld/qemu_st width x address-size variants.
	OpQemuLd32A32
	OpQemuLd32A64
	OpQemuLd64A32
	OpQemuLd64A64
	OpQemuSt32A32
	OpQemuSt32A64
	OpQemuSt64A32
	OpQemuSt64A64
)

var opcodeNames = map[Opcode]string{
	OpOther:       "other",
	OpInsnStart:   "insn_start",
	OpCall:        "call",
	OpExitTB:      "exit_tb",
	OpMovI32:      "mov_i32",
	OpMovI64:      "mov_i64",
	OpAddI32:      "add_i32",
	OpAddI64:      "add_i64",
	OpSubI32:      "sub_i32",
	OpSubI64:      "sub_i64",
	OpQemuLd32A32: "qemu_ld32_a32",
	OpQemuLd32A64: "qemu_ld32_a64",
	OpQemuLd64A32: "qemu_ld64_a32",
	OpQemuLd64A64: "qemu_ld64_a64",
	OpQemuSt32A32: "qemu_st32_a32",
	OpQemuSt32A64: "qemu_st32_a64",
	OpQemuSt64A32: "qemu_st64_a32",
	OpQemuSt64A64: "qemu_st64_a64",
}

func (op Opcode) String() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("opcode(%d)", int(op))
}

// IsQemuLd reports whether op is one of the four qemu_ld variants.
func (op Opcode) IsQemuLd() bool {
	switch op {
	case OpQemuLd32A32, OpQemuLd32A64, OpQemuLd64A32, OpQemuLd64A64:
		return true
	}
	return false
}

// IsQemuSt reports whether op is one of the four qemu_st variants.
func (op Opcode) IsQemuSt() bool {
	switch op {
	case OpQemuSt32A32, OpQemuSt32A64, OpQemuSt64A32, OpQemuSt64A64:
		return true
	}
	return false
}

// IsMov reports whether op passes its single input through unchanged.
func (op Opcode) IsMov() bool { return op == OpMovI32 || op == OpMovI64 }

// IsAdd reports whether op is a (32 or 64-bit truncated) addition.
func (op Opcode) IsAdd() bool { return op == OpAddI32 || op == OpAddI64 }

// IsSub reports whether op is a (32 or 64-bit truncated) subtraction.
func (op Opcode) IsSub() bool { return op == OpSubI32 || op == OpSubI64 }

// Is64 reports whether op operates on 64-bit values, for opcodes where that
// distinction changes truncation behavior (add/sub/mov).
func (op Opcode) Is64() bool {
	switch op {
	case OpMovI64, OpAddI64, OpSubI64, OpQemuLd64A32, OpQemuLd64A64, OpQemuSt64A32, OpQemuSt64A64:
		return true
	}
	return false
}

// TempKind classifies a Temp.
type TempKind int

const (
	// TempGlobal aliases an architectural register at a known memory offset.
	TempGlobal TempKind = iota
	// TempLocal is intra-block scratch with no architectural meaning.
	TempLocal
	// TempConstant carries a compile-time value.
	TempConstant
)

func (k TempKind) String() string {
	switch k {
	case TempGlobal:
		return "global"
	case TempLocal:
		return "local"
	case TempConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// Temp is an IR operand referring to a symbolic value slot.
type Temp struct {
	// Index is the temp's stable index within its translation block.
	Index int
	Kind  TempKind
	// Value holds the compile-time value when Kind == TempConstant.
	Value int64
	// MemOffset identifies the architectural register this temp aliases,
	// meaningful only when Kind == TempGlobal.
	MemOffset int32
}

// Instruction is one IR operation, as produced by the lifter. It is
// read-only to every analysis package.
type Instruction struct {
	Op Opcode

	// Outputs, Inputs are ordered temp operands. Constants carries ordered
	// raw immediate values (e.g. insn_start's guest address, a branch
	// discard count) that aren't themselves temp references.
	Outputs   []Temp
	Inputs    []Temp
	Constants []int64
}

// NbOArgs, NbIArgs, NbCArgs mirror the lifter's own argument counts; Go
// slices already carry their length, so these are accessors rather than
// stored fields.
func (i Instruction) NbOArgs() int { return len(i.Outputs) }
func (i Instruction) NbIArgs() int { return len(i.Inputs) }
func (i Instruction) NbCArgs() int { return len(i.Constants) }

// GuestAddr returns the guest address carried by an insn_start instruction.
// Panics if i is not OpInsnStart; callers are expected to check Op first.
func (i Instruction) GuestAddr() uint64 {
	if i.Op != OpInsnStart {
		panic("ir: GuestAddr called on non-insn_start instruction")
	}
	return uint64(i.Constants[0])
}
