// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lifter declares the narrow interface the core consumes from the
// external machine-code-to-IR backend (spec.md §4.2). The backend itself —
// a real dynamic-translation engine — is out of scope; this package also
// ships one concrete reference implementation (lifter/x86) so the rest of
// the system has something to drive end to end.
package lifter

import (
	"unsafe"

	"github.com/tbgraph/libtcgcfg/ir"
)

// Flags is a bitset over the lift-time options spec.md §4.2 names.
type Flags uint8

const (
	FlagOptimize Flags = 1 << iota
	FlagHelperToTCG
	FlagArmThumb
)

// Has reports whether f is set.
func (flags Flags) Has(f Flags) bool { return flags&f != 0 }

// With returns flags with f set.
func (flags Flags) With(f Flags) Flags { return flags | f }

// Without returns flags with f cleared.
func (flags Flags) Without(f Flags) Flags { return flags &^ f }

// ArchInfo identifies the global-temp memory offsets an architecture's
// adapter uses for PC, stack pointer, and base pointer, plus the register
// width the architecture's globals use.
type ArchInfo struct {
	PCOffset int32
	SPOffset int32
	BPOffset int32
	// WordSize is the width, in bytes, of the architecture's general
	// purpose registers (and so of SP/BP arithmetic).
	WordSize int
	// IsARM distinguishes the one architecture family the ARM-Thumb
	// low-bit convention (spec.md §4.2, §6) applies to.
	IsARM bool
}

// HelperFlag is a bit in HelperInfo.FuncFlags.
type HelperFlag uint32

// NoWriteGlobals indicates a helper call cannot alter any global,
// including architectural registers (and so the stack pointer region).
const NoWriteGlobals HelperFlag = 1 << 0

// HelperInfo describes a `call` instruction's target.
type HelperInfo struct {
	FuncName  string
	FuncFlags HelperFlag
}

// NoWriteGlobalsSet reports whether this helper is known not to write any
// global.
func (h HelperInfo) NoWriteGlobalsSet() bool { return h.FuncFlags&NoWriteGlobals != 0 }

// AllocFunc places lifter-internal state in the caller's persistent arena,
// so blocks and their instruction storage outlive a single TranslateBlock
// call without the lifter managing its own heap.
type AllocFunc func(n int) []byte

// AllocSlice carves n zeroed T values out of alloc's backing bytes. T must
// hold no pointers of its own (ir.Temp, int64): an adapter uses this to
// move an instruction's operand and constant lists into the caller's
// arena instead of the Go heap, the same way arena.AllocSlice backs the
// core's own per-instruction dataflow state.
func AllocSlice[T any](alloc AllocFunc, n int) []T {
	if n <= 0 {
		return nil
	}
	var zero T
	buf := alloc(n * int(unsafe.Sizeof(zero)))
	return unsafe.Slice((*T)(unsafe.Pointer(&buf[0])), n)
}

// Adapter is the interface the core consumes from a lifter backend. A
// variant exists per architecture; the core is parameterized over this
// interface rather than over a specific architecture.
type Adapter interface {
	// SetAllocator installs the allocation callback the adapter should
	// use for any lifter-owned storage it needs to keep alive.
	SetAllocator(alloc AllocFunc)

	// TranslateBlock lifts one basic block starting at guestAddr from
	// bytes (at most maxLen of which may be consumed), returning the
	// number of bytes actually consumed so the caller can resume lifting
	// immediately past this block. An instruction count of 0 in the
	// result signals translation failure; the caller is expected to
	// recover by advancing past the offending range (spec.md §7, kind
	// 4), using consumed if nonzero or a single byte otherwise, not by
	// treating err as the sole failure signal.
	TranslateBlock(bytes []byte, maxLen int, guestAddr uint64, flags Flags) (blk *ir.Block, consumed int, err error)

	// ArchInfo reports this architecture's global-temp layout.
	ArchInfo() ArchInfo

	// HelperInfo reports metadata about a `call` instruction's target.
	// callInst.Op must be ir.OpCall.
	HelperInfo(callInst ir.Instruction) (HelperInfo, error)
}

// ResolveThumb applies the ARM-Thumb addressing convention: if info
// identifies an ARM adapter and addr's low bit is set, FlagArmThumb is
// forced on and the low bit is cleared. Non-ARM architectures and
// already-even addresses are returned unchanged. This is core-level
// request logic, not per-adapter logic, because it is the same rule for
// every ARM variant and has no effect on any other architecture.
func ResolveThumb(addr uint64, flags Flags, info ArchInfo) (uint64, Flags) {
	if !info.IsARM {
		return addr, flags
	}
	if addr&1 == 0 {
		return addr, flags
	}
	return addr &^ 1, flags.With(FlagArmThumb)
}
