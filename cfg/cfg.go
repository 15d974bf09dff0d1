// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cfg builds the control-flow graph over a function's lifted
// blocks (spec.md §4.3): it resolves direct branch targets by guest
// address, splits blocks mid-range when a target lands inside one instead
// of at its head, and wires up successor/predecessor edges including the
// synthetic fallthrough edge a block gets when it doesn't statically
// account for every exit path.
//
// The block-splitting and branch-patching bookkeeping is grounded on the
// teacher's compile package (compile.go), which tracks unresolved forward
// branches and patches jump targets once the destination block exists;
// here the "patch" is an edge insertion rather than a byte offset, and
// splitting additionally has to re-home the tail's existing successor
// edges onto the new block.
package cfg

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/tbgraph/libtcgcfg/internal/diag"
	"github.com/tbgraph/libtcgcfg/ir"
)

// Builder accumulates lifted blocks and resolves them into a graph. A
// direct PC-write is recognized structurally (spec.md §4.3: its first
// output is a global temp at the program counter's memory offset, and the
// value written is a constant), so the builder needs to know that one
// offset; it takes no other architecture-specific input.
type Builder struct {
	blocks   []*ir.Block // insertion order, as lifted
	pcOffset int32
	log      *logrus.Entry
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger attaches a diagnostic logger.
func WithLogger(e *logrus.Entry) Option {
	return func(b *Builder) { b.log = diag.WithComponent(e, "cfg") }
}

// NewBuilder creates an empty Builder for the given architecture's
// program-counter global offset.
func NewBuilder(pcOffset int32, opts ...Option) *Builder {
	b := &Builder{pcOffset: pcOffset, log: diag.Discard}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddBlock registers a lifted block. Blocks must be added in the order
// TranslateBlock produced them; that order is what a synthetic fallthrough
// edge targets.
func (b *Builder) AddBlock(blk *ir.Block) {
	if len(b.blocks) > 0 {
		b.blocks[len(b.blocks)-1].Next = blk
	}
	b.blocks = append(b.blocks, blk)
}

// Blocks returns every block currently known to the builder, in
// insertion order. Build may insert entries (a split keeps the original
// block as the head half and inserts the tail right after it).
func (b *Builder) Blocks() []*ir.Block { return b.blocks }

// Build resolves every direct branch target, splitting blocks as needed,
// and wires successor/predecessor/fallthrough edges across the whole set.
// It returns an error only on edge-capacity exhaustion (spec.md §7, kind
// 3); everything else (indirect targets, unresolved exits) is handled by
// simply not adding an edge.
func (b *Builder) Build() error {
	for {
		target, ok := b.firstUnresolvedDirectTarget()
		if !ok {
			break
		}
		if _, split := b.splitAt(target); split {
			continue // re-scan: the split may have changed block boundaries.
		}
		// firstUnresolvedDirectTarget found a block covering target but not
		// starting there, yet splitAt refused: target falls strictly inside
		// an instruction, between two insn_start markers. The lifter never
		// produces that for a reachable branch target; treat it as the
		// invariant violation spec.md §7 kind 5 calls for.
		panic(UnsplittableTargetError{Addr: target})
	}
	return b.wireEdges()
}

// UnsplittableTargetError reports a direct branch target that lands inside
// an already-lifted block but not at any insn_start boundary, so the block
// cannot be split there.
type UnsplittableTargetError struct{ Addr uint64 }

func (e UnsplittableTargetError) Error() string {
	return fmt.Sprintf("cfg: direct branch target %#x falls inside an instruction, not at its start", e.Addr)
}

// firstUnresolvedDirectTarget scans every block's exits for a direct
// branch target that lands inside an existing block but not at its head,
// so Build knows where to split next. Returns ok=false once every direct
// target either starts a block already or targets outside the lifted set
// (an indirect-only jump to an address we never lifted).
func (b *Builder) firstUnresolvedDirectTarget() (uint64, bool) {
	for _, blk := range b.blocks {
		for i := 0; i < blk.InstructionCount(); i++ {
			target, isDirect := b.directBranchTarget(blk.Instruction(i))
			if !isDirect {
				continue
			}
			if owner := b.find(target); owner != nil && owner.GuestAddr != target {
				return target, true
			}
		}
	}
	return 0, false
}

// find returns the block whose insn_start markers span addr, or nil if no
// lifted block covers it.
func (b *Builder) find(addr uint64) *ir.Block {
	for _, blk := range b.blocks {
		if lo, hi, ok := addrRange(blk); ok && addr >= lo && addr <= hi {
			return blk
		}
	}
	return nil
}

// addrRange reports the lowest and highest guest address named by an
// insn_start in blk. ok is false for a block with no insn_start markers at
// all (a degenerate case the builder never itself produces).
func addrRange(blk *ir.Block) (lo, hi uint64, ok bool) {
	first := true
	for i := 0; i < blk.InstructionCount(); i++ {
		inst := blk.Instruction(i)
		if inst.Op != ir.OpInsnStart {
			continue
		}
		a := inst.GuestAddr()
		if first {
			lo, hi, first = a, a, false
			continue
		}
		if a > hi {
			hi = a
		}
		if a < lo {
			lo = a
		}
	}
	return lo, hi, !first
}

// splitAt splits the block containing addr (if any) into two, at the
// insn_start boundary for addr, in O(1) by handing the tail a new window
// over the same storage slice. The tail inherits the original block's
// successor edges (re-homed) and gets a fresh fallthrough-eligible edge
// list; the head keeps its predecessors. Returns the tail block and
// whether a split actually happened.
func (b *Builder) splitAt(addr uint64) (*ir.Block, bool) {
	owner := b.find(addr)
	if owner == nil || owner.GuestAddr == addr {
		return nil, false
	}
	splitIdx := -1
	for i := 0; i < owner.InstructionCount(); i++ {
		inst := owner.Instruction(i)
		if inst.Op == ir.OpInsnStart && inst.GuestAddr() == addr {
			splitIdx = i
			break
		}
	}
	if splitIdx <= 0 {
		return nil, false
	}

	tail := ir.NewBlock(addr, owner.Storage(), owner.Offset+splitIdx, owner.Length-splitIdx)
	owner.Length = splitIdx

	// Re-home the original block's successors onto the tail; the head now
	// falls through to the tail instead.
	tail.Succ = owner.Succ
	for i := range tail.Succ {
		tail.Succ[i].Src = tail
	}
	for _, e := range tail.Succ {
		replacePredSrc(e.Dst, owner, tail)
	}
	owner.Succ = nil

	tail.Next = owner.Next
	owner.Next = tail

	b.insertAfter(owner, tail)
	b.log.WithField("addr", addr).Debug("split block")
	return tail, true
}

func replacePredSrc(blk *ir.Block, from, to *ir.Block) {
	for i := range blk.Pred {
		if blk.Pred[i].Src == from {
			blk.Pred[i].Src = to
		}
	}
}

func (b *Builder) insertAfter(owner, tail *ir.Block) {
	for i, blk := range b.blocks {
		if blk == owner {
			b.blocks = append(b.blocks, nil)
			copy(b.blocks[i+2:], b.blocks[i+1:])
			b.blocks[i+1] = tail
			return
		}
	}
}

// wireEdges installs successor/predecessor edges for every block's direct
// and indirect exits, then adds a fallthrough edge wherever a block's
// resolved exits don't account for every exit_tb it contains.
func (b *Builder) wireEdges() error {
	for _, blk := range b.blocks {
		resolved := 0
		exitCount := 0
		for i := 0; i < blk.InstructionCount(); i++ {
			inst := blk.Instruction(i)
			if inst.Op == ir.OpExitTB {
				exitCount++
				continue
			}
			target, isDirect := b.directBranchTarget(inst)
			if isDirect {
				if dst := b.find(target); dst != nil {
					if err := addEdge(blk, dst, i, ir.EdgeDirect); err != nil {
						return err
					}
					resolved++
				}
				continue
			}
			if b.isIndirectBranch(inst) {
				resolved++ // classified, but adds no edge (spec.md §9).
			}
		}
		if exitCount == 0 || resolved < exitCount {
			if blk.Next != nil {
				if err := addEdge(blk, blk.Next, blk.InstructionCount()-1, ir.EdgeFallthrough); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// addEdge links src to dst, idempotent on the (src, dst) pair.
func addEdge(src, dst *ir.Block, atInst int, typ ir.EdgeType) error {
	if src.HasSuccTo(dst) {
		return nil
	}
	e := ir.Edge{Src: src, Dst: dst, SrcInstruction: atInst, Type: typ}
	if err := src.AddSucc(e); err != nil {
		return err
	}
	return dst.AddPred(e)
}

// directBranchTarget reports whether inst is a direct PC-write (its first
// output is a global temp at the PC offset and the value written is a
// constant), and if so the target guest address. A PC-write is recognized
// structurally, the same way on every architecture (spec.md §4.3) — no
// particular opcode is special-cased.
func (b *Builder) directBranchTarget(inst ir.Instruction) (uint64, bool) {
	if len(inst.Outputs) == 0 || len(inst.Inputs) == 0 {
		return 0, false
	}
	if inst.Outputs[0].Kind != ir.TempGlobal || inst.Outputs[0].MemOffset != b.pcOffset {
		return 0, false
	}
	if inst.Inputs[0].Kind != ir.TempConstant {
		return 0, false
	}
	return uint64(inst.Inputs[0].Value), true
}

func (b *Builder) isIndirectBranch(inst ir.Instruction) bool {
	if len(inst.Outputs) == 0 || len(inst.Inputs) == 0 {
		return false
	}
	if inst.Outputs[0].Kind != ir.TempGlobal || inst.Outputs[0].MemOffset != b.pcOffset {
		return false
	}
	return inst.Inputs[0].Kind != ir.TempConstant
}

// SortedByAddr returns blocks ordered by guest address, for diagnostics
// and deterministic rendering.
func SortedByAddr(blocks []*ir.Block) []*ir.Block {
	out := make([]*ir.Block, len(blocks))
	copy(out, blocks)
	sort.Slice(out, func(i, j int) bool { return out[i].GuestAddr < out[j].GuestAddr })
	return out
}
