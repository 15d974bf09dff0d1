// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import (
	"errors"

	"github.com/tbgraph/libtcgcfg/arena"
)

// MaxEdges bounds each block's successor and predecessor lists. Exceeding
// it is a fatal capacity error (spec.md §7, kind 3).
const MaxEdges = 256

// ErrEdgeCapacityExceeded is returned when a block's successor or
// predecessor list would grow past MaxEdges.
var ErrEdgeCapacityExceeded = errors.New("ir: block edge capacity exceeded")

// EdgeType classifies an Edge.
type EdgeType int

const (
	EdgeDirect EdgeType = iota
	// EdgeIndirect is reserved for future use; the builder never
	// constructs one (see spec.md §9, indirect-jump open question).
	EdgeIndirect
	EdgeFallthrough
)

func (t EdgeType) String() string {
	switch t {
	case EdgeDirect:
		return "direct"
	case EdgeIndirect:
		return "indirect"
	case EdgeFallthrough:
		return "fallthrough"
	default:
		return "unknown"
	}
}

// Edge connects two blocks. The same value is referenced from both the
// source block's Succ list and the destination block's Pred list.
type Edge struct {
	Src            *Block
	Dst            *Block
	SrcInstruction int
	Type           EdgeType
}

// Block (TbNode) is a contiguous sequence of lifted instructions. Its
// instruction range is a (offset, length) window into a storage slice
// shared with any sibling produced by splitting the same lifted block, so
// a split never copies instructions.
type Block struct {
	GuestAddr uint64

	storage []Instruction
	Offset  int
	Length  int

	// Next forms the insertion-order list of blocks.
	Next *Block

	Succ []Edge
	Pred []Edge

	// StackState holds the max-stack fixpoint's per-instruction result
	// (§4.6). Allocated lazily, len == Length once populated.
	StackState []MfpStackState

	// RegSrcInfo holds, per instruction, the non-root source-tree nodes
	// that name that instruction as a definition site (§4.5's
	// flatten_sources). Allocated lazily.
	RegSrcInfo [][]*SrcInfo
}

// NewBlock creates a block spanning [offset, offset+length) of storage.
func NewBlock(guestAddr uint64, storage []Instruction, offset, length int) *Block {
	return &Block{
		GuestAddr: guestAddr,
		storage:   storage,
		Offset:    offset,
		Length:    length,
	}
}

// Storage returns the underlying instruction slice this block's range is
// drawn from. Splits of this block share the same storage.
func (b *Block) Storage() []Instruction { return b.storage }

// Instructions returns this block's instruction window.
func (b *Block) Instructions() []Instruction {
	return b.storage[b.Offset : b.Offset+b.Length]
}

// InstructionCount returns the number of instructions in this block.
func (b *Block) InstructionCount() int { return b.Length }

// Instruction returns the i'th instruction in this block's window.
func (b *Block) Instruction(i int) Instruction {
	return b.storage[b.Offset+i]
}

// AddSucc appends a successor edge, enforcing MaxEdges.
func (b *Block) AddSucc(e Edge) error {
	if len(b.Succ) >= MaxEdges {
		return ErrEdgeCapacityExceeded
	}
	b.Succ = append(b.Succ, e)
	return nil
}

// AddPred appends a predecessor edge, enforcing MaxEdges.
func (b *Block) AddPred(e Edge) error {
	if len(b.Pred) >= MaxEdges {
		return ErrEdgeCapacityExceeded
	}
	b.Pred = append(b.Pred, e)
	return nil
}

// HasSuccTo reports whether b already has a successor edge to dst,
// regardless of type. Used to keep cfg's addEdge idempotent on (src, dst).
func (b *Block) HasSuccTo(dst *Block) bool {
	for _, e := range b.Succ {
		if e.Dst == dst {
			return true
		}
	}
	return false
}

// EnsureStackState lazily allocates StackState to InstructionCount entries,
// zero-filled until the fixpoint's transfer writes them. The backing memory comes from a's temporary arena (spec.md
// §3 Lifecycles puts dataflow states there): MfpStackState is a plain pair
// of StackMagnitude ints, so it carries no pointers the arena would need
// to keep the garbage collector from scanning.
func (b *Block) EnsureStackState(a *arena.Arena) {
	if b.StackState != nil {
		return
	}
	b.StackState = arena.AllocSlice[MfpStackState](a, b.Length)
}

// EnsureRegSrcInfo lazily allocates RegSrcInfo to InstructionCount entries.
func (b *Block) EnsureRegSrcInfo() {
	if b.RegSrcInfo != nil {
		return
	}
	b.RegSrcInfo = make([][]*SrcInfo, b.Length)
}
