// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arena implements the two scoped bump allocators the analysis
// request relies on for all its working memory (spec.md §4.1): a
// persistent arena for outputs that outlive one function, and a temporary
// arena supporting mark/rewind for transient worklists and search scratch.
//
// The block chain and bump-pointer bookkeeping (a block's consumed vs.
// remaining bytes, growing by mmap'ing a fresh block when the current one
// is full) is the same shape as the teacher's compile.MMapAllocator
// (exec/internal/compile/allocator_test.go), which carves pages for JIT'd
// code the same way; this repurposes it for the R/W-only pages analysis
// data lives in.
package arena

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"

	"github.com/tbgraph/libtcgcfg/internal/diag"
)

// AllocationError wraps a failure to grow the arena (e.g. mmap refused).
// It is the one way Alloc reports failure: analyses that allocate into an
// Arena are not expected to handle allocation failure locally, so Alloc
// panics with this type; request-boundary code recovers it.
type AllocationError struct {
	Err error
}

func (e AllocationError) Error() string { return fmt.Sprintf("arena: %v", e.Err) }

type block struct {
	mem  mmap.MMap
	used uint32
	next *block
}

// Arena is a bump allocator over a singly-linked chain of mmap'd blocks
// (at least the minimum block size, page-rounded for larger requests). Allocations never move and remain valid until a
// Reset/ResetTo retracts past them.
type Arena struct {
	head *block
	tail *block

	minBlock int
	log      *logrus.Entry
}

// Option configures an Arena at construction.
type Option func(*Arena)

// WithLogger attaches a diagnostic logger, used for --debug arena-usage
// reporting. Defaults to a discard logger.
func WithLogger(e *logrus.Entry) Option {
	return func(a *Arena) { a.log = diag.WithComponent(e, "arena") }
}

// WithMinBlockSize overrides the minimum block size (default: one OS
// page). Exists for tests that want to exercise multi-block chains
// without allocating megabytes.
func WithMinBlockSize(n int) Option {
	return func(a *Arena) { a.minBlock = n }
}

// New creates an empty Arena. No memory is mapped until the first Alloc.
func New(opts ...Option) *Arena {
	a := &Arena{
		minBlock: os.Getpagesize(),
		log:      diag.Discard,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Arena) roundedBlockSize(n int) int {
	if n <= a.minBlock {
		return a.minBlock
	}
	ps := os.Getpagesize()
	return ((n + ps - 1) / ps) * ps
}

func (a *Arena) newBlock(want int) *block {
	size := a.roundedBlockSize(want)
	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		panic(AllocationError{Err: err})
	}
	a.log.WithField("bytes", size).Debug("mapped new arena block")
	return &block{mem: m}
}

// Alloc returns n raw, uninitialized bytes from the current block,
// mapping a fresh block if the current one can't satisfy the request.
func (a *Arena) Alloc(n int) []byte {
	if n <= 0 {
		return nil
	}
	if a.tail == nil || int(a.tail.used)+n > len(a.tail.mem) {
		if a.tail != nil && a.tail.next != nil && n <= len(a.tail.next.mem) {
			// Reuse the next mapped block; Reset/ResetTo left it empty.
			a.tail = a.tail.next
		} else {
			b := a.newBlock(n)
			if a.head == nil {
				a.head = b
			} else {
				b.next = a.tail.next
				a.tail.next = b
			}
			a.tail = b
		}
	}
	start := a.tail.used
	a.tail.used += uint32(n)
	return a.tail.mem[start : int(start)+n]
}

// AllocZero is Alloc followed by zeroing: reused blocks (after Reset or
// ResetTo) hold stale bytes, so zeroing can't be assumed from a fresh
// mmap alone.
func (a *Arena) AllocZero(n int) []byte {
	b := a.Alloc(n)
	for i := range b {
		b[i] = 0
	}
	return b
}

// AllocSlice allocates n zeroed values of T from a, backing the result
// with the arena's bump-allocated memory instead of the Go heap. T must
// be a plain-data type holding no pointers (StackMagnitude pairs, fixed
// numeric fields): the two-arena discipline only ever arena-backs the
// dataflow/working-set values that fit that shape, never pointer-bearing
// trees or slice-of-slice structures the garbage collector needs to scan.
func AllocSlice[T any](a *Arena, n int) []T {
	if n <= 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	buf := a.AllocZero(n * size)
	return unsafe.Slice((*T)(unsafe.Pointer(&buf[0])), n)
}

// Marker captures a rewind point: a block and the number of bytes used
// within it at the time of the mark.
type Marker struct {
	owner *Arena
	blk   *block
	used  uint32
}

// Mark captures the arena's current allocation position.
func (a *Arena) Mark() Marker {
	return Marker{owner: a, blk: a.tail, used: tailUsed(a.tail)}
}

func tailUsed(b *block) uint32 {
	if b == nil {
		return 0
	}
	return b.used
}

// ResetTo rewinds the arena to a previously captured Marker: every block
// after the marker's block has its used counter zeroed, and the marker's
// own block truncates to the marked offset. Blocks are kept mapped and
// reused by subsequent allocations rather than unmapped.
func (a *Arena) ResetTo(m Marker) {
	if m.owner != nil && m.owner != a {
		panic("arena: marker applied to a different arena than the one that produced it")
	}
	if m.blk == nil {
		a.Reset()
		return
	}
	for b := m.blk.next; b != nil; b = b.next {
		b.used = 0
	}
	m.blk.used = m.used
	a.tail = m.blk
}

// Reset rewinds the arena to empty, keeping all mapped blocks for reuse.
func (a *Arena) Reset() {
	for b := a.head; b != nil; b = b.next {
		b.used = 0
	}
	a.tail = a.head
}

// FreeAll unmaps the entire block chain. The arena is empty and usable
// again afterward (the next Alloc maps a fresh block).
func (a *Arena) FreeAll() error {
	var firstErr error
	for b := a.head; b != nil; {
		next := b.next
		if err := b.mem.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
		b = next
	}
	a.head, a.tail = nil, nil
	return firstErr
}

// Stats summarizes arena usage, for the CLI's --debug report.
type Stats struct {
	UsedBytes  uint64
	TotalBytes uint64
	Blocks     int
}

// Stats reports current usage across the block chain.
func (a *Arena) Stats() Stats {
	var s Stats
	for b := a.head; b != nil; b = b.next {
		s.UsedBytes += uint64(b.used)
		s.TotalBytes += uint64(len(b.mem))
		s.Blocks++
	}
	return s
}

// Pair bundles the persistent and temporary arenas an analysis request
// uses (spec.md §4.1): the persistent arena outlives one function's
// analysis, the temporary arena is scoped with Mark/ResetTo around every
// entry point that needs scratch space.
type Pair struct {
	Persistent *Arena
	Temporary  *Arena
}

// NewPair constructs a fresh Persistent/Temporary arena pair, applying the
// same options to both.
func NewPair(opts ...Option) *Pair {
	return &Pair{
		Persistent: New(opts...),
		Temporary:  New(opts...),
	}
}

// FreeAll releases both arenas.
func (p *Pair) FreeAll() error {
	err1 := p.Persistent.FreeAll()
	err2 := p.Temporary.FreeAll()
	if err1 != nil {
		return err1
	}
	return err2
}
