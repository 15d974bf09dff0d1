// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package maxstack implements the max-stack-access monotone dataflow
// fixpoint of spec.md §4.6: for every instruction, the largest load and
// store displacement from SP/BP that could have occurred by the time it
// runs, across every path reaching it.
//
// The FIFO worklist over CFG edges with a subsumption-gated repropagation
// loop is the same shape as the teacher's validate package type-checker
// (validate/vm.go), which drives a similar fixed-point walk over a control
// stack to merge types at block/loop/if join points; here the "merge" is
// ir.MfpStackState.Join and the join points are arbitrary CFG edges rather
// than structured control constructs.
package maxstack

import (
	"github.com/sirupsen/logrus"

	"github.com/tbgraph/libtcgcfg/arena"
	"github.com/tbgraph/libtcgcfg/internal/diag"
	"github.com/tbgraph/libtcgcfg/ir"
	"github.com/tbgraph/libtcgcfg/srctree"
)

// CallEffect reports whether a `call` instruction is known not to touch
// any global (and so the stack pointer region it aliases). Unknown or
// ordinary calls must answer false: the fixpoint treats them as capable of
// writing anywhere.
type CallEffect func(callInst ir.Instruction) (noWriteGlobals bool)

// Runner drives the fixpoint for one architecture.
type Runner struct {
	classify srctree.ClassifierFunc
	callFx   CallEffect
	pcOffset int32
	known    map[uint64]bool
	log      *logrus.Entry
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger attaches a diagnostic logger.
func WithLogger(e *logrus.Entry) Option {
	return func(r *Runner) { r.log = diag.WithComponent(e, "maxstack") }
}

// NewRunner builds a Runner. classify recognizes stack loads/stores
// (typically stackfold.Folder.Classify); callFx decides whether a given
// call instruction can be ignored; pcOffset identifies the program
// counter global, for recognizing unresolved PC-writes; blocks is the
// complete set of blocks reachable in this request, used to tell a direct
// branch to a known block apart from a direct branch outside the region
// (mirrors the C fixpoint's find_tb_containing(root, address) == NULL
// check — both cases must raise TOP, not just the indirect one).
func NewRunner(classify srctree.ClassifierFunc, callFx CallEffect, pcOffset int32, blocks []*ir.Block, opts ...Option) *Runner {
	known := make(map[uint64]bool, len(blocks))
	for _, b := range blocks {
		known[b.GuestAddr] = true
	}
	r := &Runner{classify: classify, callFx: callFx, pcOffset: pcOffset, known: known, log: diag.Discard}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run computes the fixpoint over every block reachable from entry,
// populating each reached block's StackState. Blocks unreachable from
// entry are left with their StackState unallocated. Every StackState
// array is allocated from scratch (spec.md §3 Lifecycles: dataflow states
// live in the temporary arena); the caller must not reclaim scratch until
// it's done reading the result.
func (r *Runner) Run(entry *ir.Block, scratch *arena.Arena) {
	ins := map[*ir.Block]ir.MfpStackState{}
	outs := map[*ir.Block]ir.MfpStackState{}
	bottom := ir.MfpStackState{MaxLdSize: ir.Bottom, MaxStSize: ir.Bottom}

	// The root's instruction-0 state is (0,0), not BOTTOM: it has been
	// reached with no stack access yet, which differs from "unreached"
	// even though render.go happens to print both the same way.
	ins[entry] = ir.MfpStackState{MaxLdSize: 0, MaxStSize: 0}
	outs[entry] = r.transfer(entry, ins[entry], scratch)

	queue := make([]ir.Edge, 0, len(entry.Succ))
	queue = append(queue, entry.Succ...)

	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]

		prevIn, seen := ins[e.Dst]
		if !seen {
			prevIn = bottom
		}
		candidate := outs[e.Src]
		newIn := prevIn.Join(candidate)
		if candidate.SubsumedBy(prevIn) {
			continue // no new information flows along this edge.
		}
		ins[e.Dst] = newIn

		newOut := r.transfer(e.Dst, newIn, scratch)
		prevOut, seen := outs[e.Dst]
		if seen && newOut.SubsumedBy(prevOut) {
			continue
		}
		outs[e.Dst] = newOut
		queue = append(queue, e.Dst.Succ...)
	}
}

// transfer simulates blk's instructions in order starting from in,
// recording the state after each instruction into blk.StackState, and
// returns the state after the last instruction.
func (r *Runner) transfer(blk *ir.Block, in ir.MfpStackState, scratch *arena.Arena) ir.MfpStackState {
	blk.EnsureStackState(scratch)
	state := in
	for i := 0; i < blk.InstructionCount(); i++ {
		inst := blk.Instruction(i)
		switch {
		case inst.Op == ir.OpCall && !r.callFx(inst):
			state = ir.MfpStackState{MaxLdSize: ir.Top, MaxStSize: ir.Top}
		case r.isUnresolvedPCWrite(inst):
			state = ir.MfpStackState{MaxLdSize: ir.Top, MaxStSize: ir.Top}
		default:
			switch res := r.classify(blk, i); res.Kind {
			case srctree.StackLoadAccess:
				state.MaxLdSize = state.MaxLdSize.Join(ir.StackMagnitude(res.Offset))
			case srctree.StackStoreAccess:
				state.MaxStSize = state.MaxStSize.Join(ir.StackMagnitude(res.Offset))
			}
		}
		blk.StackState[i] = state
	}
	return state
}

// isUnresolvedPCWrite reports whether inst writes the program counter
// global to a target the fixpoint cannot follow: either an indirect
// (non-constant) target, or a direct target outside the known block set
// (e.g. a tail jump past the lifted region). Mirrors the C fixpoint's
// `!is_direct || find_tb_containing(root, address) == NULL`.
func (r *Runner) isUnresolvedPCWrite(inst ir.Instruction) bool {
	if len(inst.Outputs) == 0 || len(inst.Inputs) == 0 {
		return false
	}
	if inst.Outputs[0].Kind != ir.TempGlobal || inst.Outputs[0].MemOffset != r.pcOffset {
		return false
	}
	target := inst.Inputs[0]
	if target.Kind != ir.TempConstant {
		return true
	}
	return !r.known[uint64(target.Value)]
}
