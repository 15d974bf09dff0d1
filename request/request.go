// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package request wires the core's leaf packages together into the one
// control flow spec.md §2 describes: load bytes → lift blocks
// sequentially until the region is consumed → build the CFG → optionally
// run source-tree analysis on one operand → optionally run the max-stack
// fixpoint → hand the annotated CFG to the renderer. It is the thing the
// CLI calls into; none of arena/cfg/stackfold/srctree/maxstack/render
// know about each other beyond the narrow interfaces already described in
// their own packages.
//
// The sequential-lift-until-consumed loop, including the lifter-failure
// recovery policy (advance by the failed block's reported size, or one
// byte if that's zero — spec.md §7, kind 4), mirrors the teacher's
// wasm.ReadModule section-dispatch loop: a single forward scan that
// tolerates a bad record by skipping past it rather than aborting the
// whole parse.
package request

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tbgraph/libtcgcfg/arena"
	"github.com/tbgraph/libtcgcfg/cfg"
	"github.com/tbgraph/libtcgcfg/internal/diag"
	"github.com/tbgraph/libtcgcfg/ir"
	"github.com/tbgraph/libtcgcfg/lifter"
	"github.com/tbgraph/libtcgcfg/maxstack"
	"github.com/tbgraph/libtcgcfg/render"
	"github.com/tbgraph/libtcgcfg/srctree"
	"github.com/tbgraph/libtcgcfg/stackfold"
)

// Region is the byte range to lift, already selected by the caller (an
// elfinput.Region, or a raw --bytes read) plus the address it loads at.
type Region struct {
	Bytes     []byte
	GuestAddr uint64
}

// QuerySpec names one --analyze-reg-src request: the guest address of a
// source-level instruction, the IR-instruction offset within that guest
// instruction's lowering, and the operand index (spanning outputs then
// inputs) to explain.
type QuerySpec struct {
	GuestAddr    uint64
	InstOffset   int
	OperandIndex int
}

// Options configures one Run.
type Options struct {
	Optimize     bool
	HelperToTCG  bool
	RunMaxStack  bool
	Query        *QuerySpec
	GrowsDown    bool // stack_grows_down; zero value (false) is overridden to true by Run unless GrowsDownSet is set.
	GrowsDownSet bool
	Logger       *logrus.Entry
}

func (o Options) logger() *logrus.Entry {
	if o.Logger != nil {
		return o.Logger
	}
	return diag.Discard
}

func (o Options) growsDown() bool {
	if !o.GrowsDownSet {
		return true
	}
	return o.GrowsDown
}

// Result is everything a CLI invocation needs to answer the user: the
// arena pair (for --debug usage reporting and final FreeAll), the built
// blocks, and the renderer feed.
type Result struct {
	Arena  *arena.Pair
	Blocks []*ir.Block
	Feed   *render.Feed
}

// Run lifts region with adapter and performs the analyses opts requests.
// The caller owns Result.Arena and must call its FreeAll when done.
func Run(adapter lifter.Adapter, region Region, opts Options) (*Result, error) {
	pair := arena.NewPair(arena.WithLogger(opts.logger()))
	adapter.SetAllocator(pair.Persistent.Alloc)

	archInfo := adapter.ArchInfo()

	flags := lifter.Flags(0)
	if opts.Optimize {
		flags = flags.With(lifter.FlagOptimize)
	}
	if opts.HelperToTCG {
		flags = flags.With(lifter.FlagHelperToTCG)
	}

	builder := cfg.NewBuilder(archInfo.PCOffset, cfg.WithLogger(opts.logger()))

	if err := liftSequentially(adapter, region, flags, archInfo, builder); err != nil {
		return nil, err
	}
	if err := builder.Build(); err != nil {
		return nil, fmt.Errorf("request: building cfg: %w", err)
	}

	blocks := builder.Blocks()
	feed := render.NewFeed(blocks)

	folder := stackfold.NewFolder(archInfo, stackfold.WithGrowthDirection(opts.growsDown()), stackfold.WithLogger(opts.logger()))
	callFx := helperCallEffect(adapter)

	if opts.RunMaxStack && len(blocks) > 0 {
		runner := maxstack.NewRunner(folder.Classify, callFx, archInfo.PCOffset, blocks, maxstack.WithLogger(opts.logger()))
		runner.Run(blocks[0], pair.Temporary)
		feed = feed.WithStackAnalysis()
	}

	if opts.Query != nil {
		blk, instIndex, err := locate(blocks, *opts.Query)
		if err != nil {
			return nil, err
		}
		inst := blk.Instruction(instIndex)
		if opts.Query.OperandIndex < inst.NbOArgs() || opts.Query.OperandIndex >= inst.NbOArgs()+inst.NbIArgs() {
			return nil, fmt.Errorf("request: operand index %d does not name an input operand of the instruction at %#x+%d",
				opts.Query.OperandIndex, opts.Query.GuestAddr, opts.Query.InstOffset)
		}
		tree := folder.Searcher().Query(blk, instIndex, opts.Query.OperandIndex)
		srctree.FlattenSources(tree)
		feed = feed.WithQuery(render.QueryPoint{Block: blk, InstIndex: instIndex, OperandIndex: opts.Query.OperandIndex}, tree)
	}

	return &Result{Arena: pair, Blocks: blocks, Feed: feed}, nil
}

// liftSequentially walks region's bytes start to end, calling
// TranslateBlock at each resume point and feeding every successfully
// lifted block to builder.
func liftSequentially(adapter lifter.Adapter, region Region, flags lifter.Flags, archInfo lifter.ArchInfo, builder *cfg.Builder) error {
	pos := 0
	for pos < len(region.Bytes) {
		addr := region.GuestAddr + uint64(pos)
		resolvedAddr, blockFlags := lifter.ResolveThumb(addr, flags, archInfo)

		blk, consumed, err := adapter.TranslateBlock(region.Bytes[pos:], len(region.Bytes)-pos, resolvedAddr, blockFlags)
		if err != nil {
			return fmt.Errorf("request: lifting at %#x: %w", addr, err)
		}

		if blk.InstructionCount() == 0 {
			// Lifter failure (spec.md §7, kind 4): recover locally by
			// advancing past the offending range.
			step := consumed
			if step <= 0 {
				step = 1
			}
			pos += step
			continue
		}

		builder.AddBlock(blk)
		if consumed <= 0 {
			return fmt.Errorf("request: lifter reported zero bytes consumed for a non-empty block at %#x", addr)
		}
		pos += consumed
	}
	return nil
}

// helperCallEffect adapts a lifter.Adapter's HelperInfo into the
// maxstack.CallEffect shape: unresolvable or erroring calls are
// conservatively treated as able to write every global.
func helperCallEffect(adapter lifter.Adapter) maxstack.CallEffect {
	return func(inst ir.Instruction) bool {
		info, err := adapter.HelperInfo(inst)
		if err != nil {
			return false
		}
		return info.NoWriteGlobalsSet()
	}
}

// locate finds the IR instruction a QuerySpec names: the block containing
// an insn_start at q.GuestAddr, offset by q.InstOffset within that block.
func locate(blocks []*ir.Block, q QuerySpec) (*ir.Block, int, error) {
	for _, blk := range blocks {
		for i := 0; i < blk.InstructionCount(); i++ {
			inst := blk.Instruction(i)
			if inst.Op != ir.OpInsnStart || inst.GuestAddr() != q.GuestAddr {
				continue
			}
			target := i + q.InstOffset
			if target < 0 || target >= blk.InstructionCount() {
				return nil, 0, fmt.Errorf("request: instruction offset %d out of range for guest instruction at %#x", q.InstOffset, q.GuestAddr)
			}
			return blk, target, nil
		}
	}
	return nil, 0, fmt.Errorf("request: no instruction found at guest address %#x", q.GuestAddr)
}
