// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stackfold implements the stack-pointer-offset folder of
// spec.md §4.4: given a qemu_ld/qemu_st instruction's address operand, it
// symbolically evaluates the operand's backward definition chain (built by
// package srctree) to a constant, SP/BP-relative displacement magnitude.
//
// The evaluator shape — recursively reducing add/sub/mov chains down to a
// small set of recognized leaves, failing closed on anything else — mirrors
// the teacher's disasm.Disassembly stack-depth walk (disasm/disasm.go),
// which folds a straight-line instruction stream down to a per-instruction
// stack depth the same way this folds an operand's definition tree down to
// an offset.
package stackfold

import (
	"github.com/sirupsen/logrus"

	"github.com/tbgraph/libtcgcfg/internal/diag"
	"github.com/tbgraph/libtcgcfg/ir"
	"github.com/tbgraph/libtcgcfg/lifter"
	"github.com/tbgraph/libtcgcfg/srctree"
)

// Folder folds address operands to stack offsets for one architecture.
type Folder struct {
	arch      lifter.ArchInfo
	growsDown bool
	searcher  *srctree.Searcher
	log       *logrus.Entry
}

// Option configures a Folder.
type Option func(*Folder)

// WithLogger attaches a diagnostic logger.
func WithLogger(e *logrus.Entry) Option {
	return func(f *Folder) { f.log = diag.WithComponent(e, "stackfold") }
}

// WithGrowthDirection overrides the stack growth direction. The default,
// matching every mainstream architecture this repo targets, is true (the
// stack grows down: deeper frames have smaller addresses).
func WithGrowthDirection(growsDown bool) Option {
	return func(f *Folder) { f.growsDown = growsDown }
}

// NewFolder builds a Folder for the given architecture's SP/BP layout.
func NewFolder(arch lifter.ArchInfo, opts ...Option) *Folder {
	f := &Folder{arch: arch, growsDown: true, log: diag.Discard}
	for _, opt := range opts {
		opt(f)
	}
	f.searcher = srctree.NewSearcher(f.Classify, srctree.WithLogger(f.log))
	return f
}

// Searcher returns the source-tree searcher this folder drives, for reuse
// by callers that also need plain source-tree queries (e.g. an
// --analyze-reg-src request) against the same stack-access classification.
func (f *Folder) Searcher() *srctree.Searcher { return f.searcher }

// Classify implements srctree.ClassifierFunc: it decides whether the
// instruction at (blk, instIndex) is a stack load or store by folding its
// address operand.
func (f *Folder) Classify(blk *ir.Block, instIndex int) srctree.ClassifyResult {
	inst := blk.Instruction(instIndex)
	switch {
	case inst.Op.IsQemuLd():
		off, ok := f.Fold(blk, instIndex, inst.NbOArgs()+0)
		if !ok {
			return srctree.ClassifyResult{Kind: srctree.NotStackAccess}
		}
		return srctree.ClassifyResult{Kind: srctree.StackLoadAccess, Offset: off}
	case inst.Op.IsQemuSt():
		off, ok := f.Fold(blk, instIndex, inst.NbOArgs()+1)
		if !ok {
			return srctree.ClassifyResult{Kind: srctree.NotStackAccess}
		}
		return srctree.ClassifyResult{Kind: srctree.StackStoreAccess, Offset: off}
	default:
		return srctree.ClassifyResult{Kind: srctree.NotStackAccess}
	}
}

// Fold reduces operandIndex (a qemu_ld/qemu_st address operand) to its
// absolute displacement magnitude from SP/BP. ok is false when the operand
// cannot be reduced to a constant stack-relative offset (it isn't a stack
// access at all, or the chain runs through something the evaluator doesn't
// recognize).
func (f *Folder) Fold(blk *ir.Block, instIndex, operandIndex int) (int64, bool) {
	inst := blk.Instruction(instIndex)
	inputPos := operandIndex - inst.NbOArgs()
	temp := inst.Inputs[inputPos]

	raw, ok := f.reduceOperand(blk, instIndex, operandIndex, temp)
	if !ok {
		return 0, false
	}
	if raw < 0 {
		raw = -raw
	}
	return raw, true
}

func (f *Folder) reduceOperand(blk *ir.Block, instIndex, operandIndex int, temp ir.Temp) (int64, bool) {
	if temp.Kind == ir.TempConstant {
		return temp.Value, true
	}
	tree := f.searcher.Query(blk, instIndex, operandIndex)
	return f.reduceBranchForTemp(tree.Children[0], temp)
}

// reduceChild folds the input at position childIdx of the instruction that
// owns node, using node.Children[childIdx] for whatever was found when that
// operand was originally traced (no second search is needed: the walk that
// produced node already covered every non-constant input).
func (f *Folder) reduceChild(node *ir.SrcInfo, temp ir.Temp, childIdx int) (int64, bool) {
	if temp.Kind == ir.TempConstant {
		return temp.Value, true
	}
	return f.reduceBranchForTemp(node.Children[childIdx], temp)
}

// reduceBranchForTemp folds a branch that corresponds to a known temp
// operand: an empty branch (no defining instruction found up to function
// entry) means the value flows in unchanged, so it folds only when that
// temp is the SP or BP global.
func (f *Folder) reduceBranchForTemp(branch ir.SrcInfoBranch, temp ir.Temp) (int64, bool) {
	if len(branch.Alternatives) == 0 {
		if f.isSPOrBP(temp) {
			return 0, true
		}
		return 0, false
	}
	return f.combineAlternatives(branch)
}

// reduceBranchAliasOnly folds the value-provenance branch of a stack-load
// defining site: there is no associated temp operand (the child represents
// "whatever was last stored here"), so an empty branch (no matching store
// found) always fails to fold.
func (f *Folder) reduceBranchAliasOnly(branch ir.SrcInfoBranch) (int64, bool) {
	if len(branch.Alternatives) == 0 {
		return 0, false
	}
	return f.combineAlternatives(branch)
}

func (f *Folder) combineAlternatives(branch ir.SrcInfoBranch) (int64, bool) {
	var result int64
	first := true
	for _, alt := range branch.Alternatives {
		v, ok := f.reduceNode(alt)
		if !ok {
			return 0, false
		}
		if first {
			result, first = v, false
			continue
		}
		result = f.combine(result, v)
	}
	return result, true
}

// reduceNode evaluates one source-tree node: a stack-load aliasing site
// (continue through its value provenance), a mov/add/sub instruction
// (recurse into its operands), a stack-store value site (recurse into the
// stored value), or anything else (fold fails).
func (f *Folder) reduceNode(node *ir.SrcInfo) (int64, bool) {
	inst := node.Block.Instruction(node.InstIndex)
	switch cls := f.Classify(node.Block, node.InstIndex); {
	case cls.Kind == srctree.StackLoadAccess:
		return f.reduceBranchAliasOnly(node.Children[0])
	case inst.Op.IsMov():
		return f.reduceChild(node, inst.Inputs[0], 0)
	case inst.Op.IsAdd():
		a, ok := f.reduceChild(node, inst.Inputs[0], 0)
		if !ok {
			return 0, false
		}
		b, ok := f.reduceChild(node, inst.Inputs[1], 1)
		if !ok {
			return 0, false
		}
		return f.truncate(a+b, inst), true
	case inst.Op.IsSub():
		a, ok := f.reduceChild(node, inst.Inputs[0], 0)
		if !ok {
			return 0, false
		}
		b, ok := f.reduceChild(node, inst.Inputs[1], 1)
		if !ok {
			return 0, false
		}
		return f.truncate(a-b, inst), true
	case cls.Kind == srctree.StackStoreAccess:
		return f.reduceChild(node, inst.Inputs[0], 0)
	default:
		return 0, false
	}
}

// combine applies the "largest stack offset" rule (spec.md §4.4): when the
// stack grows down, the deepest access has the smallest (most negative) raw
// offset, so the combinator is min; when it grows up, max.
func (f *Folder) combine(a, b int64) int64 {
	if f.growsDown {
		if a < b {
			return a
		}
		return b
	}
	if a > b {
		return a
	}
	return b
}

func (f *Folder) truncate(v int64, inst ir.Instruction) int64 {
	if inst.Op.Is64() {
		return v
	}
	return int64(int32(v))
}

func (f *Folder) isSPOrBP(temp ir.Temp) bool {
	if temp.Kind != ir.TempGlobal {
		return false
	}
	return temp.MemOffset == f.arch.SPOffset || temp.MemOffset == f.arch.BPOffset
}
