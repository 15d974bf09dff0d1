// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package srctree implements the demand-driven backward source-tree
// analysis of spec.md §4.5: given a (block, instruction, operand) triple,
// it produces a tree of definition sites for that operand's value, tracing
// through temporaries, stack spill/reload, and multi-predecessor merges.
//
// The backward-scan/worklist-of-frames shape is grounded on the teacher's
// validate package (validate/operand.go, validate/vm.go), which drives a
// structured walk over a stack of frames (there, control-flow frames for
// block/loop/if; here, search frames for TEMP/STACK_LOAD slices).
//
// Stack-access classification (is instruction k a stack load/store, and at
// what offset) is supplied by the caller as a ClassifierFunc rather than
// imported directly from package stackfold, because the dependency is
// mutual: stackfold.Fold calls srctree.Query to explain an address
// operand, and srctree's own aliasing step needs stackfold's
// classification to find matching stack stores. Go forbids the import
// cycle that would result from both packages importing each other; the
// classifier callback is the usual inversion for this shape.
package srctree

import (
	"github.com/sirupsen/logrus"

	"github.com/tbgraph/libtcgcfg/internal/diag"
	"github.com/tbgraph/libtcgcfg/ir"
)

// AccessKind classifies what a ClassifierFunc found at an instruction.
type AccessKind int

const (
	NotStackAccess AccessKind = iota
	StackLoadAccess
	StackStoreAccess
)

// ClassifyResult is a ClassifierFunc's verdict for one instruction.
type ClassifyResult struct {
	Kind   AccessKind
	Offset int64 // meaningful when Kind != NotStackAccess
}

// ClassifierFunc decides whether the instruction at (blk, instIndex) is a
// stack load or store, and at what offset, per spec.md §4.4.
type ClassifierFunc func(blk *ir.Block, instIndex int) ClassifyResult

// Searcher runs source-tree queries. The zero value is not usable; build
// one with NewSearcher.
type Searcher struct {
	classify ClassifierFunc
	log      *logrus.Entry
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger attaches a diagnostic logger.
func WithLogger(e *logrus.Entry) Option {
	return func(s *Searcher) { s.log = diag.WithComponent(e, "srctree") }
}

// NewSearcher builds a Searcher using classify to recognize stack accesses
// during the aliasing step.
func NewSearcher(classify ClassifierFunc, opts ...Option) *Searcher {
	s := &Searcher{classify: classify, log: diag.Discard}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query traces operandIndex (an index over inst's outputs-then-inputs,
// spec.md §4.5) backward from instIndex in blk, returning a root SrcInfo
// whose single child holds the tree of definition sites. operandIndex
// must name an input operand (operandIndex >= inst.NbOArgs()).
func (s *Searcher) Query(blk *ir.Block, instIndex, operandIndex int) *ir.SrcInfo {
	inst := blk.Instruction(instIndex)
	inputPos := operandIndex - inst.NbOArgs()
	if inputPos < 0 || inputPos >= inst.NbIArgs() {
		panic("srctree: operandIndex does not name an input operand")
	}
	temp := inst.Inputs[inputPos]

	root := &ir.SrcInfo{OpIndex: -1, Children: make([]ir.SrcInfoBranch, 1)}
	if temp.Kind == ir.TempConstant {
		// Constant operands carry their value inline; nothing to search
		// for (spec.md §4.5: "enqueue one TEMP frame per non-constant
		// temp input").
		return root
	}

	wl := &worklist{searcher: s}
	wl.push(frame{
		block:     blk,
		scanIndex: instIndex,
		parent:    root,
		childIdx:  0,
		kind:      kindTemp,
		tempIndex: temp.Index,
		visited:   newVisited(blk),
	})
	wl.run()
	return root
}

// FlattenSources walks tree and records every non-root node into its
// owning block's RegSrcInfo[InstIndex], so the renderer can highlight
// source instructions by operand (spec.md §4.5's flatten_sources).
func FlattenSources(tree *ir.SrcInfo) {
	for _, branch := range tree.Children {
		for _, alt := range branch.Alternatives {
			flattenNode(alt)
		}
	}
}

func flattenNode(n *ir.SrcInfo) {
	n.Block.EnsureRegSrcInfo()
	n.Block.RegSrcInfo[n.InstIndex] = append(n.Block.RegSrcInfo[n.InstIndex], n)
	for _, branch := range n.Children {
		for _, alt := range branch.Alternatives {
			flattenNode(alt)
		}
	}
}
