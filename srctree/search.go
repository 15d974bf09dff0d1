// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package srctree

import "github.com/tbgraph/libtcgcfg/ir"

type frameKind int

const (
	kindTemp frameKind = iota
	kindStackLoad
)

// frame is one unit of the backward-search worklist: "trace payload
// backward from scanIndex-1 in block, and record whatever is found into
// parent.Children[childIdx]" (spec.md §4.5).
type frame struct {
	block     *ir.Block
	scanIndex int
	parent    *ir.SrcInfo
	childIdx  int

	kind        frameKind
	tempIndex   int   // valid when kind == kindTemp
	stackOffset int64 // valid when kind == kindStackLoad

	visited map[*ir.Block]bool
}

type worklist struct {
	searcher *Searcher
	frames   []frame
}

func (w *worklist) push(f frame) { w.frames = append(w.frames, f) }

func (w *worklist) run() {
	for len(w.frames) > 0 {
		f := w.frames[len(w.frames)-1]
		w.frames = w.frames[:len(w.frames)-1]
		w.step(f)
	}
}

func newVisited(first *ir.Block) map[*ir.Block]bool {
	return map[*ir.Block]bool{first: true}
}

func copyVisited(v map[*ir.Block]bool, add *ir.Block) map[*ir.Block]bool {
	out := make(map[*ir.Block]bool, len(v)+1)
	for k := range v {
		out[k] = true
	}
	out[add] = true
	return out
}

// step scans backward from f.scanIndex-1 within f.block looking for a
// defining site matching f.kind, recursing into predecessors at block
// start and giving up (a silent dead end along that path) on a revisited
// block.
func (w *worklist) step(f frame) {
	for i := f.scanIndex - 1; i >= 0; i-- {
		inst := f.block.Instruction(i)
		switch f.kind {
		case kindTemp:
			if p, ok := outputPos(inst, f.tempIndex); ok {
				w.recordDefiningSite(f, i, p)
				return
			}
		case kindStackLoad:
			res := w.searcher.classify(f.block, i)
			if res.Kind == StackStoreAccess && res.Offset == f.stackOffset {
				w.recordStoreSite(f, i)
				return
			}
		}
	}

	// Block start reached with no defining site: fan out to predecessors.
	for _, e := range f.block.Pred {
		pred := e.Src
		if f.visited[pred] {
			continue // loop: dead end along this path, not an error.
		}
		w.push(frame{
			block:       pred,
			scanIndex:   pred.InstructionCount(),
			parent:      f.parent,
			childIdx:    f.childIdx,
			kind:        f.kind,
			tempIndex:   f.tempIndex,
			stackOffset: f.stackOffset,
			visited:     copyVisited(f.visited, pred),
		})
	}
}

// outputPos reports the position within inst.Outputs whose Index matches
// tempIndex, if any.
func outputPos(inst ir.Instruction, tempIndex int) (int, bool) {
	for p, o := range inst.Outputs {
		if o.Index == tempIndex {
			return p, true
		}
	}
	return 0, false
}

// recordDefiningSite appends a new tree node for the instruction at
// (f.block, instIndex) defining output position p, then enqueues its
// own children per spec.md §4.5: the stack-load aliasing step when the
// defining instruction is itself a reload, or one TEMP frame per
// non-constant input otherwise.
func (w *worklist) recordDefiningSite(f frame, instIndex, p int) {
	inst := f.block.Instruction(instIndex)

	if res := w.searcher.classify(f.block, instIndex); res.Kind == StackLoadAccess {
		// Two children: [0] value provenance via the aliasing step (what
		// was stored at this offset), [1] address provenance (how the
		// load's address operand was computed) — kept purely for
		// explanatory/rendering purposes, not consulted by the folder.
		node := &ir.SrcInfo{Block: f.block, InstIndex: instIndex, OpIndex: p, Children: make([]ir.SrcInfoBranch, 2)}
		f.parent.Children[f.childIdx].Add(node)

		w.push(frame{
			block: f.block, scanIndex: instIndex, parent: node, childIdx: 0,
			kind: kindStackLoad, stackOffset: res.Offset, visited: f.visited,
		})
		if addr := inst.Inputs[0]; addr.Kind != ir.TempConstant {
			w.push(frame{
				block: f.block, scanIndex: instIndex, parent: node, childIdx: 1,
				kind: kindTemp, tempIndex: addr.Index, visited: f.visited,
			})
		}
		return
	}

	node := &ir.SrcInfo{Block: f.block, InstIndex: instIndex, OpIndex: p, Children: make([]ir.SrcInfoBranch, inst.NbIArgs())}
	f.parent.Children[f.childIdx].Add(node)
	for i, in := range inst.Inputs {
		if in.Kind == ir.TempConstant {
			continue
		}
		w.push(frame{
			block: f.block, scanIndex: instIndex, parent: node, childIdx: i,
			kind: kindTemp, tempIndex: in.Index, visited: f.visited,
		})
	}
}

// recordStoreSite appends a node for a matching stack store found during
// the STACK_LOAD aliasing step. The store has no outputs; by convention
// OpIndex is 0 and the single child (its value operand, input #0) is the
// continuation of the value trace.
func (w *worklist) recordStoreSite(f frame, instIndex int) {
	inst := f.block.Instruction(instIndex)
	node := &ir.SrcInfo{Block: f.block, InstIndex: instIndex, OpIndex: 0, Children: make([]ir.SrcInfoBranch, 1)}
	f.parent.Children[f.childIdx].Add(node)

	if val := inst.Inputs[0]; val.Kind != ir.TempConstant {
		w.push(frame{
			block: f.block, scanIndex: instIndex, parent: node, childIdx: 0,
			kind: kindTemp, tempIndex: val.Index, visited: f.visited,
		})
	}
}
