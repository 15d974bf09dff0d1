// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

// MaxBranchesPerChild bounds the number of alternative definition sites
// recorded per child slot in a source tree (spec.md §4.5). It is a
// deliberate precision cutoff for pathological fan-in, not a hard limit of
// the algorithm.
const MaxBranchesPerChild = 8

// SrcInfo is one node of a source tree: the definition site discovered for
// one operand use. OpIndex is the output operand this node defines, or -1
// for the synthetic root returned by a source-tree query. A stack-store
// node (found by the stack-load aliasing step) has no output and uses
// OpIndex 0 to name its value operand, input #0.
type SrcInfo struct {
	Block     *Block
	InstIndex int
	OpIndex   int

	// Children is sized by the defining instruction's input-operand
	// count; Children[i] holds the alternative definition sites for
	// input operand i. Exceptions: the root and a stack-store node have
	// one child (the traced value), and a stack-load node has two
	// (Children[0] the stores found at the same offset, Children[1] the
	// load's address operand).
	Children []SrcInfoBranch
}

// SrcInfoBranch is a bounded list of alternative definition subtrees for
// one child slot, one per defining site discovered across merging
// predecessors.
type SrcInfoBranch struct {
	Alternatives []*SrcInfo
	// Truncated records that one or more alternatives were dropped once
	// MaxBranchesPerChild was reached (spec.md §9's first open question:
	// surfaced as a diagnostic rather than silently lost).
	Truncated bool
}

// Add appends alt to the branch, dropping it silently (beyond recording
// Truncated) once the branch is at capacity.
func (b *SrcInfoBranch) Add(alt *SrcInfo) {
	if len(b.Alternatives) >= MaxBranchesPerChild {
		b.Truncated = true
		return
	}
	b.Alternatives = append(b.Alternatives, alt)
}
