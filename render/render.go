// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package render defines the Renderer Feed (spec.md §4.7): the read-only
// view the core publishes — the ordered block list, each block's
// instruction stream and typed successor edges, the optional max-stack
// and source-tree annotations, and the optional query point a
// --analyze-reg-src run is explaining — plus the text formatters that
// back the CLI's --dump-ir and --analyze-max-stack output. Concrete
// graph rendering (the --dump-cfg DOT output) is render/dotrender; this
// package only defines what's published and how to print it as text,
// consistent with spec.md §4.7 fixing field semantics but leaving visual
// treatment to the renderer.
//
// The "ordered block list + per-block annotated dump" shape mirrors the
// teacher's disasm.Disassembly type: a flat, ordered sequence of decoded
// records meant to be walked once, top to bottom, by a presentation layer.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/tbgraph/libtcgcfg/ir"
)

// QueryPoint identifies the (block, instruction-index, operand-index)
// triple a --analyze-reg-src run is explaining.
type QueryPoint struct {
	Block        *ir.Block
	InstIndex    int
	OperandIndex int
}

// Feed is the data the core publishes for rendering.
type Feed struct {
	Blocks        []*ir.Block
	StackAnalyzed bool
	Query         *QueryPoint
	QueryTree     *ir.SrcInfo
}

// NewFeed builds a Feed over blocks in their CFG-builder insertion order.
func NewFeed(blocks []*ir.Block) *Feed { return &Feed{Blocks: blocks} }

// WithStackAnalysis marks the feed as carrying a completed max-stack
// fixpoint (blocks' StackState fields populated).
func (f *Feed) WithStackAnalysis() *Feed {
	f.StackAnalyzed = true
	return f
}

// WithQuery attaches a completed source-tree query and its result tree.
func (f *Feed) WithQuery(q QueryPoint, tree *ir.SrcInfo) *Feed {
	f.Query = &q
	f.QueryTree = tree
	return f
}

// FormatTemp renders one operand.
func FormatTemp(t ir.Temp) string {
	switch t.Kind {
	case ir.TempConstant:
		return fmt.Sprintf("$%d", t.Value)
	case ir.TempGlobal:
		return fmt.Sprintf("g%d", t.MemOffset)
	default:
		return fmt.Sprintf("t%d", t.Index)
	}
}

// FormatInstruction renders one IR instruction as a single line, e.g.
// "g100 = sub_i64 g100, $8".
func FormatInstruction(inst ir.Instruction) string {
	var b strings.Builder
	if len(inst.Outputs) > 0 {
		outs := make([]string, len(inst.Outputs))
		for i, o := range inst.Outputs {
			outs[i] = FormatTemp(o)
		}
		b.WriteString(strings.Join(outs, ", "))
		b.WriteString(" = ")
	}
	b.WriteString(inst.Op.String())

	operands := make([]string, 0, len(inst.Inputs)+len(inst.Constants))
	for _, in := range inst.Inputs {
		operands = append(operands, FormatTemp(in))
	}
	for _, c := range inst.Constants {
		operands = append(operands, fmt.Sprintf("#%d", c))
	}
	if len(operands) > 0 {
		b.WriteByte(' ')
		b.WriteString(strings.Join(operands, ", "))
	}
	return b.String()
}

// DumpIR writes f's blocks, one instruction per line in block order (the
// --dump-ir format, spec.md §6).
func DumpIR(f *Feed, w io.Writer) error {
	for _, blk := range f.Blocks {
		if _, err := fmt.Fprintf(w, "block %#x:\n", blk.GuestAddr); err != nil {
			return err
		}
		for i := 0; i < blk.InstructionCount(); i++ {
			if _, err := fmt.Fprintf(w, "  %s\n", FormatInstruction(blk.Instruction(i))); err != nil {
				return err
			}
		}
	}
	return nil
}

// StackMagnitudeLabel renders one lattice value: TOP ("unknown") as "?",
// BOTTOM ("not yet reached") as "0", per spec.md §6.
func StackMagnitudeLabel(m ir.StackMagnitude) string {
	switch m {
	case ir.Top:
		return "?"
	case ir.Bottom:
		return "0"
	default:
		return fmt.Sprintf("%d", int64(m))
	}
}

// DumpMaxStack writes f's blocks annotated with per-instruction r/w
// max-stack-access labels (the --analyze-max-stack format, spec.md §6).
// insn_start rows display bare column labels, carrying no value of their
// own.
func DumpMaxStack(f *Feed, w io.Writer) error {
	for _, blk := range f.Blocks {
		if _, err := fmt.Fprintf(w, "block %#x:\n", blk.GuestAddr); err != nil {
			return err
		}
		for i := 0; i < blk.InstructionCount(); i++ {
			inst := blk.Instruction(i)
			line := FormatInstruction(inst)
			if inst.Op == ir.OpInsnStart {
				if _, err := fmt.Fprintf(w, "  r w  %s\n", line); err != nil {
					return err
				}
				continue
			}
			r, wr := "?", "?"
			if blk.StackState != nil {
				r = StackMagnitudeLabel(blk.StackState[i].MaxLdSize)
				wr = StackMagnitudeLabel(blk.StackState[i].MaxStSize)
			}
			if _, err := fmt.Fprintf(w, "  r=%s w=%s  %s\n", r, wr, line); err != nil {
				return err
			}
		}
	}
	return nil
}

// DumpSrcTree renders a source-tree query result as an indented text
// tree, for the --analyze-reg-src output. root is the synthetic node
// srctree.Searcher.Query returns (OpIndex == -1, Block == nil); its
// single child holds the actual tree of definition sites, or is empty if
// the queried operand was a constant.
func DumpSrcTree(root *ir.SrcInfo, w io.Writer) error {
	branch := root.Children[0]
	if branch.Truncated {
		if _, err := fmt.Fprintln(w, "(truncated, more alternatives exist)"); err != nil {
			return err
		}
	}
	if len(branch.Alternatives) == 0 {
		_, err := fmt.Fprintln(w, "<constant operand, no definition site>")
		return err
	}
	for _, alt := range branch.Alternatives {
		if err := dumpSrcNode(alt, 0, w); err != nil {
			return err
		}
	}
	return nil
}

func dumpSrcNode(n *ir.SrcInfo, depth int, w io.Writer) error {
	indent := strings.Repeat("  ", depth)
	inst := n.Block.Instruction(n.InstIndex)
	if _, err := fmt.Fprintf(w, "%sblock %#x[%d] defines op%d: %s\n", indent, n.Block.GuestAddr, n.InstIndex, n.OpIndex, FormatInstruction(inst)); err != nil {
		return err
	}
	for ci, branch := range n.Children {
		label := fmt.Sprintf("%s  input#%d:", indent, ci)
		if branch.Truncated {
			label += " (truncated, more alternatives exist)"
		}
		if len(branch.Alternatives) == 0 {
			label += " <leaf>"
		}
		if _, err := fmt.Fprintln(w, label); err != nil {
			return err
		}
		for _, alt := range branch.Alternatives {
			if err := dumpSrcNode(alt, depth+2, w); err != nil {
				return err
			}
		}
	}
	return nil
}
