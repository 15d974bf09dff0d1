// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dotrender is the one concrete graph renderer this repo ships
// for the Renderer Feed (spec.md §4.7): it walks a render.Feed's blocks
// and typed edges into a directed graph-record.Value-shaped node per
// block, a solid edge for direct successors and a dashed edge for
// fallthrough successors (spec.md §6's --dump-cfg), and encodes it with
// gonum's DOT writer rather than a hand-rolled one.
package dotrender

import (
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/tbgraph/libtcgcfg/ir"
	"github.com/tbgraph/libtcgcfg/render"
)

// blockNode is one render.Feed block, adapted to graph.Node plus the DOT
// encoding hooks (DOTIDer, Attributer) dot.Marshal looks for.
type blockNode struct {
	id  int64
	blk *ir.Block
}

func (n *blockNode) ID() int64      { return n.id }
func (n *blockNode) DOTID() string  { return fmt.Sprintf("block_%x", n.blk.GuestAddr) }
func (n *blockNode) Attributes() []encoding.Attribute {
	return []encoding.Attribute{
		{Key: "shape", Value: "record"},
		{Key: "label", Value: recordLabel(n.blk)},
	}
}

// blockEdge is one CFG edge, adapted to graph.Edge plus its DOT
// attributes (dashed for fallthrough, solid for direct, per spec.md §6).
type blockEdge struct {
	f, t graph.Node
	typ  ir.EdgeType
}

func (e blockEdge) From() graph.Node         { return e.f }
func (e blockEdge) To() graph.Node           { return e.t }
func (e blockEdge) ReversedEdge() graph.Edge { return blockEdge{f: e.t, t: e.f, typ: e.typ} }
func (e blockEdge) Attributes() []encoding.Attribute {
	style := "solid"
	if e.typ == ir.EdgeFallthrough {
		style = "dashed"
	}
	return []encoding.Attribute{
		{Key: "label", Value: e.typ.String()},
		{Key: "style", Value: style},
	}
}

// Render encodes feed as a DOT-format byte stream.
func Render(feed *render.Feed) ([]byte, error) {
	g := simple.NewDirectedGraph()

	nodes := make(map[*ir.Block]*blockNode, len(feed.Blocks))
	for i, blk := range feed.Blocks {
		n := &blockNode{id: int64(i), blk: blk}
		nodes[blk] = n
		g.AddNode(n)
	}
	for _, blk := range feed.Blocks {
		src := nodes[blk]
		for _, e := range blk.Succ {
			dst, ok := nodes[e.Dst]
			if !ok {
				continue // successor outside the feed's block set.
			}
			g.SetEdge(blockEdge{f: src, t: dst, typ: e.Type})
		}
	}

	return dot.Marshal(g, "cfg", "", "  ")
}

// WriteFile renders feed and writes it to path, the --dump-cfg <out>
// destination.
func WriteFile(feed *render.Feed, path string) error {
	data, err := Render(feed)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func recordLabel(blk *ir.Block) string {
	var b strings.Builder
	b.WriteString(escapeRecordLabel(fmt.Sprintf("block %#x", blk.GuestAddr)))
	for i := 0; i < blk.InstructionCount(); i++ {
		b.WriteByte('|')
		b.WriteString(escapeRecordLabel(render.FormatInstruction(blk.Instruction(i))))
	}
	return "{" + b.String() + "}"
}

var recordLabelReplacer = strings.NewReplacer(
	`\`, `\\`,
	"{", `\{`,
	"}", `\}`,
	"|", `\|`,
	"<", `\<`,
	">", `\>`,
	`"`, `\"`,
)

func escapeRecordLabel(s string) string { return recordLabelReplacer.Replace(s) }
