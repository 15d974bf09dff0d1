// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command libtcgcfg is the CLI surface of spec.md §6: it selects a byte
// region (raw file offset/length, an ELF section, an ELF function, or
// bounded stdin), lifts it, optionally runs the max-stack fixpoint and a
// source-tree query, and dumps the result as text and/or a DOT graph.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
