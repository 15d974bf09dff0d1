// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbgraph/libtcgcfg/elfinput"
	"github.com/tbgraph/libtcgcfg/internal/diag"
	"github.com/tbgraph/libtcgcfg/lifter"
	"github.com/tbgraph/libtcgcfg/lifter/x86"
	"github.com/tbgraph/libtcgcfg/render"
	"github.com/tbgraph/libtcgcfg/render/dotrender"
	"github.com/tbgraph/libtcgcfg/request"
)

// maxStdinBytes bounds the --bytes input mode (spec.md §6: "a bounded
// number of bytes"). No flag exposes this; it's large enough for any
// function body a human would feed through a pipe.
const maxStdinBytes = 16 << 20

type options struct {
	arch         string
	dumpIR       bool
	dumpCFG      string
	analyzeStack bool
	regSrc       string
	optimize     bool
	h2tcg        bool
	debug        bool
	offset       string
	length       uint64
	section      string
	function     string
	bytesMode    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "libtcgcfg [file]",
		Short: "Lift machine code into a target-independent IR and analyze its CFG",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.arch, "arch", "a", "", "architecture name (required for raw-bytes input modes)")
	flags.BoolVarP(&opts.dumpIR, "dump-ir", "i", false, "emit the lifted IR textually, one instruction per line")
	flags.StringVarP(&opts.dumpCFG, "dump-cfg", "c", "", "emit the annotated CFG as a DOT graph to <out>")
	flags.BoolVarP(&opts.analyzeStack, "analyze-max-stack", "m", false, "run the max-stack fixpoint and annotate the IR dump")
	flags.StringVarP(&opts.regSrc, "analyze-reg-src", "r", "", "source-tree query, <hex guest addr>:<inst offset>:<operand index>")
	flags.BoolVarP(&opts.optimize, "optimize", "p", false, "set lifter flag optimize")
	flags.BoolVarP(&opts.h2tcg, "h2tcg", "t", false, "set lifter flag helper_to_tcg (experimental)")
	flags.BoolVarP(&opts.debug, "debug", "d", false, "print arena usage after the run")
	flags.StringVar(&opts.offset, "offset", "", "raw slice start, hex (with --length)")
	flags.Uint64Var(&opts.length, "length", 0, "raw slice length (with --offset)")
	flags.StringVar(&opts.section, "section", "", "select an ELF section by name")
	flags.StringVar(&opts.function, "function", "", "select an ELF function symbol by name")
	flags.BoolVar(&opts.bytesMode, "bytes", false, "read a bounded number of bytes from standard input")

	return cmd
}

func runRoot(cmd *cobra.Command, args []string, opts *options) error {
	region, archName, err := resolveRegion(args, opts)
	if err != nil {
		return err
	}

	adapter, err := adapterForArch(archName)
	if err != nil {
		return err
	}

	var query *request.QuerySpec
	if opts.regSrc != "" {
		query, err = parseQuerySpec(opts.regSrc)
		if err != nil {
			return err
		}
	}

	logger := diag.Discard
	if opts.debug {
		logger = diag.NewDebug()
	}

	reqOpts := request.Options{
		Optimize:    opts.optimize,
		HelperToTCG: opts.h2tcg,
		RunMaxStack: opts.analyzeStack,
		Query:       query,
		Logger:      logger,
	}

	res, err := runLift(adapter, region, reqOpts)
	if err != nil {
		cmd.SilenceUsage = true
		return err
	}
	defer res.Arena.FreeAll()

	if opts.dumpIR {
		if opts.analyzeStack {
			if err := render.DumpMaxStack(res.Feed, cmd.OutOrStdout()); err != nil {
				return err
			}
		} else if err := render.DumpIR(res.Feed, cmd.OutOrStdout()); err != nil {
			return err
		}
	}

	if query != nil && res.Feed.QueryTree != nil {
		if err := render.DumpSrcTree(res.Feed.QueryTree, cmd.OutOrStdout()); err != nil {
			return err
		}
	}

	if opts.dumpCFG != "" {
		if err := dotrender.WriteFile(res.Feed, opts.dumpCFG); err != nil {
			cmd.SilenceUsage = true
			return err
		}
	}

	if opts.debug {
		printArenaUsage(cmd.OutOrStdout(), res)
	}

	return nil
}

// runLift wraps request.Run, recovering the typed panics the analysis
// packages raise on an invariant violation (spec.md §7 kind 5) into a
// plain error so the only os.Exit in this program lives in main.
func runLift(adapter lifter.Adapter, region request.Region, opts request.Options) (res *request.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("libtcgcfg: internal analysis invariant violated: %v", r)
		}
	}()
	return request.Run(adapter, region, opts)
}

// resolveRegion validates the mutually-exclusive input-selection flags
// (spec.md §6), loads the selected bytes, and returns the effective
// architecture name: the one inferred from an ELF container, or the
// user-supplied --arch for the input modes that carry no such metadata.
func resolveRegion(args []string, opts *options) (request.Region, string, error) {
	if opts.bytesMode {
		if len(args) != 0 {
			return request.Region{}, "", fmt.Errorf("libtcgcfg: --bytes cannot be combined with a file argument")
		}
		if opts.offset != "" || opts.length != 0 || opts.section != "" || opts.function != "" {
			return request.Region{}, "", fmt.Errorf("libtcgcfg: --bytes cannot be combined with --offset/--length, --section, or --function")
		}
		if opts.arch == "" {
			return request.Region{}, "", fmt.Errorf("libtcgcfg: --arch is required with --bytes")
		}
		r, err := elfinput.FromStdin(os.Stdin, maxStdinBytes)
		if err != nil {
			return request.Region{}, "", err
		}
		return request.Region{Bytes: r.Bytes, GuestAddr: r.GuestAddr}, opts.arch, nil
	}

	if len(args) != 1 {
		return request.Region{}, "", fmt.Errorf("libtcgcfg: expected exactly one of a file argument or --bytes")
	}
	path := args[0]

	selected := 0
	if opts.offset != "" || opts.length != 0 {
		selected++
	}
	if opts.section != "" {
		selected++
	}
	if opts.function != "" {
		selected++
	}
	if selected == 0 {
		return request.Region{}, "", fmt.Errorf("libtcgcfg: specify one of --offset/--length, --section, or --function")
	}
	if selected > 1 {
		return request.Region{}, "", fmt.Errorf("libtcgcfg: --offset/--length, --section, and --function are mutually exclusive")
	}

	switch {
	case opts.section != "":
		r, err := elfinput.FromSection(path, opts.section)
		if err != nil {
			return request.Region{}, "", err
		}
		return request.Region{Bytes: r.Bytes, GuestAddr: r.GuestAddr}, r.Arch, nil

	case opts.function != "":
		r, err := elfinput.FromFunction(path, opts.function)
		if err != nil {
			return request.Region{}, "", err
		}
		return request.Region{Bytes: r.Bytes, GuestAddr: r.GuestAddr}, r.Arch, nil

	default:
		if opts.arch == "" {
			return request.Region{}, "", fmt.Errorf("libtcgcfg: --arch is required with --offset/--length")
		}
		offset, err := parseHexUint(opts.offset)
		if err != nil {
			return request.Region{}, "", fmt.Errorf("libtcgcfg: invalid --offset: %w", err)
		}
		r, err := elfinput.FromOffset(path, offset, opts.length)
		if err != nil {
			return request.Region{}, "", err
		}
		return request.Region{Bytes: r.Bytes, GuestAddr: r.GuestAddr}, opts.arch, nil
	}
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

// knownArchitectures is the fixed set spec.md §6 names; adapterForArch
// distinguishes a name outside this set (a config error: "unknown
// architecture") from a name inside it this repo just doesn't ship a
// reference lifter for.
var knownArchitectures = map[string]bool{
	"x86_64": true, "aarch64": true, "arm": true,
	"riscv64": true, "mips": true, "ppc64le": true,
}

func adapterForArch(name string) (lifter.Adapter, error) {
	if name == "x86_64" {
		return x86.New(), nil
	}
	if knownArchitectures[name] {
		return nil, fmt.Errorf("libtcgcfg: no lifter adapter available for architecture %q (only x86_64 ships a reference adapter)", name)
	}
	return nil, fmt.Errorf("libtcgcfg: unknown architecture %q", name)
}

func parseQuerySpec(raw string) (*request.QuerySpec, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("libtcgcfg: --analyze-reg-src expects <hex>:<ulong>:<ulong>, got %q", raw)
	}
	addr, err := parseHexUint(parts[0])
	if err != nil {
		return nil, fmt.Errorf("libtcgcfg: invalid guest address in --analyze-reg-src: %w", err)
	}
	instOffset, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("libtcgcfg: invalid instruction offset in --analyze-reg-src: %w", err)
	}
	operandIndex, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("libtcgcfg: invalid operand index in --analyze-reg-src: %w", err)
	}
	return &request.QuerySpec{GuestAddr: addr, InstOffset: int(instOffset), OperandIndex: int(operandIndex)}, nil
}

func printArenaUsage(w io.Writer, res *request.Result) {
	p := res.Arena.Persistent.Stats()
	tmp := res.Arena.Temporary.Stats()
	fmt.Fprintf(w, "arena usage:\n")
	fmt.Fprintf(w, "  persistent: %d/%d KiB, %d block(s)\n", p.UsedBytes/1024, p.TotalBytes/1024, p.Blocks)
	fmt.Fprintf(w, "  temporary:  %d/%d KiB, %d block(s)\n", tmp.UsedBytes/1024, tmp.TotalBytes/1024, tmp.Blocks)
}
