// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfinput implements the region-selection half of spec.md §6's
// external interface: turning a file-plus-selector (raw offset/length, an
// ELF section name, an ELF function symbol) or a bounded stdin read into
// a byte slice and a guest load address ready for a lifter.Adapter.
//
// The reader-based entry points, magic-number validation, and "dispatch
// by name within the container" shape are grounded on the teacher's
// wasm.ReadModule (wasm/module.go): a single parse entry point per input
// kind, section lookup by name, fatal on bad magic. ELF parsing itself
// uses the standard library's debug/elf — no repo in the retrieval corpus
// ships a from-scratch generic (32/64-bit, either-endian) ELF reader to
// ground a third-party choice on, and stdlib is what the wider Go
// ecosystem (e.g. go-delve/delve's own symbol layer) reaches for here too.
package elfinput

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInvalidELFMagic is returned when a file does not begin with a valid
// ELF header.
var ErrInvalidELFMagic = errors.New("elfinput: not an ELF file")

// UnresolvedSymbolError reports a --function lookup that found no match.
type UnresolvedSymbolError struct{ Name string }

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("elfinput: unresolved symbol %q", e.Name)
}

// UnresolvedSectionError reports a --section lookup that found no match.
type UnresolvedSectionError struct{ Name string }

func (e *UnresolvedSectionError) Error() string {
	return fmt.Sprintf("elfinput: unresolved section %q", e.Name)
}

// UnknownArchitectureError reports an ELF e_machine this package can't
// map to one of the CLI's fixed architecture names.
type UnknownArchitectureError struct{ Machine string }

func (e *UnknownArchitectureError) Error() string {
	return fmt.Sprintf("elfinput: unrecognized machine type %q", e.Machine)
}

// Region is a selected byte range ready for lifting: the bytes themselves,
// the guest address the first byte loads at, and (when derived from an
// ELF file) the inferred architecture name. Arch is empty for the raw
// offset/length and --bytes input modes, which carry no architecture
// metadata of their own — the caller must supply --arch.
type Region struct {
	Bytes     []byte
	GuestAddr uint64
	Arch      string
}

// FromOffset reads length bytes starting at offset from the named file,
// with no ELF interpretation. The guest address is taken to be the file
// offset itself, the natural reading for a flat/raw binary dump.
func FromOffset(path string, offset, length uint64) (Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Region{}, fmt.Errorf("elfinput: %w", err)
	}
	if offset > uint64(len(data)) || length > uint64(len(data))-offset {
		return Region{}, fmt.Errorf("elfinput: range [%#x, %#x) exceeds file size %#x", offset, offset+length, len(data))
	}
	return Region{Bytes: data[offset : offset+length], GuestAddr: offset}, nil
}

// FromSection selects an ELF section by name.
func FromSection(path, name string) (Region, error) {
	f, err := openELF(path)
	if err != nil {
		return Region{}, err
	}
	defer f.Close()

	sec := f.Section(name)
	if sec == nil {
		return Region{}, &UnresolvedSectionError{Name: name}
	}
	data, err := sec.Data()
	if err != nil {
		return Region{}, fmt.Errorf("elfinput: reading section %q: %w", name, err)
	}
	arch, err := InferArch(f.Machine, f.Data)
	if err != nil {
		return Region{}, err
	}
	return Region{Bytes: data, GuestAddr: sec.Addr, Arch: arch}, nil
}

// FromFunction selects an ELF function symbol by name, searching both the
// static and dynamic symbol tables.
func FromFunction(path, name string) (Region, error) {
	f, err := openELF(path)
	if err != nil {
		return Region{}, err
	}
	defer f.Close()

	sym, err := findFunctionSymbol(f, name)
	if err != nil {
		return Region{}, err
	}

	if sym.Section >= elf.SectionIndex(len(f.Sections)) {
		return Region{}, fmt.Errorf("elfinput: symbol %q names an invalid section index %d", name, sym.Section)
	}
	sec := f.Sections[sym.Section]
	secData, err := sec.Data()
	if err != nil {
		return Region{}, fmt.Errorf("elfinput: reading section for symbol %q: %w", name, err)
	}

	start := sym.Value - sec.Addr
	end := start + sym.Size
	if start > uint64(len(secData)) || end > uint64(len(secData)) {
		return Region{}, fmt.Errorf("elfinput: symbol %q's range falls outside its section", name)
	}

	arch, err := InferArch(f.Machine, f.Data)
	if err != nil {
		return Region{}, err
	}
	return Region{Bytes: secData[start:end], GuestAddr: sym.Value, Arch: arch}, nil
}

// FromStdin reads up to maxBytes from r, the --bytes input mode. The
// caller must supply --arch: raw bytes carry no architecture metadata.
func FromStdin(r io.Reader, maxBytes int) (Region, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(maxBytes)))
	if err != nil {
		return Region{}, fmt.Errorf("elfinput: reading stdin: %w", err)
	}
	return Region{Bytes: data}, nil
}

// openELF opens path as an ELF file, mapping a bad-magic parse failure to
// ErrInvalidELFMagic.
func openELF(path string) (*elf.File, error) {
	f, err := elf.Open(path)
	if err != nil {
		var fmtErr *elf.FormatError
		if errors.As(err, &fmtErr) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidELFMagic, err)
		}
		return nil, fmt.Errorf("elfinput: %w", err)
	}
	return f, nil
}

// findFunctionSymbol looks up name as a function symbol across both the
// static and dynamic symbol tables, preferring the static table.
func findFunctionSymbol(f *elf.File, name string) (*elf.Symbol, error) {
	if syms, err := f.Symbols(); err == nil {
		if sym := matchFunctionSymbol(syms, name); sym != nil {
			return sym, nil
		}
	}
	if syms, err := f.DynamicSymbols(); err == nil {
		if sym := matchFunctionSymbol(syms, name); sym != nil {
			return sym, nil
		}
	}
	return nil, &UnresolvedSymbolError{Name: name}
}

// matchFunctionSymbol is the pure lookup at the core of findFunctionSymbol,
// separated out so it can be exercised without a real ELF file.
func matchFunctionSymbol(syms []elf.Symbol, name string) *elf.Symbol {
	for i := range syms {
		if syms[i].Name == name && elf.ST_TYPE(syms[i].Info) == elf.STT_FUNC {
			return &syms[i]
		}
	}
	return nil
}

// InferArch maps an ELF e_machine plus byte order to one of the CLI's
// fixed architecture names (spec.md §6). It is a pure function of the
// two fields that determine the mapping, rather than of a whole *elf.File,
// so it can be tested without constructing a real ELF binary.
func InferArch(machine elf.Machine, order elf.Data) (string, error) {
	switch machine {
	case elf.EM_X86_64:
		return "x86_64", nil
	case elf.EM_AARCH64:
		return "aarch64", nil
	case elf.EM_ARM:
		return "arm", nil
	case elf.EM_RISCV:
		return "riscv64", nil
	case elf.EM_MIPS, elf.EM_MIPS_RS3_LE:
		return "mips", nil
	case elf.EM_PPC64:
		if order == elf.ELFDATA2LSB {
			return "ppc64le", nil
		}
		return "", &UnknownArchitectureError{Machine: "ppc64 (big-endian)"}
	default:
		return "", &UnknownArchitectureError{Machine: machine.String()}
	}
}
