// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfinput_test

import (
	"bytes"
	"debug/elf"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbgraph/libtcgcfg/elfinput"
)

func TestInferArchKnownMachines(t *testing.T) {
	cases := []struct {
		machine elf.Machine
		order   elf.Data
		want    string
	}{
		{elf.EM_X86_64, elf.ELFDATA2LSB, "x86_64"},
		{elf.EM_AARCH64, elf.ELFDATA2LSB, "aarch64"},
		{elf.EM_ARM, elf.ELFDATA2LSB, "arm"},
		{elf.EM_RISCV, elf.ELFDATA2LSB, "riscv64"},
		{elf.EM_MIPS, elf.ELFDATA2MSB, "mips"},
		{elf.EM_PPC64, elf.ELFDATA2LSB, "ppc64le"},
	}
	for _, c := range cases {
		got, err := elfinput.InferArch(c.machine, c.order)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestInferArchRejectsBigEndianPPC64(t *testing.T) {
	_, err := elfinput.InferArch(elf.EM_PPC64, elf.ELFDATA2MSB)
	require.Error(t, err)
	var uaErr *elfinput.UnknownArchitectureError
	require.ErrorAs(t, err, &uaErr)
}

func TestInferArchRejectsUnknownMachine(t *testing.T) {
	_, err := elfinput.InferArch(elf.EM_ALPHA, elf.ELFDATA2LSB)
	require.Error(t, err)
}

func TestFromOffsetReadsExactSlice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04}
	require.NoError(t, os.WriteFile(path, data, 0o600))

	r, err := elfinput.FromOffset(path, 2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{0xbe, 0xef, 0x01, 0x02}, r.Bytes)
	require.EqualValues(t, 2, r.GuestAddr)
}

func TestFromOffsetRejectsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o600))

	_, err := elfinput.FromOffset(path, 1, 10)
	require.Error(t, err)
}

func TestFromStdinBoundsReadLength(t *testing.T) {
	src := strings.Repeat("A", 100)
	r, err := elfinput.FromStdin(bytes.NewBufferString(src), 10)
	require.NoError(t, err)
	require.Len(t, r.Bytes, 10)
	require.Empty(t, r.Arch)
}

func TestFromSectionOnNonELFFileReportsInvalidMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notelf.bin")
	require.NoError(t, os.WriteFile(path, []byte("not an elf file"), 0o600))

	_, err := elfinput.FromSection(path, ".text")
	require.ErrorIs(t, err, elfinput.ErrInvalidELFMagic)
}

func TestFromFunctionOnNonELFFileReportsInvalidMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notelf.bin")
	require.NoError(t, os.WriteFile(path, []byte("not an elf file"), 0o600))

	_, err := elfinput.FromFunction(path, "main")
	require.ErrorIs(t, err, elfinput.ErrInvalidELFMagic)
}
