// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbgraph/libtcgcfg/lifter/x86"
)

func TestParseHexUint(t *testing.T) {
	v, err := parseHexUint("0x1000")
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), v)

	v, err = parseHexUint("1000")
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), v)

	_, err = parseHexUint("not-hex")
	require.Error(t, err)
}

func TestParseQuerySpec(t *testing.T) {
	q, err := parseQuerySpec("0x1000:1:1")
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), q.GuestAddr)
	require.Equal(t, 1, q.InstOffset)
	require.Equal(t, 1, q.OperandIndex)

	_, err = parseQuerySpec("0x1000:1")
	require.Error(t, err)

	_, err = parseQuerySpec("bad:1:1")
	require.Error(t, err)
}

func TestAdapterForArchKnownAndUnknown(t *testing.T) {
	a, err := adapterForArch("x86_64")
	require.NoError(t, err)
	require.IsType(t, x86.New(), a)

	_, err = adapterForArch("aarch64")
	require.Error(t, err)

	_, err = adapterForArch("bogus")
	require.Error(t, err)
}

func TestResolveRegionRequiresInputSelector(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "code.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xc3}, 0o644))

	_, _, err := resolveRegion([]string{path}, &options{})
	require.Error(t, err, "no selector given")

	_, _, err = resolveRegion([]string{path}, &options{offset: "0x0", length: 1, section: "text"})
	require.Error(t, err, "mutually exclusive selectors")
}

func TestResolveRegionOffsetModeRequiresArch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "code.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xc3}, 0o644))

	_, _, err := resolveRegion([]string{path}, &options{offset: "0x0", length: 1})
	require.Error(t, err)

	region, arch, err := resolveRegion([]string{path}, &options{offset: "0x0", length: 1, arch: "x86_64"})
	require.NoError(t, err)
	require.Equal(t, "x86_64", arch)
	require.Equal(t, []byte{0xc3}, region.Bytes)
}

func TestResolveRegionBytesModeRequiresArch(t *testing.T) {
	_, _, err := resolveRegion(nil, &options{bytesMode: true})
	require.Error(t, err)
}
