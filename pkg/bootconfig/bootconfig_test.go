// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bootconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseModeNumber(t *testing.T) {
	cfg := Parse([]byte("# pick a VESA mode\nvbe_mode=0x0\nvbe_mode=280\n"))
	require.NotNil(t, cfg.VBEMode)
	require.True(t, cfg.VBEMode.HasNumber)
	require.EqualValues(t, 280, cfg.VBEMode.Number)
}

func TestParseModeDimensions(t *testing.T) {
	cfg := Parse([]byte("vbe_mode=1024x768:32\n"))
	require.NotNil(t, cfg.VBEMode)
	require.False(t, cfg.VBEMode.HasNumber)
	require.EqualValues(t, 1024, cfg.VBEMode.Width)
	require.EqualValues(t, 768, cfg.VBEMode.Height)
	require.EqualValues(t, 32, cfg.VBEMode.BPP)
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	cfg := Parse([]byte("\n# just a comment\n\nvbe_mode=117\n"))
	require.NotNil(t, cfg.VBEMode)
	require.EqualValues(t, 117, cfg.VBEMode.Number)
}

func TestParseSkipsUnknownLines(t *testing.T) {
	cfg := Parse([]byte("kernel=/boot/vmlinuz\nvbe_mode=117\n"))
	require.NotNil(t, cfg.VBEMode)
	require.EqualValues(t, 117, cfg.VBEMode.Number)
}

func TestParseEmptyInputYieldsEmptyConfig(t *testing.T) {
	cfg := Parse(nil)
	require.Nil(t, cfg.VBEMode)
}
