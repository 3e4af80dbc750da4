// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bootinfo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleParams() Params {
	return Build(Params{
		BootloaderNamePtr:          0x7C00,
		BootloaderVersion:          [4]uint8{0, 1, 0, 42},
		BIOSBootDrive:              0x80,
		BIOSIDTPtr:                 0x400,
		MemoryLayoutPtr:            0x20000,
		MemoryLayoutEntryCount:     3,
		MemoryLayoutEntrySize:      MemoryLayoutEntrySize,
		PageTablesArenaCurrent:     0x310000,
		PageTablesArenaEnd:         0x400000,
		PML4Base:                  0x300000,
		UsableKernelMemoryStart:    0x1000000,
		VBEInfoBlockPtr:            0x8000,
		VBEModesInfoPtr:            0x8200,
		VBEModeInfoBlockEntryCount: 4,
		VBESelectedMode:            0x118,
		KernelStackPointer:         0xFFFF900000200000,
	})
}

func TestVerifyAcceptsFreshlyBuiltParams(t *testing.T) {
	p := sampleParams()
	require.True(t, Verify(p))
}

func TestVerifyRejectsAnySingleByteFlip(t *testing.T) {
	p := sampleParams()
	buf := p.Marshal()

	for i := range buf {
		// Skip the checksum field itself: flipping it is expected to
		// desynchronize Checksum from Compute, which Verify already
		// covers via TestVerifyAcceptsFreshlyBuiltParams; the property
		// under test is about the rest of the structure.
		if i >= 8 && i < 8+4*8 {
			continue
		}
		flipped := make([]byte, len(buf))
		copy(flipped, buf)
		flipped[i] ^= 0xFF
		mutated := Unmarshal(flipped)
		require.Falsef(t, Verify(mutated), "byte %d flip should invalidate checksum", i)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	p := sampleParams()
	got := Unmarshal(p.Marshal())
	require.Equal(t, p, got)
}

func TestStructSizeMatchesMarshaledLength(t *testing.T) {
	p := sampleParams()
	require.EqualValues(t, len(p.Marshal()), p.StructSize)
}
