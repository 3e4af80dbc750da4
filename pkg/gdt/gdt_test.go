// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gdt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSelectorsMatchEntryOffsets(t *testing.T) {
	table := Build()
	require.Len(t, table, 7)
	require.EqualValues(t, SelectorNull, 0*entrySize)
	require.EqualValues(t, SelectorCode32, 1*entrySize)
	require.EqualValues(t, SelectorData32, 2*entrySize)
	require.EqualValues(t, SelectorCode16, 3*entrySize)
	require.EqualValues(t, SelectorData16, 4*entrySize)
	require.EqualValues(t, SelectorCode64, 5*entrySize)
	require.EqualValues(t, SelectorData64, 6*entrySize)
}

func TestNullDescriptorIsZero(t *testing.T) {
	table := Build()
	require.Zero(t, table[0])
}

func TestLongModeDescriptorsCarryLongModeFlag(t *testing.T) {
	table := Build()
	code64FlagsLimitHigh := byte(table[SelectorCode64/entrySize] >> 48)
	data64FlagsLimitHigh := byte(table[SelectorData64/entrySize] >> 48)
	require.NotZero(t, code64FlagsLimitHigh&(FlagLongMode<<4))
	require.NotZero(t, data64FlagsLimitHigh&(FlagLongMode<<4))

	code32FlagsLimitHigh := byte(table[SelectorCode32/entrySize] >> 48)
	require.Zero(t, code32FlagsLimitHigh&(FlagLongMode<<4))
}

func TestDescriptorBytesRoundTrip(t *testing.T) {
	table := Build()
	desc := NewDescriptor(0x9000)
	buf := desc.Bytes()
	require.Len(t, buf, 10)
	require.EqualValues(t, entryCount*entrySize-1, uint16(buf[0])|uint16(buf[1])<<8)
	require.Equal(t, desc, Descriptor{Limit: binary.LittleEndian.Uint16(buf[0:2]), Base: binary.LittleEndian.Uint64(buf[2:10])})

	tableBytes := table.Bytes()
	require.Len(t, tableBytes, entryCount*entrySize)
}

func TestNewTrampolineFixesLongModeSelectors(t *testing.T) {
	tr := NewTrampoline(NewDescriptor(0x9000), 0x100000, 0xFFFF900000200000, 0xFFFFFFFF80000000, 0x8000)
	require.Equal(t, SelectorCode64, tr.Code64Sel)
	require.Equal(t, SelectorData64, tr.Data64Sel)
	require.EqualValues(t, 0x100000, tr.PML4Base)
}
