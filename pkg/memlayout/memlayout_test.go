// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memlayout

import (
	"testing"

	"github.com/ailphaune/obsi2boot/pkg/memmap"
	"github.com/stretchr/testify/require"
)

func entry(base, length uint64, kind memmap.RangeType) memmap.Entry {
	return memmap.Entry{Base: memmap.Addr64(base), Len: memmap.Addr64(length), Kind: kind}
}

func TestNormalizeSortsAndCoalesces(t *testing.T) {
	entries := []memmap.Entry{
		entry(0x100000, 0x100000, memmap.RangeAvailable),
		entry(0, 0x9FC00, memmap.RangeAvailable),
		entry(0x9FC00, 0x400, memmap.RangeReserved),
	}
	regions := Normalize(entries)

	require.Len(t, regions, 3)
	require.EqualValues(t, 0, regions[0].Start)
	require.EqualValues(t, 0x9FC00, regions[0].End)
	require.Equal(t, Usable, regions[0].Kind)

	require.EqualValues(t, 0x9FC00, regions[1].Start)
	require.EqualValues(t, 0xA0000, regions[1].End)
	require.Equal(t, Reserved, regions[1].Kind)

	require.EqualValues(t, 0x100000, regions[2].Start)
	require.EqualValues(t, 0x200000, regions[2].End)
	require.Equal(t, Usable, regions[2].Kind)
}

func TestNormalizeResolvesOverlapToReserved(t *testing.T) {
	entries := []memmap.Entry{
		entry(0, 0x2000, memmap.RangeAvailable),
		entry(0x1000, 0x2000, memmap.RangeReserved),
	}
	regions := Normalize(entries)

	require.Len(t, regions, 2)
	require.EqualValues(t, 0, regions[0].Start)
	require.EqualValues(t, 0x1000, regions[0].End)
	require.Equal(t, Usable, regions[0].Kind)

	require.EqualValues(t, 0x1000, regions[1].Start)
	require.EqualValues(t, 0x3000, regions[1].End)
	require.Equal(t, Reserved, regions[1].Kind)
}

func TestNormalizeOutputIsSortedAndNonOverlapping(t *testing.T) {
	entries := []memmap.Entry{
		entry(0x50000, 0x10000, memmap.RangeReserved),
		entry(0, 0x10000, memmap.RangeAvailable),
		entry(0x8000, 0x10000, memmap.RangeAvailable),
		entry(0x20000, 0x5000, memmap.RangeACPIReclaim),
	}
	regions := Normalize(entries)

	for i := 1; i < len(regions); i++ {
		require.LessOrEqual(t, regions[i-1].End, regions[i].Start, "regions must not overlap")
		require.Less(t, regions[i-1].Start, regions[i].Start)
		if regions[i-1].End == regions[i].Start {
			require.NotEqual(t, regions[i-1].Kind, regions[i].Kind, "adjacent regions of the same kind must be coalesced")
		}
	}
}

func TestNormalizeThreeWaySplit(t *testing.T) {
	entries := []memmap.Entry{
		entry(0, 10, memmap.RangeAvailable),
		entry(5, 2, memmap.RangeReserved),
		entry(7, 5, memmap.RangeAvailable),
	}
	regions := Normalize(entries)

	require.Equal(t, []Region{
		{Start: 0, End: 5, Kind: Usable},
		{Start: 5, End: 7, Kind: Reserved},
		{Start: 7, End: 12, Kind: Usable},
	}, regions)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	entries := []memmap.Entry{
		entry(0, 0x10000, memmap.RangeAvailable),
		entry(0x8000, 0x10000, memmap.RangeReserved),
		entry(0x14000, 0x10000, memmap.RangeAvailable),
	}
	once := Normalize(entries)

	reentered := make([]memmap.Entry, 0, len(once))
	for _, r := range once {
		kind := memmap.RangeReserved
		if r.Kind == Usable {
			kind = memmap.RangeAvailable
		}
		reentered = append(reentered, entry(r.Start, r.End-r.Start, kind))
	}
	require.Equal(t, once, Normalize(reentered))
}

func TestNormalizeSkipsNullEntries(t *testing.T) {
	entries := []memmap.Entry{
		entry(0, 0, memmap.RangeAvailable),
		entry(0x1000, 0x1000, memmap.RangeAvailable),
	}
	regions := Normalize(entries)
	require.Len(t, regions, 1)
	require.EqualValues(t, 0x1000, regions[0].Start)
}
