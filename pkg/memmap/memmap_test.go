// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memmap

import (
	"testing"

	"github.com/ailphaune/obsi2boot/pkg/biosthunk"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
	"github.com/stretchr/testify/require"
)

func writeEntry(t *testing.T, mem *physmem.Memory, addr physmem.Addr, base, length uint64, kind RangeType) {
	t.Helper()
	var buf [e820EntrySize]byte
	putLE64(buf[0:8], base)
	putLE64(buf[8:16], length)
	putLE32(buf[16:20], uint32(kind))
	require.NoError(t, mem.WriteAt(addr, buf[:]))
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLE64(b []byte, v uint64) {
	putLE32(b[0:4], uint32(v))
	putLE32(b[4:8], uint32(v>>32))
}

// fakeBIOS drives an E820 table through a SoftwareInvoker, one record per
// call, exactly as a real BIOS would hand the continuation value back in EBX.
func fakeBIOS(t *testing.T, mem *physmem.Memory, scratch physmem.Addr, table []Entry) *biosthunk.SoftwareInvoker {
	t.Helper()
	inv := biosthunk.NewSoftwareInvoker()
	inv.Handle(0x15, func(req biosthunk.Request) biosthunk.Snapshot {
		require.EqualValues(t, 0xE820, req.EAX)
		require.EqualValues(t, smapSignature, req.EDX)
		idx := int(req.EBX)
		if idx >= len(table) {
			return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0100}
		}
		e := table[idx]
		writeEntry(t, mem, scratch, e.Base, e.Len, e.Kind)
		next := uint32(idx + 1)
		if next >= uint32(len(table)) {
			next = 0
		}
		return biosthunk.Snapshot{EBX: next}
	})
	return inv
}

func TestDetectReadsAllEntries(t *testing.T) {
	mem := physmem.New(0, 0x10000)
	scratch := physmem.Addr(0x1000)
	want := []Entry{
		{Base: 0, Len: 0x9FC00, Kind: RangeAvailable},
		{Base: 0x100000, Len: 32 * 1024 * 1024, Kind: RangeAvailable},
		{Base: 0xFEC00000, Len: 0x1000, Kind: RangeReserved},
	}
	inv := fakeBIOS(t, mem, scratch, want)

	got, err := Detect(inv, mem, scratch)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDetectStopsAtMaxEntries(t *testing.T) {
	mem := physmem.New(0, 0x10000)
	scratch := physmem.Addr(0x1000)

	table := make([]Entry, MaxEntries+10)
	for i := range table {
		table[i] = Entry{Base: uint64(i) * 0x1000, Len: 0x1000, Kind: RangeReserved}
	}

	inv := biosthunk.NewSoftwareInvoker()
	calls := 0
	inv.Handle(0x15, func(req biosthunk.Request) biosthunk.Snapshot {
		calls++
		idx := int(req.EBX)
		e := table[idx]
		writeEntry(t, mem, scratch, e.Base, e.Len, e.Kind)
		return biosthunk.Snapshot{EBX: uint32(idx + 1)}
	})

	got, err := Detect(inv, mem, scratch)
	require.NoError(t, err)
	require.Len(t, got, MaxEntries)
	require.Equal(t, MaxEntries, calls)
}

func TestDetectPropagatesBIOSError(t *testing.T) {
	mem := physmem.New(0, 0x10000)
	scratch := physmem.Addr(0x1000)

	inv := biosthunk.NewSoftwareInvoker()
	inv.Handle(0x15, func(req biosthunk.Request) biosthunk.Snapshot {
		return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x8600}
	})

	_, err := Detect(inv, mem, scratch)
	require.Error(t, err)
	var biosErr *ErrBIOS
	require.ErrorAs(t, err, &biosErr)
	require.EqualValues(t, 0x86, biosErr.Code)
}

func TestSelectHeapCandidatePicksLargestUsableAbove1MiB(t *testing.T) {
	entries := []Entry{
		{Base: 0, Len: 0x9FC00, Kind: RangeAvailable},           // below 1 MiB, excluded
		{Base: 0x100000, Len: 8 * 1024 * 1024, Kind: RangeAvailable},
		{Base: 0x900000, Len: 64 * 1024 * 1024, Kind: RangeAvailable},
		{Base: 0xFFFFFFFF00000000, Len: 128 * 1024 * 1024, Kind: RangeReserved}, // wrong kind, excluded
	}

	got, err := SelectHeapCandidate(entries)
	require.NoError(t, err)
	require.Equal(t, Candidate{Base: 0x900000, Len: 64 * 1024 * 1024}, got)
}

func TestSelectHeapCandidateRejectsTooSmall(t *testing.T) {
	entries := []Entry{
		{Base: 0x100000, Len: 4 * 1024 * 1024, Kind: RangeAvailable},
	}

	_, err := SelectHeapCandidate(entries)
	require.ErrorIs(t, err, ErrInsufficientMemory)
}

func TestSelectHeapCandidateRejectsNoneAvailable(t *testing.T) {
	entries := []Entry{
		{Base: 0x100000, Len: 64 * 1024 * 1024, Kind: RangeReserved},
	}

	_, err := SelectHeapCandidate(entries)
	require.ErrorIs(t, err, ErrInsufficientMemory)
}
