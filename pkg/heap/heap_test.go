// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"testing"

	"github.com/ailphaune/obsi2boot/pkg/physmem"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T, size uint32) (*Heap, *physmem.Memory) {
	t.Helper()
	mem := physmem.New(0, size)
	h, err := New(mem, 0, size)
	require.NoError(t, err)
	return h, mem
}

func TestAllocReturnsPageAlignedPointers(t *testing.T) {
	h, _ := newTestHeap(t, 1024*1024)

	p1, err := h.Alloc(100)
	require.NoError(t, err)
	require.Zero(t, uint32(p1)%pageSize)

	p2, err := h.Alloc(5000)
	require.NoError(t, err)
	require.Zero(t, uint32(p2)%pageSize)
	require.NotEqual(t, p1, p2)
}

func TestAllocFreeReclaimsSpace(t *testing.T) {
	h, _ := newTestHeap(t, 256*1024)

	before, err := h.Stat()
	require.NoError(t, err)

	p, err := h.Alloc(4096)
	require.NoError(t, err)
	require.NoError(t, h.Free(p))

	after, err := h.Stat()
	require.NoError(t, err)
	require.Equal(t, before.FreeBytes, after.FreeBytes)
	require.Equal(t, before.BlockCount, after.BlockCount)
}

func TestAllocExhaustion(t *testing.T) {
	h, _ := newTestHeap(t, 32*1024)

	_, err := h.Alloc(1 << 20)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestWriteReadRoundTrip(t *testing.T) {
	h, mem := newTestHeap(t, 256*1024)

	p, err := h.Alloc(64)
	require.NoError(t, err)

	payload := []byte("obsidian bootloader stage2 heap test payload!!!")
	require.NoError(t, mem.WriteAt(p, payload))

	got := make([]byte, len(payload))
	require.NoError(t, mem.ReadAt(p, got))
	require.Equal(t, payload, got)
}

func TestReallocGrowInPlaceWhenNextIsFree(t *testing.T) {
	h, mem := newTestHeap(t, 256*1024)

	p1, err := h.Alloc(64)
	require.NoError(t, err)
	p2, err := h.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, h.Free(p2))

	require.NoError(t, mem.WriteAt(p1, []byte("hello")))

	grown, err := h.Realloc(p1, 8192)
	require.NoError(t, err)
	require.Equal(t, p1, grown)

	got := make([]byte, 5)
	require.NoError(t, mem.ReadAt(grown, got))
	require.Equal(t, []byte("hello"), got)
}

func TestReallocMovesWhenNoRoom(t *testing.T) {
	h, mem := newTestHeap(t, 64*1024)

	p1, err := h.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, mem.WriteAt(p1, []byte("movable data")))

	// keep the rest of the arena busy so growth cannot happen in place.
	_, err = h.Alloc(32 * 1024)
	require.NoError(t, err)

	grown, err := h.Realloc(p1, 8192)
	require.NoError(t, err)
	require.NotEqual(t, p1, grown)

	got := make([]byte, len("movable data"))
	require.NoError(t, mem.ReadAt(grown, got))
	require.Equal(t, []byte("movable data"), got)
}

func TestReallocShrinkIsNoop(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)

	p, err := h.Alloc(4096)
	require.NoError(t, err)

	same, err := h.Realloc(p, 10)
	require.NoError(t, err)
	require.Equal(t, p, same)
}

func TestReallocFailureLeavesOriginalPointerIntact(t *testing.T) {
	h, mem := newTestHeap(t, 16*1024)

	p, err := h.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, mem.WriteAt(p, []byte("keepme")))

	_, err = h.Realloc(p, 1<<20)
	require.Error(t, err)

	got := make([]byte, len("keepme"))
	require.NoError(t, mem.ReadAt(p, got))
	require.Equal(t, []byte("keepme"), got)
}

func TestStatAccountsForAllBytes(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)

	before, err := h.Stat()
	require.NoError(t, err)

	p, err := h.Alloc(1024)
	require.NoError(t, err)

	mid, err := h.Stat()
	require.NoError(t, err)
	require.Equal(t, before.TotalBytes, mid.TotalBytes)
	require.Greater(t, mid.UsedBytes, uint64(0))

	require.NoError(t, h.Free(p))
	after, err := h.Stat()
	require.NoError(t, err)
	require.Equal(t, before.FreeBytes, after.FreeBytes)
}
