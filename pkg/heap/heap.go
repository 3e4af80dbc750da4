// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heap implements the intrusive free-list allocator the bootloader
// core uses for every dynamic allocation once a usable memory region has
// been chosen by pkg/memmap.
// Blocks form a singly-linked-both-ways chain of headers living directly in
// the arena: there is no separate bookkeeping area. Each header describes
// the free/used block that immediately follows it. User pointers returned
// by Alloc are always 4 KiB aligned, so allocations can double as
// page-table or DMA buffers without a second aligned allocator.
package heap

import (
	"fmt"

	"github.com/ailphaune/obsi2boot/pkg/physmem"
)

// pageSize is the alignment granularity for split block boundaries and for
// every pointer Alloc hands back.
const pageSize = 4096

// headerSize is the encoded size of a block header: Size, Free, Prev, Next,
// each a little-endian uint32.
const headerSize = 16

// Stats summarizes the current state of a Heap, for diagnostics.
type Stats struct {
	TotalBytes    uint64
	UsedBytes     uint64
	FreeBytes     uint64
	BlockCount    int
	FreeBlocks    int
	LargestFree   uint64
}

// Heap is an intrusive free-list allocator over a physmem.Memory region.
type Heap struct {
	mem   *physmem.Memory
	first physmem.Addr
	end   physmem.Addr
}

type header struct {
	size uint32
	free uint32
	prev physmem.Addr
	next physmem.Addr
}

func alignUp4K(addr physmem.Addr) physmem.Addr {
	return (addr + pageSize - 1) &^ (pageSize - 1)
}

// New initializes a Heap over [base, base+size) of mem. The first header is
// placed immediately before the first 4 KiB-aligned address in the arena
// that leaves room for it, so the block's data pointer (header+headerSize)
// sits on the page boundary; New fails if that leaves no payload at all.
func New(mem *physmem.Memory, base physmem.Addr, size uint32) (*Heap, error) {
	start := alignUp4K(base+headerSize) - headerSize
	shrink := uint32(start - base)
	if shrink >= size || size-shrink <= headerSize {
		return nil, fmt.Errorf("heap: arena [0x%x, 0x%x) too small after alignment", base, uint64(base)+uint64(size))
	}
	usable := size - shrink
	end := start + physmem.Addr(usable)

	h := &Heap{mem: mem, first: start, end: end}
	if err := h.writeHeader(start, header{size: usable - headerSize, free: 1, prev: 0, next: 0}); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Heap) readHeader(addr physmem.Addr) (header, error) {
	var buf [headerSize]byte
	if err := h.mem.ReadAt(addr, buf[:]); err != nil {
		return header{}, err
	}
	return header{
		size: leUint32(buf[0:4]),
		free: leUint32(buf[4:8]),
		prev: physmem.Addr(leUint32(buf[8:12])),
		next: physmem.Addr(leUint32(buf[12:16])),
	}, nil
}

func (h *Heap) writeHeader(addr physmem.Addr, hdr header) error {
	var buf [headerSize]byte
	putLEUint32(buf[0:4], hdr.size)
	putLEUint32(buf[4:8], hdr.free)
	putLEUint32(buf[8:12], uint32(hdr.prev))
	putLEUint32(buf[12:16], uint32(hdr.next))
	return h.mem.WriteAt(addr, buf[:])
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLEUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (h *Heap) dataAddr(blockAddr physmem.Addr) physmem.Addr {
	return blockAddr + headerSize
}

// ErrOutOfMemory is returned when no free block is large enough to satisfy
// an allocation.
var ErrOutOfMemory = fmt.Errorf("heap: out of memory")

// Alloc reserves size bytes and returns a 4 KiB aligned pointer to them,
// using first-fit search and splitting the chosen block when the remainder
// is large enough to host another header plus at least one page.
func (h *Heap) Alloc(size uint32) (physmem.Addr, error) {
	if size == 0 {
		size = 1
	}

	addr := h.first
	for {
		blk, err := h.readHeader(addr)
		if err != nil {
			return 0, err
		}
		if blk.free != 0 && blk.size >= size {
			return h.allocateFrom(addr, blk, size)
		}
		if blk.next == 0 {
			break
		}
		addr = blk.next
	}

	return 0, ErrOutOfMemory
}

func (h *Heap) allocateFrom(addr physmem.Addr, blk header, size uint32) (physmem.Addr, error) {
	data := h.dataAddr(addr)
	blockEnd := data + physmem.Addr(blk.size)

	// Place the split header so the new block's data pointer, not the
	// header itself, lands on the next page boundary past the allocation.
	splitHeader := alignUp4K(data+physmem.Addr(size)+headerSize) - headerSize
	if splitHeader+headerSize+pageSize <= blockEnd {
		newSize := uint32(blockEnd - (splitHeader + headerSize))
		newBlock := header{size: newSize, free: 1, prev: addr, next: blk.next}
		if err := h.writeHeader(splitHeader, newBlock); err != nil {
			return 0, err
		}
		if blk.next != 0 {
			next, err := h.readHeader(blk.next)
			if err != nil {
				return 0, err
			}
			next.prev = splitHeader
			if err := h.writeHeader(blk.next, next); err != nil {
				return 0, err
			}
		}
		blk.size = uint32(splitHeader - data)
		blk.next = splitHeader
	}

	blk.free = 0
	if err := h.writeHeader(addr, blk); err != nil {
		return 0, err
	}
	return data, nil
}

func (h *Heap) headerFor(ptr physmem.Addr) physmem.Addr {
	return ptr - headerSize
}

// Free releases a pointer previously returned by Alloc or Realloc, merging
// it with an adjacent free neighbor on either side.
func (h *Heap) Free(ptr physmem.Addr) error {
	addr := h.headerFor(ptr)
	blk, err := h.readHeader(addr)
	if err != nil {
		return err
	}
	blk.free = 1
	if err := h.writeHeader(addr, blk); err != nil {
		return err
	}

	if err := h.mergeWithNext(addr); err != nil {
		return err
	}
	blk, err = h.readHeader(addr)
	if err != nil {
		return err
	}
	if blk.prev != 0 {
		prev, err := h.readHeader(blk.prev)
		if err != nil {
			return err
		}
		if prev.free != 0 {
			return h.mergeWithNext(blk.prev)
		}
	}
	return nil
}

// mergeWithNext folds addr's immediate successor into addr if both are free.
func (h *Heap) mergeWithNext(addr physmem.Addr) error {
	blk, err := h.readHeader(addr)
	if err != nil {
		return err
	}
	if blk.free == 0 || blk.next == 0 {
		return nil
	}
	next, err := h.readHeader(blk.next)
	if err != nil {
		return err
	}
	if next.free == 0 {
		return nil
	}
	blk.size += headerSize + next.size
	blk.next = next.next
	if next.next != 0 {
		nextNext, err := h.readHeader(next.next)
		if err != nil {
			return err
		}
		nextNext.prev = addr
		if err := h.writeHeader(next.next, nextNext); err != nil {
			return err
		}
	}
	return h.writeHeader(addr, blk)
}

// Realloc resizes the allocation at ptr to newSize, growing in place by
// absorbing a free next-neighbor when possible and falling back to
// allocate-copy-free otherwise. On failure it returns ptr unchanged (the
// original data is left untouched, never freed) alongside the error.
func (h *Heap) Realloc(ptr physmem.Addr, newSize uint32) (physmem.Addr, error) {
	addr := h.headerFor(ptr)
	blk, err := h.readHeader(addr)
	if err != nil {
		return ptr, err
	}

	if blk.size >= newSize {
		return ptr, nil
	}

	if blk.next != 0 {
		next, err := h.readHeader(blk.next)
		if err != nil {
			return ptr, err
		}
		if next.free != 0 && blk.size+headerSize+next.size >= newSize {
			// mergeWithNext only folds free blocks, so absorb the free
			// successor into this used block directly.
			blk.size += headerSize + next.size
			blk.next = next.next
			if next.next != 0 {
				nextNext, err := h.readHeader(next.next)
				if err != nil {
					return ptr, err
				}
				nextNext.prev = addr
				if err := h.writeHeader(next.next, nextNext); err != nil {
					return ptr, err
				}
			}
			if err := h.writeHeader(addr, blk); err != nil {
				return ptr, err
			}
			return ptr, nil
		}
	}

	newPtr, err := h.Alloc(newSize)
	if err != nil {
		return ptr, err
	}
	var buf [pageSize]byte
	remaining := blk.size
	src, dst := ptr, newPtr
	for remaining > 0 {
		chunk := uint32(len(buf))
		if remaining < chunk {
			chunk = remaining
		}
		if err := h.mem.ReadAt(src, buf[:chunk]); err != nil {
			return ptr, err
		}
		if err := h.mem.WriteAt(dst, buf[:chunk]); err != nil {
			return ptr, err
		}
		src += physmem.Addr(chunk)
		dst += physmem.Addr(chunk)
		remaining -= chunk
	}
	if err := h.Free(ptr); err != nil {
		return newPtr, err
	}
	return newPtr, nil
}

// Stat walks the block chain and reports current usage.
func (h *Heap) Stat() (Stats, error) {
	var st Stats
	addr := h.first
	for {
		blk, err := h.readHeader(addr)
		if err != nil {
			return Stats{}, err
		}
		st.BlockCount++
		// A block's header counts toward the total and is always in use,
		// whether or not the block's payload is free.
		st.TotalBytes += headerSize + uint64(blk.size)
		st.UsedBytes += headerSize
		if blk.free != 0 {
			st.FreeBlocks++
			st.FreeBytes += uint64(blk.size)
			if uint64(blk.size) > st.LargestFree {
				st.LargestFree = uint64(blk.size)
			}
		} else {
			st.UsedBytes += uint64(blk.size)
		}
		if blk.next == 0 {
			break
		}
		addr = blk.next
	}
	return st, nil
}

// String renders human-readable sizes via go-humanize.
func (s Stats) String() string {
	return fmt.Sprintf(
		"heap: %s total, %s used, %s free across %d blocks (%d free, largest %s)",
		humanizeBytes(s.TotalBytes), humanizeBytes(s.UsedBytes), humanizeBytes(s.FreeBytes),
		s.BlockCount, s.FreeBlocks, humanizeBytes(s.LargestFree),
	)
}
