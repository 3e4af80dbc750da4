// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernelelf

import (
	"fmt"

	"github.com/ailphaune/obsi2boot/pkg/heap"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
)

// Source is anything byte-addressable this loader can pull ELF bytes from
// — satisfied by *ext2.File without this package importing ext2, keeping
// the ELF loader usable against any backing store a caller wires up.
type Source interface {
	ReadAt(offset uint64, dst []byte) error
}

// KernelVAddrCeiling is the highest virtual address a loaded kernel
// segment may end at; above it is reserved for the kernel stack and the
// high-half direct physical map.
const KernelVAddrCeiling = 0xFFFF_9000_0000_0000

// LoadedSegment records where one PT_LOAD segment's physical backing
// buffer lives and which virtual address pkg/paging must map it to.
type LoadedSegment struct {
	VAddr     uint64
	PhysAddr  physmem.Addr
	Size      uint32
	Flags     uint32
}

// Image is a fully loaded (but not yet mapped) kernel: its entry point and
// every PT_LOAD segment's physical staging buffer.
type Image struct {
	Entry    uint64
	Segments []LoadedSegment
	MaxVAddr uint64
}

// Load parses src as a 64-bit ELF image and copies every PT_LOAD segment
// into a zero-initialized, heap-allocated physical buffer.
// It does not map anything into page tables; that is pkg/paging's job,
// driven by the returned Segments.
func Load(src Source, mem *physmem.Memory, h *heap.Heap) (*Image, error) {
	hdrBuf := make([]byte, headerSize)
	if err := src.ReadAt(0, hdrBuf); err != nil {
		return nil, fmt.Errorf("kernelelf: reading file header: %w", err)
	}
	hdr, err := ParseHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	phBuf := make([]byte, int(hdr.ProgHeaderCount)*int(hdr.ProgHeaderSize))
	if len(phBuf) > 0 {
		if err := src.ReadAt(hdr.ProgHeaderOffset, phBuf); err != nil {
			return nil, fmt.Errorf("kernelelf: reading program header table: %w", err)
		}
	}
	phs, err := ParseProgramHeaders(phBuf, int(hdr.ProgHeaderCount), int(hdr.ProgHeaderSize))
	if err != nil {
		return nil, err
	}

	img := &Image{Entry: hdr.Entry}
	for _, ph := range phs {
		if ph.Type != PTLoad || ph.MemSz == 0 {
			continue
		}

		addr, err := h.Alloc(uint32(ph.MemSz))
		if err != nil {
			return nil, fmt.Errorf("kernelelf: allocating %d bytes for segment at 0x%x: %w", ph.MemSz, ph.VAddr, err)
		}
		if err := mem.Zero(addr, uint32(ph.MemSz)); err != nil {
			return nil, err
		}

		if ph.FileSz > 0 {
			fileBuf := make([]byte, ph.FileSz)
			if err := src.ReadAt(ph.Offset, fileBuf); err != nil {
				return nil, fmt.Errorf("kernelelf: reading segment data at file offset 0x%x: %w", ph.Offset, err)
			}
			if err := mem.WriteAt(addr, fileBuf); err != nil {
				return nil, err
			}
		}

		if top := ph.VAddr + ph.MemSz; top > img.MaxVAddr {
			img.MaxVAddr = top
		}
		img.Segments = append(img.Segments, LoadedSegment{
			VAddr:    ph.VAddr,
			PhysAddr: addr,
			Size:     uint32(ph.MemSz),
			Flags:    ph.Flags,
		})
	}

	if img.MaxVAddr > KernelVAddrCeiling {
		return nil, fmt.Errorf("kernelelf: kernel extends to 0x%x, past the reserved ceiling 0x%x", img.MaxVAddr, uint64(KernelVAddrCeiling))
	}

	return img, nil
}
