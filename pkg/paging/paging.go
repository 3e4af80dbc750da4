// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package paging builds the 4-level x86-64 page tables the bootloader core
// hands to the long-mode trampoline.
package paging

import (
	"fmt"

	"github.com/ailphaune/obsi2boot/pkg/physmem"
)

const (
	pageSize4K = 4096
	pageSize2M = 2 * 1024 * 1024
	entrySize  = 8
)

// Page table entry flags.
const (
	FlagPresent      uint64 = 1 << 0
	FlagWritable     uint64 = 1 << 1
	FlagUser         uint64 = 1 << 2
	FlagWriteThrough uint64 = 1 << 3
	FlagCacheDisable uint64 = 1 << 4
	FlagAccessed     uint64 = 1 << 5
	FlagDirty        uint64 = 1 << 6
	FlagHuge         uint64 = 1 << 7
	FlagGlobal       uint64 = 1 << 8
	FlagNoExecute    uint64 = 1 << 63
)

const addrMask = 0x000F_FFFF_FFFF_F000

// Arena is a bump allocator for 4 KiB page-table frames, carved out of a
// dedicated physmem.Memory range (never the general-purpose pkg/heap —
// page tables must live in a contiguous, never-freed region so the
// trampoline can keep using them after the heap itself is torn down).
type Arena struct {
	mem     *physmem.Memory
	start   physmem.Addr
	end     physmem.Addr
	current physmem.Addr
}

// ErrArenaExhausted is returned when the arena has no room for another
// page-table frame.
var ErrArenaExhausted = fmt.Errorf("paging: page table arena exhausted")

// NewArena creates an Arena over [start, end) of mem.
func NewArena(mem *physmem.Memory, start, end physmem.Addr) (*Arena, error) {
	if end <= start {
		return nil, fmt.Errorf("paging: empty arena [0x%x, 0x%x)", start, end)
	}
	return &Arena{mem: mem, start: start, end: end, current: start}, nil
}

// AllocPage reserves and zero-fills one 4 KiB frame, returning its
// physical address.
func (a *Arena) AllocPage() (physmem.Addr, error) {
	if uint64(a.current)+pageSize4K > uint64(a.end) {
		return 0, ErrArenaExhausted
	}
	addr := a.current
	a.current += pageSize4K
	if err := a.mem.Zero(addr, pageSize4K); err != nil {
		return 0, err
	}
	return addr, nil
}

// Used returns how many bytes of the arena have been handed out.
func (a *Arena) Used() uint64 {
	return uint64(a.current) - uint64(a.start)
}

// Builder constructs a 4-level page table tree rooted at a PML4 frame
// allocated from an Arena.
type Builder struct {
	mem   *physmem.Memory
	arena *Arena
	pml4  physmem.Addr
}

// NewBuilder allocates a fresh, zeroed PML4 from arena and returns a
// Builder ready to receive MapPage4K/MapPage2M calls.
func NewBuilder(mem *physmem.Memory, arena *Arena) (*Builder, error) {
	pml4, err := arena.AllocPage()
	if err != nil {
		return nil, err
	}
	return &Builder{mem: mem, arena: arena, pml4: pml4}, nil
}

// PML4 returns the physical address of the root page-table frame, the
// value the trampoline loads into CR3.
func (b *Builder) PML4() physmem.Addr {
	return b.pml4
}

func splitVirtAddr(virt uint64) (pml4, pdpt, pd, pt int) {
	pml4 = int((virt >> 39) & 0x1FF)
	pdpt = int((virt >> 30) & 0x1FF)
	pd = int((virt >> 21) & 0x1FF)
	pt = int((virt >> 12) & 0x1FF)
	return
}

func alignDown(addr, align uint64) uint64 {
	return addr &^ (align - 1)
}

func (b *Builder) entryAt(table physmem.Addr, index int) (uint64, error) {
	return b.mem.Uint64At(table + physmem.Addr(index*entrySize))
}

func (b *Builder) setEntry(table physmem.Addr, index int, value uint64) error {
	return b.mem.PutUint64At(table+physmem.Addr(index*entrySize), value)
}

// walkOrAlloc returns the physical address of the next-level table
// referenced by table[index], allocating and linking a fresh one (with
// flags) if the entry isn't present. If the entry is present but huge
// (only meaningful one level above a page table), the caller is
// responsible for not walking further.
func (b *Builder) walkOrAlloc(table physmem.Addr, index int, flags uint64) (physmem.Addr, error) {
	entry, err := b.entryAt(table, index)
	if err != nil {
		return 0, err
	}
	if entry&FlagPresent != 0 {
		return physmem.Addr(entry & addrMask), nil
	}
	next, err := b.arena.AllocPage()
	if err != nil {
		return 0, err
	}
	if err := b.setEntry(table, index, uint64(next)|FlagPresent|flags); err != nil {
		return 0, err
	}
	return next, nil
}

// MapPage4K maps one 4 KiB page at virt to phys with the given flags
// (FlagPresent is set automatically).
func (b *Builder) MapPage4K(virt uint64, phys physmem.Addr, flags uint64) error {
	pml4Idx, pdptIdx, pdIdx, ptIdx := splitVirtAddr(virt)

	pdpt, err := b.walkOrAlloc(b.pml4, pml4Idx, FlagWritable)
	if err != nil {
		return err
	}
	pd, err := b.walkOrAlloc(pdpt, pdptIdx, FlagWritable)
	if err != nil {
		return err
	}

	pdEntry, err := b.entryAt(pd, pdIdx)
	if err != nil {
		return err
	}
	var pt physmem.Addr
	if pdEntry&FlagPresent != 0 && pdEntry&FlagHuge == 0 {
		pt = physmem.Addr(pdEntry & addrMask)
	} else {
		pt, err = b.arena.AllocPage()
		if err != nil {
			return err
		}
		if err := b.setEntry(pd, pdIdx, uint64(pt)|FlagPresent|FlagWritable); err != nil {
			return err
		}
	}

	aligned := alignDown(uint64(phys), pageSize4K)
	return b.setEntry(pt, ptIdx, aligned|flags|FlagPresent)
}

// MapPage2M maps one 2 MiB huge page at virt to phys with the given
// flags.
func (b *Builder) MapPage2M(virt uint64, phys physmem.Addr, flags uint64) error {
	pml4Idx, pdptIdx, pdIdx, _ := splitVirtAddr(virt)

	pdpt, err := b.walkOrAlloc(b.pml4, pml4Idx, FlagWritable)
	if err != nil {
		return err
	}
	pd, err := b.walkOrAlloc(pdpt, pdptIdx, FlagWritable)
	if err != nil {
		return err
	}

	aligned := alignDown(uint64(phys), pageSize2M)
	return b.setEntry(pd, pdIdx, aligned|flags|FlagPresent|FlagHuge)
}

// Translate walks the built tables and returns the physical address virt
// maps to, or ok=false if any level is not present.
func (b *Builder) Translate(virt uint64) (phys uint64, ok bool, err error) {
	pml4Idx, pdptIdx, pdIdx, ptIdx := splitVirtAddr(virt)

	pml4Entry, err := b.entryAt(b.pml4, pml4Idx)
	if err != nil {
		return 0, false, err
	}
	if pml4Entry&FlagPresent == 0 {
		return 0, false, nil
	}

	pdptEntry, err := b.entryAt(physmem.Addr(pml4Entry&addrMask), pdptIdx)
	if err != nil {
		return 0, false, err
	}
	if pdptEntry&FlagPresent == 0 {
		return 0, false, nil
	}

	pdEntry, err := b.entryAt(physmem.Addr(pdptEntry&addrMask), pdIdx)
	if err != nil {
		return 0, false, err
	}
	if pdEntry&FlagPresent == 0 {
		return 0, false, nil
	}
	if pdEntry&FlagHuge != 0 {
		base := pdEntry & 0x000F_FFFF_FFE0_0000
		offset := virt & 0x1F_FFFF
		return base + offset, true, nil
	}

	ptEntry, err := b.entryAt(physmem.Addr(pdEntry&addrMask), ptIdx)
	if err != nil {
		return 0, false, err
	}
	if ptEntry&FlagPresent == 0 {
		return 0, false, nil
	}
	base := ptEntry & addrMask
	offset := virt & 0xFFF
	return base + offset, true, nil
}
