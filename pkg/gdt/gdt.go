// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gdt builds the flat, full-4GiB-span Global Descriptor Table the
// long-mode trampoline reloads before enabling paging, and describes the
// trampoline's own calling contract.
// Entering long mode is a CPU sequence (disable interrupts, load CR3, set
// CR4.PAE, set IA32_EFER.LME, set CR0.PG|PE, far-jump into the 64-bit code
// selector) that only exists as raw machine code; a hosted Go process has
// no CR0/CR3/EFER to set. This package therefore builds the exact byte
// image of the table and exposes Trampoline as the typed contract the
// real assembly stub consumes, the same split pkg/biosthunk makes for
// BIOS calls.
package gdt

import "encoding/binary"

// Access byte bits.
const (
	AccessPresent     uint8 = 1 << 7
	AccessRing0       uint8 = 0 << 5
	AccessCodeSegment uint8 = 0b0001_1000
	AccessDataSegment uint8 = 0b0001_0000
	AccessCodeRead    uint8 = 1 << 1
	AccessDataWrite   uint8 = 1 << 1
	AccessAccessed    uint8 = 1 << 0
)

// Flags nibble bits (top nibble of the limit-high/flags byte).
const (
	FlagGranularity4K uint8 = 0b1000
	Flag32Bit         uint8 = 0b0100
	FlagLongMode      uint8 = 0b0010
)

// Segment selectors, fixed by the descriptor order below.
const (
	SelectorNull   uint16 = 0x00
	SelectorCode32 uint16 = 0x08
	SelectorData32 uint16 = 0x10
	SelectorCode16 uint16 = 0x18
	SelectorData16 uint16 = 0x20
	SelectorCode64 uint16 = 0x28
	SelectorData64 uint16 = 0x30
)

const entryCount = 7
const entrySize = 8

// entry packs one 8-byte GDT descriptor from a flat base/limit/access/flags
// quadruple.
func entry(base, limit uint32, access, flags uint8) uint64 {
	limitLow := uint64(limit & 0xFFFF)
	baseLow := uint64(base & 0xFFFF)
	baseMid := uint64((base >> 16) & 0xFF)
	flagsLimitHigh := uint64((limit>>16)&0x0F) | uint64(flags)<<4
	baseHigh := uint64((base >> 24) & 0xFF)
	return limitLow | baseLow<<16 | baseMid<<24 | uint64(access)<<40 | flagsLimitHigh<<48 | baseHigh<<56
}

// Table is the encoded 7-descriptor GDT: null, 32-bit code/data, 16-bit
// code/data, 64-bit code/data, in exactly that order.
type Table [entryCount]uint64

// Build assembles the flat GDT the trampoline loads: every non-null
// descriptor spans the full 4 GiB address range with 4 KiB granularity.
func Build() Table {
	return Table{
		entry(0, 0, 0, 0), // null
		entry(0, 0xFFFFFFFF, AccessPresent|AccessRing0|AccessCodeSegment|AccessCodeRead|AccessAccessed, FlagGranularity4K|Flag32Bit),
		entry(0, 0xFFFFFFFF, AccessPresent|AccessRing0|AccessDataSegment|AccessDataWrite|AccessAccessed, FlagGranularity4K|Flag32Bit),
		entry(0, 0xFFFFFFFF, AccessPresent|AccessRing0|AccessCodeSegment|AccessCodeRead|AccessAccessed, FlagGranularity4K),
		entry(0, 0xFFFFFFFF, AccessPresent|AccessRing0|AccessDataSegment|AccessDataWrite|AccessAccessed, FlagGranularity4K),
		entry(0, 0xFFFFFFFF, AccessPresent|AccessRing0|AccessCodeSegment|AccessCodeRead|AccessAccessed, FlagGranularity4K|FlagLongMode),
		entry(0, 0xFFFFFFFF, AccessPresent|AccessRing0|AccessDataSegment|AccessDataWrite|AccessAccessed, FlagGranularity4K|FlagLongMode),
	}
}

// Bytes little-endian-encodes the table the way it must be laid out in
// physical memory for the GDTR to point at.
func (t Table) Bytes() []byte {
	buf := make([]byte, entryCount*entrySize)
	for i, e := range t {
		binary.LittleEndian.PutUint64(buf[i*entrySize:], e)
	}
	return buf
}

// Descriptor is the 10-byte GDTR operand (2-byte limit, 8-byte base) the
// `lgdt` instruction consumes.
type Descriptor struct {
	Limit uint16
	Base  uint64
}

// NewDescriptor builds the GDTR operand for a table placed at base.
func NewDescriptor(base uint64) Descriptor {
	return Descriptor{Limit: entryCount*entrySize - 1, Base: base}
}

// Bytes little-endian-encodes the descriptor in the packed layout `lgdt`
// expects.
func (d Descriptor) Bytes() []byte {
	buf := make([]byte, 10)
	binary.LittleEndian.PutUint16(buf[0:2], d.Limit)
	binary.LittleEndian.PutUint64(buf[2:10], d.Base)
	return buf
}

// Trampoline describes every value the enable-paging-and-jump64 routine
// needs: it disables interrupts, loads CR3, sets
// CR4.PAE/EFER.LME/CR0.PG|PE, reloads the GDT, far-jumps into Code64Selector,
// reloads the data selectors with Data64Selector, sets RSP to StackTop, and
// jumps to EntryPoint. A real bootloader hands this struct's fields to the
// assembly stub as arguments; the simulated pipeline in pkg/stage2 and
// cmds/obsitool's `simboot` stop here; they do not execute it.
type Trampoline struct {
	GDTR        Descriptor
	PML4Base    uint32
	Code64Sel   uint16
	Data64Sel   uint16
	StackTop    uint64
	EntryPoint  uint64
	BootInfoPtr uint32
}

// NewTrampoline fills in a Trampoline with the fixed long-mode selectors,
// for a caller that only needs to supply the variable fields.
func NewTrampoline(gdtr Descriptor, pml4Base uint32, stackTop, entryPoint uint64, bootInfoPtr uint32) Trampoline {
	return Trampoline{
		GDTR:        gdtr,
		PML4Base:    pml4Base,
		Code64Sel:   SelectorCode64,
		Data64Sel:   SelectorData64,
		StackTop:    stackTop,
		EntryPoint:  entryPoint,
		BootInfoPtr: bootInfoPtr,
	}
}
