// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bootinfo builds the ObsiBoot kernel parameter block: the fixed-
// layout, checksummed structure the trampoline's far jump hands to the
// kernel as its first argument.
package bootinfo

import "encoding/binary"

// StructVersion is the version this package encodes; only version 1 of
// the layout exists.
const StructVersion = 1

const checksumWords = 8

// structSize is the packed, little-endian, 4-byte-aligned encoded size of
// Params.
const structSize = 4 + 4 + 4*checksumWords + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 8

// Params is the decoded ObsiBoot kernel parameter block.
type Params struct {
	StructSize    uint32
	StructVersion uint32
	Checksum      [checksumWords]uint32

	BootloaderNamePtr uint32
	BootloaderVersion [4]uint8

	BIOSBootDrive uint32
	BIOSIDTPtr    uint32

	MemoryLayoutPtr        uint32
	MemoryLayoutEntryCount uint32
	MemoryLayoutEntrySize  uint32

	PageTablesArenaCurrent uint32
	PageTablesArenaEnd     uint32
	PML4Base               uint32

	UsableKernelMemoryStart uint32

	VBEInfoBlockPtr            uint32
	VBEModesInfoPtr            uint32
	VBEModeInfoBlockEntryCount uint32
	VBESelectedMode            uint32

	KernelStackPointer uint64
}

// MemoryLayoutEntrySize is the on-disk size of one {start:u64, end:u64,
// usable:u64} memory-layout entry.
const MemoryLayoutEntrySize = 24

// Build assembles a Params from the boot pipeline's collected outputs,
// stamps StructSize/StructVersion, and computes and stores the checksum.
func Build(p Params) Params {
	p.StructSize = structSize
	p.StructVersion = StructVersion
	p.Checksum = Compute(p)
	return p
}

// Marshal encodes p into its packed on-wire byte layout.
func (p Params) Marshal() []byte {
	buf := make([]byte, structSize)
	off := 0
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}

	putU32(p.StructSize)
	putU32(p.StructVersion)
	for _, w := range p.Checksum {
		putU32(w)
	}
	putU32(p.BootloaderNamePtr)
	buf[off] = p.BootloaderVersion[0]
	buf[off+1] = p.BootloaderVersion[1]
	buf[off+2] = p.BootloaderVersion[2]
	buf[off+3] = p.BootloaderVersion[3]
	off += 4
	putU32(p.BIOSBootDrive)
	putU32(p.BIOSIDTPtr)
	putU32(p.MemoryLayoutPtr)
	putU32(p.MemoryLayoutEntryCount)
	putU32(p.MemoryLayoutEntrySize)
	putU32(p.PageTablesArenaCurrent)
	putU32(p.PageTablesArenaEnd)
	putU32(p.PML4Base)
	putU32(p.UsableKernelMemoryStart)
	putU32(p.VBEInfoBlockPtr)
	putU32(p.VBEModesInfoPtr)
	putU32(p.VBEModeInfoBlockEntryCount)
	putU32(p.VBESelectedMode)
	putU64(p.KernelStackPointer)

	return buf
}

// Unmarshal decodes a Params from its packed on-wire byte layout.
func Unmarshal(buf []byte) Params {
	var p Params
	off := 0
	getU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		return v
	}
	getU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		return v
	}

	p.StructSize = getU32()
	p.StructVersion = getU32()
	for i := range p.Checksum {
		p.Checksum[i] = getU32()
	}
	p.BootloaderNamePtr = getU32()
	copy(p.BootloaderVersion[:], buf[off:off+4])
	off += 4
	p.BIOSBootDrive = getU32()
	p.BIOSIDTPtr = getU32()
	p.MemoryLayoutPtr = getU32()
	p.MemoryLayoutEntryCount = getU32()
	p.MemoryLayoutEntrySize = getU32()
	p.PageTablesArenaCurrent = getU32()
	p.PageTablesArenaEnd = getU32()
	p.PML4Base = getU32()
	p.UsableKernelMemoryStart = getU32()
	p.VBEInfoBlockPtr = getU32()
	p.VBEModesInfoPtr = getU32()
	p.VBEModeInfoBlockEntryCount = getU32()
	p.VBESelectedMode = getU32()
	p.KernelStackPointer = getU64()

	return p
}

// updateChecksum folds one byte into the running 8-word checksum state:
// xor all 8 words, shift the array left by one, and store the xor plus
// byte*0x01100111 (both wrapping) into the vacated slot 7.
func updateChecksum(state *[checksumWords]uint32, b byte) {
	xored := state[0]
	for i := 0; i < checksumWords-1; i++ {
		state[i] = state[i+1]
		xored ^= state[i]
	}
	state[checksumWords-1] = xored + uint32(b)*0x01100111
}

// Compute computes p's checksum without mutating p: it marshals p with the
// checksum field zeroed and folds every byte of the StructSize-byte
// structure through updateChecksum.
func Compute(p Params) [checksumWords]uint32 {
	p.Checksum = [checksumWords]uint32{}
	buf := p.Marshal()

	size := p.StructSize
	if size == 0 || int(size) > len(buf) {
		size = structSize
	}

	var state [checksumWords]uint32
	for i := uint32(0); i < size; i++ {
		updateChecksum(&state, buf[i])
	}
	return state
}

// Verify reports whether p's stored checksum matches its recomputed value.
func Verify(p Params) bool {
	return Compute(p) == p.Checksum
}
