// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/ailphaune/obsi2boot/pkg/biosthunk"
	"github.com/ailphaune/obsi2boot/pkg/diskio"
	"github.com/ailphaune/obsi2boot/pkg/memmap"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
)

// fileSectorSize is the only sector size obsitool's simulated disk
// controller reports; every subcommand operates on raw disk images laid
// out on 512-byte sectors.
const fileSectorSize = 512

// scratchWindowSize is the low-memory scratch arena every simulated BIOS
// call stages its Disk Address Packet, parameter block, and transfer
// buffer in, sized generously since a hosted tool has no real A20/1MiB
// constraint to respect.
const scratchWindowSize = 0x20000

// fileBackedBIOS answers INT 13h extended-disk-services calls by reading
// straight out of an on-disk image file, and (when given a memory map)
// answers INT 15h/E820 calls out of it — the same shapes pkg/gpt's,
// pkg/diskio's, and pkg/memmap's own tests build by hand, generalized from
// an in-memory byte slice to a real file so obsitool can drive the
// pipeline against disk images without real hardware.
type fileBackedBIOS struct {
	file *os.File
	mem  *physmem.Memory
	size int64
}

func openFileBackedBIOS(path string) (*fileBackedBIOS, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileBackedBIOS{file: f, mem: physmem.New(0, scratchWindowSize), size: info.Size()}, nil
}

func (d *fileBackedBIOS) Close() error { return d.file.Close() }

// window returns the fixed low-memory scratch layout every obsitool
// subcommand shares.
func (d *fileBackedBIOS) window() diskio.Window {
	return diskio.Window{DAP: 0x1000, Params: 0x1100, Buffer: 0x1200}
}

// memMapScratch is where a simulated E820 call stages its 20-byte record.
const memMapScratch = physmem.Addr(0x1800)

// gptScratch is where pkg/gpt stages the 34 sectors it reads in one shot.
const gptScratch = physmem.Addr(0x4000)

// ext2Scratch is where pkg/ext2 stages block reads while walking a
// filesystem.
const ext2Scratch = physmem.Addr(0x10000)

// invoker builds a SoftwareInvoker wired to this disk's INT 13h handler
// and, if entries is non-nil, an INT 15h/E820 handler serving it.
func (d *fileBackedBIOS) invoker(entries []memmap.Entry) *biosthunk.SoftwareInvoker {
	inv := biosthunk.NewSoftwareInvoker()
	inv.Handle(0x13, d.handleDiskCall)
	if entries != nil {
		inv.Handle(0x15, d.handleE820Call(entries))
	}
	return inv
}

func (d *fileBackedBIOS) handleDiskCall(req biosthunk.Request) biosthunk.Snapshot {
	switch req.EAX >> 8 {
	case 0x41:
		return biosthunk.Snapshot{EBX: 0xAA55, ECX: 0b101}
	case 0x48:
		return d.handleGetParams(req)
	case 0x42:
		return d.handleReadSector(req)
	default:
		return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0100}
	}
}

func (d *fileBackedBIOS) handleGetParams(req biosthunk.Request) biosthunk.Snapshot {
	addr := biosthunk.SegOffToPtr(req.DS, uint16(req.ESI))
	var buf [0x1E]byte
	putU16(buf[:], 0, 0x1E)
	total := uint64(d.size) / fileSectorSize
	putU32(buf[:], 16, uint32(total))
	putU32(buf[:], 20, uint32(total>>32))
	putU16(buf[:], 24, fileSectorSize)
	if err := d.mem.WriteAt(addr, buf[:]); err != nil {
		return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0100}
	}
	return biosthunk.Snapshot{}
}

func (d *fileBackedBIOS) handleReadSector(req biosthunk.Request) biosthunk.Snapshot {
	dapAddr := biosthunk.SegOffToPtr(req.DS, uint16(req.ESI))
	var dap [16]byte
	if err := d.mem.ReadAt(dapAddr, dap[:]); err != nil {
		return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0100}
	}
	lba := leU64(dap[8:16])
	bufAddr := biosthunk.SegOffToPtr(leU16(dap[6:8]), leU16(dap[4:6]))

	sector := make([]byte, fileSectorSize)
	if _, err := d.file.ReadAt(sector, int64(lba)*fileSectorSize); err != nil {
		return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0400}
	}
	if err := d.mem.WriteAt(bufAddr, sector); err != nil {
		return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0100}
	}
	return biosthunk.Snapshot{}
}

func (d *fileBackedBIOS) handleE820Call(entries []memmap.Entry) biosthunk.Handler {
	return func(req biosthunk.Request) biosthunk.Snapshot {
		idx := int(req.EBX)
		if idx < 0 || idx >= len(entries) {
			return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0100}
		}
		e := entries[idx]
		var buf [20]byte
		putU64(buf[:], 0, e.Base)
		putU64(buf[:], 8, e.Len)
		putU32(buf[:], 16, uint32(e.Kind))

		dst := biosthunk.SegOffToPtr(req.ES, uint16(req.EDI))
		if err := d.mem.WriteAt(dst, buf[:]); err != nil {
			return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0100}
		}

		next := uint32(idx + 1)
		if next >= uint32(len(entries)) {
			next = 0
		}
		return biosthunk.Snapshot{EBX: next}
	}
}

func putU16(b []byte, off int, v uint16) { b[off] = byte(v); b[off+1] = byte(v >> 8) }

func putU32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

func putU64(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}

func leU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

func leU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// errNoSuchPartition is returned by subcommands that locate a partition by
// index or type and find none matching.
var errNoSuchPartition = fmt.Errorf("obsitool: no matching partition found")
