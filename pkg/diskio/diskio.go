// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diskio implements the INT 13h extended-disk-services driver the
// bootloader core uses to read the boot disk before paging is enabled.
// Every BIOS call exchanges data through a fixed low-memory scratch window
// shared with the pkg/biosthunk.Invoker backing it — the Disk Address
// Packet, the parameter block, and the one-sector staging buffer all live
// there.
package diskio

import (
	"fmt"

	"github.com/ailphaune/obsi2boot/pkg/biosthunk"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
)

// DefaultSectorSize is used until GetParams reports the drive's real value.
const DefaultSectorSize = 512

const dapSize = 0x10
const paramsSize = 0x1E

// DiskError reports a BIOS disk-service failure, carrying which operation
// failed and the AH error code.
type DiskError struct {
	Op string
	AH uint8
}

func (e *DiskError) Error() string {
	return fmt.Sprintf("diskio: %s failed, ah=0x%02x", e.Op, e.AH)
}

// Params is the subset of BIOS INT 13h/AH=48h geometry data this loader
// cares about.
type Params struct {
	Cylinders       uint32
	Heads           uint32
	SectorsPerTrack uint32
	TotalSectors    uint64
	BytesPerSector  uint32
}

// Window is the low-memory scratch region (must be reachable by real-mode
// segment:offset, i.e. below 1 MiB) diskio uses to stage BIOS call
// parameters and one sector of transfer data at a time.
type Window struct {
	DAP    physmem.Addr
	Params physmem.Addr
	Buffer physmem.Addr
}

// ExtendedDisk is a BIOS INT 13h extended-services disk reader for one
// drive number.
type ExtendedDisk struct {
	inv    biosthunk.Invoker
	mem    *physmem.Memory
	drive  uint8
	win    Window
	params *Params
}

// New returns a disk driver for drive, using win as its low-memory scratch
// window.
func New(inv biosthunk.Invoker, mem *physmem.Memory, drive uint8, win Window) *ExtendedDisk {
	return &ExtendedDisk{inv: inv, mem: mem, drive: drive, win: win}
}

// CheckPresent issues INT 13h/AH=41h ("check extensions present") and
// returns an error if the BIOS does not support extended disk access on
// this drive.
func (d *ExtendedDisk) CheckPresent() error {
	snap := d.inv.Invoke(biosthunk.Request{
		Interrupt: 0x13,
		EAX:       0x4100,
		EBX:       0x55AA,
		EDX:       uint32(d.drive),
	})
	if snap.CarrySet() {
		return &DiskError{Op: "check-extensions-present", AH: snap.ErrorCode()}
	}
	if snap.EBX&0xFFFF != 0xAA55 {
		return fmt.Errorf("diskio: unexpected extensions signature 0x%04x", snap.EBX&0xFFFF)
	}
	if snap.ECX&0b101 != 0b101 {
		return fmt.Errorf("diskio: drive 0x%02x does not support extended disk access (ecx=0x%x)", d.drive, snap.ECX)
	}
	return nil
}

// GetParams issues INT 13h/AH=48h ("get drive parameters") and caches the
// result for subsequent calls.
func (d *ExtendedDisk) GetParams() (Params, error) {
	if d.params != nil {
		return *d.params, nil
	}

	var sizeField [2]byte
	putLE16(sizeField[:], paramsSize)
	if err := d.mem.WriteAt(d.win.Params, sizeField[:]); err != nil {
		return Params{}, err
	}

	seg, off := biosthunk.PtrToSegOff(d.win.Params)
	snap := d.inv.Invoke(biosthunk.Request{
		Interrupt: 0x13,
		EAX:       0x4800,
		EDX:       uint32(d.drive),
		ESI:       uint32(off),
		DS:        seg,
	})
	if snap.CarrySet() {
		return Params{}, &DiskError{Op: "get-params", AH: snap.ErrorCode()}
	}

	buf := make([]byte, paramsSize)
	if err := d.mem.ReadAt(d.win.Params, buf); err != nil {
		return Params{}, err
	}

	p := Params{
		Cylinders:       leUint32(buf[4:8]),
		Heads:           leUint32(buf[8:12]),
		SectorsPerTrack: leUint32(buf[12:16]),
		TotalSectors:    leUint64(buf[16:24]),
		BytesPerSector:  uint32(leUint16(buf[24:26])),
	}
	if p.BytesPerSector == 0 {
		return Params{}, fmt.Errorf("diskio: invalid drive parameters, bytes_per_sector=0")
	}
	d.params = &p
	return p, nil
}

// bytesPerSector returns the cached geometry's sector size, falling back to
// DefaultSectorSize if GetParams has not been called yet.
func (d *ExtendedDisk) bytesPerSector() uint32 {
	if d.params != nil {
		return d.params.BytesPerSector
	}
	return DefaultSectorSize
}

// ReadSector reads a single sector at lba into dst (which must be at least
// bytesPerSector long) via the Disk Address Packet protocol.
func (d *ExtendedDisk) ReadSector(lba uint64, dst []byte) error {
	bps := d.bytesPerSector()
	if uint32(len(dst)) < bps {
		return fmt.Errorf("diskio: destination buffer too small: %d < %d", len(dst), bps)
	}

	var dap [dapSize]byte
	dap[0] = dapSize
	dap[1] = 0
	putLE16(dap[2:4], 1)
	segment, offset := biosthunk.PtrToSegOff(d.win.Buffer)
	putLE16(dap[4:6], offset)
	putLE16(dap[6:8], segment)
	putLE64(dap[8:16], lba)
	if err := d.mem.WriteAt(d.win.DAP, dap[:]); err != nil {
		return err
	}

	seg, off := biosthunk.PtrToSegOff(d.win.DAP)
	snap := d.inv.Invoke(biosthunk.Request{
		Interrupt: 0x13,
		EAX:       0x4200,
		EDX:       uint32(d.drive),
		ESI:       uint32(off),
		DS:        seg,
	})
	if snap.CarrySet() {
		return &DiskError{Op: "read-sector", AH: snap.ErrorCode()}
	}

	return d.mem.ReadAt(d.win.Buffer, dst[:bps])
}

// Read reads count sequential sectors starting at lba into dst, one BIOS
// call per sector via the scratch staging buffer, copying each sector out
// to its place in dst before issuing the next call.
func (d *ExtendedDisk) Read(lba uint64, count uint32, dst *physmem.Memory, dstAddr physmem.Addr) error {
	bps := d.bytesPerSector()
	sector := make([]byte, bps)
	for i := uint32(0); i < count; i++ {
		if err := d.ReadSector(lba+uint64(i), sector); err != nil {
			return fmt.Errorf("diskio: reading lba %d: %w", lba+uint64(i), err)
		}
		if err := dst.WriteAt(dstAddr+physmem.Addr(i*bps), sector); err != nil {
			return err
		}
	}
	return nil
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leUint64(b []byte) uint64 {
	return uint64(leUint32(b[0:4])) | uint64(leUint32(b[4:8]))<<32
}
func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
