// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diskio

import (
	"testing"

	"github.com/ailphaune/obsi2boot/pkg/biosthunk"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
	"github.com/stretchr/testify/require"
)

const (
	winDAP    = physmem.Addr(0x1000)
	winParams = physmem.Addr(0x1100)
	winBuffer = physmem.Addr(0x1200)
)

func newTestDisk(t *testing.T, disk []byte, bps uint32) (*ExtendedDisk, *physmem.Memory) {
	t.Helper()
	mem := physmem.New(0, 0x10000)
	inv := biosthunk.NewSoftwareInvoker()

	inv.Handle(0x13, func(req biosthunk.Request) biosthunk.Snapshot {
		switch req.EAX >> 8 {
		case 0x41:
			return biosthunk.Snapshot{EBX: 0xAA55, ECX: 0b101}
		case 0x48:
			seg, off := req.DS, uint16(req.ESI)
			addr := biosthunk.SegOffToPtr(seg, off)
			var buf [paramsSize]byte
			putLE16(buf[0:2], paramsSize)
			buf[4] = 10 // cylinders
			buf[8] = 2  // heads
			buf[12] = 63 // sectors per track
			total := uint64(len(disk)) / uint64(bps)
			putLE64Local(buf[16:24], total)
			putLE16(buf[24:26], uint16(bps))
			require.NoError(t, mem.WriteAt(addr, buf[:]))
			return biosthunk.Snapshot{}
		case 0x42:
			dapAddr := biosthunk.SegOffToPtr(req.DS, uint16(req.ESI))
			var dap [dapSize]byte
			require.NoError(t, mem.ReadAt(dapAddr, dap[:]))
			lba := leUint64(dap[8:16])
			bufOff := leUint16(dap[4:6])
			bufSeg := leUint16(dap[6:8])
			bufAddr := biosthunk.SegOffToPtr(bufSeg, bufOff)
			start := lba * uint64(bps)
			if start+uint64(bps) > uint64(len(disk)) {
				return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0400}
			}
			require.NoError(t, mem.WriteAt(bufAddr, disk[start:start+uint64(bps)]))
			return biosthunk.Snapshot{}
		}
		return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0100}
	})

	win := Window{DAP: winDAP, Params: winParams, Buffer: winBuffer}
	return New(inv, mem, 0x80, win), mem
}

func putLE64Local(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func makeDisk(sectors int, bps uint32) []byte {
	disk := make([]byte, sectors*int(bps))
	for i := range disk {
		disk[i] = byte(i)
	}
	return disk
}

func TestCheckPresent(t *testing.T) {
	disk := makeDisk(4, 512)
	d, _ := newTestDisk(t, disk, 512)
	require.NoError(t, d.CheckPresent())
}

func TestGetParams(t *testing.T) {
	disk := makeDisk(100, 512)
	d, _ := newTestDisk(t, disk, 512)
	p, err := d.GetParams()
	require.NoError(t, err)
	require.EqualValues(t, 512, p.BytesPerSector)
	require.EqualValues(t, 100, p.TotalSectors)
	require.EqualValues(t, 10, p.Cylinders)
	require.EqualValues(t, 2, p.Heads)
	require.EqualValues(t, 63, p.SectorsPerTrack)
}

func TestReadSector(t *testing.T) {
	disk := makeDisk(4, 512)
	d, _ := newTestDisk(t, disk, 512)

	buf := make([]byte, 512)
	require.NoError(t, d.ReadSector(2, buf))
	require.Equal(t, disk[2*512:3*512], buf)
}

func TestReadSectorOutOfRange(t *testing.T) {
	disk := makeDisk(2, 512)
	d, _ := newTestDisk(t, disk, 512)

	buf := make([]byte, 512)
	err := d.ReadSector(10, buf)
	require.Error(t, err)
	var diskErr *DiskError
	require.ErrorAs(t, err, &diskErr)
}

func TestReadMultipleSectorsIntoDestination(t *testing.T) {
	disk := makeDisk(8, 512)
	d, _ := newTestDisk(t, disk, 512)

	dst := physmem.New(0, 8*512)
	require.NoError(t, d.Read(0, 8, dst, 0))

	got := make([]byte, len(disk))
	require.NoError(t, dst.ReadAt(0, got))
	require.Equal(t, disk, got)
}
