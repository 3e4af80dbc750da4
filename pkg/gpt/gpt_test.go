// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpt

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/ailphaune/obsi2boot/pkg/biosthunk"
	"github.com/ailphaune/obsi2boot/pkg/diskio"
	"github.com/ailphaune/obsi2boot/pkg/guid"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

var utf16Encoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()

const testDiskTotalSectors = 200

func buildTestDisk(t *testing.T, parts []Partition) []byte {
	t.Helper()
	const totalSectors = testDiskTotalSectors
	disk := make([]byte, totalSectors*sectorSize)

	mbr := disk[0:sectorSize]
	mbr[510] = 0x55
	mbr[511] = 0xAA
	entry := mbr[446:462]
	entry[0] = 0x00
	entry[4] = 0xEE
	entry[1], entry[2], entry[3] = 0x00, 0x02, 0x00
	binary.LittleEndian.PutUint32(entry[8:12], 1)
	binary.LittleEndian.PutUint32(entry[12:16], totalSectors-1)

	hdrSector := disk[sectorSize : 2*sectorSize]
	copy(hdrSector[0:8], []byte(headerSignature))
	binary.LittleEndian.PutUint32(hdrSector[8:12], 0x00010000)
	binary.LittleEndian.PutUint32(hdrSector[12:16], headerSize)
	binary.LittleEndian.PutUint64(hdrSector[24:32], 1)
	binary.LittleEndian.PutUint64(hdrSector[32:40], totalSectors-1)
	binary.LittleEndian.PutUint64(hdrSector[40:48], 34)
	binary.LittleEndian.PutUint64(hdrSector[48:56], totalSectors-34)
	binary.LittleEndian.PutUint64(hdrSector[72:80], 2)
	binary.LittleEndian.PutUint32(hdrSector[80:84], 128)
	binary.LittleEndian.PutUint32(hdrSector[84:88], 128)

	entriesStart := 2 * sectorSize
	for i, p := range parts {
		off := entriesStart + i*128
		e := disk[off : off+128]
		copy(e[0:16], p.TypeGUID[:])
		copy(e[16:32], p.UniqueGUID[:])
		binary.LittleEndian.PutUint64(e[32:40], p.FirstLBA)
		binary.LittleEndian.PutUint64(e[40:48], p.LastLBA)
		binary.LittleEndian.PutUint64(e[48:56], p.Flags)
		encoded := encodeUTF16(p.Name)
		copy(e[0x38:], encoded)
	}

	check := make([]byte, headerSize)
	copy(check, hdrSector[:headerSize])
	binary.LittleEndian.PutUint32(check[16:20], 0)
	binary.LittleEndian.PutUint32(hdrSector[16:20], crc32.ChecksumIEEE(check))

	return disk
}

func encodeUTF16(s string) []byte {
	encoded, err := utf16Encoder.Bytes([]byte(s))
	if err != nil {
		panic(err)
	}
	return encoded
}

func newTestDiskDriver(t *testing.T, disk []byte) (*diskio.ExtendedDisk, *physmem.Memory) {
	t.Helper()
	mem := physmem.New(0, 0x10000)
	inv := biosthunk.NewSoftwareInvoker()
	inv.Handle(0x13, func(req biosthunk.Request) biosthunk.Snapshot {
		if req.EAX>>8 == 0x48 {
			paramsAddr := biosthunk.SegOffToPtr(req.DS, uint16(req.ESI))
			buf := make([]byte, 0x1E)
			binary.LittleEndian.PutUint16(buf[0:2], 0x1E)
			binary.LittleEndian.PutUint32(buf[4:8], 0)
			binary.LittleEndian.PutUint32(buf[8:12], 0)
			binary.LittleEndian.PutUint32(buf[12:16], 0)
			binary.LittleEndian.PutUint64(buf[16:24], uint64(len(disk)/sectorSize))
			binary.LittleEndian.PutUint16(buf[24:26], sectorSize)
			require.NoError(t, mem.WriteAt(paramsAddr, buf))
			return biosthunk.Snapshot{}
		}
		if req.EAX>>8 != 0x42 {
			return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0100}
		}
		dapAddr := biosthunk.SegOffToPtr(req.DS, uint16(req.ESI))
		var dap [16]byte
		require.NoError(t, mem.ReadAt(dapAddr, dap[:]))
		lba := binary.LittleEndian.Uint64(dap[8:16])
		bufAddr := biosthunk.SegOffToPtr(binary.LittleEndian.Uint16(dap[6:8]), binary.LittleEndian.Uint16(dap[4:6]))
		start := lba * sectorSize
		require.NoError(t, mem.WriteAt(bufAddr, disk[start:start+sectorSize]))
		return biosthunk.Snapshot{}
	})
	win := diskio.Window{DAP: 0x1000, Params: 0x1100, Buffer: 0x1200}
	return diskio.New(inv, mem, 0x80, win), mem
}

func TestReadParsesPartitionsAndSkipsEmptySlots(t *testing.T) {
	linuxPart := Partition{
		TypeGUID:   guid.PartitionTypeLinuxFilesystem,
		UniqueGUID: *guidMustParse("11111111-1111-1111-1111-111111111111"),
		FirstLBA:   40,
		LastLBA:    199,
		Name:       "root",
	}
	disk := buildTestDisk(t, []Partition{linuxPart})
	d, mem := newTestDiskDriver(t, disk)

	tbl, err := Read(d, mem, physmem.Addr(0x8000))
	require.NoError(t, err)
	require.Len(t, tbl.Partitions, 1)
	require.Equal(t, linuxPart.TypeGUID, tbl.Partitions[0].TypeGUID)
	require.Equal(t, "root", tbl.Partitions[0].Name)
	require.EqualValues(t, 40, tbl.Partitions[0].FirstLBA)
}

func TestReadRejectsBadProtectiveMBR(t *testing.T) {
	disk := buildTestDisk(t, nil)
	disk[511] = 0x00 // corrupt the 0x55AA signature
	d, mem := newTestDiskDriver(t, disk)

	_, err := Read(d, mem, physmem.Addr(0x8000))
	require.ErrorIs(t, err, ErrNotProtectiveMBR)
}

func TestReadRejectsBadEndLBA(t *testing.T) {
	disk := buildTestDisk(t, nil)
	entry := disk[446:462]
	binary.LittleEndian.PutUint32(entry[12:16], testDiskTotalSectors-2) // wrong end LBA
	d, mem := newTestDiskDriver(t, disk)

	_, err := Read(d, mem, physmem.Addr(0x8000))
	require.ErrorIs(t, err, ErrNotProtectiveMBR)
}

func TestReadRejectsBadSectorSize(t *testing.T) {
	disk := buildTestDisk(t, nil)
	mem := physmem.New(0, 0x10000)
	inv := biosthunk.NewSoftwareInvoker()
	inv.Handle(0x13, func(req biosthunk.Request) biosthunk.Snapshot {
		if req.EAX>>8 == 0x48 {
			paramsAddr := biosthunk.SegOffToPtr(req.DS, uint16(req.ESI))
			buf := make([]byte, 0x1E)
			binary.LittleEndian.PutUint16(buf[0:2], 0x1E)
			binary.LittleEndian.PutUint64(buf[16:24], uint64(len(disk)/sectorSize))
			binary.LittleEndian.PutUint16(buf[24:26], 4096)
			require.NoError(t, mem.WriteAt(paramsAddr, buf))
			return biosthunk.Snapshot{}
		}
		return biosthunk.Snapshot{EFlags: biosthunk.FlagCF, EAX: 0x0100}
	})
	win := diskio.Window{DAP: 0x1000, Params: 0x1100, Buffer: 0x1200}
	d := diskio.New(inv, mem, 0x80, win)

	_, err := Read(d, mem, physmem.Addr(0x8000))
	require.ErrorIs(t, err, ErrBadSectorSize)
}

func TestReadRejectsHeaderCRCMismatch(t *testing.T) {
	disk := buildTestDisk(t, nil)
	disk[sectorSize+24] ^= 0xFF // corrupt current_lba, invalidating the CRC
	d, mem := newTestDiskDriver(t, disk)

	_, err := Read(d, mem, physmem.Addr(0x8000))
	require.ErrorIs(t, err, ErrHeaderCRCMismatch)
}

func guidMustParse(s string) *guid.GUID {
	return guid.MustParse(s)
}
