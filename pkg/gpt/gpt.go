// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gpt reads a protective-MBR-guarded GUID Partition Table directly
// off disk sectors, with no write support: the bootloader core only ever
// needs to locate its root filesystem partition.
package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/ailphaune/obsi2boot/pkg/diskio"
	"github.com/ailphaune/obsi2boot/pkg/guid"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
	"golang.org/x/text/encoding/unicode"
)

const sectorSize = 512

// headerSignature is the magic string identifying a GPT header ("EFI PART").
const headerSignature = "EFI PART"

const headerSize = 0x5C

// ErrNotProtectiveMBR is returned when sector 0 does not look like a valid
// protective MBR guarding a GPT disk.
var ErrNotProtectiveMBR = fmt.Errorf("gpt: sector 0 is not a protective MBR")

// ErrBadSignature is returned when the GPT header signature does not match
// "EFI PART".
var ErrBadSignature = fmt.Errorf("gpt: bad header signature")

// ErrUnsupportedTableLBA is returned when the partition entry array is not
// located at LBA 2, the only layout this loader understands.
var ErrUnsupportedTableLBA = fmt.Errorf("gpt: unsupported partition table LBA")

// ErrHeaderCRCMismatch is returned when the header's own CRC32 does not
// match its recomputed value.
var ErrHeaderCRCMismatch = fmt.Errorf("gpt: header CRC32 mismatch")

// ErrBadSectorSize is returned when the drive's real sector size (as
// reported by diskio.GetParams) is not the 512 bytes this reader's fixed
// byte offsets assume.
var ErrBadSectorSize = fmt.Errorf("gpt: unsupported disk sector size")

// Header is the decoded GPT header.
type Header struct {
	Revision             uint32
	HeaderSize           uint32
	HeaderCRC32          uint32
	CurrentLBA           uint64
	BackupLBA            uint64
	FirstUsableLBA       uint64
	LastUsableLBA        uint64
	DiskGUID             guid.GUID
	PartitionTableLBA    uint64
	PartitionEntryCount  uint32
	PartitionEntrySize   uint32
	PartitionEntriesCRC  uint32
}

// Partition is one decoded GUID Partition Table entry.
type Partition struct {
	TypeGUID   guid.GUID
	UniqueGUID guid.GUID
	FirstLBA   uint64
	LastLBA    uint64
	Flags      uint64
	Name       string
}

// Table is a fully parsed GUID Partition Table: the header plus every
// non-empty partition entry.
type Table struct {
	Header     Header
	Partitions []Partition
}

// Read loads and validates the protective MBR and GPT header/entries from
// disk via d: it reads the first 34 sectors (MBR + header + the default
// 128-entry table) into one scratch buffer within mem and decodes from
// there.
func Read(d *diskio.ExtendedDisk, mem *physmem.Memory, scratch physmem.Addr) (*Table, error) {
	params, err := d.GetParams()
	if err != nil {
		return nil, fmt.Errorf("gpt: reading disk parameters: %w", err)
	}
	if params.BytesPerSector != sectorSize {
		return nil, ErrBadSectorSize
	}

	const sectors = 34
	if err := d.Read(0, sectors, mem, scratch); err != nil {
		return nil, fmt.Errorf("gpt: reading MBR+header+entries: %w", err)
	}
	raw := make([]byte, sectors*sectorSize)
	if err := mem.ReadAt(scratch, raw); err != nil {
		return nil, err
	}

	if err := verifyProtectiveMBR(raw[0:sectorSize], params.TotalSectors); err != nil {
		return nil, err
	}

	hdr, err := parseHeader(raw[sectorSize : 2*sectorSize])
	if err != nil {
		return nil, err
	}
	if hdr.PartitionTableLBA != 2 {
		return nil, ErrUnsupportedTableLBA
	}

	parts, err := parseEntries(raw, hdr)
	if err != nil {
		return nil, err
	}

	return &Table{Header: hdr, Partitions: parts}, nil
}

func verifyProtectiveMBR(sector []byte, totalSectors uint64) error {
	if len(sector) < sectorSize {
		return ErrNotProtectiveMBR
	}
	if sector[510] != 0x55 || sector[511] != 0xAA {
		return ErrNotProtectiveMBR
	}

	entry := sector[446:462]
	bootable := entry[0]
	osType := entry[4]
	startCHS := entry[1:4]
	startLBA := binary.LittleEndian.Uint32(entry[8:12])
	endLBA := binary.LittleEndian.Uint32(entry[12:16])

	if bootable != 0x00 || osType != 0xEE {
		return ErrNotProtectiveMBR
	}
	if !bytes.Equal(startCHS, []byte{0x00, 0x02, 0x00}) {
		return ErrNotProtectiveMBR
	}
	if startLBA != 1 {
		return ErrNotProtectiveMBR
	}

	wantEndLBA := totalSectors - 1
	if wantEndLBA > 0xFFFFFFFF {
		wantEndLBA = 0xFFFFFFFF
	}
	if uint64(endLBA) != wantEndLBA {
		return ErrNotProtectiveMBR
	}

	for i := 1; i < 4; i++ {
		other := sector[446+i*16 : 446+(i+1)*16]
		for _, b := range other {
			if b != 0 {
				return ErrNotProtectiveMBR
			}
		}
	}
	return nil
}

func parseHeader(sector []byte) (Header, error) {
	if !bytes.Equal(sector[0:8], []byte(headerSignature)) {
		return Header{}, ErrBadSignature
	}

	h := Header{
		Revision:            binary.LittleEndian.Uint32(sector[8:12]),
		HeaderSize:          binary.LittleEndian.Uint32(sector[12:16]),
		HeaderCRC32:         binary.LittleEndian.Uint32(sector[16:20]),
		CurrentLBA:          binary.LittleEndian.Uint64(sector[24:32]),
		BackupLBA:           binary.LittleEndian.Uint64(sector[32:40]),
		FirstUsableLBA:      binary.LittleEndian.Uint64(sector[40:48]),
		LastUsableLBA:       binary.LittleEndian.Uint64(sector[48:56]),
		PartitionTableLBA:   binary.LittleEndian.Uint64(sector[72:80]),
		PartitionEntryCount: binary.LittleEndian.Uint32(sector[80:84]),
		PartitionEntrySize:  binary.LittleEndian.Uint32(sector[84:88]),
		PartitionEntriesCRC: binary.LittleEndian.Uint32(sector[88:92]),
	}
	h.DiskGUID = guid.Decode(sector[56:72])

	if h.HeaderSize != headerSize {
		return Header{}, fmt.Errorf("gpt: unexpected header size %d", h.HeaderSize)
	}

	check := make([]byte, h.HeaderSize)
	copy(check, sector[:h.HeaderSize])
	binary.LittleEndian.PutUint32(check[16:20], 0)
	if crc32.ChecksumIEEE(check) != h.HeaderCRC32 {
		return Header{}, ErrHeaderCRCMismatch
	}

	return h, nil
}

var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

func parseEntries(raw []byte, hdr Header) ([]Partition, error) {
	entrySize := int(hdr.PartitionEntrySize)
	if entrySize < 0x38 {
		return nil, fmt.Errorf("gpt: partition entry size %d too small", entrySize)
	}

	base := 2 * sectorSize
	var parts []Partition
	for i := uint32(0); i < hdr.PartitionEntryCount; i++ {
		off := base + int(i)*entrySize
		if off+entrySize > len(raw) {
			break
		}
		entry := raw[off : off+entrySize]

		typeGUID := guid.Decode(entry[0:16])
		if typeGUID.IsZero() {
			continue
		}

		uniqueGUID := guid.Decode(entry[16:32])

		name, err := decodeName(entry[0x38:])
		if err != nil {
			name = ""
		}

		parts = append(parts, Partition{
			TypeGUID:   typeGUID,
			UniqueGUID: uniqueGUID,
			FirstLBA:   binary.LittleEndian.Uint64(entry[32:40]),
			LastLBA:    binary.LittleEndian.Uint64(entry[40:48]),
			Flags:      binary.LittleEndian.Uint64(entry[48:56]),
			Name:       name,
		})
	}
	return parts, nil
}

// decodeName converts a NUL-padded UTF-16LE partition name to a Go string,
// trimming the trailing zero code units.
func decodeName(raw []byte) (string, error) {
	end := len(raw)
	for end >= 2 {
		if raw[end-2] == 0 && raw[end-1] == 0 {
			end -= 2
			continue
		}
		break
	}
	decoded, err := utf16Decoder.Bytes(raw[:end])
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
