// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ext2

import (
	"github.com/ailphaune/obsi2boot/pkg/diskio"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
)

// scratchSize is the size of the low-memory staging buffer used for every
// disk read: large enough to hold the 1024-byte superblock probe at any
// supported sector size.
const scratchSize = 4096

// FileSystem is a mounted, read-only ext2 volume reachable through disk at
// a fixed partition LBA offset.
type FileSystem struct {
	disk         *diskio.ExtendedDisk
	mem          *physmem.Memory
	scratch      physmem.Addr
	partitionLBA uint64

	superblock      Superblock
	blockGroups     []BlockGroupDescriptor
	sectorsPerBlock uint32
	sectorSize      uint32
}

// MountRO mounts the ext2 filesystem starting at partitionLBA on disk,
// using [scratch, scratch+scratchSize) of mem as a low-memory staging
// window.
func MountRO(disk *diskio.ExtendedDisk, mem *physmem.Memory, scratch physmem.Addr, partitionLBA uint64) (*FileSystem, error) {
	fs := &FileSystem{disk: disk, mem: mem, scratch: scratch, partitionLBA: partitionLBA}
	if err := fs.readSuperblock(); err != nil {
		return nil, err
	}
	if err := fs.readBlockGroupDescriptorTable(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileSystem) readSuperblock() error {
	params, err := fs.disk.GetParams()
	if err != nil {
		return err
	}
	if params.BytesPerSector != 512 && params.BytesPerSector != 4096 {
		return newErrArgs(ErrBadDiskSectorSize, uint64(params.BytesPerSector), 0)
	}
	fs.sectorSize = params.BytesPerSector

	startLBA := uint64(1024) / uint64(fs.sectorSize)
	bufIdx := uint32(1024) % fs.sectorSize
	sectorsToRead := scratchSize / fs.sectorSize

	if err := fs.disk.Read(fs.partitionLBA+startLBA, sectorsToRead, fs.mem, fs.scratch); err != nil {
		return err
	}
	raw := make([]byte, scratchSize)
	if err := fs.mem.ReadAt(fs.scratch, raw); err != nil {
		return err
	}

	fs.superblock = decodeSuperblock(raw[bufIdx : bufIdx+1024])
	if fs.superblock.Signature != Signature {
		return newErr(ErrBadSuperblock)
	}

	blockSize := fs.superblock.BlockSize()
	if blockSize%fs.sectorSize != 0 {
		return newErrArgs(ErrBadBlockSize, uint64(blockSize), uint64(fs.sectorSize))
	}
	fs.sectorsPerBlock = blockSize / fs.sectorSize

	return nil
}

func (fs *FileSystem) countBlockGroups() (uint32, error) {
	bpg := fs.superblock.BlocksPerGroup
	ipg := fs.superblock.InodesPerGroup
	if bpg == 0 || ipg == 0 {
		return 0, newErr(ErrBadSuperblock)
	}
	r1 := divCeil(fs.superblock.BlocksCount, bpg)
	r2 := divCeil(fs.superblock.InodesCount, ipg)
	if r1 != r2 {
		return 0, newErrArgs(ErrBadBlockGroupDescriptorTableEntrySize, uint64(r1), uint64(r2))
	}
	return r1, nil
}

func divCeil(a, b uint32) uint32 {
	return (a + b - 1) / b
}

func (fs *FileSystem) readBlockGroupDescriptorTable() error {
	entryCount, err := fs.countBlockGroups()
	if err != nil {
		return err
	}
	blockSize := fs.superblock.BlockSize()
	if blockSize == 0 {
		return newErr(ErrNullBlockSize)
	}

	tableSize := entryCount * blockGroupDescriptorSize
	raw, err := fs.readBytesAtBlockGranularity(2048, tableSize)
	if err != nil {
		return err
	}

	fs.blockGroups = make([]BlockGroupDescriptor, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		off := i * blockGroupDescriptorSize
		fs.blockGroups[i] = decodeBlockGroupDescriptor(raw[off : off+blockGroupDescriptorSize])
	}
	return nil
}

// readBlock reads one filesystem block (blockSize bytes) into dst, which
// must be exactly blockSize long.
func (fs *FileSystem) readBlock(block uint32, dst []byte) error {
	blockSize := fs.superblock.BlockSize()
	if uint32(len(dst)) != blockSize {
		return newErr(ErrBufferTooSmall)
	}
	beginLBA := fs.partitionLBA + uint64(block)*uint64(fs.sectorsPerBlock)
	if err := fs.disk.Read(beginLBA, fs.sectorsPerBlock, fs.mem, fs.scratch); err != nil {
		return err
	}
	return fs.mem.ReadAt(fs.scratch, dst)
}

// readBytesAtBlockGranularity reads length bytes starting at the given
// byte offset into the filesystem, issuing one readBlock call per block
// boundary crossed.
func (fs *FileSystem) readBytesAtBlockGranularity(byteOffset uint64, length uint32) ([]byte, error) {
	blockSize := fs.superblock.BlockSize()
	if blockSize == 0 {
		return nil, newErr(ErrNullBlockSize)
	}

	out := make([]byte, length)
	blockBuf := make([]byte, blockSize)

	var read uint32
	diskByte := byteOffset
	for read < length {
		diskBlock := uint32(diskByte / uint64(blockSize))
		blockOffset := uint32(diskByte % uint64(blockSize))
		toCopy := length - read
		if remInBlock := blockSize - blockOffset; toCopy > remInBlock {
			toCopy = remInBlock
		}
		if err := fs.readBlock(diskBlock, blockBuf); err != nil {
			return nil, err
		}
		copy(out[read:read+toCopy], blockBuf[blockOffset:blockOffset+toCopy])
		read += toCopy
		diskByte += uint64(toCopy)
	}
	return out, nil
}

// Superblock returns the mounted volume's decoded superblock.
func (fs *FileSystem) Superblock() Superblock { return fs.superblock }

// BlockGroups returns the mounted volume's block-group descriptor table.
func (fs *FileSystem) BlockGroups() []BlockGroupDescriptor { return fs.blockGroups }

// BlockSize returns the mounted volume's block size in bytes.
func (fs *FileSystem) BlockSize() uint32 { return fs.superblock.BlockSize() }
