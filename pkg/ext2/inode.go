// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ext2

// Inode mode type bits (upper nibble of Mode), standard ext2 layout.
const (
	TypeFIFO      = 0x1000
	TypeCharDev   = 0x2000
	TypeDirectory = 0x4000
	TypeBlockDev  = 0x6000
	TypeRegular   = 0x8000
	TypeSymlink   = 0xA000
	TypeSocket    = 0xC000
	typeMask      = 0xF000
)

// RootInode is the well-known inode number of the filesystem root directory.
const RootInode = 2

// Inode is the decoded on-disk inode record fields this loader needs.
type Inode struct {
	Mode        uint16
	UID         uint16
	SizeLo      uint32
	LinksCount  uint16
	GID         uint16
	Blocks      [12]uint32
	BlockSingle uint32
	BlockDouble uint32
	BlockTriple uint32
}

// Type reports the inode's on-disk file type.
func (i Inode) Type() uint16 {
	return i.Mode & typeMask
}

// ReadInode loads inode number from disk.
func (fs *FileSystem) ReadInode(number uint32) (Inode, error) {
	if number == 0 {
		return Inode{}, newErrArgs(ErrBadInodeIndex, uint64(number), 0)
	}
	ipg := fs.superblock.InodesPerGroup
	if ipg == 0 {
		return Inode{}, newErr(ErrBadSuperblock)
	}

	group := (number - 1) / ipg
	index := (number - 1) % ipg
	if int(group) >= len(fs.blockGroups) {
		return Inode{}, newErrArgs(ErrBadInodeIndex, uint64(number), uint64(group))
	}

	block := fs.blockGroups[group].InodeTableBlock
	inodeSize := fs.superblock.InodeSize()
	byteOffset := uint64(block)*uint64(fs.superblock.BlockSize()) + uint64(index)*uint64(inodeSize)

	raw, err := fs.readBytesAtBlockGranularity(byteOffset, inodeSize)
	if err != nil {
		return Inode{}, err
	}

	return decodeInode(raw), nil
}

func decodeInode(buf []byte) Inode {
	var in Inode
	in.Mode = leU16(buf, 0)
	in.UID = leU16(buf, 2)
	in.SizeLo = leU32(buf, 4)
	in.LinksCount = leU16(buf, 26)
	in.GID = leU16(buf, 24)
	for i := 0; i < 12; i++ {
		in.Blocks[i] = leU32(buf, 40+i*4)
	}
	in.BlockSingle = leU32(buf, 88)
	in.BlockDouble = leU32(buf, 92)
	in.BlockTriple = leU32(buf, 96)
	return in
}
