// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ext2 implements a read-only second extended filesystem reader:
// mount, inode lookup, direct/indirect block navigation with caching, and
// directory listing.
package ext2

// Signature is the magic value identifying an ext2 superblock.
const Signature = 0xEF53

// Filesystem state (superblock.fs_state).
const (
	StateClean = 1
	StateError = 2
)

// Behavior on error (superblock.on_error_behavior).
const (
	OnErrorContinue = 1
	OnErrorReadOnly = 2
	OnErrorPanic    = 3
)

// Creator OS id (superblock.os_id).
const (
	OSLinux   = 0
	OSHurd    = 1
	OSMasix   = 2
	OSFreeBSD = 3
	OSLites   = 4
)

// Optional feature bits.
const (
	OptPreallocateBlocks        = 0x1
	OptAFSServerInodes          = 0x2
	OptFSJournal                = 0x4
	OptExtendedInodeAttributes  = 0x8
	OptFSResizeSelfLarger       = 0x10
	OptDirectoriesUseHashIndex  = 0x20
)

// Required feature bits.
const (
	ReqCompression                  = 0x1
	ReqDirectoryEntriesHaveTypeField = 0x2
	ReqFSNeedsToReplayJournal        = 0x4
	ReqFSUsesJournalDevice           = 0x8
)

// Read-only-compatible feature bits.
const (
	ROSparseDescriptorTables         = 0x1
	RO64BitFileSize                  = 0x2
	RODirectoryContentInBinaryTree   = 0x4
)

// blockGroupDescriptorSize is the on-disk size of one Ext2BlockGroupDescriptor.
const blockGroupDescriptorSize = 32

// Superblock is the decoded ext2 superblock.
type Superblock struct {
	InodesCount               uint32
	BlocksCount                uint32
	SuReserved                 uint32
	UnallocatedBlocks          uint32
	UnallocatedInodes          uint32
	SuperblockBlock            uint32
	LogBlockSize               uint32
	LogFragmentSize            uint32
	BlocksPerGroup             uint32
	FragmentsPerGroup          uint32
	InodesPerGroup             uint32
	LastMountTime              uint32
	LastWriteTime              uint32
	MountCountSinceFsck        uint16
	MaxMountCountBeforeFsck    uint16
	Signature                  uint16
	FSState                    uint16
	OnErrorBehavior            uint16
	MinorVersionLevel          uint16
	LastFsckTime               uint32
	FsckInterval               uint32
	OSID                       uint32
	MajorVersionLevel          uint32
	UserIDReservedBlocks       uint16
	GroupIDReservedBlocks      uint16

	FirstNonReservedInode      uint32
	InodeStructSize            uint16
	ThisBlockGroup             uint16
	OptionalFeatures           uint32
	RequiredFeatures           uint32
	ReadOnlyOrSupportFeatures  uint32
	FSID                       [16]byte
	VolumeName                 [16]byte
	LastMountPath              [64]byte
	CompressionAlgorithm       uint32
	FileBlockPreallocateCount  uint8
	DirectoryBlockPreallocateCount uint8
	JournalID                  [16]byte
	JournalInode               uint32
	JournalDevice              uint32
	HeadOfOrphanInodeList      uint32
}

// BlockSize returns the filesystem's block size in bytes.
func (s *Superblock) BlockSize() uint32 {
	return 1024 << s.LogBlockSize
}

// InodeSize returns the on-disk size of one inode record.
func (s *Superblock) InodeSize() uint32 {
	if s.MajorVersionLevel >= 1 {
		return uint32(s.InodeStructSize)
	}
	return 128
}

func decodeSuperblock(buf []byte) Superblock {
	var s Superblock
	s.InodesCount = leU32(buf, 0)
	s.BlocksCount = leU32(buf, 4)
	s.SuReserved = leU32(buf, 8)
	s.UnallocatedBlocks = leU32(buf, 12)
	s.UnallocatedInodes = leU32(buf, 16)
	s.SuperblockBlock = leU32(buf, 20)
	s.LogBlockSize = leU32(buf, 24)
	s.LogFragmentSize = leU32(buf, 28)
	s.BlocksPerGroup = leU32(buf, 32)
	s.FragmentsPerGroup = leU32(buf, 36)
	s.InodesPerGroup = leU32(buf, 40)
	s.LastMountTime = leU32(buf, 44)
	s.LastWriteTime = leU32(buf, 48)
	s.MountCountSinceFsck = leU16(buf, 52)
	s.MaxMountCountBeforeFsck = leU16(buf, 54)
	s.Signature = leU16(buf, 56)
	s.FSState = leU16(buf, 58)
	s.OnErrorBehavior = leU16(buf, 60)
	s.MinorVersionLevel = leU16(buf, 62)
	s.LastFsckTime = leU32(buf, 64)
	s.FsckInterval = leU32(buf, 68)
	s.OSID = leU32(buf, 72)
	s.MajorVersionLevel = leU32(buf, 76)
	s.UserIDReservedBlocks = leU16(buf, 80)
	s.GroupIDReservedBlocks = leU16(buf, 82)

	if len(buf) >= 236 {
		s.FirstNonReservedInode = leU32(buf, 84)
		s.InodeStructSize = leU16(buf, 88)
		s.ThisBlockGroup = leU16(buf, 90)
		s.OptionalFeatures = leU32(buf, 92)
		s.RequiredFeatures = leU32(buf, 96)
		s.ReadOnlyOrSupportFeatures = leU32(buf, 100)
		copy(s.FSID[:], buf[104:120])
		copy(s.VolumeName[:], buf[120:136])
		copy(s.LastMountPath[:], buf[136:200])
		s.CompressionAlgorithm = leU32(buf, 200)
		s.FileBlockPreallocateCount = buf[204]
		s.DirectoryBlockPreallocateCount = buf[205]
		copy(s.JournalID[:], buf[208:224])
		s.JournalInode = leU32(buf, 224)
		s.JournalDevice = leU32(buf, 228)
		s.HeadOfOrphanInodeList = leU32(buf, 232)
	}

	return s
}

// BlockGroupDescriptor is one entry of the block-group descriptor table.
type BlockGroupDescriptor struct {
	BlockUsageBitmap uint32
	InodeUsageBitmap uint32
	InodeTableBlock  uint32
	FreeBlocksCount  uint16
	FreeInodesCount  uint16
	DirectoryCount   uint16
}

func decodeBlockGroupDescriptor(buf []byte) BlockGroupDescriptor {
	return BlockGroupDescriptor{
		BlockUsageBitmap: leU32(buf, 0),
		InodeUsageBitmap: leU32(buf, 4),
		InodeTableBlock:  leU32(buf, 8),
		FreeBlocksCount:  leU16(buf, 12),
		FreeInodesCount:  leU16(buf, 14),
		DirectoryCount:   leU16(buf, 16),
	}
}

func leU16(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

func leU32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}
