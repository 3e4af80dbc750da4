// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ext2

// Kind identifies which tier of the block-pointer scheme a logical block
// index decomposes into.
type Kind int

const (
	KindDirect Kind = iota
	KindSingle
	KindDouble
	KindTriple
)

// Decomposition is the unique {Direct|Single|Double|Triple} breakdown of a
// logical block index, computed against a table width w = block_size/4.
type Decomposition struct {
	Kind    Kind
	I, J, K uint32
}

// Decompose breaks logical block b into its unique decomposition for table
// width w.
func Decompose(b, w uint32) Decomposition {
	if b < 12 {
		return Decomposition{Kind: KindDirect, I: b}
	}
	b -= 12
	if b < w {
		return Decomposition{Kind: KindSingle, I: b}
	}
	b -= w
	if b < w*w {
		return Decomposition{Kind: KindDouble, I: b / w, J: b % w}
	}
	b -= w * w
	return Decomposition{Kind: KindTriple, I: b / (w * w), J: (b % (w * w)) / w, K: b % w}
}

// Reconstruct inverts Decompose, returning the logical block index d
// represents for table width w.
func (d Decomposition) Reconstruct(w uint32) uint32 {
	switch d.Kind {
	case KindDirect:
		return d.I
	case KindSingle:
		return 12 + d.I
	case KindDouble:
		return 12 + w + d.I*w + d.J
	default: // KindTriple
		return 12 + w + w*w + d.I*w*w + d.J*w + d.K
	}
}

type indirectTable struct {
	blockAddr uint32
	loaded    bool
	entries   []uint32
}

// Cursor navigates an inode's block-pointer scheme one logical block at a
// time, caching up to three indirect tables keyed by the disk block
// address they were loaded from.
type Cursor struct {
	fs       *FileSystem
	inode    Inode
	w        uint32
	maxBlock uint32
	cur      uint32
	decomp   Decomposition
	l1       indirectTable
	l2       indirectTable
	l3       indirectTable
}

// NewCursor builds a cursor over inode's data blocks, positioned at
// logical block 0.
func NewCursor(fs *FileSystem, inode Inode) (*Cursor, error) {
	blockSize := fs.superblock.BlockSize()
	w := blockSize / 4
	maxBlock := maxBlockFor(inode.SizeLo, blockSize)

	c := &Cursor{fs: fs, inode: inode, w: w, maxBlock: maxBlock}
	if err := c.Seek(0); err != nil {
		return nil, err
	}
	return c, nil
}

// maxBlockFor computes the highest valid logical block index for a file of
// the given size, using ceiling division so files smaller than one block
// still have a valid block 0 rather than underflowing.
func maxBlockFor(sizeLo, blockSize uint32) uint32 {
	if sizeLo == 0 {
		return 0
	}
	return divCeil(sizeLo, blockSize) - 1
}

// Seek recomputes the decomposition for logical block b and refreshes any
// indirect-table cache that no longer matches.
func (c *Cursor) Seek(b uint32) error {
	c.cur = b
	c.decomp = Decompose(b, c.w)

	switch c.decomp.Kind {
	case KindDirect:
		return nil
	case KindSingle:
		return c.load(&c.l1, c.inode.BlockSingle)
	case KindDouble:
		if err := c.load(&c.l1, c.inode.BlockDouble); err != nil {
			return err
		}
		return c.load(&c.l2, c.l1.entries[c.decomp.I])
	default: // KindTriple
		if err := c.load(&c.l1, c.inode.BlockTriple); err != nil {
			return err
		}
		if err := c.load(&c.l2, c.l1.entries[c.decomp.I]); err != nil {
			return err
		}
		return c.load(&c.l3, c.l2.entries[c.decomp.J])
	}
}

func (c *Cursor) load(cache *indirectTable, blockAddr uint32) error {
	if cache.loaded && cache.blockAddr == blockAddr {
		return nil
	}
	blockSize := c.fs.superblock.BlockSize()
	raw := make([]byte, blockSize)
	if err := c.fs.readBlock(blockAddr, raw); err != nil {
		return err
	}
	entries := make([]uint32, blockSize/4)
	for i := range entries {
		entries[i] = leU32(raw, i*4)
	}
	cache.blockAddr = blockAddr
	cache.entries = entries
	cache.loaded = true
	return nil
}

// GetNextBlock returns the data block number for the cursor's current
// position.
func (c *Cursor) GetNextBlock() uint32 {
	switch c.decomp.Kind {
	case KindDirect:
		return c.inode.Blocks[c.decomp.I]
	case KindSingle:
		return c.l1.entries[c.decomp.I]
	case KindDouble:
		return c.l2.entries[c.decomp.J]
	default: // KindTriple
		return c.l3.entries[c.decomp.K]
	}
}

// Advance moves the cursor to the next logical block, returning false
// (without moving) once the cursor is already at or past the file's last
// block.
func (c *Cursor) Advance() (bool, error) {
	if c.cur >= c.maxBlock {
		return false, nil
	}
	if err := c.Seek(c.cur + 1); err != nil {
		return false, err
	}
	return true, nil
}
