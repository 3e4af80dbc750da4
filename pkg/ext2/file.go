// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ext2

// File is a lazily-streamed regular-file handle.
type File struct {
	fs     *FileSystem
	inode  Inode
	cursor *Cursor
}

// OpenFile returns a File handle streaming inode's data blocks. Open uses it
// for regular files, and OpenDirectory uses it to read a directory's raw
// contents; the inode type is not checked here.
func OpenFile(fs *FileSystem, inode Inode) (*File, error) {
	cursor, err := NewCursor(fs, inode)
	if err != nil {
		return nil, err
	}
	return &File{fs: fs, inode: inode, cursor: cursor}, nil
}

// Size returns the file's size in bytes.
func (f *File) Size() uint32 { return f.inode.SizeLo }

// ReadAll reads the file's entire contents.
func (f *File) ReadAll() ([]byte, error) {
	size := f.inode.SizeLo
	if size == 0 {
		return nil, nil
	}
	blockSize := f.fs.superblock.BlockSize()
	numBlocks := divCeil(size, blockSize)

	out := make([]byte, 0, size)
	if err := f.cursor.Seek(0); err != nil {
		return nil, err
	}
	for b := uint32(0); b < numBlocks; b++ {
		if b > 0 {
			if _, err := f.cursor.Advance(); err != nil {
				return nil, err
			}
		}
		blockBuf := make([]byte, blockSize)
		if err := f.fs.readBlock(f.cursor.GetNextBlock(), blockBuf); err != nil {
			return nil, err
		}
		if b == numBlocks-1 {
			remainder := size % blockSize
			if remainder != 0 {
				blockBuf = blockBuf[:remainder]
			}
		}
		out = append(out, blockBuf...)
	}
	return out, nil
}

// ReadAt reads len(dst) bytes starting at byte offset offset into the file,
// seeking the cursor to whatever block each range falls in. Unlike ReadAll,
// this does not require pulling the whole file into memory, which is what
// pkg/kernelelf uses to pull out the ELF header, program header table, and
// each segment's file-backed bytes independently.
func (f *File) ReadAt(offset uint64, dst []byte) error {
	blockSize := f.fs.superblock.BlockSize()
	var read uint32
	total := uint32(len(dst))
	for read < total {
		pos := offset + uint64(read)
		block := uint32(pos / uint64(blockSize))
		blockOffset := uint32(pos % uint64(blockSize))

		if err := f.cursor.Seek(block); err != nil {
			return err
		}
		blockBuf := make([]byte, blockSize)
		if err := f.fs.readBlock(f.cursor.GetNextBlock(), blockBuf); err != nil {
			return err
		}

		toCopy := total - read
		if rem := blockSize - blockOffset; toCopy > rem {
			toCopy = rem
		}
		copy(dst[read:read+toCopy], blockBuf[blockOffset:blockOffset+toCopy])
		read += toCopy
	}
	return nil
}
