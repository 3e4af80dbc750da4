// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ext2

// Node is the result of Open: either a *Directory or a *File, matching the
// on-disk inode type.
type Node struct {
	Directory *Directory
	File      *File
}

// Open reads inode number and yields a Directory or File node depending on
// its on-disk type bits. Inode types other than directory and regular file
// (fifo, device, symlink, socket) are rejected with ErrUnsupportedInodeType.
func Open(fs *FileSystem, number uint32) (Node, Inode, error) {
	inode, err := fs.ReadInode(number)
	if err != nil {
		return Node{}, Inode{}, err
	}

	switch inode.Type() {
	case TypeDirectory:
		dir, err := OpenDirectory(fs, inode)
		if err != nil {
			return Node{}, Inode{}, err
		}
		return Node{Directory: dir}, inode, nil
	case TypeRegular:
		file, err := OpenFile(fs, inode)
		if err != nil {
			return Node{}, Inode{}, err
		}
		return Node{File: file}, inode, nil
	default:
		return Node{}, Inode{}, newErrArgs(ErrUnsupportedInodeType, uint64(inode.Type()), 0)
	}
}
