// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ext2

// DirEntry is one parsed directory entry.
type DirEntry struct {
	Inode uint32
	Name  string
}

// Directory is a fully-parsed directory listing, built in one pass when
// opened.
type Directory struct {
	Entries    []DirEntry
	selfIndex  int
	parentIndex int
}

// GetInode returns the inode number the "." entry points to.
func (d *Directory) GetInode() uint32 {
	if d.selfIndex < 0 {
		return 0
	}
	return d.Entries[d.selfIndex].Inode
}

// GetParentInode returns the inode number the ".." entry points to.
func (d *Directory) GetParentInode() uint32 {
	if d.parentIndex < 0 {
		return 0
	}
	return d.Entries[d.parentIndex].Inode
}

// OpenDirectory parses inode (which must be a directory) into a Directory
// listing.
func OpenDirectory(fs *FileSystem, inode Inode) (*Directory, error) {
	file, err := OpenFile(fs, inode)
	if err != nil {
		return nil, err
	}
	raw, err := file.ReadAll()
	if err != nil {
		return nil, err
	}

	hasTypeField := fs.superblock.RequiredFeatures&ReqDirectoryEntriesHaveTypeField != 0

	dir := &Directory{selfIndex: -1, parentIndex: -1}
	off := 0
	for off+8 <= len(raw) {
		entryInode := leU32(raw, off)
		recLen := leU16(raw, off+4)
		if recLen < 8 {
			return nil, newErr(ErrDirectoryParseFailed)
		}
		nameLenLo := raw[off+6]
		typeOrNameLenHi := raw[off+7]

		var nameLen int
		if hasTypeField {
			nameLen = int(nameLenLo)
		} else {
			nameLen = int(typeOrNameLenHi)*256 + int(nameLenLo)
		}

		if entryInode != 0 {
			nameStart := off + 8
			nameEnd := nameStart + nameLen
			if nameEnd > len(raw) {
				return nil, newErr(ErrDirectoryParseFailed)
			}
			name := string(raw[nameStart:nameEnd])

			switch name {
			case ".":
				dir.selfIndex = len(dir.Entries)
			case "..":
				dir.parentIndex = len(dir.Entries)
			}
			dir.Entries = append(dir.Entries, DirEntry{Inode: entryInode, Name: name})
		}

		off += int(recLen)
	}

	return dir, nil
}

// Find looks up an entry by exact name.
func (d *Directory) Find(name string) (DirEntry, bool) {
	for _, e := range d.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return DirEntry{}, false
}
