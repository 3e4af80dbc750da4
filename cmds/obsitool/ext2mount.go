// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/ailphaune/obsi2boot/pkg/diskio"
	"github.com/ailphaune/obsi2boot/pkg/ext2"
	"github.com/ailphaune/obsi2boot/pkg/gpt"
	"github.com/ailphaune/obsi2boot/pkg/guid"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
)

// mountPartition mounts the partition at lba directly, or — when lba is
// nil — scans table for the first Linux-filesystem-type partition that
// mounts as ext2, the same fallback-scan pkg/stage2.Run performs.
func mountPartition(disk *diskio.ExtendedDisk, mem *physmem.Memory, table *gpt.Table, lba *uint64) (*ext2.FileSystem, gpt.Partition, error) {
	if lba != nil {
		for _, p := range table.Partitions {
			if p.FirstLBA == *lba {
				fs, err := ext2.MountRO(disk, mem, ext2Scratch, p.FirstLBA)
				return fs, p, err
			}
		}
		return nil, gpt.Partition{}, fmt.Errorf("obsitool: no partition starting at LBA %d", *lba)
	}

	var errs *multierror.Error
	for _, p := range table.Partitions {
		if p.TypeGUID != guid.PartitionTypeLinuxFilesystem {
			continue
		}
		fs, err := ext2.MountRO(disk, mem, ext2Scratch, p.FirstLBA)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("partition at LBA %d: %w", p.FirstLBA, err))
			continue
		}
		return fs, p, nil
	}
	if errs != nil {
		return nil, gpt.Partition{}, errs
	}
	return nil, gpt.Partition{}, errNoSuchPartition
}

// walkPath descends fs from root through each path component, matching
// pkg/stage2's own directory walk.
func walkPath(fs *ext2.FileSystem, root uint32, components []string) (uint32, error) {
	current := root
	for _, name := range components {
		node, _, err := ext2.Open(fs, current)
		if err != nil {
			return 0, err
		}
		if node.Directory == nil {
			return 0, fmt.Errorf("obsitool: %q is not a directory", name)
		}
		entry, ok := node.Directory.Find(name)
		if !ok {
			return 0, fmt.Errorf("obsitool: %q not found", name)
		}
		current = entry.Inode
	}
	return current, nil
}
