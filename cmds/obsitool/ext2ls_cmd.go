// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ailphaune/obsi2boot/pkg/diskio"
	"github.com/ailphaune/obsi2boot/pkg/ext2"
	"github.com/ailphaune/obsi2boot/pkg/gpt"
)

// ext2LsCommand lists one directory's entries inside the ext2 filesystem
// on a disk image's root Linux partition (or an explicit partition LBA).
type ext2LsCommand struct {
	Image        string `short:"f" long:"file" required:"true" description:"path to the disk image"`
	PartitionLBA uint64 `short:"p" long:"partition-lba" description:"first LBA of the partition to mount (default: first Linux-filesystem-type partition)"`

	Args struct {
		Path []string `positional-arg-name:"PATH" description:"directory path components, relative to the filesystem root"`
	} `positional-args:"yes"`
}

func (c *ext2LsCommand) Execute(args []string) error {
	bios, err := openFileBackedBIOS(c.Image)
	if err != nil {
		return err
	}
	defer bios.Close()

	disk := diskio.New(bios.invoker(nil), bios.mem, 0x80, bios.window())
	if err := disk.CheckPresent(); err != nil {
		return err
	}
	gptTable, err := gpt.Read(disk, bios.mem, gptScratch)
	if err != nil {
		return err
	}

	var lba *uint64
	if c.PartitionLBA != 0 {
		lba = &c.PartitionLBA
	}
	fs, partition, err := mountPartition(disk, bios.mem, gptTable, lba)
	if err != nil {
		return err
	}

	dirInode, err := walkPath(fs, ext2.RootInode, c.Args.Path)
	if err != nil {
		return err
	}
	node, _, err := ext2.Open(fs, dirInode)
	if err != nil {
		return err
	}
	if node.Directory == nil {
		return fmt.Errorf("obsitool: %v is not a directory", c.Args.Path)
	}

	fmt.Printf("partition %q (first LBA %d):\n", partition.Name, partition.FirstLBA)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Inode", "Name"})
	for _, e := range node.Directory.Entries {
		tw.AppendRow(table.Row{e.Inode, e.Name})
	}
	tw.Render()
	return nil
}
