// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ailphaune/obsi2boot/pkg/diskio"
	"github.com/ailphaune/obsi2boot/pkg/gpt"
)

// gptCommand lists every GPT partition entry found on a disk image, the
// hosted-tool equivalent of pkg/stage2's mountFirstLinuxPartition scan.
type gptCommand struct {
	Image string `short:"f" long:"file" required:"true" description:"path to the disk image"`
}

func (c *gptCommand) Execute(args []string) error {
	bios, err := openFileBackedBIOS(c.Image)
	if err != nil {
		return err
	}
	defer bios.Close()

	disk := diskio.New(bios.invoker(nil), bios.mem, 0x80, bios.window())
	if err := disk.CheckPresent(); err != nil {
		return err
	}
	tbl, err := gpt.Read(disk, bios.mem, gptScratch)
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Name", "Type GUID", "First LBA", "Last LBA", "Size"})
	for i, p := range tbl.Partitions {
		size := (p.LastLBA - p.FirstLBA + 1) * fileSectorSize
		tw.AppendRow(table.Row{i, p.Name, p.TypeGUID.String(), p.FirstLBA, p.LastLBA, humanize.Bytes(size)})
	}
	tw.Render()
	return nil
}
