// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ailphaune/obsi2boot/pkg/memlayout"
)

// memMapCommand runs pkg/memlayout.Normalize over a textual memory map and
// prints the sorted, non-overlapping, coalesced result pkg/paging would
// map, without needing a real BIOS E820 call to produce the input.
type memMapCommand struct {
	File string `short:"f" long:"file" required:"true" description:"path to a \"base len kind\" memory map description"`
}

func (c *memMapCommand) Execute(args []string) error {
	entries, err := readMemMapFile(c.File)
	if err != nil {
		return err
	}

	layout := memlayout.Normalize(entries)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Start", "End", "Size", "Kind"})
	for _, r := range layout {
		kind := "usable"
		if r.Kind == memlayout.Reserved {
			kind = "reserved"
		}
		tw.AppendRow(table.Row{
			fmt.Sprintf("0x%x", r.Start),
			fmt.Sprintf("0x%x", r.End),
			humanize.Bytes(r.End - r.Start),
			kind,
		})
	}
	tw.Render()
	return nil
}
