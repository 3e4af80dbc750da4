// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ailphaune/obsi2boot/pkg/kernelelf"
)

// elfHeaderSize is the fixed ELF64 file header size pkg/kernelelf parses.
const elfHeaderSize = 64

// elfInfoCommand parses and prints an ELF64 kernel image's file header and
// program headers directly from a local file, without going through a
// disk image or pkg/kernelelf.Load's physical-memory placement.
type elfInfoCommand struct {
	File string `short:"f" long:"file" required:"true" description:"path to the ELF64 kernel image"`
}

func (c *elfInfoCommand) Execute(args []string) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	if len(data) < elfHeaderSize {
		return fmt.Errorf("obsitool: %s is too small to be an ELF64 file", c.File)
	}

	hdr, err := kernelelf.ParseHeader(data)
	if err != nil {
		return err
	}
	if int(hdr.ProgHeaderOffset)+int(hdr.ProgHeaderCount)*int(hdr.ProgHeaderSize) > len(data) {
		return fmt.Errorf("obsitool: %s: program header table extends past end of file", c.File)
	}
	phs, err := kernelelf.ParseProgramHeaders(data[hdr.ProgHeaderOffset:], int(hdr.ProgHeaderCount), int(hdr.ProgHeaderSize))
	if err != nil {
		return err
	}

	fmt.Printf("entry point:  0x%x\n", hdr.Entry)
	fmt.Printf("machine:      0x%x\n", hdr.Machine)
	fmt.Printf("type:         0x%x\n", hdr.Type)
	fmt.Printf("osabi:        0x%x\n", hdr.OSABI)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Type", "Flags", "VAddr", "PAddr", "FileSz", "MemSz"})
	for _, ph := range phs {
		tw.AppendRow(table.Row{
			programHeaderTypeName(ph.Type),
			programHeaderFlags(ph.Flags),
			fmt.Sprintf("0x%x", ph.VAddr),
			fmt.Sprintf("0x%x", ph.PAddr),
			humanize.Bytes(ph.FileSz),
			humanize.Bytes(ph.MemSz),
		})
	}
	tw.Render()
	return nil
}

func programHeaderTypeName(t uint32) string {
	if t == kernelelf.PTLoad {
		return "LOAD"
	}
	return fmt.Sprintf("0x%x", t)
}

func programHeaderFlags(flags uint32) string {
	out := []byte("---")
	if flags&kernelelf.FlagReadable != 0 {
		out[0] = 'R'
	}
	if flags&kernelelf.FlagWritable != 0 {
		out[1] = 'W'
	}
	if flags&kernelelf.FlagExecutable != 0 {
		out[2] = 'X'
	}
	return string(out)
}
