// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/ailphaune/obsi2boot/pkg/bootinfo"
	"github.com/ailphaune/obsi2boot/pkg/memmap"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
	"github.com/ailphaune/obsi2boot/pkg/stage2"
)

// simBootCommand drives pkg/stage2.Run end to end against a disk image,
// using a textual memory map in place of a real INT 15h/E820 response —
// the hosted equivalent of the whole bootloader core up to the point
// where a real build would jump into the assembly trampoline.
type simBootCommand struct {
	Image      string `short:"f" long:"file" required:"true" description:"path to the disk image"`
	MemMapFile string `short:"m" long:"memmap" required:"true" description:"path to a \"base len kind\" memory map description"`
	BootDrive  uint8  `short:"d" long:"boot-drive" default:"128" description:"BIOS boot drive number"`

	Args struct {
		Path []string `positional-arg-name:"PATH" description:"path to the kernel file, relative to the filesystem root"`
	} `positional-args:"yes"`
}

func (c *simBootCommand) Execute(args []string) error {
	if len(c.Args.Path) == 0 {
		return fmt.Errorf("obsitool: simboot requires a kernel PATH")
	}

	entries, err := readMemMapFile(c.MemMapFile)
	if err != nil {
		return err
	}

	bios, err := openFileBackedBIOS(c.Image)
	if err != nil {
		return err
	}
	defer bios.Close()
	bios.mem = physmem.New(0, physMemSizeFor(entries))

	cfg := stage2.Config{
		BIOSIDTPtr: 0x0,
		BootDrive:  c.BootDrive,
		Window: stage2.Window{
			MemMapScratch: memMapScratch,
			Disk:          bios.window(),
			GPTScratch:    gptScratch,
			Ext2Scratch:   ext2Scratch,
		},
		KernelPath: c.Args.Path,
	}

	result, err := stage2.Run(bios.invoker(entries), bios.mem, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("partition:        %q (first LBA %d)\n", result.Partition.Name, result.Partition.FirstLBA)
	fmt.Printf("kernel entry:     0x%x\n", result.Kernel.Entry)
	fmt.Printf("kernel segments:  %d\n", len(result.Kernel.Segments))
	fmt.Printf("pml4 base:        0x%x\n", result.PML4)
	fmt.Printf("memory regions:   %d\n", len(result.MemoryLayout))
	fmt.Printf("bootinfo checksum ok: %v\n", bootinfo.Verify(result.BootInfo))
	fmt.Printf("trampoline entry: 0x%x, stack top 0x%x\n", result.Trampoline.EntryPoint, result.Trampoline.StackTop)

	for _, seg := range result.Kernel.Segments {
		if phys, ok, err := result.PageTables.Translate(seg.VAddr); err == nil && ok {
			fmt.Printf("  segment vaddr 0x%x -> phys 0x%x (maps to 0x%x)\n", seg.VAddr, seg.PhysAddr, phys)
		}
	}
	return nil
}

// physMemSizeFor sizes the simulated physical address space to cover every
// memory-map entry simboot will report over INT 15h/E820, clamped to
// physmem.Addr's 32-bit range.
func physMemSizeFor(entries []memmap.Entry) uint32 {
	var max uint64 = 1 << 20
	for _, e := range entries {
		if end := e.Base + e.Len; end > max {
			max = end
		}
	}
	if max > 1<<32-1 {
		max = 1<<32 - 1
	}
	return uint32(max)
}
