// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/ailphaune/obsi2boot/pkg/bootinfo"
)

// bootInfoVerifyCommand decodes a raw boot-info parameter block and
// reports whether its checksum is valid, the same check pkg/bootinfo's
// trampoline hand-off relies on the kernel to perform on itself.
type bootInfoVerifyCommand struct {
	File string `short:"f" long:"file" required:"true" description:"path to a raw boot-info parameter block"`
}

func (c *bootInfoVerifyCommand) Execute(args []string) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	if want := len(bootinfo.Build(bootinfo.Params{}).Marshal()); len(data) < want {
		return fmt.Errorf("obsitool: %s is %d bytes, need at least %d", c.File, len(data), want)
	}

	p := bootinfo.Unmarshal(data)
	ok := bootinfo.Verify(p)

	fmt.Printf("struct size:        %d\n", p.StructSize)
	fmt.Printf("struct version:     %d\n", p.StructVersion)
	fmt.Printf("bios boot drive:    0x%x\n", p.BIOSBootDrive)
	fmt.Printf("bios idt ptr:       0x%x\n", p.BIOSIDTPtr)
	fmt.Printf("memory layout ptr:  0x%x (%d entries of %d bytes)\n", p.MemoryLayoutPtr, p.MemoryLayoutEntryCount, p.MemoryLayoutEntrySize)
	fmt.Printf("page table arena:   0x%x..0x%x\n", p.PageTablesArenaCurrent, p.PageTablesArenaEnd)
	fmt.Printf("pml4 base:          0x%x\n", p.PML4Base)
	fmt.Printf("usable kernel mem:  0x%x\n", p.UsableKernelMemoryStart)
	fmt.Printf("kernel stack ptr:   0x%x\n", p.KernelStackPointer)

	if ok {
		fmt.Println("checksum:           OK")
		return nil
	}
	fmt.Println("checksum:           MISMATCH")
	return fmt.Errorf("obsitool: %s fails checksum verification", c.File)
}
