// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command obsitool inspects, and partially simulates, the pieces of the
// bootloader core this repository implements — GPT partition tables, ext2
// filesystems, ELF64 kernel images, BIOS memory maps, and the checksummed
// boot-info block handed to the kernel — directly against a disk image or
// file, with no real BIOS or CPU involved.
//
// Synopsis:
//
//	obsitool gpt -f DISK_IMAGE
//	obsitool ext2-ls -f DISK_IMAGE [-p PARTITION_LBA] PATH...
//	obsitool elf-info -f KERNEL_ELF
//	obsitool memmap -f MEMMAP_FILE
//	obsitool bootinfo-verify -f BOOTINFO_BLOB
//	obsitool simboot -f DISK_IMAGE -m MEMMAP_FILE PATH...
package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
)

func main() {
	parser := flags.NewParser(nil, flags.Default)
	addCommand(parser, "gpt", "List GPT partitions in a disk image", &gptCommand{})
	addCommand(parser, "ext2-ls", "List a directory inside an ext2 partition", &ext2LsCommand{})
	addCommand(parser, "elf-info", "Print an ELF64 kernel's header and program headers", &elfInfoCommand{})
	addCommand(parser, "memmap", "Normalize a textual BIOS memory map", &memMapCommand{})
	addCommand(parser, "bootinfo-verify", "Verify a boot-info parameter block", &bootInfoVerifyCommand{})
	addCommand(parser, "simboot", "Simulate the full stage2 boot pipeline against a disk image", &simBootCommand{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "obsitool:", err)
		os.Exit(1)
	}
}

func addCommand(parser *flags.Parser, name, short string, data interface{}) {
	if _, err := parser.AddCommand(name, short, short, data); err != nil {
		panic(err)
	}
}
