// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stage2 orchestrates the full boot pipeline: probing the disk,
// discovering physical memory, standing up the heap, reading the GPT,
// mounting the root filesystem, loading the kernel ELF image, normalizing
// the memory layout, building page tables, and assembling the boot-info
// block the long-mode trampoline hands off to the kernel.
// Entering long mode and jumping to the kernel is, like pkg/biosthunk's
// real-mode calls and pkg/gdt's trampoline, raw assembly this hosted
// package cannot execute; Run stops at producing the gdt.Trampoline a real
// assembly stub would consume.
package stage2

import (
	"fmt"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/ailphaune/obsi2boot/pkg/biosthunk"
	"github.com/ailphaune/obsi2boot/pkg/bootinfo"
	"github.com/ailphaune/obsi2boot/pkg/diskio"
	"github.com/ailphaune/obsi2boot/pkg/ext2"
	"github.com/ailphaune/obsi2boot/pkg/gdt"
	"github.com/ailphaune/obsi2boot/pkg/gpt"
	"github.com/ailphaune/obsi2boot/pkg/guid"
	"github.com/ailphaune/obsi2boot/pkg/heap"
	"github.com/ailphaune/obsi2boot/pkg/kernelelf"
	"github.com/ailphaune/obsi2boot/pkg/log"
	"github.com/ailphaune/obsi2boot/pkg/memlayout"
	"github.com/ailphaune/obsi2boot/pkg/memmap"
	"github.com/ailphaune/obsi2boot/pkg/paging"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
)

// pageTableArenaSize is how much of the chosen heap candidate is carved off
// for page-table frames before the rest becomes the general-purpose heap.
const pageTableArenaSize = 15 * 1024 * 1024

const oneMiB = 1024 * 1024
const twoMiB = 2 * 1024 * 1024
const pageSize4K = 4096

// highHalfOffset is added to every identity-mapped physical address to
// produce its second, high-half direct-map virtual address.
const highHalfOffset = 0xFFFF_A000_0000_0000

// kernelStackVirtBase is where the 2 MiB kernel stack is mapped.
const kernelStackVirtBase = 0xFFFF_9000_0000_0000
const kernelStackSize = 2 * 1024 * 1024

// Window bundles the low-memory scratch addresses every BIOS- or disk-
// facing component needs; all of them must lie below 1 MiB, the real-mode
// addressable range.
type Window struct {
	MemMapScratch physmem.Addr
	Disk          diskio.Window
	GPTScratch    physmem.Addr
	Ext2Scratch   physmem.Addr
}

// Config bundles stage-1's entry contract and the scratch layout Run needs.
type Config struct {
	BIOSIDTPtr physmem.Addr
	BootDrive  uint8
	Window     Window

	// KernelPath is the sequence of directory/file names from the root
	// inode down to the kernel ELF image, e.g. []string{"boot", "vmlinuz"}.
	KernelPath []string

	BootloaderNamePtr uint32
	BootloaderVersion [4]uint8
}

// Result is everything the pipeline produced: the data a real assembly
// trampoline would need to finish the job.
type Result struct {
	MemoryLayout []memlayout.Region
	Partition    gpt.Partition
	Kernel       *kernelelf.Image
	PML4         physmem.Addr
	PageTables   *paging.Builder
	BootInfo     bootinfo.Params
	GDT          gdt.Table
	Trampoline   gdt.Trampoline
}

// Run drives the full boot pipeline: probe the disk, discover memory,
// initialize the heap, read the GPT, mount the first Linux-filesystem-type
// partition that mounts cleanly as ext2, walk to the configured kernel
// path, load its ELF image, normalize the memory layout, build page
// tables, and assemble the GDT and boot-info block.
func Run(inv biosthunk.Invoker, mem *physmem.Memory, cfg Config) (*Result, error) {
	log.Infof("stage2: BIOS IDT at 0x%x, boot drive 0x%02x", cfg.BIOSIDTPtr, cfg.BootDrive)

	disk := diskio.New(inv, mem, cfg.BootDrive, cfg.Window.Disk)
	if err := disk.CheckPresent(); err != nil {
		return nil, fmt.Errorf("stage2: extended disk services not present: %w", err)
	}
	if _, err := disk.GetParams(); err != nil {
		return nil, fmt.Errorf("stage2: reading disk parameters: %w", err)
	}

	entries, err := memmap.Detect(inv, mem, cfg.Window.MemMapScratch)
	if err != nil {
		return nil, fmt.Errorf("stage2: BIOS memory detection failed: %w", err)
	}
	candidate, err := memmap.SelectHeapCandidate(entries)
	if err != nil {
		return nil, err
	}

	arenaStart := physmem.Addr(candidate.Base)
	arenaEnd := physmem.Addr(candidate.Base + pageTableArenaSize)
	heapStart := arenaEnd
	heapLimit := candidate.Base + candidate.Len
	if heapLimit > 1<<32 {
		heapLimit = 1 << 32
	}
	h, err := heap.New(mem, heapStart, uint32(heapLimit-uint64(heapStart)))
	if err != nil {
		return nil, fmt.Errorf("stage2: initializing heap: %w", err)
	}

	gptTable, err := gpt.Read(disk, mem, cfg.Window.GPTScratch)
	if err != nil {
		return nil, fmt.Errorf("stage2: reading GPT: %w", err)
	}

	fs, partition, err := mountFirstLinuxPartition(disk, mem, cfg.Window.Ext2Scratch, gptTable)
	if err != nil {
		return nil, err
	}

	kernelInode, err := walkPath(fs, ext2.RootInode, cfg.KernelPath)
	if err != nil {
		return nil, fmt.Errorf("stage2: locating kernel file: %w", err)
	}
	kernelNode, _, err := ext2.Open(fs, kernelInode)
	if err != nil {
		return nil, fmt.Errorf("stage2: opening kernel file: %w", err)
	}
	if kernelNode.File == nil {
		return nil, fmt.Errorf("stage2: configured kernel path does not name a regular file")
	}

	image, err := kernelelf.Load(kernelNode.File, mem, h)
	if err != nil {
		return nil, fmt.Errorf("stage2: loading kernel ELF: %w", err)
	}

	layout := memlayout.Normalize(entries)

	arena, err := paging.NewArena(mem, arenaStart, arenaEnd)
	if err != nil {
		return nil, err
	}
	builder, err := paging.NewBuilder(mem, arena)
	if err != nil {
		return nil, err
	}

	if err := mapConventionalMemory(builder); err != nil {
		return nil, fmt.Errorf("stage2: mapping conventional memory: %w", err)
	}
	if err := mapUsableRegions(builder, layout); err != nil {
		return nil, fmt.Errorf("stage2: mapping usable memory regions: %w", err)
	}
	if err := mapKernelSegments(builder, image); err != nil {
		return nil, fmt.Errorf("stage2: mapping kernel segments: %w", err)
	}

	// The stack is mapped as one 2 MiB huge page, so its physical base must
	// be 2 MiB aligned; heap pointers are only 4 KiB aligned, so over-
	// allocate and align up within the allocation.
	stackAlloc, err := h.Alloc(kernelStackSize + twoMiB)
	if err != nil {
		return nil, fmt.Errorf("stage2: allocating kernel stack: %w", err)
	}
	stackPhys := physmem.Addr(alignUp(uint64(stackAlloc), twoMiB))
	if err := mem.Zero(stackPhys, kernelStackSize); err != nil {
		return nil, err
	}
	if err := builder.MapPage2M(kernelStackVirtBase, stackPhys, paging.FlagWritable|paging.FlagNoExecute); err != nil {
		return nil, fmt.Errorf("stage2: mapping kernel stack: %w", err)
	}
	stackTop := uint64(kernelStackVirtBase) + kernelStackSize

	gdtTable := gdt.Build()
	gdtPhys, err := h.Alloc(uint32(len(gdtTable.Bytes())))
	if err != nil {
		return nil, fmt.Errorf("stage2: allocating GDT: %w", err)
	}
	if err := mem.WriteAt(gdtPhys, gdtTable.Bytes()); err != nil {
		return nil, err
	}
	gdtDescriptor := gdt.NewDescriptor(uint64(gdtPhys))

	layoutPhys, entryCount, err := writeMemoryLayout(h, mem, layout)
	if err != nil {
		return nil, fmt.Errorf("stage2: writing memory layout table: %w", err)
	}

	pml4 := builder.PML4()

	info := bootinfo.Build(bootinfo.Params{
		BootloaderNamePtr:          cfg.BootloaderNamePtr,
		BootloaderVersion:          cfg.BootloaderVersion,
		BIOSBootDrive:              uint32(cfg.BootDrive),
		BIOSIDTPtr:                 uint32(cfg.BIOSIDTPtr),
		MemoryLayoutPtr:            uint32(layoutPhys),
		MemoryLayoutEntryCount:     entryCount,
		MemoryLayoutEntrySize:      bootinfo.MemoryLayoutEntrySize,
		PageTablesArenaCurrent:     uint32(arenaStart) + uint32(arena.Used()),
		PageTablesArenaEnd:         uint32(arenaEnd),
		PML4Base:                   uint32(pml4),
		UsableKernelMemoryStart:    uint32(heapStart),
		KernelStackPointer:         stackTop,
	})

	infoBytes := info.Marshal()
	infoPhys, err := h.Alloc(uint32(len(infoBytes)))
	if err != nil {
		return nil, fmt.Errorf("stage2: allocating boot-info block: %w", err)
	}
	if err := mem.WriteAt(infoPhys, infoBytes); err != nil {
		return nil, err
	}

	trampoline := gdt.NewTrampoline(gdtDescriptor, uint32(pml4), stackTop, image.Entry, uint32(infoPhys))

	return &Result{
		MemoryLayout: layout,
		Partition:    partition,
		Kernel:       image,
		PML4:         pml4,
		PageTables:   builder,
		BootInfo:     info,
		GDT:          gdtTable,
		Trampoline:   trampoline,
	}, nil
}

// mountFirstLinuxPartition tries every Linux-filesystem-type GPT partition
// in order, mounting each as ext2 and falling through to the next on
// failure, aggregating every failure so the
// final error carries the full diagnostic history.
func mountFirstLinuxPartition(disk *diskio.ExtendedDisk, mem *physmem.Memory, scratch physmem.Addr, table *gpt.Table) (*ext2.FileSystem, gpt.Partition, error) {
	var errs *multierror.Error
	for _, p := range table.Partitions {
		if p.TypeGUID != guid.PartitionTypeLinuxFilesystem {
			continue
		}
		fs, err := ext2.MountRO(disk, mem, scratch, p.FirstLBA)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("partition %q at lba %d: %w", p.Name, p.FirstLBA, err))
			log.Warnf("stage2: partition %q did not mount as ext2: %v", p.Name, err)
			continue
		}
		return fs, p, nil
	}
	if errs != nil {
		return nil, gpt.Partition{}, fmt.Errorf("stage2: no Linux-filesystem partition mounted as ext2: %w", errs)
	}
	return nil, gpt.Partition{}, fmt.Errorf("stage2: no Linux-filesystem-type partition found")
}

// walkPath resolves a sequence of path components starting at root,
// descending through nested directories one Open call at a time.
func walkPath(fs *ext2.FileSystem, root uint32, components []string) (uint32, error) {
	current := root
	for _, name := range components {
		node, _, err := ext2.Open(fs, current)
		if err != nil {
			return 0, err
		}
		if node.Directory == nil {
			return 0, fmt.Errorf("stage2: %q is not a directory", name)
		}
		entry, ok := node.Directory.Find(name)
		if !ok {
			return 0, fmt.Errorf("stage2: %q not found", name)
		}
		current = entry.Inode
	}
	return current, nil
}

func alignUp(x, align uint64) uint64 { return (x + align - 1) &^ (align - 1) }
func alignDown(x, align uint64) uint64 { return x &^ (align - 1) }

func divCeil32(a, b uint32) uint32 { return (a + b - 1) / b }

// mapConventionalMemory identity-maps the first 1 MiB with 4 KiB pages:
// BIOS data, legacy video memory, and the scratch windows
// every low-memory component uses stay reachable after paging is enabled.
func mapConventionalMemory(b *paging.Builder) error {
	for addr := uint64(0); addr < oneMiB; addr += pageSize4K {
		if err := b.MapPage4K(addr, physmem.Addr(addr), paging.FlagWritable); err != nil {
			return err
		}
	}
	return nil
}

func mapBoth2M(b *paging.Builder, virt uint64, phys physmem.Addr, flags uint64) error {
	if err := b.MapPage2M(virt, phys, flags); err != nil {
		return err
	}
	return b.MapPage2M(virt+highHalfOffset, phys, flags)
}

func mapBoth4K(b *paging.Builder, virt uint64, phys physmem.Addr, flags uint64) error {
	if err := b.MapPage4K(virt, phys, flags); err != nil {
		return err
	}
	return b.MapPage4K(virt+highHalfOffset, phys, flags)
}

// mapUsableRegions maps every normalized Usable region above 1 MiB at both
// its identity address and identity+highHalfOffset, using 2 MiB pages for
// the 2 MiB-aligned middle of the region and 4 KiB pages for any unaligned
// head or tail. Regions (or the portions of regions)
// entirely below 1 MiB are skipped; they are already covered by
// mapConventionalMemory.
func mapUsableRegions(b *paging.Builder, layout []memlayout.Region) error {
	for _, r := range layout {
		if r.Kind != memlayout.Usable || r.End <= oneMiB {
			continue
		}
		start := r.Start
		if start < oneMiB {
			start = oneMiB
		}
		end := r.End

		midStart := alignUp(start, twoMiB)
		midEnd := alignDown(end, twoMiB)
		for addr := midStart; addr+twoMiB <= midEnd; addr += twoMiB {
			if err := mapBoth2M(b, addr, physmem.Addr(addr), paging.FlagWritable); err != nil {
				return err
			}
		}

		headEnd := midStart
		if headEnd > end {
			headEnd = alignDown(end, pageSize4K)
		}
		for addr := alignUp(start, pageSize4K); addr+pageSize4K <= headEnd; addr += pageSize4K {
			if err := mapBoth4K(b, addr, physmem.Addr(addr), paging.FlagWritable); err != nil {
				return err
			}
		}

		tailStart := midEnd
		if tailStart < start {
			tailStart = start
		}
		for addr := tailStart; addr+pageSize4K <= alignDown(end, pageSize4K); addr += pageSize4K {
			if err := mapBoth4K(b, addr, physmem.Addr(addr), paging.FlagWritable); err != nil {
				return err
			}
		}
	}
	return nil
}

// mapKernelSegments maps each loaded PT_LOAD segment's physical buffer to
// its p_vaddr in 4 KiB pages, assuming (as the kernel's linker script
// guarantees) that every segment's virtual address is itself 4 KiB
// aligned.
func mapKernelSegments(b *paging.Builder, image *kernelelf.Image) error {
	for _, seg := range image.Segments {
		var flags uint64
		if seg.Flags&kernelelf.FlagWritable != 0 {
			flags |= paging.FlagWritable
		}
		if seg.Flags&kernelelf.FlagExecutable == 0 {
			flags |= paging.FlagNoExecute
		}
		pages := divCeil32(seg.Size, pageSize4K)
		for i := uint32(0); i < pages; i++ {
			virt := seg.VAddr + uint64(i)*pageSize4K
			phys := seg.PhysAddr + physmem.Addr(i*pageSize4K)
			if err := b.MapPage4K(virt, phys, flags); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeMemoryLayout encodes layout as a heap-resident array of {start:u64,
// end:u64, usable:u64} entries and returns its physical
// address and entry count.
func writeMemoryLayout(h *heap.Heap, mem *physmem.Memory, layout []memlayout.Region) (physmem.Addr, uint32, error) {
	buf := make([]byte, len(layout)*bootinfo.MemoryLayoutEntrySize)
	for i, r := range layout {
		off := i * bootinfo.MemoryLayoutEntrySize
		putU64(buf[off:], r.Start)
		putU64(buf[off+8:], r.End)
		usable := uint64(0)
		if r.Kind == memlayout.Usable {
			usable = 1
		}
		putU64(buf[off+16:], usable)
	}

	addr, err := h.Alloc(uint32(len(buf)))
	if err != nil {
		return 0, 0, err
	}
	if err := mem.WriteAt(addr, buf); err != nil {
		return 0, 0, err
	}
	return addr, uint32(len(layout)), nil
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
