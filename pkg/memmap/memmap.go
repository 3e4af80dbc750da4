// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memmap discovers physical memory ranges through the BIOS
// 0x15/E820 service and picks the single contiguous region used as the
// heap arena.
package memmap

import (
	"fmt"

	"github.com/ailphaune/obsi2boot/pkg/biosthunk"
	"github.com/ailphaune/obsi2boot/pkg/log"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
)

// RangeType classifies a BIOS memory-map entry.
type RangeType uint32

const (
	RangeAvailable   RangeType = 0x1
	RangeReserved    RangeType = 0x2
	RangeACPIReclaim RangeType = 0x3
	RangeACPINVS     RangeType = 0x4
)

func (t RangeType) String() string {
	switch t {
	case RangeAvailable:
		return "available"
	case RangeReserved:
		return "reserved"
	case RangeACPIReclaim:
		return "acpi-reclaim"
	case RangeACPINVS:
		return "acpi-nvs"
	default:
		return fmt.Sprintf("other(0x%x)", uint32(t))
	}
}

// Entry is one BIOS memory-map record.
type Entry struct {
	Base Addr64
	Len  Addr64
	Kind RangeType
}

// Addr64 is a 64-bit physical address/length, matching the E820 record's
// 64-bit base/length fields even though the bootloader core otherwise
// works with 32-bit addresses.
type Addr64 = uint64

// IsNull reports whether e is an all-zero record, the E820 sentinel for "no
// more entries were actually filled in" on some broken firmware.
func (e Entry) IsNull() bool {
	return e.Base == 0 && e.Len == 0 && e.Kind == 0
}

// MaxEntries bounds the number of E820 records read.
const MaxEntries = 64

// smapSignature is the magic value BIOS 0x15/E820 expects in EDX ("SMAP").
const smapSignature = 0x534D4150

const e820EntrySize = 20

// ErrBIOS reports a BIOS-signalled failure (carry flag set) during E820
// enumeration, carrying the AH error code.
type ErrBIOS struct{ Code uint8 }

func (e *ErrBIOS) Error() string { return fmt.Sprintf("memmap: BIOS E820 call failed, ah=0x%02x", e.Code) }

// ErrInsufficientMemory is returned when no usable candidate region of at
// least 16 MiB is available for the heap arena.
var ErrInsufficientMemory = fmt.Errorf("memmap: no usable memory region of at least 16 MiB found")

// minHeapCandidateBytes is the floor below which a usable region cannot
// host the heap arena.
const minHeapCandidateBytes = 16 * 1024 * 1024

// oneMiB is the lower bound a candidate region's base address must clear.
const oneMiB = 1024 * 1024

// Detect issues repeated BIOS 0x15/E820 calls via inv, reading each record
// into scratch (which must be at least e820EntrySize bytes and reachable
// from real mode, i.e. below 1 MiB), until the continuation value (EBX)
// returns to zero or MaxEntries records have been read. It returns every
// entry seen, in call order.
func Detect(inv biosthunk.Invoker, mem *physmem.Memory, scratch physmem.Addr) ([]Entry, error) {
	entries := make([]Entry, 0, MaxEntries)
	var continuation uint32

	for i := 0; i < MaxEntries; i++ {
		seg, off := biosthunk.PtrToSegOff(scratch)
		snap := inv.Invoke(biosthunk.Request{
			Interrupt: 0x15,
			EAX:       0xE820,
			EBX:       continuation,
			ECX:       e820EntrySize,
			EDX:       smapSignature,
			EDI:       uint32(off),
			DS:        seg, ES: seg, FS: seg, GS: seg,
		})
		if snap.CarrySet() {
			return entries, &ErrBIOS{Code: snap.ErrorCode()}
		}

		entry, err := readEntry(mem, scratch)
		if err != nil {
			return entries, err
		}
		if !entry.IsNull() {
			entries = append(entries, entry)
		} else {
			log.Infof("memmap: skipped null E820 record at index %d", i)
		}

		continuation = snap.EBX
		if continuation == 0 {
			break
		}
	}

	return entries, nil
}

func readEntry(mem *physmem.Memory, addr physmem.Addr) (Entry, error) {
	var buf [e820EntrySize]byte
	if err := mem.ReadAt(addr, buf[:]); err != nil {
		return Entry{}, err
	}
	base := leUint64(buf[0:8])
	length := leUint64(buf[8:16])
	kind := leUint32(buf[16:20])
	return Entry{Base: base, Len: length, Kind: RangeType(kind)}, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	return uint64(leUint32(b[0:4])) | uint64(leUint32(b[4:8]))<<32
}

// Candidate is the region chosen as the backing store for the heap arena.
type Candidate struct {
	Base Addr64
	Len  Addr64
}

// SelectHeapCandidate scans entries for the largest Available region with
// Base >= 1 MiB. It returns ErrInsufficientMemory if no
// region qualifies or the best one is under 16 MiB.
func SelectHeapCandidate(entries []Entry) (Candidate, error) {
	var best Candidate
	found := false

	for _, e := range entries {
		if e.Base < oneMiB || e.Kind != RangeAvailable {
			log.Infof("memmap: skipped 0x%x len 0x%x kind %s", e.Base, e.Len, e.Kind)
			continue
		}
		if !found || e.Len > best.Len {
			best = Candidate{Base: e.Base, Len: e.Len}
			found = true
		}
	}

	if !found || best.Len < minHeapCandidateBytes {
		return Candidate{}, ErrInsufficientMemory
	}

	log.Infof("memmap: using 0x%x bytes of contiguous memory at 0x%x", best.Len, best.Base)
	return best, nil
}
