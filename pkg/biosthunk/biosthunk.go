// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package biosthunk models the real-mode thunk that drops the CPU out of
// 32-bit protected mode, invokes a legacy BIOS interrupt with caller-chosen
// register state, and returns a captured register snapshot.
// The actual "switch to 16-bit real mode, int $interrupt, switch back"
// dance only exists as raw machine code and cannot be expressed or
// executed in hosted Go. What this package fixes is the calling
// convention: a request of registers in, a Snapshot of registers out,
// with CF and AH carrying BIOS error reporting. Invoker is the seam a
// real bootloader would wire to that assembly trampoline and tests/tools
// wire to a SoftwareInvoker.
package biosthunk

import "github.com/ailphaune/obsi2boot/pkg/physmem"

// EFLAGS bits meaningful to BIOS calls.
const (
	FlagCF uint32 = 1 << 0 // Carry Flag: BIOS call failed
	FlagZF uint32 = 1 << 6 // Zero Flag
)

// Request is the register state a caller hands to a BIOS interrupt call.
type Request struct {
	Interrupt      uint8
	EAX            uint32
	EBX            uint32
	ECX            uint32
	EDX            uint32
	ESI            uint32
	EDI            uint32
	DS, ES, FS, GS uint16
}

// Snapshot is the sole output of a BIOS call: the caller-owned register
// state captured immediately after the `int` instruction returns, valid
// until the next Invoke.
type Snapshot struct {
	EAX, EBX, ECX, EDX uint32
	ESI, EDI           uint32
	EFlags             uint32
}

// CarrySet reports whether the BIOS call signalled failure via CF.
func (s Snapshot) CarrySet() bool {
	return s.EFlags&FlagCF != 0
}

// ErrorCode extracts the AH byte of EAX, the conventional BIOS error code
// location for INT 13h/15h services.
func (s Snapshot) ErrorCode() uint8 {
	return uint8((s.EAX & 0xFF00) >> 8)
}

// Invoker performs one real-mode BIOS call and returns the resulting
// register snapshot. Implementations must restore the BIOS IDT supplied at
// boot before dropping to real mode and must treat the returned Snapshot as
// overwritten by the next call.
type Invoker interface {
	Invoke(req Request) Snapshot
}

// PtrToSegOff converts a flat pointer below 1 MiB into a real-mode
// segment:offset pair using the paragraph-aligned convention
// seg = ptr>>4, off = ptr&0xF.
func PtrToSegOff(p physmem.Addr) (seg, off uint16) {
	return uint16(p >> 4), uint16(p & 0xF)
}

// SegOffToPtr is the inverse of PtrToSegOff.
func SegOffToPtr(seg, off uint16) physmem.Addr {
	return physmem.Addr(seg)<<4 + physmem.Addr(off)
}
