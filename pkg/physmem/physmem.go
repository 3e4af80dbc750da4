// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package physmem models the byte-addressable physical memory that the
// bootloader core runs in before paging is enabled. A hosted Go process has
// no direct way to dereference a raw physical address, so every low-level
// package in this module (pkg/heap, pkg/paging, pkg/diskio's low-memory
// scratch buffers, and pkg/stage2's placement of the GDT, memory layout and
// boot-info block) reads and writes through this single
// abstraction instead of unsafe.Pointer arithmetic. A Memory is just a
// []byte with a base offset, so tests construct one in a few kilobytes
// instead of needing real hardware.
package physmem

import (
	"encoding/binary"
	"fmt"
)

// Addr is a 32-bit physical address, matching the bootloader's 32-bit
// protected-mode addressing.
type Addr uint32

// Memory is a flat, little-endian byte-addressable physical address space
// covering [Base, Base+len(Data)).
type Memory struct {
	Base Addr
	Data []byte
}

// New allocates a simulated physical memory region of size bytes starting
// at base.
func New(base Addr, size uint32) *Memory {
	return &Memory{Base: base, Data: make([]byte, size)}
}

// End returns the first address past the end of the region.
func (m *Memory) End() Addr {
	return m.Base + Addr(len(m.Data))
}

// Contains reports whether [addr, addr+size) lies entirely within m.
func (m *Memory) Contains(addr Addr, size uint32) bool {
	if addr < m.Base {
		return false
	}
	off := uint64(addr-m.Base) + uint64(size)
	return off <= uint64(len(m.Data))
}

func (m *Memory) slice(addr Addr, size uint32) ([]byte, error) {
	if !m.Contains(addr, size) {
		return nil, fmt.Errorf("physmem: address range [0x%x, 0x%x) out of bounds [0x%x, 0x%x)", addr, uint64(addr)+uint64(size), m.Base, m.End())
	}
	off := addr - m.Base
	return m.Data[off : uint32(off)+size], nil
}

// ReadAt copies len(dst) bytes starting at addr into dst.
func (m *Memory) ReadAt(addr Addr, dst []byte) error {
	src, err := m.slice(addr, uint32(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// WriteAt copies src into the region starting at addr.
func (m *Memory) WriteAt(addr Addr, src []byte) error {
	dst, err := m.slice(addr, uint32(len(src)))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// Zero zeroes size bytes starting at addr (used by the page-table arena,
// which always hands out zeroed pages).
func (m *Memory) Zero(addr Addr, size uint32) error {
	dst, err := m.slice(addr, size)
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = 0
	}
	return nil
}

// Uint32At reads a little-endian uint32 at addr.
func (m *Memory) Uint32At(addr Addr) (uint32, error) {
	b, err := m.slice(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// PutUint32At writes a little-endian uint32 at addr.
func (m *Memory) PutUint32At(addr Addr, v uint32) error {
	b, err := m.slice(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// Uint64At reads a little-endian uint64 at addr.
func (m *Memory) Uint64At(addr Addr) (uint64, error) {
	b, err := m.slice(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// PutUint64At writes a little-endian uint64 at addr.
func (m *Memory) PutUint64At(addr Addr, v uint64) error {
	b, err := m.slice(addr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}
