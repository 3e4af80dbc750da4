// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package biosthunk

// Handler answers one (interrupt, AH-or-AX-function) BIOS call against a
// backing physmem.Memory, the software equivalent of real firmware. It is
// how tests and cmds/obsitool drive pkg/memmap, pkg/diskio, and pkg/gpt
// without real hardware.
type Handler func(req Request) Snapshot

// SoftwareInvoker dispatches Invoke calls to per-interrupt handlers
// registered by a test or tool. Unregistered interrupts return a snapshot
// with CF set and AH = 0x01 ("invalid function"), mirroring how real BIOS
// implementations signal an unsupported service.
type SoftwareInvoker struct {
	handlers map[uint8]Handler
}

// NewSoftwareInvoker returns an empty SoftwareInvoker; register handlers
// with Handle before use.
func NewSoftwareInvoker() *SoftwareInvoker {
	return &SoftwareInvoker{handlers: make(map[uint8]Handler)}
}

// Handle registers the handler invoked for a given interrupt number.
func (s *SoftwareInvoker) Handle(interrupt uint8, h Handler) {
	s.handlers[interrupt] = h
}

// Invoke implements Invoker.
func (s *SoftwareInvoker) Invoke(req Request) Snapshot {
	if h, ok := s.handlers[req.Interrupt]; ok {
		return h(req)
	}
	return Snapshot{EAX: 0x0100, EFlags: FlagCF}
}
