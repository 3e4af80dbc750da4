// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package biosthunk

import (
	"testing"

	"github.com/ailphaune/obsi2boot/pkg/physmem"
	"github.com/stretchr/testify/require"
)

func TestPtrToSegOffRoundTrip(t *testing.T) {
	for _, p := range []physmem.Addr{0, 1, 0xF, 0x10, 0x7C00, 0x1234, 0x9FFFF, 0xFFFFF} {
		seg, off := PtrToSegOff(p)
		require.Equal(t, p, SegOffToPtr(seg, off), "ptr 0x%x", p)
		require.Less(t, off, uint16(0x10))
	}
	// Exhaustive over a window crossing several paragraph boundaries.
	for p := physmem.Addr(0x9F0); p < 0xA30; p++ {
		seg, off := PtrToSegOff(p)
		require.Equal(t, p, SegOffToPtr(seg, off))
	}
}

func TestSnapshotCarryAndErrorCode(t *testing.T) {
	s := Snapshot{EAX: 0x8000, EFlags: FlagCF}
	require.True(t, s.CarrySet())
	require.EqualValues(t, 0x80, s.ErrorCode())

	ok := Snapshot{EAX: 0x0042}
	require.False(t, ok.CarrySet())
	require.EqualValues(t, 0x00, ok.ErrorCode())
}

func TestSoftwareInvokerDispatch(t *testing.T) {
	inv := NewSoftwareInvoker()
	inv.Handle(0x15, func(req Request) Snapshot {
		require.EqualValues(t, 0x15, req.Interrupt)
		return Snapshot{EAX: req.EAX + 1}
	})

	snap := inv.Invoke(Request{Interrupt: 0x15, EAX: 7})
	require.EqualValues(t, 8, snap.EAX)
}

func TestSoftwareInvokerUnregisteredInterrupt(t *testing.T) {
	inv := NewSoftwareInvoker()
	snap := inv.Invoke(Request{Interrupt: 0x13})
	require.True(t, snap.CarrySet())
	require.EqualValues(t, 0x01, snap.ErrorCode())
}
