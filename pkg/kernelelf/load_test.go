// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernelelf

import (
	"fmt"
	"testing"

	"github.com/ailphaune/obsi2boot/pkg/heap"
	"github.com/ailphaune/obsi2boot/pkg/physmem"
	"github.com/stretchr/testify/require"
)

// byteSource is a Source backed by a plain byte slice, standing in for an
// ext2.File in tests that only care about the loader's own logic.
type byteSource struct {
	data []byte
}

var errShortSource = fmt.Errorf("kernelelf test: source too short")

func (s *byteSource) ReadAt(offset uint64, dst []byte) error {
	if offset+uint64(len(dst)) > uint64(len(s.data)) {
		return errShortSource
	}
	copy(dst, s.data[offset:offset+uint64(len(dst))])
	return nil
}

func TestLoadCopiesSegmentsAndZeroFillsBSS(t *testing.T) {
	const phOff = headerSize
	hdr := buildHeader(Class64, DataLittleEndian, 0x2000, phOff, 1)

	segData := make([]byte, 0x40)
	for i := range segData {
		segData[i] = byte(i + 1)
	}
	fileOff := uint64(len(hdr) + phEntrySize)
	ph := buildProgramHeader(PTLoad, FlagReadable|FlagWritable, fileOff, 0x2000, uint64(len(segData)), 0x2000)

	img := append(hdr, ph...)
	img = append(img, segData...)

	src := &byteSource{data: img}
	mem := physmem.New(0, 0x10000)
	h, err := heap.New(mem, 0x1000, 0x8000)
	require.NoError(t, err)

	loaded, err := Load(src, mem, h)
	require.NoError(t, err)
	require.EqualValues(t, 0x2000, loaded.Entry)
	require.Len(t, loaded.Segments, 1)

	seg := loaded.Segments[0]
	require.EqualValues(t, 0x2000, seg.Size)
	require.EqualValues(t, 0x2000, seg.VAddr)

	readBack := make([]byte, seg.Size)
	require.NoError(t, mem.ReadAt(seg.PhysAddr, readBack))
	require.Equal(t, segData, readBack[:len(segData)])
	for _, b := range readBack[len(segData):] {
		require.Zero(t, b)
	}
	require.EqualValues(t, 0x2000+0x2000, loaded.MaxVAddr)
}

func TestLoadSkipsNonLoadSegments(t *testing.T) {
	const phOff = headerSize
	hdr := buildHeader(Class64, DataLittleEndian, 0x1000, phOff, 2)
	ph1 := buildProgramHeader(PTDynamic, 0, 0, 0x3000, 0, 0x10)
	ph2 := buildProgramHeader(PTLoad, FlagReadable, headerSize+2*phEntrySize, 0x4000, 4, 4)
	img := append(hdr, ph1...)
	img = append(img, ph2...)
	img = append(img, []byte{1, 2, 3, 4}...)

	src := &byteSource{data: img}
	mem := physmem.New(0, 0x10000)
	h, err := heap.New(mem, 0x1000, 0x8000)
	require.NoError(t, err)

	loaded, err := Load(src, mem, h)
	require.NoError(t, err)
	require.Len(t, loaded.Segments, 1)
	require.EqualValues(t, 0x4000, loaded.Segments[0].VAddr)
}

func TestLoadRejectsSegmentPastVAddrCeiling(t *testing.T) {
	const phOff = headerSize
	hdr := buildHeader(Class64, DataLittleEndian, 0x1000, phOff, 1)
	ph := buildProgramHeader(PTLoad, FlagReadable, headerSize+phEntrySize, KernelVAddrCeiling, 0, 0x1000)
	img := append(hdr, ph...)

	src := &byteSource{data: img}
	mem := physmem.New(0, 0x10000)
	h, err := heap.New(mem, 0x1000, 0x8000)
	require.NoError(t, err)

	_, err = Load(src, mem, h)
	require.Error(t, err)
}
