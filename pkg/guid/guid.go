// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guid decodes the mixed-endian 16-byte GUID Microsoft defined for
// the GPT partitioning scheme:
// the first three fields (time-low, time-mid, time-hi-and-version) are
// stored little-endian on disk; the remaining eight bytes (clock-seq and
// node) are stored in print order. GPT partition entries carry this shape
// raw, so the codec here works straight off byte slices the way the rest
// of this repo decodes its other on-disk layouts, rather than
// going through a string intermediate.
package guid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Size is the encoded byte length of a GUID.
const Size = 16

// UExample is an example of a string GUID, quoted in Parse's error messages.
const UExample = "01234567-89AB-CDEF-0123-456789ABCDEF"

// GUID is a 16-byte mixed-endian unique identifier, stored in the same byte
// order it has on disk.
type GUID [Size]byte

// Decode reads a GUID from the first Size bytes of b.
func Decode(b []byte) GUID {
	var g GUID
	copy(g[:], b[:Size])
	return g
}

// PutBytes writes g's on-disk byte representation into the first Size
// bytes of b.
func (u GUID) PutBytes(b []byte) {
	copy(b[:Size], u[:])
}

// IsZero reports whether g is the all-zero GUID, used by the GPT reader to
// detect unused partition table slots.
func (u GUID) IsZero() bool {
	return u == GUID{}
}

// Parse decodes the canonical "01234567-89AB-CDEF-0123-456789ABCDEF" string
// form into its on-disk mixed-endian byte representation.
func Parse(s string) (*GUID, error) {
	stripped := strings.ReplaceAll(s, "-", "")
	decoded, err := hex.DecodeString(stripped)
	if err != nil {
		return nil, fmt.Errorf("guid string not correct, need string of the format \n%v\n, got \n%v", UExample, s)
	}
	if len(decoded) != Size {
		return nil, fmt.Errorf("guid string has incorrect length, need string of the format \n%v\n, got \n%v", UExample, s)
	}

	var g GUID
	// The string's first three fields print big-endian; the on-disk layout
	// stores them little-endian, so re-encode each one explicitly instead
	// of byte-reversing in place.
	binary.LittleEndian.PutUint32(g[0:4], binary.BigEndian.Uint32(decoded[0:4]))
	binary.LittleEndian.PutUint16(g[4:6], binary.BigEndian.Uint16(decoded[4:6]))
	binary.LittleEndian.PutUint16(g[6:8], binary.BigEndian.Uint16(decoded[6:8]))
	copy(g[8:16], decoded[8:16])
	return &g, nil
}

// MustParse parses a guid string or panics; it builds the package-level
// well-known GUID values in wellknown.go, where there is no error return to
// give a malformed literal to.
func MustParse(s string) *GUID {
	g, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return g
}

// String renders u in the canonical "01234567-89AB-CDEF-0123-456789ABCDEF"
// form, undoing the on-disk little-endian encoding of the first three
// fields.
func (u GUID) String() string {
	timeLow := binary.LittleEndian.Uint32(u[0:4])
	timeMid := binary.LittleEndian.Uint16(u[4:6])
	timeHi := binary.LittleEndian.Uint16(u[6:8])
	return fmt.Sprintf("%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		timeLow, timeMid, timeHi,
		u[8], u[9], u[10], u[11], u[12], u[13], u[14], u[15])
}
