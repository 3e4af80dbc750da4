// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memlayout normalizes the raw BIOS E820 memory map pkg/memmap
// discovers into a sorted, non-overlapping, maximally-coalesced list of
// regions that pkg/paging maps into the kernel's address space. The map
// never exceeds 64 entries, so sorting is a plain bubble sort and overlap
// resolution is a fixed-point three-way split pass rather than anything
// cleverer.
package memlayout

import "github.com/ailphaune/obsi2boot/pkg/memmap"

// Kind classifies a normalized region. Overlap between a Usable and a
// Reserved range always resolves to Reserved.
type Kind int

const (
	Usable Kind = iota
	Reserved
)

func (k Kind) strictest(other Kind) Kind {
	if k == Usable && other == Usable {
		return Usable
	}
	return Reserved
}

// Region is one normalized, half-open [Start, End) memory range.
type Region struct {
	Start uint64
	End   uint64
	Kind  Kind
}

func kindOf(t memmap.RangeType) Kind {
	if t == memmap.RangeAvailable {
		return Usable
	}
	return Reserved
}

// Normalize sorts entries by start address, resolves every overlap to a
// fixed point, and coalesces adjacent same-kind regions. The input order
// is not otherwise significant; the output is sorted, pairwise
// non-overlapping, and has no two adjacent regions of the same kind.
// Zero-length entries are dropped.
func Normalize(entries []memmap.Entry) []Region {
	layout := make([]Region, 0, len(entries))
	for _, e := range entries {
		if e.IsNull() || e.Len == 0 {
			continue
		}
		layout = append(layout, Region{Start: uint64(e.Base), End: uint64(e.Base + e.Len), Kind: kindOf(e.Kind)})
	}

	bubbleSortByStart(layout)

	for {
		fixed, hadOverlap := overlappingPass(layout)
		layout = fixed
		if !hadOverlap {
			break
		}
	}

	return coalesce(layout)
}

// bubbleSortByStart sorts in place; the map never exceeds 64 entries.
func bubbleSortByStart(regions []Region) {
	n := len(regions)
	for i := 0; i < n; i++ {
		for j := 0; j < n-i-1; j++ {
			if regions[j].Start > regions[j+1].Start {
				regions[j], regions[j+1] = regions[j+1], regions[j]
			}
		}
	}
}

// overlappingPass drains a work queue seeded with layout, inserting each
// region into the fixed-layout built so far. Whenever a queued region
// overlaps an already-placed one, both are consumed: the matched entry is
// removed from fixed (never merely inserted beside), and the up to three
// resulting non-overlapping fragments (whichever side, existing or
// current, sticks out on the left, the strictest-kind overlap itself, and
// whichever side sticks out on the right) are pushed back onto the queue
// so they, in turn, get checked against the rest of fixed. This guarantees
// progress: every overlap resolution strictly shrinks the total interval
// length left to place, so the queue always empties.
func overlappingPass(layout []Region) ([]Region, bool) {
	hadOverlap := false
	fixed := make([]Region, 0, len(layout))

	pending := make([]Region, len(layout))
	copy(pending, layout)

	for len(pending) > 0 {
		current := pending[0]
		pending = pending[1:]

		overlapIdx := -1
		for i, existing := range fixed {
			if current.End <= existing.Start || current.Start >= existing.End {
				continue
			}
			overlapIdx = i
			break
		}

		if overlapIdx == -1 {
			fixed = insertSorted(fixed, current)
			continue
		}

		hadOverlap = true
		existing := fixed[overlapIdx]
		fixed = removeAt(fixed, overlapIdx)

		if existing.Start < current.Start {
			pending = append(pending, Region{Start: existing.Start, End: current.Start, Kind: existing.Kind})
		} else if current.Start < existing.Start {
			pending = append(pending, Region{Start: current.Start, End: existing.Start, Kind: current.Kind})
		}

		overlapStart := current.Start
		if existing.Start > overlapStart {
			overlapStart = existing.Start
		}
		overlapEnd := current.End
		if existing.End < overlapEnd {
			overlapEnd = existing.End
		}
		pending = append(pending, Region{Start: overlapStart, End: overlapEnd, Kind: current.Kind.strictest(existing.Kind)})

		if existing.End > current.End {
			pending = append(pending, Region{Start: current.End, End: existing.End, Kind: existing.Kind})
		} else if current.End > existing.End {
			pending = append(pending, Region{Start: existing.End, End: current.End, Kind: current.Kind})
		}
	}

	return fixed, hadOverlap
}

// insertSorted inserts r into fixed, keeping it ordered by Start; fixed is
// pairwise non-overlapping at every call site, so Start order is a total
// order here.
func insertSorted(fixed []Region, r Region) []Region {
	i := 0
	for i < len(fixed) && fixed[i].Start < r.Start {
		i++
	}
	return insertAt(fixed, i, r)
}

func insertAt(s []Region, i int, r Region) []Region {
	s = append(s, Region{})
	copy(s[i+1:], s[i:])
	s[i] = r
	return s
}

func removeAt(s []Region, i int) []Region {
	return append(s[:i], s[i+1:]...)
}

// coalesce merges adjacent regions of identical kind into one.
func coalesce(layout []Region) []Region {
	done := make([]Region, 0, len(layout))
	var last *Region
	for _, region := range layout {
		r := region
		if last == nil {
			last = &r
			continue
		}
		if last.Kind == r.Kind && last.End == r.Start {
			last.End = r.End
			continue
		}
		done = append(done, *last)
		last = &r
	}
	if last != nil {
		done = append(done, *last)
	}
	return done
}
