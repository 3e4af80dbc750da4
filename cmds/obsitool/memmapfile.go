// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ailphaune/obsi2boot/pkg/memmap"
)

// readMemMapFile parses a plain-text BIOS memory map: one "base len kind"
// record per line, blank lines and "#"-comments ignored, matching the
// #comment/blank-line shape pkg/bootconfig parses for the stage1/stage2
// handoff file. kind is one of available/reserved/acpi-reclaim/acpi-nvs.
// It stands in for a real INT 15h/E820 call when `memmap` and `simboot`
// are run against a disk image rather than real firmware.
func readMemMapFile(path string) ([]memmap.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []memmap.Entry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: expected \"base len kind\", got %q", path, lineNo, line)
		}
		base, err := strconv.ParseUint(fields[0], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad base: %w", path, lineNo, err)
		}
		length, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad len: %w", path, lineNo, err)
		}
		kind, err := parseRangeType(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		entries = append(entries, memmap.Entry{Base: base, Len: length, Kind: kind})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseRangeType(s string) (memmap.RangeType, error) {
	switch strings.ToLower(s) {
	case "available", "avail", "usable":
		return memmap.RangeAvailable, nil
	case "reserved":
		return memmap.RangeReserved, nil
	case "acpi-reclaim", "acpireclaim":
		return memmap.RangeACPIReclaim, nil
	case "acpi-nvs", "acpinvs":
		return memmap.RangeACPINVS, nil
	default:
		return 0, fmt.Errorf("unknown memory range kind %q", s)
	}
}
