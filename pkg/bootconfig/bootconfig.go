// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bootconfig parses the small line-oriented stage-1/stage-2
// handoff configuration file: "#"-comments, blank lines, and "key=value"
// lines. The format is a single recognized key, so it stays a hand-rolled
// line parser rather than pulling in a general-purpose config library.
package bootconfig

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ailphaune/obsi2boot/pkg/log"
)

// VBEMode is the parsed value of a "vbe_mode=" line: either a raw BIOS VESA
// mode number, or a width/height/bpp triple to be resolved against the
// mode list the VESA collaborator reports.
type VBEMode struct {
	HasNumber bool
	Number    uint16

	Width  uint16
	Height uint16
	BPP    uint8
}

// Config is the decoded contents of the handoff config file.
type Config struct {
	VBEMode *VBEMode
}

// Parse decodes data as a sequence of "#comment"/blank/"key=value" lines.
// An unrecognized line is logged and skipped, not treated as fatal: a
// typo in a user-edited config file is recoverable in a way a disk or
// memory failure is not.
func Parse(data []byte) Config {
	var cfg Config
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		const vbeModeKey = "vbe_mode="
		if strings.HasPrefix(trimmed, vbeModeKey) {
			value := strings.TrimPrefix(trimmed, vbeModeKey)
			mode, err := parseVBEMode(value)
			if err != nil {
				log.Warnf("bootconfig: %v, skipping line %q", err, line)
				continue
			}
			cfg.VBEMode = &mode
			continue
		}

		log.Warnf("bootconfig: unknown config line: %q", line)
	}
	return cfg
}

// parseVBEMode accepts either a bare decimal mode number or a
// "WIDTHxHEIGHT:BPP" triple.
func parseVBEMode(value string) (VBEMode, error) {
	if n, err := strconv.ParseUint(value, 10, 16); err == nil {
		return VBEMode{HasNumber: true, Number: uint16(n)}, nil
	}

	xIdx := strings.IndexByte(value, 'x')
	colonIdx := strings.IndexByte(value, ':')
	if xIdx < 0 || colonIdx < 0 || colonIdx < xIdx {
		return VBEMode{}, fmt.Errorf("bootconfig: malformed vbe_mode value %q", value)
	}

	width, err := strconv.ParseUint(value[:xIdx], 10, 16)
	if err != nil {
		return VBEMode{}, fmt.Errorf("bootconfig: bad width in %q: %w", value, err)
	}
	height, err := strconv.ParseUint(value[xIdx+1:colonIdx], 10, 16)
	if err != nil {
		return VBEMode{}, fmt.Errorf("bootconfig: bad height in %q: %w", value, err)
	}
	bpp, err := strconv.ParseUint(value[colonIdx+1:], 10, 8)
	if err != nil {
		return VBEMode{}, fmt.Errorf("bootconfig: bad bpp in %q: %w", value, err)
	}

	return VBEMode{Width: uint16(width), Height: uint16(height), BPP: uint8(bpp)}, nil
}
