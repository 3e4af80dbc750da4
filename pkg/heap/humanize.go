// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "github.com/dustin/go-humanize"

// humanizeBytes renders a byte count in binary (KiB/MiB) units; note that
// cmds/obsitool's tables use humanize.Bytes, which prints decimal units.
func humanizeBytes(n uint64) string {
	return humanize.IBytes(n)
}
