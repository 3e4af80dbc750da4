// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guid

// Well-known GUID Partition Table partition type GUIDs, as defined by the
// UEFI specification. Only the ones this loader's GPT reader cares about
// are named here.
var (
	// PartitionTypeEFISystem identifies an EFI System Partition.
	PartitionTypeEFISystem = *MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")
	// PartitionTypeLinuxFilesystem identifies a generic Linux filesystem
	// data partition (the one this bootloader mounts as ext2).
	PartitionTypeLinuxFilesystem = *MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4")
	// PartitionTypeBIOSBoot identifies a BIOS boot partition (stage-1/stage-2
	// code living outside any filesystem).
	PartitionTypeBIOSBoot = *MustParse("21686148-6449-6E6F-744E-656564454649")
)
