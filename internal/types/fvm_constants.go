// Package types implements the on-disk data structures of the Fuchsia Volume Manager (FVM)
// format together with the error taxonomy shared by every layer of the volume manager.
package types

// Format Constants
// Fixed values describing the FVM on-disk layout. The layout of one metadata copy is:
//
//	[ superblock (one metadata block) | partition table | allocation table ]
//
// Two copies are stored back to back at the start of the device and are followed by the
// slice data region.

const (
	// Magic identifies an FVM superblock ("FVM PART" in little-endian).
	Magic uint64 = 0x54524150204d5646

	// Version is the only on-disk format version understood by this package.
	Version uint64 = 0x00000001

	// MetadataBlockSize is the allocation granularity of all metadata regions.
	MetadataBlockSize uint64 = 8192

	// SuperblockSize is the number of bytes of the superblock that carry data.
	SuperblockSize = 96

	// HashSize is the size of the SHA-256 digest stored in the superblock.
	HashSize = 32

	// HashOffset is the byte offset of the hash inside the superblock.
	HashOffset = 64
)

// Partition Table Constants

const (
	// MaxVPartitions is the number of slots in the partition table. Slot 0 is reserved.
	MaxVPartitions = 1024

	// VPartitionEntrySize is the on-disk size of one partition table entry.
	VPartitionEntrySize = 64

	// MaxNameLen is the maximum length of a partition name in bytes.
	MaxNameLen = 24

	// VPartitionTableOffset is the byte offset of the partition table in a metadata copy.
	VPartitionTableOffset = MetadataBlockSize

	// VPartitionTableSize is the size in bytes of the partition table.
	VPartitionTableSize uint64 = MaxVPartitions * VPartitionEntrySize

	// AllocationTableOffset is the byte offset of the allocation table in a metadata copy.
	AllocationTableOffset = VPartitionTableOffset + VPartitionTableSize
)

// Partition flags.
const (
	// VPartitionFlagInactive marks a partition that has been created but not yet activated.
	VPartitionFlagInactive uint32 = 0x00000001

	// VPartitionFlagMask holds every flag understood by this version of the format.
	VPartitionFlagMask uint32 = VPartitionFlagInactive
)

// Allocation Table Constants

const (
	// SliceEntrySize is the on-disk size of one allocation table entry.
	SliceEntrySize = 8

	// SliceEntryVPartitionBits is the width of the partition index in a slice entry.
	SliceEntryVPartitionBits = 16

	// SliceEntryVSliceBits is the width of the virtual slice index in a slice entry.
	SliceEntryVSliceBits = 32

	// VSliceMax is one past the largest addressable virtual slice of a partition.
	VSliceMax uint64 = 1 << SliceEntryVSliceBits

	// MaxVSliceRequests bounds the number of start offsets accepted by a single Query.
	MaxVSliceRequests = 16
)

// RoundUp rounds v up to the next multiple of align. align must be non-zero.
func RoundUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}

// AllocationTableLength returns the size of the allocation table reserved at format time for
// a device of diskSize bytes carved into slices of sliceSize bytes.
func AllocationTableLength(diskSize, sliceSize uint64) uint64 {
	return RoundUp((diskSize/sliceSize+1)*SliceEntrySize, MetadataBlockSize)
}

// MetadataSizeFor returns the size of one metadata copy for the given allocation table size.
func MetadataSizeFor(allocationTableSize uint64) uint64 {
	return AllocationTableOffset + allocationTableSize
}

// MetadataSize returns the size of one metadata copy on a device of diskSize bytes.
func MetadataSize(diskSize, sliceSize uint64) uint64 {
	return MetadataSizeFor(AllocationTableLength(diskSize, sliceSize))
}

// BackupStart returns the device offset of the backup metadata copy.
func BackupStart(diskSize, sliceSize uint64) uint64 {
	return MetadataSize(diskSize, sliceSize)
}

// SlicesStart returns the device offset of the first physical slice.
func SlicesStart(diskSize, sliceSize uint64) uint64 {
	return 2 * MetadataSize(diskSize, sliceSize)
}

// UsableSlicesCount returns the number of physical slices that fit on a device of diskSize bytes.
func UsableSlicesCount(diskSize, sliceSize uint64) uint64 {
	start := SlicesStart(diskSize, sliceSize)
	if diskSize <= start {
		return 0
	}
	return (diskSize - start) / sliceSize
}
