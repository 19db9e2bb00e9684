package types

// Superblock is the fixed header at the start of every metadata copy.
type Superblock struct {
	// Format identifier; always Magic.
	Magic uint64

	// On-disk format version.
	Version uint64

	// Number of physical slices in the data region.
	PSliceCount uint64

	// Bytes per slice.
	SliceSize uint64

	// Number of bytes of the underlying device the volume manager may use.
	FVMPartitionSize uint64

	// Size of the partition table in bytes.
	VPartitionTableSize uint64

	// Size of the allocation table in bytes. Fixed at format time and may exceed what
	// PSliceCount requires.
	AllocationTableSize uint64

	// Monotonic counter; the valid copy with the largest generation is authoritative.
	Generation uint64

	// SHA-256 of the whole metadata copy with this field zeroed.
	Hash [HashSize]byte
}

// MetadataSize returns the size of one metadata copy described by this superblock.
func (sb *Superblock) MetadataSize() uint64 {
	return MetadataSizeFor(sb.AllocationTableSize)
}

// BackupStart returns the device offset of the backup metadata copy.
func (sb *Superblock) BackupStart() uint64 {
	return sb.MetadataSize()
}

// DataStart returns the device offset of physical slice 1.
func (sb *Superblock) DataStart() uint64 {
	return 2 * sb.MetadataSize()
}

// SliceOffset returns the device offset of physical slice pslice (1-based).
func (sb *Superblock) SliceOffset(pslice uint64) uint64 {
	return sb.DataStart() + (pslice-1)*sb.SliceSize
}

// AllocationTableCapacity returns the number of slice entries the allocation table can hold,
// excluding the reserved entry 0.
func (sb *Superblock) AllocationTableCapacity() uint64 {
	return sb.AllocationTableSize/SliceEntrySize - 1
}
