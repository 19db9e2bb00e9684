package types

// SliceEntry is one row of the allocation table. The low SliceEntryVPartitionBits bits hold
// the owning partition index (0 when free); the next SliceEntryVSliceBits bits hold the
// virtual slice index the physical slice backs.
type SliceEntry uint64

const (
	sliceEntryVPartitionMask = (uint64(1) << SliceEntryVPartitionBits) - 1
	sliceEntryVSliceMask     = (uint64(1) << SliceEntryVSliceBits) - 1
)

// NewSliceEntry packs a partition index and virtual slice into an entry.
func NewSliceEntry(vpart uint64, vslice uint64) SliceEntry {
	return SliceEntry((vpart & sliceEntryVPartitionMask) |
		((vslice & sliceEntryVSliceMask) << SliceEntryVPartitionBits))
}

// VPartition returns the index of the owning partition, or 0 if the slice is free.
func (s SliceEntry) VPartition() uint64 {
	return uint64(s) & sliceEntryVPartitionMask
}

// VSlice returns the virtual slice index backed by this physical slice.
func (s SliceEntry) VSlice() uint64 {
	return (uint64(s) >> SliceEntryVPartitionBits) & sliceEntryVSliceMask
}

// IsFree reports whether the slice is unowned.
func (s SliceEntry) IsFree() bool {
	return s.VPartition() == 0
}

// Reserved reports whether bits outside the defined fields are set.
func (s SliceEntry) Reserved() bool {
	return uint64(s)>>(SliceEntryVPartitionBits+SliceEntryVSliceBits) != 0
}
