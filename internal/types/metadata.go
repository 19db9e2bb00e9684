package types

// Metadata is the decoded form of one metadata copy.
type Metadata struct {
	Superblock Superblock

	// Partitions is indexed by partition index; entry 0 is reserved.
	Partitions []VPartitionEntry

	// Slices is indexed by physical slice; entry 0 is reserved.
	Slices []SliceEntry
}

// NewMetadata returns empty metadata for the given geometry at generation 0.
func NewMetadata(diskSize, sliceSize uint64) *Metadata {
	tableSize := AllocationTableLength(diskSize, sliceSize)
	pslices := UsableSlicesCount(diskSize, sliceSize)
	return &Metadata{
		Superblock: Superblock{
			Magic:               Magic,
			Version:             Version,
			PSliceCount:         pslices,
			SliceSize:           sliceSize,
			FVMPartitionSize:    diskSize,
			VPartitionTableSize: VPartitionTableSize,
			AllocationTableSize: tableSize,
		},
		Partitions: make([]VPartitionEntry, MaxVPartitions),
		Slices:     make([]SliceEntry, pslices+1),
	}
}

// Clone returns a deep copy of md.
func (md *Metadata) Clone() *Metadata {
	c := &Metadata{
		Superblock: md.Superblock,
		Partitions: make([]VPartitionEntry, len(md.Partitions)),
		Slices:     make([]SliceEntry, len(md.Slices)),
	}
	copy(c.Partitions, md.Partitions)
	copy(c.Slices, md.Slices)
	return c
}

// AllocatedSlices returns the number of physical slices owned by any partition.
func (md *Metadata) AllocatedSlices() uint64 {
	var n uint64
	for p := 1; p < len(md.Slices); p++ {
		if !md.Slices[p].IsFree() {
			n++
		}
	}
	return n
}
