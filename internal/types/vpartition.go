package types

// VPartitionEntry is one row of the partition table.
type VPartitionEntry struct {
	// Content type of the partition.
	Type GUID

	// Identifier unique to this partition instance.
	Instance GUID

	// Number of virtual slices currently mapped.
	Slices uint32

	// Partition flags (see VPartitionFlagInactive).
	Flags uint32

	// NUL padded partition name.
	Name Name
}

// IsFree reports whether the slot is available for a new partition.
func (e *VPartitionEntry) IsFree() bool {
	return e.Slices == 0
}

// IsActive reports whether the partition has been committed.
func (e *VPartitionEntry) IsActive() bool {
	return e.Flags&VPartitionFlagInactive == 0
}

// SetActive sets or clears the inactive flag.
func (e *VPartitionEntry) SetActive(active bool) {
	if active {
		e.Flags &^= VPartitionFlagInactive
	} else {
		e.Flags |= VPartitionFlagInactive
	}
}

// Clear resets the entry to the free state.
func (e *VPartitionEntry) Clear() {
	*e = VPartitionEntry{}
}
