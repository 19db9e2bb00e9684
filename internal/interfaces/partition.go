package interfaces

import (
	"context"

	"github.com/deploymenttheory/go-fvm/internal/types"
)

// AllocateRequest describes a new partition
type AllocateRequest struct {
	Type     types.GUID
	Instance types.GUID
	Name     string
	Slices   uint64
	Inactive bool
}

// PartitionTable is the directory of virtual partitions
type PartitionTable interface {
	// Allocate reserves a slot and backs vslices [0, req.Slices) of it
	Allocate(req AllocateRequest) (uint64, error)

	// Destroy frees every slice of the partition and clears its slot
	Destroy(index uint64) error

	// Activate commits the partition identified by newGUID, destroying the distinct
	// partition identified by oldGUID if there is one
	Activate(oldGUID, newGUID types.GUID) error

	// FindByInstance resolves an instance GUID to a partition index
	FindByInstance(instance types.GUID) (uint64, bool)

	// FindByType returns the indexes of every partition of the given type
	FindByType(typeGUID types.GUID) []uint64

	// Entry returns a copy of the entry at index
	Entry(index uint64) (types.VPartitionEntry, error)

	// List returns every non-free partition
	List() []types.PartitionInfo

	// ReclaimInactive destroys every partition that was never activated and returns
	// their count. It stops at the first partition that cannot be destroyed.
	ReclaimInactive() (int, error)
}

// Partition is the block surface of one virtual partition
type Partition interface {
	// ReadBlocks fills buf starting at virtual block vbn. Every touched virtual slice
	// must be allocated.
	ReadBlocks(ctx context.Context, vbn uint64, buf []byte) error

	// WriteBlocks writes buf starting at virtual block vbn
	WriteBlocks(ctx context.Context, vbn uint64, buf []byte) error

	// Flush commits previous writes of the underlying device
	Flush() error

	// GetInfo returns the block size and the number of blocks currently allocated
	GetInfo() (types.BlockInfo, error)

	// Extend, Shrink and Query mirror SliceAllocator for this partition
	Extend(vsliceStart, length uint64) error
	Shrink(vsliceStart, length uint64) error
	Query(starts []uint64) ([]types.VSliceRange, error)

	// Destroy removes the partition; subsequent I/O fails
	Destroy() error

	// GUIDs returns the type and instance GUIDs of the partition
	GUIDs() (typeGUID, instance types.GUID, err error)

	// Name returns the partition name
	Name() (string, error)

	// Info returns the partition table view of this partition
	Info() (types.PartitionInfo, error)
}
