package interfaces

import (
	"github.com/deploymenttheory/go-fvm/internal/types"
)

// SliceRun is a run of virtual slices backed by physically contiguous slices
type SliceRun struct {
	VSlice uint64
	PSlice uint64
	Count  uint64
}

// SliceAllocator maps the virtual slices of every partition onto physical slices
type SliceAllocator interface {
	// Extend backs [vsliceStart, vsliceStart+length) of vpart with free physical slices
	Extend(vpart, vsliceStart, length uint64) error

	// Shrink releases the physical slices backing [vsliceStart, vsliceStart+length)
	Shrink(vpart, vsliceStart, length uint64) error

	// FreeAll releases every slice owned by vpart and returns how many were released
	FreeAll(vpart uint64) uint64

	// Query reports the run of equal allocation state starting at each of starts
	Query(vpart uint64, starts []uint64) ([]types.VSliceRange, error)

	// Lookup returns the physical slice backing vslice of vpart
	Lookup(vpart, vslice uint64) (uint64, bool)

	// Runs splits [vsliceStart, vsliceStart+length) of vpart into physically
	// contiguous runs; it fails if any slice in the range is unmapped
	Runs(vpart, vsliceStart, length uint64) ([]SliceRun, error)

	// AllocatedCount returns the number of slices owned by vpart
	AllocatedCount(vpart uint64) uint64

	// FreeCount returns the number of unowned physical slices
	FreeCount() uint64
}
