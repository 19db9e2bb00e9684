package interfaces

import (
	"github.com/deploymenttheory/go-fvm/internal/types"
)

// MetadataStore persists the volume metadata across the primary and backup copies
type MetadataStore interface {
	// Metadata returns the in-memory copy of the active metadata. Callers holding the
	// volume lock may mutate it and then call Persist.
	Metadata() *types.Metadata

	// Persist writes md under the next generation to the inactive copy, verifies it and
	// makes it the active copy.
	Persist(md *types.Metadata) error

	// ActiveCopy returns 0 when the primary copy is active and 1 for the backup.
	ActiveCopy() int

	// Generation returns the generation of the active copy.
	Generation() uint64
}
