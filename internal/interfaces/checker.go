package interfaces

import (
	"context"

	"github.com/deploymenttheory/go-fvm/internal/types"
)

// CopyReport describes the result of validating one metadata copy
type CopyReport struct {
	// Offset of the copy on the device
	Offset uint64

	// Generation read from the copy, zero when the header could not be decoded
	Generation uint64

	// Valid is true when the header, hash and table bounds check out
	Valid bool

	// Problems lists every inconsistency found in this copy
	Problems []error
}

// Checker validates the on-disk metadata of a volume without modifying it
type Checker interface {
	Validate(ctx context.Context) (*CheckReport, error)
}

// CheckReport aggregates the validation of both metadata copies
type CheckReport struct {
	Primary CopyReport
	Backup  CopyReport

	// Active is 0 or 1 naming the copy a mount would select, -1 if neither
	Active int

	// Info summarises the selected copy
	Info types.VolumeInfo
}

// OK reports whether the volume can be mounted and every valid copy is coherent
func (r *CheckReport) OK() bool {
	if r.Active < 0 {
		return false
	}
	for _, c := range []CopyReport{r.Primary, r.Backup} {
		if c.Valid && len(c.Problems) > 0 {
			return false
		}
	}
	return true
}
