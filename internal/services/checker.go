package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/deploymenttheory/go-fvm/internal/interfaces"
	"github.com/deploymenttheory/go-fvm/internal/managers/metadata"
	mdparser "github.com/deploymenttheory/go-fvm/internal/parsers/metadata"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

// Checker validates the on-disk metadata of a volume without modifying it. Unlike Open it
// examines both copies, so a volume that mounts fine from one copy still reports problems
// in the other.
type Checker struct {
	// Device holding the volume
	Device interfaces.BlockDevice

	// BlockSize the volume is expected to be accessed with
	BlockSize uint32
}

var _ interfaces.Checker = (*Checker)(nil)

// Validate reads both metadata copies and checks each independently
func (c *Checker) Validate(ctx context.Context) (*interfaces.CheckReport, error) {
	if c.Device == nil {
		return nil, types.NewFVMError(types.ErrInvalidArgument, "Check", "no device configured")
	}
	if c.BlockSize == 0 {
		return nil, types.NewFVMError(types.ErrInvalidArgument, "Check", "no block size configured")
	}
	if devBS := c.Device.BlockInfo().BlockSize; devBS != c.BlockSize {
		return nil, types.NewFVMError(types.ErrInvalidArgument, "Check",
			"block size %d does not match device block size %d", c.BlockSize, devBS)
	}

	report := &interfaces.CheckReport{Active: -1}

	copies, err := metadata.ReadCopies(c.Device)
	if errors.Is(err, types.ErrUnrecoverable) {
		report.Primary.Problems = []error{err}
		report.Backup.Problems = []error{err}
		return report, nil
	}
	if err != nil {
		return nil, err
	}

	var parsed [2]*types.Metadata
	reports := [2]*interfaces.CopyReport{&report.Primary, &report.Backup}
	g, ctx := errgroup.WithContext(ctx)
	for i := range copies.Raw {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			parsed[i] = c.checkCopy(copies.Raw[i], copies.Offsets[i], copies.DeviceSize, reports[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	switch {
	case parsed[metadata.PrimaryCopy] == nil && parsed[metadata.BackupCopy] == nil:
		return report, nil
	case parsed[metadata.PrimaryCopy] == nil:
		report.Active = metadata.BackupCopy
	case parsed[metadata.BackupCopy] == nil:
		report.Active = metadata.PrimaryCopy
	case report.Backup.Generation > report.Primary.Generation:
		report.Active = metadata.BackupCopy
	default:
		report.Active = metadata.PrimaryCopy
	}
	report.Info = volumeInfo(parsed[report.Active])
	return report, nil
}

// checkCopy fills r for one raw copy and returns the decoded metadata when the copy is valid
func (c *Checker) checkCopy(raw []byte, offset, deviceSize uint64, r *interfaces.CopyReport) *types.Metadata {
	r.Offset = offset
	if sr, err := mdparser.NewSuperblockReader(raw, mdparser.Endian); err == nil {
		r.Generation = sr.Generation()
	}

	md, err := metadata.ValidateCopy(raw, deviceSize)
	if md == nil {
		r.Problems = multierr.Errors(err)
		return nil
	}
	r.Valid = true

	if md.Superblock.SliceSize%uint64(c.BlockSize) != 0 {
		err = multierr.Append(err, fmt.Errorf("slice size %d is not a multiple of block size %d",
			md.Superblock.SliceSize, c.BlockSize))
	}
	r.Problems = multierr.Errors(err)
	return md
}
