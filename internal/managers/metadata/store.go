// Package metadata keeps the volume metadata durable across the primary and backup copies.
//
// Every structural change is persisted as a new generation written to the copy that is not
// currently active. The write is flushed and read back before the new copy becomes active,
// so a crash at any point leaves the previously active copy intact and selectable.
package metadata

import (
	"bytes"
	"fmt"

	"github.com/golang/glog"
	"go.uber.org/multierr"

	"github.com/deploymenttheory/go-fvm/internal/interfaces"
	mdparser "github.com/deploymenttheory/go-fvm/internal/parsers/metadata"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

// Options controls how a Store persists metadata
type Options struct {
	// VerifyWrites re-reads every persisted copy and compares it with what was written
	VerifyWrites bool
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{VerifyWrites: true}
}

// Store is the SliceMetadataStore of a single device
type Store struct {
	dev        interfaces.BlockDevice
	opts       Options
	md         *types.Metadata
	active     int
	deviceSize uint64

	// failed is set when a copy that may hold an unconfirmed generation could not be
	// invalidated; nothing is persisted after that.
	failed bool
}

var _ interfaces.MetadataStore = (*Store)(nil)

// Format writes fresh, empty metadata for a volume of sliceSize slices to both copies of
// dev and returns a store over it.
func Format(dev interfaces.BlockDevice, sliceSize uint64, opts Options) (*Store, error) {
	info := dev.BlockInfo()
	if info.BlockSize == 0 || types.MetadataBlockSize%uint64(info.BlockSize) != 0 {
		return nil, types.NewFVMError(types.ErrInvalidArgument, "Format",
			"device block size %d does not divide %d", info.BlockSize, types.MetadataBlockSize)
	}
	if sliceSize == 0 || sliceSize%types.MetadataBlockSize != 0 {
		return nil, types.NewFVMError(types.ErrInvalidArgument, "Format",
			"slice size %d is not a non-zero multiple of %d", sliceSize, types.MetadataBlockSize)
	}

	diskSize := info.Size()
	md := types.NewMetadata(diskSize, sliceSize)
	if md.Superblock.PSliceCount == 0 {
		return nil, types.NewFVMError(types.ErrNoSpace, "Format",
			"device of %d bytes cannot hold metadata and one slice of %d bytes", diskSize, sliceSize)
	}
	md.Superblock.Generation = 1

	data, err := mdparser.SerializeMetadata(md)
	if err != nil {
		return nil, types.NewFVMError(types.ErrInvalidArgument, "Format", "%v", err)
	}
	for _, off := range []uint64{0, md.Superblock.BackupStart()} {
		if err := writeRange(dev, off, data); err != nil {
			return nil, err
		}
	}
	if err := dev.Flush(); err != nil {
		return nil, types.NewFVMError(types.ErrIO, "Format", "flush: %v", err)
	}

	glog.V(1).Infof("formatted volume: %d slices of %d bytes, metadata %d bytes",
		md.Superblock.PSliceCount, sliceSize, md.Superblock.MetadataSize())

	return &Store{
		dev:        dev,
		opts:       opts,
		md:         md,
		active:     PrimaryCopy,
		deviceSize: diskSize,
	}, nil
}

// Load reads both metadata copies from dev and selects the valid copy with the highest
// generation, preferring the primary on a tie. It fails with ErrUnrecoverable when neither
// copy is valid.
func Load(dev interfaces.BlockDevice, opts Options) (*Store, error) {
	copies, err := ReadCopies(dev)
	if err != nil {
		return nil, err
	}

	var parsed [2]*types.Metadata
	var errs error
	for i, raw := range copies.Raw {
		md, perr := mdparser.ParseMetadata(raw, copies.DeviceSize)
		if perr != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s copy: %w", copyName(i), perr))
			continue
		}
		parsed[i] = md
	}

	active, err := selectCopy(parsed)
	if err != nil {
		return nil, types.NewFVMError(types.ErrUnrecoverable, "Load", "%v", errs)
	}
	if errs != nil {
		glog.Warningf("recovering from %s metadata copy: %v", copyName(active), errs)
	}

	md := parsed[active]
	glog.V(1).Infof("loaded %s metadata copy at generation %d", copyName(active), md.Superblock.Generation)

	return &Store{
		dev:        dev,
		opts:       opts,
		md:         md,
		active:     active,
		deviceSize: copies.DeviceSize,
	}, nil
}

// selectCopy picks the copy with the highest generation among the parsed ones.
func selectCopy(parsed [2]*types.Metadata) (int, error) {
	p, b := parsed[PrimaryCopy], parsed[BackupCopy]
	switch {
	case p == nil && b == nil:
		return -1, types.ErrUnrecoverable
	case b == nil:
		return PrimaryCopy, nil
	case p == nil:
		return BackupCopy, nil
	case b.Superblock.Generation > p.Superblock.Generation:
		return BackupCopy, nil
	default:
		return PrimaryCopy, nil
	}
}

// Metadata implements interfaces.MetadataStore
func (s *Store) Metadata() *types.Metadata {
	return s.md
}

// ActiveCopy implements interfaces.MetadataStore
func (s *Store) ActiveCopy() int {
	return s.active
}

// Generation implements interfaces.MetadataStore
func (s *Store) Generation() uint64 {
	return s.md.Superblock.Generation
}

// DeviceSize returns the size in bytes of the underlying device
func (s *Store) DeviceSize() uint64 {
	return s.deviceSize
}

// Persist implements interfaces.MetadataStore. md becomes the store's metadata only when
// the write and its verification succeed; on failure the generation and hash of md are
// restored and the active copy is unchanged. A target copy that was written but could not be
// confirmed is invalidated so that a later Load cannot select it.
func (s *Store) Persist(md *types.Metadata) error {
	if s.failed {
		return types.NewFVMError(types.ErrIO, "Persist", "store failed after an unconfirmed write")
	}

	saved := md.Superblock
	md.Superblock.Generation = s.md.Superblock.Generation + 1

	written, err := s.write(md)
	if err != nil {
		md.Superblock = saved
		glog.Errorf("persisting generation %d failed: %v", saved.Generation+1, err)
		if written {
			s.invalidate(1 - s.active)
		}
		return err
	}

	s.md = md
	s.active = 1 - s.active
	glog.V(1).Infof("committed generation %d to %s copy", md.Superblock.Generation, copyName(s.active))
	return nil
}

// write serializes md into the inactive copy and verifies it. written reports whether the
// copy reached the device before the failure.
func (s *Store) write(md *types.Metadata) (written bool, err error) {
	data, err := mdparser.SerializeMetadata(md)
	if err != nil {
		return false, types.NewFVMError(types.ErrInvalidArgument, "Persist", "%v", err)
	}

	target := 1 - s.active
	off := s.copyOffset(target)
	if err := writeRange(s.dev, off, data); err != nil {
		return false, err
	}
	if err := s.dev.Flush(); err != nil {
		return true, types.NewFVMError(types.ErrIO, "Persist", "flush: %v", err)
	}
	if !s.opts.VerifyWrites {
		return true, nil
	}

	back, err := readRange(s.dev, off, uint64(len(data)))
	if err != nil {
		return true, err
	}
	if !bytes.Equal(back, data) || !mdparser.VerifyHash(back) {
		return true, types.NewFVMError(types.ErrIO, "Persist", "read-back of %s copy does not match", copyName(target))
	}
	return true, nil
}

// invalidate zeroes the header block of copy i. When that fails the store refuses further
// persists.
func (s *Store) invalidate(i int) {
	err := writeRange(s.dev, s.copyOffset(i), make([]byte, types.MetadataBlockSize))
	if err == nil {
		err = s.dev.Flush()
	}
	if err != nil {
		s.failed = true
		glog.Errorf("cannot invalidate %s copy, refusing further updates: %v", copyName(i), err)
		return
	}
	glog.Warningf("invalidated unconfirmed %s copy", copyName(i))
}

func (s *Store) copyOffset(i int) uint64 {
	return uint64(i) * s.md.Superblock.MetadataSize()
}

func copyName(i int) string {
	if i == PrimaryCopy {
		return "primary"
	}
	return "backup"
}
