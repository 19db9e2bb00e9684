package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-fvm/internal/types"
)

// SuperblockReader decodes the superblock at the start of a metadata copy
type SuperblockReader struct {
	superblock *types.Superblock
	data       []byte
	endian     binary.ByteOrder
}

// NewSuperblockReader parses data and checks the magic number and format version
func NewSuperblockReader(data []byte, endian binary.ByteOrder) (*SuperblockReader, error) {
	if len(data) < types.SuperblockSize {
		return nil, fmt.Errorf("data too small for superblock: %d bytes", len(data))
	}

	sb := parseSuperblock(data, endian)

	if sb.Magic != types.Magic {
		return nil, fmt.Errorf("invalid superblock magic: got 0x%016X, want 0x%016X", sb.Magic, types.Magic)
	}
	if sb.Version != types.Version {
		return nil, fmt.Errorf("unsupported format version %d", sb.Version)
	}

	return &SuperblockReader{
		superblock: sb,
		data:       data,
		endian:     endian,
	}, nil
}

// parseSuperblock parses raw bytes into a Superblock structure
func parseSuperblock(data []byte, endian binary.ByteOrder) *types.Superblock {
	sb := &types.Superblock{}
	sb.Magic = endian.Uint64(data[0:8])
	sb.Version = endian.Uint64(data[8:16])
	sb.PSliceCount = endian.Uint64(data[16:24])
	sb.SliceSize = endian.Uint64(data[24:32])
	sb.FVMPartitionSize = endian.Uint64(data[32:40])
	sb.VPartitionTableSize = endian.Uint64(data[40:48])
	sb.AllocationTableSize = endian.Uint64(data[48:56])
	sb.Generation = endian.Uint64(data[56:64])
	copy(sb.Hash[:], data[types.HashOffset:types.HashOffset+types.HashSize])
	return sb
}

// putSuperblock writes sb into the first SuperblockSize bytes of dst
func putSuperblock(sb *types.Superblock, dst []byte, endian binary.ByteOrder) {
	endian.PutUint64(dst[0:8], sb.Magic)
	endian.PutUint64(dst[8:16], sb.Version)
	endian.PutUint64(dst[16:24], sb.PSliceCount)
	endian.PutUint64(dst[24:32], sb.SliceSize)
	endian.PutUint64(dst[32:40], sb.FVMPartitionSize)
	endian.PutUint64(dst[40:48], sb.VPartitionTableSize)
	endian.PutUint64(dst[48:56], sb.AllocationTableSize)
	endian.PutUint64(dst[56:64], sb.Generation)
	copy(dst[types.HashOffset:types.HashOffset+types.HashSize], sb.Hash[:])
}

// Superblock returns the decoded superblock
func (r *SuperblockReader) Superblock() *types.Superblock {
	return r.superblock
}

// Generation returns the generation counter of the copy
func (r *SuperblockReader) Generation() uint64 {
	return r.superblock.Generation
}

// SliceSize returns the number of bytes per slice
func (r *SuperblockReader) SliceSize() uint64 {
	return r.superblock.SliceSize
}

// PSliceCount returns the number of physical slices
func (r *SuperblockReader) PSliceCount() uint64 {
	return r.superblock.PSliceCount
}

// MetadataSize returns the size of the metadata copy the superblock describes
func (r *SuperblockReader) MetadataSize() uint64 {
	return r.superblock.MetadataSize()
}

// CheckBounds verifies the declared table sizes against the reserved metadata region and
// the size of the device holding the copy.
func (r *SuperblockReader) CheckBounds(deviceSize uint64) error {
	return CheckSuperblockBounds(r.superblock, deviceSize)
}

// CheckSuperblockBounds verifies that the tables described by sb fit the metadata region
// reserved at format time and that the slice region fits on a device of deviceSize bytes.
func CheckSuperblockBounds(sb *types.Superblock, deviceSize uint64) error {
	if sb.SliceSize == 0 || sb.SliceSize%types.MetadataBlockSize != 0 {
		return fmt.Errorf("slice size %d is not a non-zero multiple of %d", sb.SliceSize, types.MetadataBlockSize)
	}
	if sb.VPartitionTableSize != types.VPartitionTableSize {
		return fmt.Errorf("partition table size %d, want %d", sb.VPartitionTableSize, types.VPartitionTableSize)
	}
	if sb.AllocationTableSize == 0 || sb.AllocationTableSize%types.MetadataBlockSize != 0 {
		return fmt.Errorf("allocation table size %d is not a non-zero multiple of %d", sb.AllocationTableSize, types.MetadataBlockSize)
	}
	if sb.FVMPartitionSize > deviceSize {
		return fmt.Errorf("volume size %d exceeds device size %d", sb.FVMPartitionSize, deviceSize)
	}
	if want := types.AllocationTableLength(sb.FVMPartitionSize, sb.SliceSize); sb.AllocationTableSize > want {
		return fmt.Errorf("allocation table size %d exceeds the %d bytes reserved at format time", sb.AllocationTableSize, want)
	}
	if sb.PSliceCount > sb.AllocationTableCapacity() {
		return fmt.Errorf("slice count %d exceeds allocation table capacity %d", sb.PSliceCount, sb.AllocationTableCapacity())
	}
	if sb.PSliceCount > sb.FVMPartitionSize/sb.SliceSize {
		return fmt.Errorf("slice count %d cannot fit in %d bytes", sb.PSliceCount, sb.FVMPartitionSize)
	}
	if sb.DataStart()+sb.PSliceCount*sb.SliceSize > sb.FVMPartitionSize {
		return fmt.Errorf("slice region [%d, %d) exceeds volume size %d",
			sb.DataStart(), sb.DataStart()+sb.PSliceCount*sb.SliceSize, sb.FVMPartitionSize)
	}
	return nil
}
