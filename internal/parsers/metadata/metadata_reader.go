package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"

	sha256 "github.com/minio/sha256-simd"

	"github.com/deploymenttheory/go-fvm/internal/types"
)

// Endian is the byte order of every on-disk field.
var Endian = binary.LittleEndian

// ComputeHash returns the SHA-256 of a serialized metadata copy with the hash field
// treated as zero.
func ComputeHash(data []byte) [types.HashSize]byte {
	h := sha256.New()
	h.Write(data[:types.HashOffset])
	h.Write(make([]byte, types.HashSize))
	h.Write(data[types.HashOffset+types.HashSize:])

	var sum [types.HashSize]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// VerifyHash reports whether the hash stored in data matches its contents.
func VerifyHash(data []byte) bool {
	if len(data) < types.SuperblockSize {
		return false
	}
	want := ComputeHash(data)
	return bytes.Equal(want[:], data[types.HashOffset:types.HashOffset+types.HashSize])
}

// ParseMetadata decodes a full metadata copy. It validates the superblock, the hash and
// the table bounds against deviceSize but not the coherence of the tables.
func ParseMetadata(data []byte, deviceSize uint64) (*types.Metadata, error) {
	r, err := NewSuperblockReader(data, Endian)
	if err != nil {
		return nil, err
	}
	if err := r.CheckBounds(deviceSize); err != nil {
		return nil, err
	}
	size := r.MetadataSize()
	if uint64(len(data)) < size {
		return nil, fmt.Errorf("metadata copy truncated: have %d bytes, need %d", len(data), size)
	}
	data = data[:size]
	if !VerifyHash(data) {
		return nil, fmt.Errorf("metadata hash mismatch at generation %d", r.Generation())
	}

	sb := r.Superblock()
	md := &types.Metadata{
		Superblock: *sb,
		Partitions: make([]types.VPartitionEntry, types.MaxVPartitions),
		Slices:     make([]types.SliceEntry, sb.PSliceCount+1),
	}

	for i := range md.Partitions {
		off := types.VPartitionTableOffset + uint64(i)*types.VPartitionEntrySize
		parseVPartitionEntry(data[off:off+types.VPartitionEntrySize], &md.Partitions[i])
	}
	for p := range md.Slices {
		off := types.AllocationTableOffset + uint64(p)*types.SliceEntrySize
		md.Slices[p] = types.SliceEntry(Endian.Uint64(data[off : off+types.SliceEntrySize]))
	}
	return md, nil
}

// SerializeMetadata encodes md into a full metadata copy, storing the computed hash both in
// the returned bytes and in md.Superblock.Hash.
func SerializeMetadata(md *types.Metadata) ([]byte, error) {
	sb := &md.Superblock
	if uint64(len(md.Slices)) != sb.PSliceCount+1 {
		return nil, fmt.Errorf("allocation table holds %d entries, superblock declares %d slices", len(md.Slices), sb.PSliceCount)
	}
	if sb.PSliceCount > sb.AllocationTableCapacity() {
		return nil, fmt.Errorf("slice count %d exceeds allocation table capacity %d", sb.PSliceCount, sb.AllocationTableCapacity())
	}
	if len(md.Partitions) != types.MaxVPartitions {
		return nil, fmt.Errorf("partition table holds %d entries, want %d", len(md.Partitions), types.MaxVPartitions)
	}

	data := make([]byte, sb.MetadataSize())
	sb.Hash = [types.HashSize]byte{}
	putSuperblock(sb, data, Endian)

	for i := range md.Partitions {
		off := types.VPartitionTableOffset + uint64(i)*types.VPartitionEntrySize
		putVPartitionEntry(&md.Partitions[i], data[off:off+types.VPartitionEntrySize])
	}
	for p, e := range md.Slices {
		off := types.AllocationTableOffset + uint64(p)*types.SliceEntrySize
		Endian.PutUint64(data[off:off+types.SliceEntrySize], uint64(e))
	}

	sb.Hash = ComputeHash(data)
	copy(data[types.HashOffset:], sb.Hash[:])
	return data, nil
}

// parseVPartitionEntry decodes one partition table row
func parseVPartitionEntry(data []byte, e *types.VPartitionEntry) {
	copy(e.Type[:], data[0:16])
	copy(e.Instance[:], data[16:32])
	e.Slices = Endian.Uint32(data[32:36])
	e.Flags = Endian.Uint32(data[36:40])
	copy(e.Name[:], data[40:40+types.MaxNameLen])
}

// putVPartitionEntry encodes one partition table row
func putVPartitionEntry(e *types.VPartitionEntry, dst []byte) {
	copy(dst[0:16], e.Type[:])
	copy(dst[16:32], e.Instance[:])
	Endian.PutUint32(dst[32:36], e.Slices)
	Endian.PutUint32(dst[36:40], e.Flags)
	copy(dst[40:40+types.MaxNameLen], e.Name[:])
}
