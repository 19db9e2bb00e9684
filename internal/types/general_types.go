package types

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// GUID is a 128-bit globally unique identifier identifying either the content type of a
// partition or one particular partition instance.
type GUID [16]byte

// NilGUID is the all-zero identifier. It never names a partition.
var NilGUID GUID

// NewGUID returns a random (version 4) GUID.
func NewGUID() GUID {
	return GUID(uuid.New())
}

// ParseGUID parses the canonical textual form of a GUID.
func ParseGUID(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilGUID, fmt.Errorf("invalid guid %q: %w", s, err)
	}
	return GUID(u), nil
}

// MustParseGUID is like ParseGUID but panics on malformed input. Intended for constants.
func MustParseGUID(s string) GUID {
	return GUID(uuid.MustParse(s))
}

// IsNil reports whether g is the all-zero identifier.
func (g GUID) IsNil() bool {
	return g == NilGUID
}

// String returns the canonical textual form of g.
func (g GUID) String() string {
	return uuid.UUID(g).String()
}

// Name is the fixed-length, NUL padded partition name stored on disk.
type Name [MaxNameLen]byte

// NewName converts s into its on-disk form. It fails when s does not fit.
func NewName(s string) (Name, error) {
	var n Name
	if len(s) > MaxNameLen {
		return n, fmt.Errorf("name %q exceeds %d bytes", s, MaxNameLen)
	}
	copy(n[:], s)
	return n, nil
}

// String returns the name with trailing NUL padding removed.
func (n Name) String() string {
	if i := bytes.IndexByte(n[:], 0); i >= 0 {
		return string(n[:i])
	}
	return string(n[:])
}

// Well known partition type GUIDs.
var (
	TypeGUIDData    = MustParseGUID("08185f0c-892d-428a-a789-dbeec8f55e6a")
	TypeGUIDBlob    = MustParseGUID("2967380e-134c-4cbb-b6da-17e7ce1ca45d")
	TypeGUIDSystem  = MustParseGUID("606b000b-b7c7-4653-a7d5-b737332c899d")
	TypeGUIDDefault = MustParseGUID("41d0e340-57e3-954e-8c1e-17ecac44cff5")
)

// BlockInfo describes the geometry of a block device or virtual partition.
type BlockInfo struct {
	// Size of a block in bytes.
	BlockSize uint32

	// Number of addressable blocks.
	BlockCount uint64
}

// Size returns the addressable size in bytes.
func (bi BlockInfo) Size() uint64 {
	return uint64(bi.BlockSize) * bi.BlockCount
}

// VSliceRange reports the state of a run of virtual slices.
type VSliceRange struct {
	// Whether the run is backed by physical slices.
	Allocated bool

	// Number of consecutive virtual slices sharing that state.
	Count uint64
}

// VolumeInfo summarises the whole volume.
type VolumeInfo struct {
	SliceSize       uint64
	VSliceMax       uint64
	PSliceTotal     uint64
	PSliceAllocated uint64
	Generation      uint64
}

// PartitionInfo describes one partition for enumeration.
type PartitionInfo struct {
	Index    uint64
	Type     GUID
	Instance GUID
	Name     string
	Slices   uint64
	Active   bool
}
