package metadata

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-fvm/internal/types"
)

const (
	testSliceSize = 4 * types.MetadataBlockSize
	testDiskSize  = 8 << 20
)

func newPopulatedMetadata(t *testing.T) *types.Metadata {
	t.Helper()
	md := types.NewMetadata(testDiskSize, testSliceSize)
	md.Superblock.Generation = 3

	name, err := types.NewName("data")
	require.NoError(t, err)
	md.Partitions[1] = types.VPartitionEntry{
		Type:     types.TypeGUIDData,
		Instance: types.NewGUID(),
		Slices:   2,
		Name:     name,
	}
	md.Partitions[1].SetActive(false)
	md.Slices[1] = types.NewSliceEntry(1, 0)
	md.Slices[5] = types.NewSliceEntry(1, 42)
	return md
}

func TestSerializeParseMetadata(t *testing.T) {
	md := newPopulatedMetadata(t)

	data, err := SerializeMetadata(md)
	require.NoError(t, err)
	assert.Equal(t, int(md.Superblock.MetadataSize()), len(data))
	assert.True(t, VerifyHash(data), "serialized copy should carry a valid hash")

	parsed, err := ParseMetadata(data, testDiskSize)
	require.NoError(t, err)

	if diff := cmp.Diff(md, parsed); diff != "" {
		t.Errorf("ParseMetadata() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "data", parsed.Partitions[1].Name.String())
	assert.False(t, parsed.Partitions[1].IsActive())
	assert.Equal(t, uint64(42), parsed.Slices[5].VSlice())
}

func TestParseMetadataDetectsCorruption(t *testing.T) {
	md := newPopulatedMetadata(t)
	data, err := SerializeMetadata(md)
	require.NoError(t, err)

	t.Run("flipped table byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[types.AllocationTableOffset+8] ^= 0xFF
		_, err := ParseMetadata(bad, testDiskSize)
		assert.Error(t, err)
	})

	t.Run("flipped hash byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[types.HashOffset] ^= 0x01
		_, err := ParseMetadata(bad, testDiskSize)
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ParseMetadata(data[:len(data)-1], testDiskSize)
		assert.Error(t, err)
	})

	t.Run("zeroed", func(t *testing.T) {
		_, err := ParseMetadata(make([]byte, len(data)), testDiskSize)
		assert.Error(t, err)
	})
}

func TestSerializeMetadataRejectsInconsistentTables(t *testing.T) {
	md := newPopulatedMetadata(t)
	md.Slices = md.Slices[:len(md.Slices)-1]
	_, err := SerializeMetadata(md)
	assert.Error(t, err)
}
