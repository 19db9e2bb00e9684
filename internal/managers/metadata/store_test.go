package metadata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-fvm/internal/device"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

const (
	testBlockSize = 512
	testSliceSize = 4 * types.MetadataBlockSize
	testDiskSize  = 8 << 20
)

func newTestDevice() *device.MemoryDevice {
	return device.NewMemoryDevice(testBlockSize, testDiskSize/testBlockSize)
}

// corruptByte flips one byte at the given device offset.
func corruptByte(t *testing.T, dev *device.MemoryDevice, off uint64) {
	t.Helper()
	buf := make([]byte, testBlockSize)
	blk := off / testBlockSize
	require.NoError(t, dev.ReadBlocks(blk, buf))
	buf[off%testBlockSize] ^= 0xFF
	require.NoError(t, dev.WriteBlocks(blk, buf))
}

// claimSlice marks pslice as backing vslice of vpart, creating the partition if needed.
func claimSlice(md *types.Metadata, vpart, pslice, vslice uint64) {
	e := &md.Partitions[vpart]
	if e.IsFree() {
		e.Type = types.TypeGUIDData
		e.Instance = types.NewGUID()
	}
	e.Slices++
	md.Slices[pslice] = types.NewSliceEntry(vpart, vslice)
}

func TestFormatAndLoad(t *testing.T) {
	dev := newTestDevice()

	s, err := Format(dev, testSliceSize, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Generation())
	assert.Equal(t, PrimaryCopy, s.ActiveCopy())
	assert.Equal(t, types.UsableSlicesCount(testDiskSize, testSliceSize), s.Metadata().Superblock.PSliceCount)

	loaded, err := Load(dev, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.Generation())
	assert.Equal(t, PrimaryCopy, loaded.ActiveCopy(), "generation tie prefers the primary copy")
	assert.Equal(t, uint64(testDiskSize), loaded.DeviceSize())
	assert.NoError(t, Validate(loaded.Metadata(), loaded.DeviceSize()))
}

func TestFormatRejectsBadGeometry(t *testing.T) {
	_, err := Format(newTestDevice(), 4096, DefaultOptions())
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))

	_, err = Format(device.NewMemoryDevice(testBlockSize, 64), testSliceSize, DefaultOptions())
	assert.True(t, errors.Is(err, types.ErrNoSpace))

	_, err = Format(device.NewMemoryDevice(3000, 4096), testSliceSize, DefaultOptions())
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
}

func TestPersistAlternatesCopies(t *testing.T) {
	dev := newTestDevice()
	s, err := Format(dev, testSliceSize, DefaultOptions())
	require.NoError(t, err)

	md := s.Metadata()
	claimSlice(md, 1, 1, 0)
	require.NoError(t, s.Persist(md))
	assert.Equal(t, uint64(2), s.Generation())
	assert.Equal(t, BackupCopy, s.ActiveCopy())

	claimSlice(md, 1, 2, 1)
	require.NoError(t, s.Persist(md))
	assert.Equal(t, uint64(3), s.Generation())
	assert.Equal(t, PrimaryCopy, s.ActiveCopy())

	loaded, err := Load(dev, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), loaded.Generation())
	assert.Equal(t, uint32(2), loaded.Metadata().Partitions[1].Slices)
}

func TestLoadRecoversFromSingleCorruptCopy(t *testing.T) {
	for _, tc := range []struct {
		name      string
		corrupt   func(md *types.Metadata) uint64
		wantCopy  int
		wantSlice uint32
	}{
		{
			name:      "backup corrupt after primary is newest",
			corrupt:   func(md *types.Metadata) uint64 { return md.Superblock.BackupStart() + types.AllocationTableOffset + 8 },
			wantCopy:  PrimaryCopy,
			wantSlice: 2,
		},
		{
			name:      "primary corrupt falls back to older backup",
			corrupt:   func(md *types.Metadata) uint64 { return types.HashOffset },
			wantCopy:  BackupCopy,
			wantSlice: 1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev := newTestDevice()
			s, err := Format(dev, testSliceSize, DefaultOptions())
			require.NoError(t, err)

			md := s.Metadata()
			claimSlice(md, 1, 1, 0)
			require.NoError(t, s.Persist(md)) // generation 2 in backup
			claimSlice(md, 1, 2, 1)
			require.NoError(t, s.Persist(md)) // generation 3 in primary

			corruptByte(t, dev, tc.corrupt(md))

			loaded, err := Load(dev, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, tc.wantCopy, loaded.ActiveCopy())
			assert.Equal(t, tc.wantSlice, loaded.Metadata().Partitions[1].Slices)

			// The next persist overwrites the copy that is not active.
			require.NoError(t, loaded.Persist(loaded.Metadata()))
			reloaded, err := Load(dev, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, loaded.Generation(), reloaded.Generation())
		})
	}
}

func TestLoadBothCopiesCorrupt(t *testing.T) {
	dev := newTestDevice()
	s, err := Format(dev, testSliceSize, DefaultOptions())
	require.NoError(t, err)

	corruptByte(t, dev, types.HashOffset)
	corruptByte(t, dev, s.Metadata().Superblock.BackupStart()+types.HashOffset)

	_, err = Load(dev, DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnrecoverable))
	assert.Equal(t, types.StatusUnrecoverable, types.StatusOf(err))
}

func TestLoadLocatesBackupWhenPrimaryHeaderDestroyed(t *testing.T) {
	dev := newTestDevice()
	s, err := Format(dev, testSliceSize, DefaultOptions())
	require.NoError(t, err)
	md := s.Metadata()
	claimSlice(md, 1, 1, 0)
	require.NoError(t, s.Persist(md))

	require.NoError(t, dev.WriteBlocks(0, make([]byte, types.MetadataBlockSize)))

	loaded, err := Load(dev, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, BackupCopy, loaded.ActiveCopy())
	assert.Equal(t, uint64(2), loaded.Generation())
}

func TestPersistTornWriteKeepsPreviousGeneration(t *testing.T) {
	mem := newTestDevice()
	_, err := Format(mem, testSliceSize, DefaultOptions())
	require.NoError(t, err)

	faulty := device.NewFaultyDevice(mem)
	s, err := Load(faulty, DefaultOptions())
	require.NoError(t, err)

	md := s.Metadata()
	claimSlice(md, 1, 1, 0)
	faulty.FailWritesAfter(3)

	err = s.Persist(md)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrIO))
	assert.Equal(t, uint64(1), s.Generation(), "failed persist must not advance the generation")
	assert.Equal(t, PrimaryCopy, s.ActiveCopy(), "failed persist must not flip the active copy")

	// Simulated reboot: the torn backup fails its hash and the old primary wins.
	faulty.Heal()
	reloaded, err := Load(faulty, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reloaded.Generation())
	assert.Equal(t, PrimaryCopy, reloaded.ActiveCopy())
	assert.True(t, reloaded.Metadata().Partitions[1].IsFree())
}

func TestPersistWithoutVerification(t *testing.T) {
	dev := newTestDevice()
	s, err := Format(dev, testSliceSize, Options{VerifyWrites: false})
	require.NoError(t, err)
	require.NoError(t, s.Persist(s.Metadata()))
	assert.Equal(t, uint64(2), s.Generation())
}

func TestLoadLocatesBackupForAnySliceMultiple(t *testing.T) {
	const diskSize = 100 << 20
	sliceSize := 3 * types.MetadataBlockSize
	dev := device.NewMemoryDevice(testBlockSize, diskSize/testBlockSize)
	s, err := Format(dev, sliceSize, DefaultOptions())
	require.NoError(t, err)
	md := s.Metadata()
	claimSlice(md, 1, 1, 0)
	require.NoError(t, s.Persist(md))
	claimSlice(md, 1, 2, 1)
	require.NoError(t, s.Persist(md))

	corruptByte(t, dev, 0)

	loaded, err := Load(dev, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, BackupCopy, loaded.ActiveCopy())
	assert.Equal(t, uint64(2), loaded.Generation())
	assert.Equal(t, sliceSize, loaded.Metadata().Superblock.SliceSize)
	assert.Equal(t, uint32(1), loaded.Metadata().Partitions[1].Slices)
}

func TestPersistUnconfirmedWriteIsInvalidated(t *testing.T) {
	mem := newTestDevice()
	_, err := Format(mem, testSliceSize, DefaultOptions())
	require.NoError(t, err)

	faulty := device.NewFaultyDevice(mem)
	s, err := Load(faulty, DefaultOptions())
	require.NoError(t, err)

	md := s.Metadata()
	claimSlice(md, 1, 1, 0)
	faulty.FailReads(true)

	err = s.Persist(md)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrIO))
	assert.Equal(t, uint64(1), s.Generation())
	assert.Equal(t, PrimaryCopy, s.ActiveCopy())

	// The backup was written in full but never confirmed, so it must not come back.
	faulty.Heal()
	reloaded, err := Load(faulty, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reloaded.Generation())
	assert.Equal(t, PrimaryCopy, reloaded.ActiveCopy())
	assert.True(t, reloaded.Metadata().Partitions[1].IsFree())

	// The store keeps working once the device recovers.
	require.NoError(t, s.Persist(md))
	assert.Equal(t, uint64(2), s.Generation())
}

func TestPersistRefusesAfterFailedInvalidation(t *testing.T) {
	mem := newTestDevice()
	_, err := Format(mem, testSliceSize, DefaultOptions())
	require.NoError(t, err)

	faulty := device.NewFaultyDevice(mem)
	s, err := Load(faulty, DefaultOptions())
	require.NoError(t, err)

	md := s.Metadata()
	claimSlice(md, 1, 1, 0)
	copyBlocks := int64(types.MetadataSize(testDiskSize, testSliceSize) / testBlockSize)
	faulty.FailWritesAfter(copyBlocks)
	faulty.FailReads(true)

	require.Error(t, s.Persist(md))

	faulty.Heal()
	err = s.Persist(md)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrIO))
	assert.Equal(t, uint64(1), s.Generation())
}
