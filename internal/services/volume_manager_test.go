package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-fvm/internal/device"
	"github.com/deploymenttheory/go-fvm/internal/interfaces"
	"github.com/deploymenttheory/go-fvm/internal/managers/metadata"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

const (
	testBlockSize = 512
	testSliceSize = 4 << 13 // four metadata blocks
	testDiskSize  = 8 << 20

	blocksPerSlice = testSliceSize / testBlockSize
)

func newTestVolume(t *testing.T) (*VolumeManager, *device.MemoryDevice) {
	t.Helper()
	dev := device.NewMemoryDevice(testBlockSize, testDiskSize/testBlockSize)
	vm, err := Format(dev, testSliceSize, DefaultOptions())
	require.NoError(t, err)
	return vm, dev
}

// rebind closes vm and opens the volume again from the same ramdisk contents
func rebind(t *testing.T, vm *VolumeManager, dev *device.MemoryDevice) (*VolumeManager, *device.MemoryDevice) {
	t.Helper()
	require.NoError(t, vm.Close())
	dev = dev.Reopen()
	vm, err := Open(dev, DefaultOptions())
	require.NoError(t, err)
	return vm, dev
}

func newRequest(name string, slices uint64) interfaces.AllocateRequest {
	return interfaces.AllocateRequest{
		Type:     types.TypeGUIDData,
		Instance: types.NewGUID(),
		Name:     name,
		Slices:   slices,
	}
}

func pattern(seed byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = seed + byte(i*7)
	}
	return buf
}

// corruptByte flips one byte at the given device offset
func corruptByte(t *testing.T, dev *device.MemoryDevice, off uint64) {
	t.Helper()
	buf := make([]byte, testBlockSize)
	blk := off / testBlockSize
	require.NoError(t, dev.ReadBlocks(blk, buf))
	buf[off%testBlockSize] ^= 0xFF
	require.NoError(t, dev.WriteBlocks(blk, buf))
}

func TestLargeSliceReadWrite(t *testing.T) {
	const (
		sliceSize = 64 << 20
		diskSize  = 512 << 20
	)
	ctx := context.Background()
	dev := device.NewMemoryDevice(testBlockSize, diskSize/testBlockSize)
	vm, err := Format(dev, sliceSize, DefaultOptions())
	require.NoError(t, err)

	p, err := vm.AllocatePartition(newRequest("data", 1))
	require.NoError(t, err)
	require.NoError(t, p.Extend(1, 1))

	secondSlice := uint64(sliceSize / testBlockSize)
	first := pattern(1, testBlockSize)
	second := pattern(2, testBlockSize)
	require.NoError(t, p.WriteBlocks(ctx, 0, first))
	require.NoError(t, p.WriteBlocks(ctx, secondSlice, second))

	got := make([]byte, testBlockSize)
	require.NoError(t, p.ReadBlocks(ctx, 0, got))
	assert.Equal(t, first, got)
	require.NoError(t, p.ReadBlocks(ctx, secondSlice, got))
	assert.Equal(t, second, got)

	info, err := vm.GetVolumeInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.PSliceAllocated)
	assert.Equal(t, uint64(sliceSize), info.SliceSize)
	assert.Equal(t, types.UsableSlicesCount(diskSize, sliceSize), info.PSliceTotal)
	assert.Equal(t, types.VSliceMax, info.VSliceMax)
}

func TestQueryReportsRuns(t *testing.T) {
	vm, _ := newTestVolume(t)
	p, err := vm.AllocatePartition(newRequest("runs", 10))
	require.NoError(t, err)
	require.NoError(t, p.Extend(20, 10))
	require.NoError(t, p.Extend(50, 5))

	got, err := vm.Query(p, []uint64{0, 10, 20, 30, 50, 55})
	require.NoError(t, err)
	assert.Equal(t, []types.VSliceRange{
		{Allocated: true, Count: 10},
		{Allocated: false, Count: 10},
		{Allocated: true, Count: 10},
		{Allocated: false, Count: 20},
		{Allocated: true, Count: 5},
		{Allocated: false, Count: types.VSliceMax - 55},
	}, got)
}

func TestExtendSurvivesRebind(t *testing.T) {
	ctx := context.Background()
	vm, dev := newTestVolume(t)
	req := newRequest("persist", 1)
	p, err := vm.AllocatePartition(req)
	require.NoError(t, err)
	require.NoError(t, p.Extend(1, 1))

	data := pattern(9, 2*testBlockSize)
	require.NoError(t, p.WriteBlocks(ctx, blocksPerSlice-1, data))
	require.NoError(t, p.Flush())

	vm, _ = rebind(t, vm, dev)
	p, err = vm.OpenPartition(req.Instance)
	require.NoError(t, err)

	got := make([]byte, len(data))
	require.NoError(t, p.ReadBlocks(ctx, blocksPerSlice-1, got))
	assert.Equal(t, data, got)

	info, err := p.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(2*blocksPerSlice), info.BlockCount)
}

func TestSingleCopyCorruptionRecovers(t *testing.T) {
	for _, target := range []int{metadata.PrimaryCopy, metadata.BackupCopy} {
		t.Run(map[int]string{metadata.PrimaryCopy: "primary", metadata.BackupCopy: "backup"}[target], func(t *testing.T) {
			ctx := context.Background()
			vm, dev := newTestVolume(t)
			req := newRequest("survivor", 2)
			p, err := vm.AllocatePartition(req)
			require.NoError(t, err)
			require.NoError(t, p.Extend(5, 1))
			data := pattern(3, testBlockSize)
			require.NoError(t, p.WriteBlocks(ctx, 0, data))

			before := vm.store.Metadata().Clone()
			mdSize := before.Superblock.MetadataSize()
			require.NoError(t, vm.Close())

			dev = dev.Reopen()
			corruptByte(t, dev, uint64(target)*mdSize+types.AllocationTableOffset+16)

			vm, err = Open(dev, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, 1-target, vm.store.ActiveCopy())

			p, err = vm.OpenPartition(req.Instance)
			require.NoError(t, err)
			got := make([]byte, len(data))
			require.NoError(t, p.ReadBlocks(ctx, 0, got))
			assert.Equal(t, data, got)

			if target == metadata.BackupCopy {
				// The primary held the newest generation, so nothing was lost.
				assert.Empty(t, cmp.Diff(before, vm.store.Metadata()))
			} else {
				// The backup is one generation behind and predates the last Extend.
				assert.Equal(t, before.Superblock.Generation-1, vm.store.Generation())
				_, ok := vm.alloc.Lookup(p.Index(), 5)
				assert.False(t, ok)
			}
		})
	}
}

func TestBothCopiesCorruptIsUnrecoverable(t *testing.T) {
	vm, dev := newTestVolume(t)
	_, err := vm.AllocatePartition(newRequest("lost", 1))
	require.NoError(t, err)
	mdSize := vm.store.Metadata().Superblock.MetadataSize()
	require.NoError(t, vm.Close())

	dev = dev.Reopen()
	corruptByte(t, dev, types.AllocationTableOffset)
	corruptByte(t, dev, mdSize+types.AllocationTableOffset)

	_, err = Open(dev, DefaultOptions())
	assert.True(t, errors.Is(err, types.ErrUnrecoverable))
	assert.Equal(t, types.StatusUnrecoverable, types.StatusOf(err))
}

func TestActivateUpgrade(t *testing.T) {
	vm, dev := newTestVolume(t)

	a, err := vm.AllocatePartition(newRequest("system-a", 1))
	require.NoError(t, err)

	reqB := newRequest("system-b", 1)
	reqB.Inactive = true
	_, err = vm.AllocatePartition(reqB)
	require.NoError(t, err)

	_, err = vm.OpenPartition(reqB.Instance)
	assert.True(t, errors.Is(err, types.ErrNotFound), "inactive partitions cannot be opened")

	require.NoError(t, vm.Activate(reqB.Instance, reqB.Instance))
	_, err = vm.OpenPartition(reqB.Instance)
	require.NoError(t, err)

	err = vm.Activate(reqB.Instance, reqB.Instance)
	assert.True(t, errors.Is(err, types.ErrAlreadyBound))

	reqC := newRequest("system-c", 1)
	reqC.Inactive = true
	_, err = vm.AllocatePartition(reqC)
	require.NoError(t, err)

	gen := vm.store.Generation()
	require.NoError(t, vm.Activate(a.Instance(), reqC.Instance))
	assert.Equal(t, gen+1, vm.store.Generation(), "destroy and activate share one generation")

	err = vm.Activate(a.Instance(), types.NewGUID())
	assert.True(t, errors.Is(err, types.ErrNotFound))

	vm, _ = rebind(t, vm, dev)
	list, err := vm.ListPartitions()
	require.NoError(t, err)
	var names []string
	for _, info := range list {
		names = append(names, info.Name)
		assert.True(t, info.Active)
	}
	assert.Equal(t, []string{"system-b", "system-c"}, names)
	_, err = vm.OpenPartition(a.Instance())
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestShrinkUnallocatedRange(t *testing.T) {
	vm, _ := newTestVolume(t)
	p, err := vm.AllocatePartition(newRequest("shrink", 3))
	require.NoError(t, err)

	before := vm.store.Metadata().Clone()
	err = p.Shrink(10, 5)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.Empty(t, cmp.Diff(before, vm.store.Metadata()))

	require.NoError(t, p.Shrink(1, 0))
	assert.Empty(t, cmp.Diff(before, vm.store.Metadata()))

	err = p.Shrink(0, 1)
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))

	// Shrinking off the end is fine as long as something in the range is allocated.
	require.NoError(t, p.Shrink(2, 10))
	info, err := p.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(2*blocksPerSlice), info.BlockCount)
}

func TestFailedExtendLeavesStateUnchanged(t *testing.T) {
	vm, dev := newTestVolume(t)
	p, err := vm.AllocatePartition(newRequest("atomic", 4))
	require.NoError(t, err)

	before := vm.store.Metadata().Clone()
	vi, err := vm.GetVolumeInfo()
	require.NoError(t, err)
	free := vi.PSliceTotal - vi.PSliceAllocated

	err = p.Extend(2, 5)
	assert.True(t, errors.Is(err, types.ErrAlreadyAllocated))
	assert.Equal(t, types.StatusAlreadyAllocated, types.StatusOf(err))
	err = p.Extend(100, free+1)
	assert.True(t, errors.Is(err, types.ErrNoSpace))
	err = p.Extend(types.VSliceMax-1, 2)
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))

	assert.Empty(t, cmp.Diff(before, vm.store.Metadata()))

	vm, _ = rebind(t, vm, dev)
	assert.Empty(t, cmp.Diff(before, vm.store.Metadata()))
}

func TestTornPersistKeepsPreviousGeneration(t *testing.T) {
	mem := device.NewMemoryDevice(testBlockSize, testDiskSize/testBlockSize)
	faulty := device.NewFaultyDevice(mem)
	vm, err := Format(faulty, testSliceSize, DefaultOptions())
	require.NoError(t, err)

	req := newRequest("crash", 1)
	p, err := vm.AllocatePartition(req)
	require.NoError(t, err)
	before := vm.store.Metadata().Clone()

	faulty.FailWritesAfter(3)
	err = p.Extend(1, 4)
	assert.True(t, errors.Is(err, types.ErrIO))
	assert.Empty(t, cmp.Diff(before, vm.store.Metadata()), "in-memory state is rolled back")
	_, ok := vm.alloc.Lookup(p.Index(), 1)
	assert.False(t, ok)

	faulty.Heal()
	require.NoError(t, vm.Close())

	vm, err = Open(mem.Reopen(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, before.Superblock.Generation, vm.store.Generation())
	assert.Empty(t, cmp.Diff(before.Partitions, vm.store.Metadata().Partitions))
	assert.Empty(t, cmp.Diff(before.Slices, vm.store.Metadata().Slices))

	p, err = vm.OpenPartition(req.Instance)
	require.NoError(t, err)
	require.NoError(t, p.Extend(1, 4), "the volume keeps working after the failed persist")
}

func TestFailedVerificationDoesNotResurrectChange(t *testing.T) {
	mem := device.NewMemoryDevice(testBlockSize, testDiskSize/testBlockSize)
	faulty := device.NewFaultyDevice(mem)
	vm, err := Format(faulty, testSliceSize, DefaultOptions())
	require.NoError(t, err)

	req := newRequest("unconfirmed", 1)
	p, err := vm.AllocatePartition(req)
	require.NoError(t, err)
	gen := vm.store.Generation()

	faulty.FailReads(true)
	err = p.Extend(1, 3)
	assert.True(t, errors.Is(err, types.ErrIO))
	faulty.Heal()

	ranges, err := p.Query([]uint64{1})
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.False(t, ranges[0].Allocated)
	require.NoError(t, vm.Close())

	vm, err = Open(mem.Reopen(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, gen, vm.store.Generation())
	p, err = vm.OpenPartition(req.Instance)
	require.NoError(t, err)
	ranges, err = p.Query([]uint64{1})
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.False(t, ranges[0].Allocated, "a failed extend stays failed after reopening")
}

func TestInactivePartitionReclaimedOnRebind(t *testing.T) {
	vm, dev := newTestVolume(t)
	kept, err := vm.AllocatePartition(newRequest("kept", 1))
	require.NoError(t, err)

	req := newRequest("half-done", 3)
	req.Inactive = true
	_, err = vm.AllocatePartition(req)
	require.NoError(t, err)
	gen := vm.store.Generation()

	vm, _ = rebind(t, vm, dev)
	assert.Equal(t, gen+1, vm.store.Generation(), "reclaim commits one generation")

	list, err := vm.ListPartitions()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, kept.Instance(), list[0].Instance)

	_, err = vm.OpenPartition(req.Instance)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	info, err := vm.GetVolumeInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.PSliceAllocated)
}

func TestReclaimDisabledKeepsInactivePartitions(t *testing.T) {
	vm, dev := newTestVolume(t)
	req := newRequest("pending", 1)
	req.Inactive = true
	_, err := vm.AllocatePartition(req)
	require.NoError(t, err)
	require.NoError(t, vm.Close())

	opts := DefaultOptions()
	opts.ReclaimInactive = false
	vm, err = Open(dev.Reopen(), opts)
	require.NoError(t, err)

	list, err := vm.ListPartitions()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active)
	_, err = vm.OpenPartition(req.Instance)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestDestroyTwice(t *testing.T) {
	ctx := context.Background()
	vm, _ := newTestVolume(t)
	p, err := vm.AllocatePartition(newRequest("twice", 2))
	require.NoError(t, err)

	require.NoError(t, p.Destroy())
	err = p.Destroy()
	assert.True(t, errors.Is(err, types.ErrNotFound))

	err = p.ReadBlocks(ctx, 0, make([]byte, testBlockSize))
	assert.True(t, errors.Is(err, types.ErrIO))
	err = p.WriteBlocks(ctx, 0, make([]byte, testBlockSize))
	assert.True(t, errors.Is(err, types.ErrIO))
	err = p.Extend(3, 1)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	_, err = p.GetInfo()
	assert.True(t, errors.Is(err, types.ErrNotFound))

	info, err := vm.GetVolumeInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.PSliceAllocated)
}

func TestStaleHandleAfterSlotReuse(t *testing.T) {
	ctx := context.Background()
	vm, _ := newTestVolume(t)
	old, err := vm.AllocatePartition(newRequest("old", 1))
	require.NoError(t, err)
	require.NoError(t, vm.DestroyPartition(old))

	fresh, err := vm.AllocatePartition(newRequest("fresh", 1))
	require.NoError(t, err)
	assert.Equal(t, old.Index(), fresh.Index())

	data := pattern(5, testBlockSize)
	require.NoError(t, fresh.WriteBlocks(ctx, 0, data))
	err = old.WriteBlocks(ctx, 0, make([]byte, testBlockSize))
	assert.True(t, errors.Is(err, types.ErrIO))

	got := make([]byte, testBlockSize)
	require.NoError(t, fresh.ReadBlocks(ctx, 0, got))
	assert.True(t, bytes.Equal(data, got))
}

func TestAllocatePartitionErrors(t *testing.T) {
	vm, _ := newTestVolume(t)
	req := newRequest("dup", 1)
	_, err := vm.AllocatePartition(req)
	require.NoError(t, err)
	gen := vm.store.Generation()

	_, err = vm.AllocatePartition(req)
	assert.True(t, errors.Is(err, types.ErrAlreadyExists))

	bad := newRequest("this-name-is-far-too-long-to-fit", 1)
	_, err = vm.AllocatePartition(bad)
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))

	huge := newRequest("huge", vm.store.Metadata().Superblock.PSliceCount)
	_, err = vm.AllocatePartition(huge)
	assert.True(t, errors.Is(err, types.ErrNoSpace))

	assert.Equal(t, gen, vm.store.Generation(), "failed operations do not persist")
}

func TestFindByType(t *testing.T) {
	vm, _ := newTestVolume(t)
	_, err := vm.AllocatePartition(newRequest("one", 1))
	require.NoError(t, err)
	blob := newRequest("blob", 1)
	blob.Type = types.TypeGUIDBlob
	_, err = vm.AllocatePartition(blob)
	require.NoError(t, err)

	found, err := vm.FindByType(types.TypeGUIDBlob)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, blob.Instance, found[0].Instance())

	typeGUID, instance, err := found[0].GUIDs()
	require.NoError(t, err)
	assert.Equal(t, types.TypeGUIDBlob, typeGUID)
	assert.Equal(t, blob.Instance, instance)
	name, err := found[0].Name()
	require.NoError(t, err)
	assert.Equal(t, "blob", name)
}

func TestClosedVolumeFails(t *testing.T) {
	ctx := context.Background()
	vm, _ := newTestVolume(t)
	p, err := vm.AllocatePartition(newRequest("closing", 1))
	require.NoError(t, err)
	require.NoError(t, vm.Close())
	require.NoError(t, vm.Close())

	err = p.ReadBlocks(ctx, 0, make([]byte, testBlockSize))
	assert.True(t, errors.Is(err, types.ErrIO))
	err = p.Extend(1, 1)
	assert.True(t, errors.Is(err, types.ErrIO))
	_, err = vm.AllocatePartition(newRequest("late", 1))
	assert.True(t, errors.Is(err, types.ErrIO))
	_, err = vm.GetVolumeInfo()
	assert.True(t, errors.Is(err, types.ErrIO))
	_, err = vm.ListPartitions()
	assert.True(t, errors.Is(err, types.ErrIO))
	err = vm.Activate(p.Instance(), p.Instance())
	assert.True(t, errors.Is(err, types.ErrIO))
}
