package services

import (
	"sync"

	"github.com/golang/glog"
	"go.uber.org/multierr"

	"github.com/deploymenttheory/go-fvm/internal/interfaces"
	"github.com/deploymenttheory/go-fvm/internal/managers/allocator"
	"github.com/deploymenttheory/go-fvm/internal/managers/metadata"
	"github.com/deploymenttheory/go-fvm/internal/managers/partition"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

// Options controls how a volume is opened
type Options struct {
	// Metadata persistence options
	Store metadata.Options

	// ReclaimInactive destroys partitions that were never activated when the volume is
	// opened, committing the result as a single generation
	ReclaimInactive bool
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		Store:           metadata.DefaultOptions(),
		ReclaimInactive: true,
	}
}

// VolumeManager is the management surface of one FVM volume.
//
// A single RWMutex guards the metadata tables. Every partition slot additionally has its
// own RWMutex: block I/O holds the slot read lock for the whole transfer and the table
// read lock only while translating virtual slices, while structural operations hold the
// slot write lock of every partition they change before taking the table write lock.
// Slot locks are always taken in ascending index order.
type VolumeManager struct {
	dev   interfaces.BlockDevice
	opts  Options
	store *metadata.Store
	alloc *allocator.Allocator
	table interfaces.PartitionTable

	mu     sync.RWMutex
	slots  [types.MaxVPartitions]sync.RWMutex
	closed bool
}

// Format writes an empty volume with slices of sliceSize bytes to dev and opens it
func Format(dev interfaces.BlockDevice, sliceSize uint64, opts Options) (*VolumeManager, error) {
	store, err := metadata.Format(dev, sliceSize, opts.Store)
	if err != nil {
		return nil, err
	}
	return newVolumeManager(dev, store, opts)
}

// Open loads the volume stored on dev. It fails with ErrUnrecoverable when neither metadata
// copy is valid.
func Open(dev interfaces.BlockDevice, opts Options) (*VolumeManager, error) {
	store, err := metadata.Load(dev, opts.Store)
	if err != nil {
		return nil, err
	}
	vm, err := newVolumeManager(dev, store, opts)
	if err != nil {
		return nil, err
	}

	if opts.ReclaimInactive {
		vm.alloc.Begin()
		n, err := vm.table.ReclaimInactive()
		if err != nil {
			vm.alloc.Rollback()
			return nil, err
		}
		if n > 0 {
			if err := vm.store.Persist(vm.store.Metadata()); err != nil {
				vm.alloc.Rollback()
				return nil, err
			}
			glog.Infof("reclaimed %d inactive partitions at generation %d", n, vm.store.Generation())
		}
		vm.alloc.Commit()
	}
	return vm, nil
}

func newVolumeManager(dev interfaces.BlockDevice, store *metadata.Store, opts Options) (*VolumeManager, error) {
	md := store.Metadata()
	alloc, err := allocator.New(md)
	if err != nil {
		return nil, err
	}
	return &VolumeManager{
		dev:   dev,
		opts:  opts,
		store: store,
		alloc: alloc,
		table: partition.NewPartitionTable(md, alloc),
	}, nil
}

// commit runs fn against the tables and persists the result as one new generation. When
// fn or the persist fails, every table change made by fn is undone. The caller holds the
// table write lock.
func (vm *VolumeManager) commit(fn func() error) error {
	vm.alloc.Begin()
	if err := fn(); err != nil {
		vm.alloc.Rollback()
		return err
	}
	if err := vm.store.Persist(vm.store.Metadata()); err != nil {
		vm.alloc.Rollback()
		return err
	}
	vm.alloc.Commit()
	return nil
}

func (vm *VolumeManager) checkOpen(op string) error {
	if vm.closed {
		return types.NewFVMError(types.ErrIO, op, "volume is closed")
	}
	return nil
}

// resolve checks that p still names the partition it was opened on. The caller holds the
// table lock.
func (vm *VolumeManager) resolve(op string, p *VirtualPartition) (types.VPartitionEntry, error) {
	if err := vm.checkOpen(op); err != nil {
		return types.VPartitionEntry{}, err
	}
	if p == nil || p.vm != vm {
		return types.VPartitionEntry{}, types.NewFVMError(types.ErrInvalidArgument, op, "partition handle belongs to another volume")
	}
	e, err := vm.table.Entry(p.index)
	if err != nil || e.Instance != p.instance {
		return types.VPartitionEntry{}, types.NewFVMError(types.ErrNotFound, op,
			"partition %d (%s) no longer exists", p.index, p.instance)
	}
	return e, nil
}

// check resolves p without changing anything
func (vm *VolumeManager) check(op string, p *VirtualPartition) error {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	_, err := vm.resolve(op, p)
	return err
}

// AllocatePartition creates a partition and returns a handle to it
func (vm *VolumeManager) AllocatePartition(req interfaces.AllocateRequest) (*VirtualPartition, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if err := vm.checkOpen("AllocatePartition"); err != nil {
		return nil, err
	}

	var index uint64
	err := vm.commit(func() error {
		var err error
		index, err = vm.table.Allocate(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vm.handle(index, req.Instance), nil
}

// OpenPartition returns a handle to the active partition with the given instance GUID.
// Partitions that were never activated cannot be opened.
func (vm *VolumeManager) OpenPartition(instance types.GUID) (*VirtualPartition, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if err := vm.checkOpen("OpenPartition"); err != nil {
		return nil, err
	}

	index, ok := vm.table.FindByInstance(instance)
	if !ok {
		return nil, types.NewFVMError(types.ErrNotFound, "OpenPartition", "no partition with instance %s", instance)
	}
	e, err := vm.table.Entry(index)
	if err != nil {
		return nil, err
	}
	if !e.IsActive() {
		return nil, types.NewFVMError(types.ErrNotFound, "OpenPartition", "partition %d (%s) is inactive", index, instance)
	}
	return vm.handle(index, instance), nil
}

func (vm *VolumeManager) handle(index uint64, instance types.GUID) *VirtualPartition {
	return &VirtualPartition{vm: vm, index: index, instance: instance}
}

// Extend backs [vsliceStart, vsliceStart+length) of p with free physical slices
func (vm *VolumeManager) Extend(p *VirtualPartition, vsliceStart, length uint64) error {
	if length == 0 {
		return vm.check("Extend", p)
	}
	return vm.mutatePartition("Extend", p, func() error {
		return vm.alloc.Extend(p.index, vsliceStart, length)
	})
}

// Shrink releases the allocated slices of p within [vsliceStart, vsliceStart+length)
func (vm *VolumeManager) Shrink(p *VirtualPartition, vsliceStart, length uint64) error {
	if length == 0 {
		return vm.check("Shrink", p)
	}
	return vm.mutatePartition("Shrink", p, func() error {
		return vm.alloc.Shrink(p.index, vsliceStart, length)
	})
}

// DestroyPartition frees every slice of p and removes it from the partition table.
// Outstanding handles to p fail all later calls.
func (vm *VolumeManager) DestroyPartition(p *VirtualPartition) error {
	return vm.mutatePartition("DestroyPartition", p, func() error {
		return vm.table.Destroy(p.index)
	})
}

// mutatePartition applies fn to the slot of p under the slot and table write locks
func (vm *VolumeManager) mutatePartition(op string, p *VirtualPartition, fn func() error) error {
	if p == nil {
		return types.NewFVMError(types.ErrInvalidArgument, op, "nil partition handle")
	}
	slot := &vm.slots[p.index]
	slot.Lock()
	defer slot.Unlock()
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if _, err := vm.resolve(op, p); err != nil {
		return err
	}
	return vm.commit(fn)
}

// Query reports, for each of starts, the run of equally allocated vslices of p beginning there
func (vm *VolumeManager) Query(p *VirtualPartition, starts []uint64) ([]types.VSliceRange, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if _, err := vm.resolve("Query", p); err != nil {
		return nil, err
	}
	return vm.alloc.Query(p.index, starts)
}

// Activate marks the partition with instance newGUID active and, when oldGUID names a
// different partition, destroys that partition in the same generation.
func (vm *VolumeManager) Activate(oldGUID, newGUID types.GUID) error {
	for {
		vm.mu.RLock()
		if err := vm.checkOpen("Activate"); err != nil {
			vm.mu.RUnlock()
			return err
		}
		newIdx, newOK := vm.table.FindByInstance(newGUID)
		oldIdx, oldOK := vm.table.FindByInstance(oldGUID)
		vm.mu.RUnlock()

		if !newOK {
			return types.NewFVMError(types.ErrNotFound, "Activate", "no partition with instance %s", newGUID)
		}
		locked := []uint64{newIdx}
		if oldOK && oldIdx != newIdx {
			locked = append(locked, oldIdx)
			if oldIdx < newIdx {
				locked[0], locked[1] = oldIdx, newIdx
			}
		}
		for _, i := range locked {
			vm.slots[i].Lock()
		}

		vm.mu.Lock()
		n, nOK := vm.table.FindByInstance(newGUID)
		o, oOK := vm.table.FindByInstance(oldGUID)
		stable := nOK == newOK && n == newIdx && oOK == oldOK && o == oldIdx
		var err error
		if stable {
			err = vm.checkOpen("Activate")
			if err == nil {
				err = vm.commit(func() error {
					return vm.table.Activate(oldGUID, newGUID)
				})
			}
		}
		vm.mu.Unlock()
		for i := len(locked) - 1; i >= 0; i-- {
			vm.slots[locked[i]].Unlock()
		}
		if stable {
			return err
		}
		// The table changed between lookup and locking; resolve again.
	}
}

// GetVolumeInfo summarises slice usage of the volume
func (vm *VolumeManager) GetVolumeInfo() (types.VolumeInfo, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if err := vm.checkOpen("GetVolumeInfo"); err != nil {
		return types.VolumeInfo{}, err
	}
	return volumeInfo(vm.store.Metadata()), nil
}

func volumeInfo(md *types.Metadata) types.VolumeInfo {
	return types.VolumeInfo{
		SliceSize:       md.Superblock.SliceSize,
		VSliceMax:       types.VSliceMax,
		PSliceTotal:     md.Superblock.PSliceCount,
		PSliceAllocated: md.AllocatedSlices(),
		Generation:      md.Superblock.Generation,
	}
}

// ListPartitions returns every partition in the table, active or not
func (vm *VolumeManager) ListPartitions() ([]types.PartitionInfo, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if err := vm.checkOpen("ListPartitions"); err != nil {
		return nil, err
	}
	return vm.table.List(), nil
}

// FindByType returns handles to every active partition of the given type
func (vm *VolumeManager) FindByType(typeGUID types.GUID) ([]*VirtualPartition, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if err := vm.checkOpen("FindByType"); err != nil {
		return nil, err
	}
	var found []*VirtualPartition
	for _, index := range vm.table.FindByType(typeGUID) {
		e, err := vm.table.Entry(index)
		if err != nil || !e.IsActive() {
			continue
		}
		found = append(found, vm.handle(index, e.Instance))
	}
	return found, nil
}

// Close flushes and closes the device. Every later call on the volume or its partitions
// fails with ErrIO.
func (vm *VolumeManager) Close() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return nil
	}
	vm.closed = true
	glog.V(1).Infof("closing volume at generation %d", vm.store.Generation())
	return multierr.Combine(vm.dev.Flush(), vm.dev.Close())
}
