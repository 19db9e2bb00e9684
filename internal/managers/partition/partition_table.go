package partition

import (
	"github.com/golang/glog"

	"github.com/deploymenttheory/go-fvm/internal/interfaces"
	"github.com/deploymenttheory/go-fvm/internal/managers/allocator"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

// partitionTable implements the PartitionTable interface
type partitionTable struct {
	md    *types.Metadata
	alloc *allocator.Allocator
}

// NewPartitionTable creates a PartitionTable over the partition entries of md. Every
// change to an entry goes through alloc so that it is journaled with the slice changes.
func NewPartitionTable(md *types.Metadata, alloc *allocator.Allocator) interfaces.PartitionTable {
	return &partitionTable{
		md:    md,
		alloc: alloc,
	}
}

// Allocate reserves the lowest free slot for req and backs its first req.Slices vslices
func (pt *partitionTable) Allocate(req interfaces.AllocateRequest) (uint64, error) {
	name, err := types.NewName(req.Name)
	if err != nil {
		return 0, types.NewFVMError(types.ErrInvalidArgument, "Allocate", "%v", err)
	}
	if req.Slices == 0 {
		return 0, types.NewFVMError(types.ErrInvalidArgument, "Allocate", "partition needs at least one slice")
	}
	if req.Type.IsNil() || req.Instance.IsNil() {
		return 0, types.NewFVMError(types.ErrInvalidArgument, "Allocate", "type and instance GUIDs must be set")
	}
	if idx, ok := pt.FindByInstance(req.Instance); ok {
		return 0, types.NewFVMError(types.ErrAlreadyExists, "Allocate",
			"instance %s is partition %d", req.Instance, idx)
	}

	index, ok := pt.freeSlot()
	if !ok {
		return 0, types.NewFVMError(types.ErrNoSpace, "Allocate", "all %d partition slots in use", types.MaxVPartitions-1)
	}

	entry := types.VPartitionEntry{
		Type:     req.Type,
		Instance: req.Instance,
		Name:     name,
	}
	entry.SetActive(!req.Inactive)
	if err := pt.alloc.Reserve(index, entry, req.Slices); err != nil {
		return 0, err
	}

	glog.V(1).Infof("allocated partition %d %q (%s) with %d slices", index, req.Name, req.Instance, req.Slices)
	return index, nil
}

// freeSlot returns the lowest unused partition index
func (pt *partitionTable) freeSlot() (uint64, bool) {
	for i := uint64(1); i < uint64(len(pt.md.Partitions)); i++ {
		if pt.md.Partitions[i].IsFree() {
			return i, true
		}
	}
	return 0, false
}

// Destroy frees every slice of the partition and clears its slot
func (pt *partitionTable) Destroy(index uint64) error {
	if _, err := pt.Entry(index); err != nil {
		return err
	}
	freed := pt.alloc.FreeAll(index)
	pt.alloc.SetPartition(index, types.VPartitionEntry{})
	glog.V(1).Infof("destroyed partition %d, released %d slices", index, freed)
	return nil
}

// Activate marks the partition with instance newGUID active. The distinct partition with
// instance oldGUID, if any, is destroyed as part of the same change.
func (pt *partitionTable) Activate(oldGUID, newGUID types.GUID) error {
	newIdx, ok := pt.FindByInstance(newGUID)
	if !ok {
		return types.NewFVMError(types.ErrNotFound, "Activate", "no partition with instance %s", newGUID)
	}
	entry := pt.md.Partitions[newIdx]
	if entry.IsActive() {
		return types.NewFVMError(types.ErrAlreadyBound, "Activate", "partition %d is already active", newIdx)
	}

	if oldIdx, ok := pt.FindByInstance(oldGUID); ok && oldIdx != newIdx {
		if err := pt.Destroy(oldIdx); err != nil {
			return err
		}
	}

	entry.SetActive(true)
	pt.alloc.SetPartition(newIdx, entry)
	glog.V(1).Infof("activated partition %d (%s)", newIdx, newGUID)
	return nil
}

// FindByInstance resolves an instance GUID to a partition index
func (pt *partitionTable) FindByInstance(instance types.GUID) (uint64, bool) {
	if instance.IsNil() {
		return 0, false
	}
	for i := uint64(1); i < uint64(len(pt.md.Partitions)); i++ {
		e := &pt.md.Partitions[i]
		if !e.IsFree() && e.Instance == instance {
			return i, true
		}
	}
	return 0, false
}

// FindByType returns the indexes of every partition of the given type
func (pt *partitionTable) FindByType(typeGUID types.GUID) []uint64 {
	var found []uint64
	for i := uint64(1); i < uint64(len(pt.md.Partitions)); i++ {
		e := &pt.md.Partitions[i]
		if !e.IsFree() && e.Type == typeGUID {
			found = append(found, i)
		}
	}
	return found
}

// Entry returns a copy of the entry at index
func (pt *partitionTable) Entry(index uint64) (types.VPartitionEntry, error) {
	if index == 0 || index >= uint64(len(pt.md.Partitions)) {
		return types.VPartitionEntry{}, types.NewFVMError(types.ErrInvalidArgument, "Entry", "partition index %d", index)
	}
	e := pt.md.Partitions[index]
	if e.IsFree() {
		return types.VPartitionEntry{}, types.NewFVMError(types.ErrNotFound, "Entry", "partition %d", index)
	}
	return e, nil
}

// List returns every non-free partition in index order
func (pt *partitionTable) List() []types.PartitionInfo {
	var infos []types.PartitionInfo
	for i := uint64(1); i < uint64(len(pt.md.Partitions)); i++ {
		e := &pt.md.Partitions[i]
		if e.IsFree() {
			continue
		}
		infos = append(infos, Info(i, e))
	}
	return infos
}

// ReclaimInactive destroys every partition that was created inactive and never activated
func (pt *partitionTable) ReclaimInactive() (int, error) {
	n := 0
	for i := uint64(1); i < uint64(len(pt.md.Partitions)); i++ {
		e := &pt.md.Partitions[i]
		if e.IsFree() || e.IsActive() {
			continue
		}
		glog.Warningf("reclaiming inactive partition %d %q (%s)", i, e.Name.String(), e.Instance)
		if err := pt.Destroy(i); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Info converts a partition table entry into its enumeration form
func Info(index uint64, e *types.VPartitionEntry) types.PartitionInfo {
	return types.PartitionInfo{
		Index:    index,
		Type:     e.Type,
		Instance: e.Instance,
		Name:     e.Name.String(),
		Slices:   uint64(e.Slices),
		Active:   e.IsActive(),
	}
}
