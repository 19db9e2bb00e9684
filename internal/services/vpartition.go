package services

import (
	"context"

	"github.com/golang/glog"

	"github.com/deploymenttheory/go-fvm/internal/interfaces"
	"github.com/deploymenttheory/go-fvm/internal/managers/partition"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

// VirtualPartition is a handle to one partition of a volume. It holds only the partition
// index and instance GUID and looks up the current mapping on every call, so a handle to a
// destroyed partition fails instead of touching slices that now belong to someone else.
type VirtualPartition struct {
	vm       *VolumeManager
	index    uint64
	instance types.GUID
}

var _ interfaces.Partition = (*VirtualPartition)(nil)

// Index returns the partition table slot of the partition
func (p *VirtualPartition) Index() uint64 {
	return p.index
}

// Instance returns the instance GUID the handle was opened on
func (p *VirtualPartition) Instance() types.GUID {
	return p.instance
}

// physicalIO is one device transfer covering part of a request
type physicalIO struct {
	block uint64
	lo    uint64
	hi    uint64
}

// translate maps blocks [vbn, vbn+len(buf)/blockSize) onto device transfers, one per
// physically contiguous run. The caller holds the slot read lock of p.
func (p *VirtualPartition) translate(op string, vbn uint64, buf []byte) ([]physicalIO, error) {
	vm := p.vm
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	if _, err := vm.resolve(op, p); err != nil {
		return nil, types.NewFVMError(types.ErrIO, op, "%v", err)
	}

	bs := uint64(vm.dev.BlockInfo().BlockSize)
	if uint64(len(buf))%bs != 0 {
		return nil, types.NewFVMError(types.ErrInvalidArgument, op,
			"buffer of %d bytes is not a multiple of the %d byte block size", len(buf), bs)
	}
	count := uint64(len(buf)) / bs
	if count == 0 {
		return nil, nil
	}

	sb := &vm.store.Metadata().Superblock
	perSlice := sb.SliceSize / bs
	if vbn > ^uint64(0)-(count-1) {
		return nil, types.NewFVMError(types.ErrOutOfRange, op, "block range [%d, +%d) overflows", vbn, count)
	}
	end := vbn + count
	first := vbn / perSlice
	last := (end - 1) / perSlice
	if last >= types.VSliceMax {
		return nil, types.NewFVMError(types.ErrOutOfRange, op, "block %d is beyond the last virtual slice", end-1)
	}

	runs, err := vm.alloc.Runs(p.index, first, last-first+1)
	if err != nil {
		return nil, err
	}

	dataBlock := sb.DataStart() / bs
	ios := make([]physicalIO, 0, len(runs))
	for _, r := range runs {
		runStart := r.VSlice * perSlice
		lo := max(vbn, runStart)
		hi := min(end, (r.VSlice+r.Count)*perSlice)
		ios = append(ios, physicalIO{
			block: dataBlock + (r.PSlice-1)*perSlice + (lo - runStart),
			lo:    (lo - vbn) * bs,
			hi:    (hi - vbn) * bs,
		})
	}
	return ios, nil
}

// ReadBlocks implements interfaces.Partition
func (p *VirtualPartition) ReadBlocks(ctx context.Context, vbn uint64, buf []byte) error {
	return p.transfer(ctx, "ReadBlocks", vbn, buf, p.vm.dev.ReadBlocks)
}

// WriteBlocks implements interfaces.Partition
func (p *VirtualPartition) WriteBlocks(ctx context.Context, vbn uint64, buf []byte) error {
	return p.transfer(ctx, "WriteBlocks", vbn, buf, p.vm.dev.WriteBlocks)
}

func (p *VirtualPartition) transfer(ctx context.Context, op string, vbn uint64, buf []byte, do func(uint64, []byte) error) error {
	slot := &p.vm.slots[p.index]
	slot.RLock()
	defer slot.RUnlock()

	ios, err := p.translate(op, vbn, buf)
	if err != nil {
		return err
	}
	for _, x := range ios {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := do(x.block, buf[x.lo:x.hi]); err != nil {
			return types.NewFVMError(types.ErrIO, op, "partition %d block %d: %v", p.index, vbn, err)
		}
	}
	if glog.V(2) {
		glog.Infof("%s partition %d: %d blocks at %d in %d transfers", op, p.index,
			uint64(len(buf))/uint64(p.vm.dev.BlockInfo().BlockSize), vbn, len(ios))
	}
	return nil
}

// Flush implements interfaces.Partition
func (p *VirtualPartition) Flush() error {
	p.vm.mu.RLock()
	defer p.vm.mu.RUnlock()
	if _, err := p.vm.resolve("Flush", p); err != nil {
		return types.NewFVMError(types.ErrIO, "Flush", "%v", err)
	}
	if err := p.vm.dev.Flush(); err != nil {
		return types.NewFVMError(types.ErrIO, "Flush", "%v", err)
	}
	return nil
}

// GetInfo implements interfaces.Partition. BlockCount covers the allocated virtual slices
// only and changes with every Extend and Shrink.
func (p *VirtualPartition) GetInfo() (types.BlockInfo, error) {
	vm := p.vm
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if _, err := vm.resolve("GetInfo", p); err != nil {
		return types.BlockInfo{}, err
	}
	bs := vm.dev.BlockInfo().BlockSize
	perSlice := vm.store.Metadata().Superblock.SliceSize / uint64(bs)
	return types.BlockInfo{
		BlockSize:  bs,
		BlockCount: vm.alloc.AllocatedCount(p.index) * perSlice,
	}, nil
}

// Extend implements interfaces.Partition
func (p *VirtualPartition) Extend(vsliceStart, length uint64) error {
	return p.vm.Extend(p, vsliceStart, length)
}

// Shrink implements interfaces.Partition
func (p *VirtualPartition) Shrink(vsliceStart, length uint64) error {
	return p.vm.Shrink(p, vsliceStart, length)
}

// Query implements interfaces.Partition
func (p *VirtualPartition) Query(starts []uint64) ([]types.VSliceRange, error) {
	return p.vm.Query(p, starts)
}

// Destroy implements interfaces.Partition
func (p *VirtualPartition) Destroy() error {
	return p.vm.DestroyPartition(p)
}

// GUIDs implements interfaces.Partition
func (p *VirtualPartition) GUIDs() (types.GUID, types.GUID, error) {
	info, err := p.Info()
	if err != nil {
		return types.NilGUID, types.NilGUID, err
	}
	return info.Type, info.Instance, nil
}

// Name implements interfaces.Partition
func (p *VirtualPartition) Name() (string, error) {
	info, err := p.Info()
	if err != nil {
		return "", err
	}
	return info.Name, nil
}

// Info implements interfaces.Partition
func (p *VirtualPartition) Info() (types.PartitionInfo, error) {
	p.vm.mu.RLock()
	defer p.vm.mu.RUnlock()
	e, err := p.vm.resolve("Info", p)
	if err != nil {
		return types.PartitionInfo{}, err
	}
	return partition.Info(p.index, &e), nil
}
