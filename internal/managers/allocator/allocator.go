// Package allocator maps the virtual slices of every partition onto physical slices.
//
// The allocator works directly on the tables of a types.Metadata. Free physical slices are
// tracked in a bitmap and each partition keeps an ordered vslice index so that range checks,
// queries and I/O translation never scan the whole allocation table.
//
// Mutations made between Begin and Commit are journaled and can be undone with Rollback,
// which restores the tables, the bitmap, the indexes and the allocation cursor exactly.
package allocator

import (
	"fmt"
	"math/bits"

	"github.com/golang/glog"
	"github.com/google/btree"

	"github.com/deploymenttheory/go-fvm/internal/interfaces"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

const indexDegree = 16

// mapping is one vslice to pslice edge of a partition index, ordered by vslice
type mapping struct {
	vslice uint64
	pslice uint64
}

func lessMapping(a, b mapping) bool {
	return a.vslice < b.vslice
}

// journal holds the entries as they were before the first change since Begin
type journal struct {
	slices     map[uint64]types.SliceEntry
	partitions map[uint64]types.VPartitionEntry
	cursor     uint64
}

// Allocator implements interfaces.SliceAllocator over a metadata instance
type Allocator struct {
	md      *types.Metadata
	free    *bitmap
	index   []*btree.BTreeG[mapping]
	journal *journal
}

var _ interfaces.SliceAllocator = (*Allocator)(nil)

// New builds the allocator state for md. It fails when two physical slices claim the same
// virtual slice or when a slice names a partition index outside the table.
func New(md *types.Metadata) (*Allocator, error) {
	pslices := uint64(len(md.Slices))
	if pslices == 0 {
		pslices = 1
	}
	a := &Allocator{
		md:    md,
		free:  newBitmap(1, pslices),
		index: make([]*btree.BTreeG[mapping], len(md.Partitions)),
	}

	for p := uint64(1); p < uint64(len(md.Slices)); p++ {
		e := md.Slices[p]
		if e.IsFree() {
			continue
		}
		vpart := e.VPartition()
		if vpart >= uint64(len(md.Partitions)) {
			return nil, types.NewFVMError(types.ErrUnrecoverable, "allocator",
				"pslice %d names partition %d", p, vpart)
		}
		if prev, dup := a.tree(vpart).ReplaceOrInsert(mapping{vslice: e.VSlice(), pslice: p}); dup {
			return nil, types.NewFVMError(types.ErrUnrecoverable, "allocator",
				"vslice %d of partition %d claimed by pslices %d and %d", e.VSlice(), vpart, prev.pslice, p)
		}
		a.free.set(p, true)
	}

	glog.V(2).Infof("allocator: %d of %d slices free", a.free.free(), pslices-1)
	return a, nil
}

// tree returns the index of vpart, creating it on first use
func (a *Allocator) tree(vpart uint64) *btree.BTreeG[mapping] {
	if a.index[vpart] == nil {
		a.index[vpart] = btree.NewG[mapping](indexDegree, lessMapping)
	}
	return a.index[vpart]
}

// Begin starts journaling mutations. It panics if a journal is already open.
func (a *Allocator) Begin() {
	if a.journal != nil {
		panic("allocator: nested Begin")
	}
	a.journal = &journal{
		slices:     make(map[uint64]types.SliceEntry),
		partitions: make(map[uint64]types.VPartitionEntry),
		cursor:     a.free.lastAllocated,
	}
}

// Commit discards the journal, keeping every mutation made since Begin.
func (a *Allocator) Commit() {
	a.journal = nil
}

// Rollback undoes every mutation made since Begin.
func (a *Allocator) Rollback() {
	j := a.journal
	if j == nil {
		return
	}
	a.journal = nil
	// Free first so that a vslice moved between pslices is never indexed twice.
	for p := range j.slices {
		a.setSlice(p, 0)
	}
	for p, old := range j.slices {
		a.setSlice(p, old)
	}
	for i, old := range j.partitions {
		a.md.Partitions[i] = old
	}
	a.free.lastAllocated = j.cursor
	glog.V(2).Infof("allocator: rolled back %d slice and %d partition entries", len(j.slices), len(j.partitions))
}

// setSlice is the only writer of the allocation table; it keeps the bitmap and the
// indexes in step and journals the previous entry.
func (a *Allocator) setSlice(p uint64, e types.SliceEntry) {
	old := a.md.Slices[p]
	if a.journal != nil {
		if _, seen := a.journal.slices[p]; !seen {
			a.journal.slices[p] = old
		}
	}
	if !old.IsFree() {
		a.tree(old.VPartition()).Delete(mapping{vslice: old.VSlice()})
	}
	a.md.Slices[p] = e
	if e.IsFree() {
		a.free.set(p, false)
		return
	}
	a.tree(e.VPartition()).ReplaceOrInsert(mapping{vslice: e.VSlice(), pslice: p})
	a.free.set(p, true)
}

// SetPartition replaces the partition entry at index, journaling the previous entry.
func (a *Allocator) SetPartition(index uint64, e types.VPartitionEntry) {
	if a.journal != nil {
		if _, seen := a.journal.partitions[index]; !seen {
			a.journal.partitions[index] = a.md.Partitions[index]
		}
	}
	a.md.Partitions[index] = e
}

// checkPartition verifies that vpart is a valid slot holding a partition
func (a *Allocator) checkPartition(op string, vpart uint64) error {
	if vpart == 0 || vpart >= uint64(len(a.md.Partitions)) {
		return types.NewFVMError(types.ErrInvalidArgument, op, "partition index %d", vpart)
	}
	if a.md.Partitions[vpart].IsFree() {
		return types.NewFVMError(types.ErrNotFound, op, "partition %d", vpart)
	}
	return nil
}

// checkRange verifies that [start, start+length) is addressable and that its byte size
// does not overflow
func (a *Allocator) checkRange(op string, start, length uint64) error {
	if start >= types.VSliceMax || length > types.VSliceMax-start {
		return types.NewFVMError(types.ErrInvalidArgument, op,
			"vslice range [%d, +%d) exceeds %d", start, length, types.VSliceMax)
	}
	if hi, _ := bits.Mul64(start+length, a.md.Superblock.SliceSize); hi != 0 {
		return types.NewFVMError(types.ErrInvalidArgument, op,
			"vslice range [%d, +%d) overflows the byte address space", start, length)
	}
	return nil
}

// Extend implements interfaces.SliceAllocator
func (a *Allocator) Extend(vpart, vsliceStart, length uint64) error {
	if length == 0 {
		return nil
	}
	if err := a.checkPartition("Extend", vpart); err != nil {
		return err
	}
	return a.extend(vpart, vsliceStart, length)
}

// Reserve installs entry into the free slot vpart and backs vslices [0, length) of it. The
// slot is left untouched when the slices cannot be allocated.
func (a *Allocator) Reserve(vpart uint64, entry types.VPartitionEntry, length uint64) error {
	if vpart == 0 || vpart >= uint64(len(a.md.Partitions)) {
		return types.NewFVMError(types.ErrInvalidArgument, "Reserve", "partition index %d", vpart)
	}
	if !a.md.Partitions[vpart].IsFree() {
		return types.NewFVMError(types.ErrAlreadyExists, "Reserve", "partition slot %d is in use", vpart)
	}
	if length == 0 {
		return types.NewFVMError(types.ErrInvalidArgument, "Reserve", "partition needs at least one slice")
	}

	old := a.md.Partitions[vpart]
	entry.Slices = 0
	a.SetPartition(vpart, entry)
	if err := a.extend(vpart, 0, length); err != nil {
		a.md.Partitions[vpart] = old
		return err
	}
	return nil
}

// extend backs the range without requiring the partition slot to be in use yet. It is how
// a new partition receives its first slices.
func (a *Allocator) extend(vpart, vsliceStart, length uint64) error {
	if err := a.checkRange("Extend", vsliceStart, length); err != nil {
		return err
	}

	var taken *mapping
	a.tree(vpart).AscendRange(mapping{vslice: vsliceStart}, mapping{vslice: vsliceStart + length},
		func(m mapping) bool {
			taken = &m
			return false
		})
	if taken != nil {
		return types.NewFVMError(types.ErrAlreadyAllocated, "Extend",
			"vslice %d of partition %d is backed by pslice %d", taken.vslice, vpart, taken.pslice)
	}

	entry := a.md.Partitions[vpart]
	if uint64(entry.Slices)+length > uint64(^uint32(0)) {
		return types.NewFVMError(types.ErrInvalidArgument, "Extend",
			"partition %d would hold more than %d slices", vpart, ^uint32(0))
	}

	pslices, err := a.free.allocate(length)
	if err != nil {
		return types.NewFVMError(types.ErrNoSpace, "Extend",
			"%d slices requested, %d free", length, a.free.free())
	}
	for i, p := range pslices {
		a.setSlice(p, types.NewSliceEntry(vpart, vsliceStart+uint64(i)))
	}

	entry.Slices += uint32(length)
	a.SetPartition(vpart, entry)

	glog.V(1).Infof("extended partition %d by [%d, +%d)", vpart, vsliceStart, length)
	return nil
}

// Shrink implements interfaces.SliceAllocator. Virtual slice 0 is released only when the
// partition is destroyed.
func (a *Allocator) Shrink(vpart, vsliceStart, length uint64) error {
	if length == 0 {
		return nil
	}
	if err := a.checkPartition("Shrink", vpart); err != nil {
		return err
	}
	if vsliceStart == 0 {
		return types.NewFVMError(types.ErrInvalidArgument, "Shrink", "vslice 0 cannot be released")
	}
	if err := a.checkRange("Shrink", vsliceStart, length); err != nil {
		return err
	}

	var victims []mapping
	a.tree(vpart).AscendRange(mapping{vslice: vsliceStart}, mapping{vslice: vsliceStart + length},
		func(m mapping) bool {
			victims = append(victims, m)
			return true
		})
	if len(victims) == 0 {
		return types.NewFVMError(types.ErrNotFound, "Shrink",
			"no slices of partition %d in [%d, +%d)", vpart, vsliceStart, length)
	}

	a.release(vpart, victims)
	glog.V(1).Infof("shrank partition %d by %d slices in [%d, +%d)", vpart, len(victims), vsliceStart, length)
	return nil
}

// FreeAll implements interfaces.SliceAllocator
func (a *Allocator) FreeAll(vpart uint64) uint64 {
	if vpart == 0 || vpart >= uint64(len(a.index)) || a.index[vpart] == nil {
		return 0
	}
	var victims []mapping
	a.index[vpart].Ascend(func(m mapping) bool {
		victims = append(victims, m)
		return true
	})
	a.release(vpart, victims)
	return uint64(len(victims))
}

func (a *Allocator) release(vpart uint64, victims []mapping) {
	if len(victims) == 0 {
		return
	}
	for _, m := range victims {
		a.setSlice(m.pslice, 0)
	}
	entry := a.md.Partitions[vpart]
	if uint64(entry.Slices) < uint64(len(victims)) {
		entry.Slices = 0
	} else {
		entry.Slices -= uint32(len(victims))
	}
	a.SetPartition(vpart, entry)
}

// Query implements interfaces.SliceAllocator
func (a *Allocator) Query(vpart uint64, starts []uint64) ([]types.VSliceRange, error) {
	if len(starts) > types.MaxVSliceRequests {
		return nil, types.NewFVMError(types.ErrBufferTooSmall, "Query",
			"%d starts requested, at most %d", len(starts), types.MaxVSliceRequests)
	}
	if err := a.checkPartition("Query", vpart); err != nil {
		return nil, err
	}

	tree := a.tree(vpart)
	ranges := make([]types.VSliceRange, 0, len(starts))
	for _, start := range starts {
		if start >= types.VSliceMax {
			return nil, types.NewFVMError(types.ErrOutOfRange, "Query", "vslice %d", start)
		}

		r := types.VSliceRange{Count: types.VSliceMax - start}
		next := start
		tree.AscendGreaterOrEqual(mapping{vslice: start}, func(m mapping) bool {
			if m.vslice != next {
				if next == start {
					r.Count = m.vslice - start
				}
				return false
			}
			r.Allocated = true
			next++
			return true
		})
		if r.Allocated {
			r.Count = next - start
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// Lookup implements interfaces.SliceAllocator
func (a *Allocator) Lookup(vpart, vslice uint64) (uint64, bool) {
	if vpart == 0 || vpart >= uint64(len(a.index)) || a.index[vpart] == nil {
		return 0, false
	}
	m, ok := a.index[vpart].Get(mapping{vslice: vslice})
	return m.pslice, ok
}

// Runs implements interfaces.SliceAllocator
func (a *Allocator) Runs(vpart, vsliceStart, length uint64) ([]interfaces.SliceRun, error) {
	if length == 0 {
		return nil, nil
	}
	if err := a.checkPartition("Runs", vpart); err != nil {
		return nil, err
	}
	if vsliceStart >= types.VSliceMax || length > types.VSliceMax-vsliceStart {
		return nil, types.NewFVMError(types.ErrOutOfRange, "Runs", "vslice range [%d, +%d)", vsliceStart, length)
	}

	var runs []interfaces.SliceRun
	next := vsliceStart
	end := vsliceStart + length
	a.tree(vpart).AscendRange(mapping{vslice: vsliceStart}, mapping{vslice: end}, func(m mapping) bool {
		if m.vslice != next {
			return false
		}
		if n := len(runs); n > 0 && runs[n-1].PSlice+runs[n-1].Count == m.pslice {
			runs[n-1].Count++
		} else {
			runs = append(runs, interfaces.SliceRun{VSlice: m.vslice, PSlice: m.pslice, Count: 1})
		}
		next++
		return true
	})
	if next != end {
		return nil, types.NewFVMError(types.ErrOutOfRange, "Runs",
			"vslice %d of partition %d is not allocated", next, vpart)
	}
	return runs, nil
}

// AllocatedCount implements interfaces.SliceAllocator
func (a *Allocator) AllocatedCount(vpart uint64) uint64 {
	if vpart == 0 || vpart >= uint64(len(a.index)) || a.index[vpart] == nil {
		return 0
	}
	return uint64(a.index[vpart].Len())
}

// FreeCount implements interfaces.SliceAllocator
func (a *Allocator) FreeCount() uint64 {
	return a.free.free()
}

// String summarises the allocator state for logs
func (a *Allocator) String() string {
	return fmt.Sprintf("allocator{slices: %d, free: %d}", len(a.md.Slices)-1, a.free.free())
}
