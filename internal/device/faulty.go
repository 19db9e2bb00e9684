package device

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-fvm/internal/interfaces"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

// ErrInjected is returned by a FaultyDevice once a configured fault triggers.
var ErrInjected = errors.New("injected device fault")

// FaultyDevice wraps a block device and fails writes after a budget of blocks has been
// written. A write that straddles the budget is applied partially before failing, which
// models a torn write interrupted by power loss.
type FaultyDevice struct {
	interfaces.BlockDevice

	mu          sync.Mutex
	writeBudget int64 // blocks that may still be written; negative means unlimited
	readFail    bool
	removed     bool
}

// NewFaultyDevice wraps dev with no faults armed.
func NewFaultyDevice(dev interfaces.BlockDevice) *FaultyDevice {
	return &FaultyDevice{BlockDevice: dev, writeBudget: -1}
}

// FailWritesAfter arms the device so that only the next blocks blocks are written.
func (d *FaultyDevice) FailWritesAfter(blocks int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeBudget = blocks
}

// FailReads makes every subsequent read fail.
func (d *FaultyDevice) FailReads(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readFail = fail
}

// Remove simulates the device being pulled: every later call fails.
func (d *FaultyDevice) Remove() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = true
}

// Heal disarms every fault.
func (d *FaultyDevice) Heal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeBudget = -1
	d.readFail = false
	d.removed = false
}

// ReadBlocks implements interfaces.BlockDeviceReader.
func (d *FaultyDevice) ReadBlocks(start uint64, p []byte) error {
	d.mu.Lock()
	fail := d.readFail || d.removed
	d.mu.Unlock()
	if fail {
		return errors.Wrapf(ErrInjected, "read at block %d", start)
	}
	return d.BlockDevice.ReadBlocks(start, p)
}

// WriteBlocks implements interfaces.BlockDeviceWriter.
func (d *FaultyDevice) WriteBlocks(start uint64, p []byte) error {
	bs := int64(d.BlockInfo().BlockSize)
	blocks := int64(len(p)) / bs

	d.mu.Lock()
	if d.removed {
		d.mu.Unlock()
		return errors.Wrapf(ErrInjected, "write at block %d", start)
	}
	allowed := blocks
	if d.writeBudget >= 0 {
		if d.writeBudget < allowed {
			allowed = d.writeBudget
		}
		d.writeBudget -= allowed
	}
	d.mu.Unlock()

	if allowed > 0 {
		if err := d.BlockDevice.WriteBlocks(start, p[:allowed*bs]); err != nil {
			return err
		}
	}
	if allowed < blocks {
		return errors.Wrapf(ErrInjected, "torn write at block %d after %d of %d blocks", start, allowed, blocks)
	}
	return nil
}

// Flush implements interfaces.BlockDeviceWriter.
func (d *FaultyDevice) Flush() error {
	d.mu.Lock()
	removed := d.removed
	d.mu.Unlock()
	if removed {
		return errors.WithStack(ErrInjected)
	}
	return d.BlockDevice.Flush()
}

// BlockInfo implements interfaces.BlockDeviceReader.
func (d *FaultyDevice) BlockInfo() types.BlockInfo {
	return d.BlockDevice.BlockInfo()
}
