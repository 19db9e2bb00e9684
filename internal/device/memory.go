package device

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-fvm/internal/types"
)

// MemoryDevice is a sparse in-memory block device. Blocks that were never written read
// back as zeros and consume no memory, so large geometries are cheap.
type MemoryDevice struct {
	mu         sync.RWMutex
	blockSize  uint32
	blockCount uint64
	blocks     map[uint64][]byte
	closed     bool
}

// NewMemoryDevice creates a ramdisk of blockCount blocks of blockSize bytes.
func NewMemoryDevice(blockSize uint32, blockCount uint64) *MemoryDevice {
	return &MemoryDevice{
		blockSize:  blockSize,
		blockCount: blockCount,
		blocks:     make(map[uint64][]byte),
	}
}

// BlockInfo implements interfaces.BlockDeviceReader.
func (d *MemoryDevice) BlockInfo() types.BlockInfo {
	return types.BlockInfo{BlockSize: d.blockSize, BlockCount: d.blockCount}
}

// ReadBlocks implements interfaces.BlockDeviceReader.
func (d *MemoryDevice) ReadBlocks(start uint64, p []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return errors.WithStack(ErrClosed)
	}
	if err := checkRange(d.blockSize, d.blockCount, start, p); err != nil {
		return err
	}

	bs := int(d.blockSize)
	for i := 0; i*bs < len(p); i++ {
		dst := p[i*bs : (i+1)*bs]
		if b, ok := d.blocks[start+uint64(i)]; ok {
			copy(dst, b)
		} else {
			for j := range dst {
				dst[j] = 0
			}
		}
	}
	return nil
}

// WriteBlocks implements interfaces.BlockDeviceWriter.
func (d *MemoryDevice) WriteBlocks(start uint64, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.WithStack(ErrClosed)
	}
	if err := checkRange(d.blockSize, d.blockCount, start, p); err != nil {
		return err
	}

	bs := int(d.blockSize)
	for i := 0; i*bs < len(p); i++ {
		b, ok := d.blocks[start+uint64(i)]
		if !ok {
			b = make([]byte, bs)
			d.blocks[start+uint64(i)] = b
		}
		copy(b, p[i*bs:(i+1)*bs])
	}
	return nil
}

// Flush implements interfaces.BlockDeviceWriter.
func (d *MemoryDevice) Flush() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.WithStack(ErrClosed)
	}
	return nil
}

// Close renders the device unusable. Data is retained so that Reopen can simulate a
// rebind of the same ramdisk.
func (d *MemoryDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Reopen returns a new open handle sharing the contents of d.
func (d *MemoryDevice) Reopen() *MemoryDevice {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return &MemoryDevice{
		blockSize:  d.blockSize,
		blockCount: d.blockCount,
		blocks:     d.blocks,
	}
}
