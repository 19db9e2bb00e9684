// File: internal/interfaces/block_device.go
package interfaces

import (
	"io"

	"github.com/deploymenttheory/go-fvm/internal/types"
)

// BlockDeviceReader provides methods for reading from block devices
type BlockDeviceReader interface {
	// ReadBlocks fills buf starting at block start. len(buf) must be a multiple of the
	// block size.
	ReadBlocks(start uint64, buf []byte) error

	// BlockInfo returns the block size and block count of the device
	BlockInfo() types.BlockInfo
}

// BlockDeviceWriter provides methods for writing to block devices
type BlockDeviceWriter interface {
	// WriteBlocks writes buf starting at block start. len(buf) must be a multiple of the
	// block size.
	WriteBlocks(start uint64, buf []byte) error

	// Flush ensures all previous writes are committed to stable storage
	Flush() error
}

// BlockDevice represents a complete block device interface
type BlockDevice interface {
	BlockDeviceReader
	BlockDeviceWriter
	io.Closer
}
