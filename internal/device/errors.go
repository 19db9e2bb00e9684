// Package device provides block devices the volume manager can be layered on: a regular
// file or raw disk, a sparse in-memory ramdisk, and a fault-injecting wrapper used to
// simulate torn writes and device removal.
package device

import (
	"github.com/pkg/errors"
)

var (
	// ErrBlockSize indicates that an offset or buffer length is not a multiple of the block size.
	ErrBlockSize = errors.New("argument is not a multiple of blocksize")

	// ErrOutOfBounds indicates that the requested range is beyond the end of the device.
	ErrOutOfBounds = errors.New("range is out of bounds")

	// ErrClosed indicates that the device has been closed or removed.
	ErrClosed = errors.New("device is closed")
)

// checkRange validates a block-granular request against a device geometry.
func checkRange(blockSize uint32, blockCount uint64, start uint64, p []byte) error {
	if len(p)%int(blockSize) != 0 {
		return errors.Wrap(ErrBlockSize, "len(p)")
	}
	count := uint64(len(p)) / uint64(blockSize)
	if start > blockCount || count > blockCount-start {
		return errors.Wrapf(ErrOutOfBounds, "blocks [%v, %v)", start, start+count)
	}
	return nil
}
