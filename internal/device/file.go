package device

import (
	"io"
	"os"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-fvm/internal/types"
)

// FileDevice is a block device backed by a regular file or a raw disk node.
type FileDevice struct {
	mu         sync.RWMutex
	f          *os.File
	path       string
	blockSize  uint32
	blockCount uint64
	readOnly   bool
}

// OpenFile opens path as a block device with the given block size. The device size is the
// file size rounded down to a whole number of blocks.
func OpenFile(path string, blockSize uint32, readOnly bool) (*FileDevice, error) {
	if blockSize == 0 {
		return nil, errors.Wrap(ErrBlockSize, "zero block size")
	}

	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}

	size := info.Size()
	if info.Mode()&os.ModeDevice != 0 {
		if end, err := f.Seek(0, io.SeekEnd); err == nil {
			size = end
		}
	}

	if glog.V(2) {
		glog.Info("File name:      ", info.Name())
		glog.Info("     size:      ", size)
		glog.Info("     mode:      ", info.Mode())
		glog.Info("     blocksize: ", blockSize)
	}

	return &FileDevice{
		f:          f,
		path:       path,
		blockSize:  blockSize,
		blockCount: uint64(size) / uint64(blockSize),
		readOnly:   readOnly,
	}, nil
}

// CreateFile creates (or truncates) a sparse image file of size bytes and opens it.
func CreateFile(path string, size int64, blockSize uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", path)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to size %s", path)
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrapf(err, "failed to close %s", path)
	}
	return OpenFile(path, blockSize, false)
}

// Path returns the path of the backing file.
func (d *FileDevice) Path() string {
	return d.path
}

// BlockInfo implements interfaces.BlockDeviceReader.
func (d *FileDevice) BlockInfo() types.BlockInfo {
	return types.BlockInfo{BlockSize: d.blockSize, BlockCount: d.blockCount}
}

// ReadBlocks implements interfaces.BlockDeviceReader.
func (d *FileDevice) ReadBlocks(start uint64, p []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.f == nil {
		return errors.WithStack(ErrClosed)
	}
	if err := checkRange(d.blockSize, d.blockCount, start, p); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(p, int64(start)*int64(d.blockSize)); err != nil {
		return errors.Wrapf(err, "read of %d bytes at block %d", len(p), start)
	}
	return nil
}

// WriteBlocks implements interfaces.BlockDeviceWriter.
func (d *FileDevice) WriteBlocks(start uint64, p []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.f == nil {
		return errors.WithStack(ErrClosed)
	}
	if d.readOnly {
		return errors.Errorf("%s is opened read-only", d.path)
	}
	if err := checkRange(d.blockSize, d.blockCount, start, p); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(p, int64(start)*int64(d.blockSize)); err != nil {
		return errors.Wrapf(err, "write of %d bytes at block %d", len(p), start)
	}
	return nil
}

// Flush implements interfaces.BlockDeviceWriter.
func (d *FileDevice) Flush() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.f == nil {
		return errors.WithStack(ErrClosed)
	}
	if d.readOnly {
		return nil
	}
	return errors.Wrap(d.f.Sync(), "sync")
}

// Close flushes and closes the backing file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return nil
	}
	var err error
	if !d.readOnly {
		err = d.f.Sync()
	}
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	d.f = nil
	return errors.Wrapf(err, "close %s", d.path)
}
