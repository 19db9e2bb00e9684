package metadata

import (
	"github.com/golang/glog"

	"github.com/deploymenttheory/go-fvm/internal/interfaces"
	mdparser "github.com/deploymenttheory/go-fvm/internal/parsers/metadata"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

// Copy indices.
const (
	PrimaryCopy = 0
	BackupCopy  = 1
)

// Copies holds the raw bytes of both metadata copies as read from a device
type Copies struct {
	// Raw bytes indexed by PrimaryCopy / BackupCopy
	Raw [2][]byte

	// Device byte offsets of the copies
	Offsets [2]uint64

	// Size of one copy in bytes
	MetadataSize uint64

	// Size of the device in bytes
	DeviceSize uint64
}

// ReadCopies reads both metadata copies from dev. The copy size comes from the primary
// superblock when it is readable; otherwise the backup is located by probing every offset a
// format of this device could have placed it at.
func ReadCopies(dev interfaces.BlockDevice) (*Copies, error) {
	info := dev.BlockInfo()
	if info.BlockSize == 0 || types.MetadataBlockSize%uint64(info.BlockSize) != 0 {
		return nil, types.NewFVMError(types.ErrInvalidArgument, "ReadCopies",
			"device block size %d does not divide %d", info.BlockSize, types.MetadataBlockSize)
	}
	deviceSize := info.Size()
	if deviceSize < 2*types.MetadataBlockSize {
		return nil, types.NewFVMError(types.ErrUnrecoverable, "ReadCopies", "device of %d bytes is too small", deviceSize)
	}

	header, err := readRange(dev, 0, types.MetadataBlockSize)
	if err != nil {
		return nil, err
	}

	metadataSize := uint64(0)
	if r, err := mdparser.NewSuperblockReader(header, mdparser.Endian); err == nil && r.CheckBounds(deviceSize) == nil {
		metadataSize = r.MetadataSize()
	} else {
		glog.Warningf("primary superblock unreadable (%v), probing for backup", err)
		metadataSize, err = probeBackup(dev, deviceSize)
		if err != nil {
			return nil, err
		}
	}

	if 2*metadataSize > deviceSize {
		return nil, types.NewFVMError(types.ErrUnrecoverable, "ReadCopies",
			"metadata of %d bytes does not fit a device of %d bytes", metadataSize, deviceSize)
	}

	c := &Copies{
		Offsets:      [2]uint64{0, metadataSize},
		MetadataSize: metadataSize,
		DeviceSize:   deviceSize,
	}
	for i := range c.Raw {
		if c.Raw[i], err = readRange(dev, c.Offsets[i], metadataSize); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// probeBackup searches for a backup superblock whose declared metadata size equals its
// own offset. Any slice size that is a multiple of MetadataBlockSize is valid, so every
// allocation table size from one block up to the one a single-block slice size needs is tried.
func probeBackup(dev interfaces.BlockDevice, deviceSize uint64) (uint64, error) {
	maxTable := types.AllocationTableLength(deviceSize, types.MetadataBlockSize)
	for table := types.MetadataBlockSize; table <= maxTable; table += types.MetadataBlockSize {
		off := types.MetadataSizeFor(table)
		if off+types.MetadataBlockSize > deviceSize {
			break
		}
		header, err := readRange(dev, off, types.MetadataBlockSize)
		if err != nil {
			return 0, err
		}
		r, err := mdparser.NewSuperblockReader(header, mdparser.Endian)
		if err != nil || r.CheckBounds(deviceSize) != nil {
			continue
		}
		if r.MetadataSize() == off {
			glog.V(1).Infof("found backup superblock at offset %d (slice size %d)", off, r.SliceSize())
			return off, nil
		}
	}
	return 0, types.NewFVMError(types.ErrUnrecoverable, "ReadCopies", "no readable superblock in either copy")
}

// readRange reads length bytes at byte offset off. Both must be block aligned.
func readRange(dev interfaces.BlockDevice, off, length uint64) ([]byte, error) {
	bs := uint64(dev.BlockInfo().BlockSize)
	buf := make([]byte, length)
	if err := dev.ReadBlocks(off/bs, buf); err != nil {
		return nil, types.NewFVMError(types.ErrIO, "read metadata", "offset %d: %v", off, err)
	}
	return buf, nil
}

// writeRange writes data at byte offset off. off must be block aligned.
func writeRange(dev interfaces.BlockDevice, off uint64, data []byte) error {
	bs := uint64(dev.BlockInfo().BlockSize)
	if err := dev.WriteBlocks(off/bs, data); err != nil {
		return types.NewFVMError(types.ErrIO, "write metadata", "offset %d: %v", off, err)
	}
	return nil
}
