package device

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeviceReadWrite(t *testing.T) {
	d := NewMemoryDevice(512, 64)
	info := d.BlockInfo()
	assert.Equal(t, uint32(512), info.BlockSize)
	assert.Equal(t, uint64(64), info.BlockCount)
	assert.Equal(t, uint64(512*64), info.Size())

	buf := make([]byte, 1024)
	require.NoError(t, d.ReadBlocks(10, buf))
	assert.Equal(t, make([]byte, 1024), buf, "unwritten blocks read as zeros")

	pattern := bytes.Repeat([]byte{0xA5}, 1024)
	require.NoError(t, d.WriteBlocks(10, pattern))
	require.NoError(t, d.ReadBlocks(10, buf))
	assert.Equal(t, pattern, buf)

	// Partially overlapping read sees one written and one empty block.
	require.NoError(t, d.ReadBlocks(11, buf))
	assert.Equal(t, pattern[:512], buf[:512])
	assert.Equal(t, make([]byte, 512), buf[512:])
}

func TestMemoryDeviceBounds(t *testing.T) {
	d := NewMemoryDevice(512, 8)

	err := d.ReadBlocks(0, make([]byte, 100))
	assert.True(t, errors.Is(err, ErrBlockSize))

	err = d.WriteBlocks(7, make([]byte, 1024))
	assert.True(t, errors.Is(err, ErrOutOfBounds))

	err = d.ReadBlocks(9, make([]byte, 0))
	assert.True(t, errors.Is(err, ErrOutOfBounds))

	assert.NoError(t, d.WriteBlocks(7, make([]byte, 512)))
}

func TestMemoryDeviceCloseAndReopen(t *testing.T) {
	d := NewMemoryDevice(512, 8)
	pattern := bytes.Repeat([]byte{0x3C}, 512)
	require.NoError(t, d.WriteBlocks(3, pattern))
	require.NoError(t, d.Close())

	assert.True(t, errors.Is(d.ReadBlocks(3, make([]byte, 512)), ErrClosed))
	assert.True(t, errors.Is(d.WriteBlocks(3, pattern), ErrClosed))
	assert.True(t, errors.Is(d.Flush(), ErrClosed))

	r := d.Reopen()
	buf := make([]byte, 512)
	require.NoError(t, r.ReadBlocks(3, buf))
	assert.Equal(t, pattern, buf)
}
