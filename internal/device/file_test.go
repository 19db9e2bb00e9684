package device

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	d, err := CreateFile(path, 1<<20, 4096)
	require.NoError(t, err)
	assert.Equal(t, path, d.Path())
	assert.Equal(t, uint64(256), d.BlockInfo().BlockCount)

	pattern := bytes.Repeat([]byte{0x5A}, 8192)
	require.NoError(t, d.WriteBlocks(100, pattern))
	require.NoError(t, d.Flush())
	require.NoError(t, d.Close())
	assert.True(t, errors.Is(d.ReadBlocks(100, make([]byte, 4096)), ErrClosed))

	ro, err := OpenFile(path, 4096, true)
	require.NoError(t, err)
	defer ro.Close()

	buf := make([]byte, 8192)
	require.NoError(t, ro.ReadBlocks(100, buf))
	assert.Equal(t, pattern, buf)
	assert.Error(t, ro.WriteBlocks(0, buf), "read-only device rejects writes")
	assert.True(t, errors.Is(ro.ReadBlocks(255, buf), ErrOutOfBounds))
}

func TestOpenFileErrors(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.img"), 512, true)
	assert.Error(t, err)

	_, err = OpenFile("ignored", 0, true)
	assert.True(t, errors.Is(err, ErrBlockSize))
}
