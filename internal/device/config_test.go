package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, uint32(512), cfg.BlockSize)
	assert.True(t, cfg.VerifyWrites)
	assert.True(t, cfg.ReclaimInactive)

	size, err := cfg.SliceSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<20), size)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fvm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("slice_size: 64MiB\nblock_size: 4096\nverify_writes: false\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), cfg.BlockSize)
	assert.False(t, cfg.VerifyWrites)
	size, err := cfg.SliceSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(64<<20), size)

	t.Setenv("FVM_BLOCK_SIZE", "8192")
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(8192), cfg.BlockSize)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit config file must exist")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("slice_size: lots\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestParseAndFormatSize(t *testing.T) {
	n, err := ParseSize("64MiB")
	require.NoError(t, err)
	assert.Equal(t, uint64(64<<20), n)
	assert.Equal(t, "64 MiB", FormatSize(64<<20))

	_, err = ParseSize("sixty")
	assert.Error(t, err)
}
