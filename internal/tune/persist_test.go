package tune

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tune-cache.json")

	src := NewTuner()
	src.Restore([]Entry{
		{Device: "CPU", Op: "conv2d", Key: "k3x3-s1x1", Strategy: "im2col"},
		{Device: "CPU", Op: "conv_transpose2d", Key: "k3x3-s2x2", Strategy: "col2im"},
	})
	require.NoError(t, src.Save(path))

	dst := NewTuner()
	require.NoError(t, dst.Load(path))
	assert.Equal(t, 2, dst.Len())
	assert.ElementsMatch(t, src.Entries(), dst.Entries())
}

func TestLoadRejectsTamperedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tune-cache.json")

	src := NewTuner()
	src.Restore([]Entry{{Device: "CPU", Op: "conv2d", Key: "k", Strategy: "direct"}})
	require.NoError(t, src.Save(path))

	// Flip a strategy without updating the checksum.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var file map[string]any
	require.NoError(t, json.Unmarshal(data, &file))
	entries := file["entries"].([]any)
	entries[0].(map[string]any)["strategy"] = "col2im"
	tampered, err := json.Marshal(file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	dst := NewTuner()
	err = dst.Load(path)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, 0, dst.Len())
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tune-cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "checksum": "", "entries": []}`), 0o600))

	err := NewTuner().Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestLoadMissingFile(t *testing.T) {
	err := NewTuner().Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestSaveEmptyTuner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, NewTuner().Save(path))

	dst := NewTuner()
	require.NoError(t, dst.Load(path))
	assert.Equal(t, 0, dst.Len())
}
