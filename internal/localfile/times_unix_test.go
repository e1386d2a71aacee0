//go:build !windows && !plan9

package localfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetModTimeSetsMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	want := time.Date(2019, 6, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, SetModTime(path, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.WithinDuration(t, want, info.ModTime(), time.Second)
}

func TestSetModTimeMissingFileReturnsPathError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")
	err := SetModTime(path, time.Now())
	require.Error(t, err)
	var pathErr *os.PathError
	assert.ErrorAs(t, err, &pathErr)
}
