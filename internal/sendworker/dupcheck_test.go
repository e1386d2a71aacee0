package sendworker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFileStableForSameContent(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.txt")
	p2 := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(p1, []byte("same content"), 0o644))
	require.NoError(t, os.WriteFile(p2, []byte("same content"), 0o644))

	h1, err := HashFile(p1)
	require.NoError(t, err)
	h2, err := HashFile(p2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashFileDiffersForDifferentContent(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.txt")
	p2 := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(p1, []byte("content one"), 0o644))
	require.NoError(t, os.WriteFile(p2, []byte("content two"), 0o644))

	h1, err := HashFile(p1)
	require.NoError(t, err)
	h2, err := HashFile(p2)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestDupCheckerRemembersAndEvicts(t *testing.T) {
	d := NewDupChecker(2)
	assert.False(t, d.IsDuplicate(1))

	d.Remember(1)
	assert.True(t, d.IsDuplicate(1))

	d.Remember(2)
	d.Remember(3) // evicts 1, the oldest

	assert.False(t, d.IsDuplicate(1))
	assert.True(t, d.IsDuplicate(2))
	assert.True(t, d.IsDuplicate(3))
}

func TestDupCheckerUnboundedWhenCapZero(t *testing.T) {
	d := NewDupChecker(0)
	for i := uint64(0); i < 1000; i++ {
		d.Remember(i)
	}
	assert.True(t, d.IsDuplicate(0))
	assert.True(t, d.IsDuplicate(999))
}
