package retrievelist

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestList(t *testing.T) *List {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rl.dat")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func alwaysAccept(size int64, mtime time.Time, gotDate bool) bool { return true }

// TestCheckListStatelessAcceptsNewFile covers Mode A's append path: a
// never-seen name is appended and assigned in one step.
func TestCheckListStatelessAcceptsNewFile(t *testing.T) {
	l := openTestList(t)
	mode := Mode{Stateless: true}
	var files int
	var size int64

	res, err := l.CheckList(mode, 0, "a.txt", 100, time.Unix(1000, 0), true,
		Predicates{Accept: alwaysAccept, WithinCaps: func(int64) bool { return true }},
		&files, &size)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 1, files)
	assert.EqualValues(t, 100, size)

	entry := l.Get(res.Index)
	assert.Equal(t, "a.txt", entry.FileName)
	assert.Equal(t, 1, entry.Assigned)
}

// TestCheckListCapRollback covers scenario S2 from the spec: a file
// that fails the batch-cap check must be reset to unassigned and
// reported via MoreInList, and must not be double-counted into the
// running totals.
func TestCheckListCapRollback(t *testing.T) {
	l := openTestList(t)
	mode := Mode{Stateless: true}
	var files int
	var size int64

	res, err := l.CheckList(mode, 0, "too-big.bin", 1_000_000, time.Unix(2000, 0), true,
		Predicates{Accept: alwaysAccept, WithinCaps: func(int64) bool { return false }},
		&files, &size)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.True(t, res.MoreInList)
	assert.Equal(t, 0, files)
	assert.EqualValues(t, 0, size)

	entry := l.Get(res.Index)
	assert.Equal(t, 0, entry.Assigned)
}

// TestCheckListPersistentSkipsRetrieved covers Mode B: an entry already
// marked retrieved for an unchanged (size, mtime) pair must not be
// re-assigned or re-counted on a later scan.
func TestCheckListPersistentSkipsRetrieved(t *testing.T) {
	l := openTestList(t)
	mode := Mode{Stateless: false}
	var files int
	var size int64

	res, err := l.CheckList(mode, 0, "done.txt", 50, time.Unix(3000, 0), true,
		Predicates{Accept: alwaysAccept, WithinCaps: func(int64) bool { return true }},
		&files, &size)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	l.MarkRetrieved(res.Index)

	files, size = 0, 0
	res2, err := l.CheckList(mode, 1, "done.txt", 50, time.Unix(3000, 0), true,
		Predicates{Accept: alwaysAccept, WithinCaps: func(int64) bool { return true }},
		&files, &size)
	require.NoError(t, err)
	assert.False(t, res2.Accepted)
	assert.Equal(t, 0, files)
	assert.True(t, l.Get(res2.Index).Retrieved)
}

// TestCheckListPersistentResetsOnChange covers Mode B's "changed file"
// branch: a size or mtime change on a previously-retrieved entry must
// clear Retrieved so the file is picked up again.
func TestCheckListPersistentResetsOnChange(t *testing.T) {
	l := openTestList(t)
	mode := Mode{Stateless: false}
	var files int
	var size int64

	res, err := l.CheckList(mode, 0, "grown.txt", 50, time.Unix(4000, 0), true,
		Predicates{Accept: alwaysAccept, WithinCaps: func(int64) bool { return true }},
		&files, &size)
	require.NoError(t, err)
	l.MarkRetrieved(res.Index)

	files, size = 0, 0
	res2, err := l.CheckList(mode, 0, "grown.txt", 999, time.Unix(4500, 0), true,
		Predicates{Accept: alwaysAccept, WithinCaps: func(int64) bool { return true }},
		&files, &size)
	require.NoError(t, err)
	assert.True(t, res2.Accepted)
	assert.Equal(t, 1, files)
	assert.EqualValues(t, 999, size)
}

func TestGrowIfNeededRemaps(t *testing.T) {
	l := openTestList(t)
	mode := Mode{Stateless: false}
	var files int
	var size int64

	for i := 0; i < RetrieveListStepSize+5; i++ {
		_, err := l.CheckList(mode, 0, sprintfName(i), 1, time.Unix(int64(i), 0), true,
			Predicates{Accept: alwaysAccept, WithinCaps: func(int64) bool { return true }},
			&files, &size)
		require.NoError(t, err)
	}
	assert.Equal(t, RetrieveListStepSize+5, l.NoOfListedFiles())
	assert.GreaterOrEqual(t, l.capacity(), RetrieveListStepSize+5)
}

func sprintfName(i int) string {
	return "file-" + strconv.Itoa(i)
}
