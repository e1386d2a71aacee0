package listing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineValidFile(t *testing.T) {
	e, ok := ParseLine("Type=file;Size=1234;Modify=20230615120000; report.csv")
	require.True(t, ok)
	assert.Equal(t, "report.csv", e.Name)
	assert.Equal(t, TypeFile, e.Type)
	assert.EqualValues(t, 1234, e.Size)
	assert.True(t, e.GotDate)
	assert.Equal(t, time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC), e.Modify)
}

func TestParseLineSymlink(t *testing.T) {
	e, ok := ParseLine("type=OS.unix=slink;unix.slink=/data/real.csv; shortcut.csv")
	require.True(t, ok)
	assert.Equal(t, TypeSymlink, e.Type)
	assert.Equal(t, "/data/real.csv", e.LinkTarget)
}

func TestParseLineNoSizeFact(t *testing.T) {
	e, ok := ParseLine("Type=file;Modify=20230615120000; nosize.csv")
	require.True(t, ok)
	assert.EqualValues(t, -1, e.Size)
}

func TestParseLineMalformedSkipped(t *testing.T) {
	_, ok := ParseLine("garbage with no fact separator or name")
	assert.False(t, ok)

	_, ok = ParseLine("")
	assert.False(t, ok)

	_, ok = ParseLine("Size=10;")
	assert.False(t, ok) // no space => no filename
}

// TestParseScenarioS1 exercises a listing response with one malformed
// record among otherwise-valid ones: the scan must keep every valid
// entry and report exactly one skip, never aborting the whole scan.
func TestParseScenarioS1(t *testing.T) {
	body := strings.Join([]string{
		"Type=file;Size=10;Modify=20230101000000; a.txt",
		"this line has no space-separated name so it cannot be parsed",
		"Type=file;Size=20;Modify=20230101000100; b.txt",
		"Type=cdir;Modify=20230101000000; .",
		"Type=pdir;Modify=20230101000000; ..",
	}, "\r\n") + "\r\n"

	res, err := Parse(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "a.txt", res.Entries[0].Name)
	assert.Equal(t, "b.txt", res.Entries[1].Name)
}

func TestParseIgnoresDotEntries(t *testing.T) {
	body := "Type=dir;Modify=20230101000000; .\r\nType=dir;Modify=20230101000000; ..\r\nType=file;Size=1; x\r\n"
	res, err := Parse(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "x", res.Entries[0].Name)
}
