package joblog

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLenPrefixed(t *testing.T, buf []byte, off int) (string, int) {
	t.Helper()
	n := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	return string(buf[off : off+int(n)]), off + int(n)
}

func TestOutputLogWriteAndDecode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.log")
	l, err := OpenOutputLog(path)
	require.NoError(t, err)

	rec := OutputRecord{
		Time:      time.Unix(1_700_000_000, 0),
		HostAlias: "host1",
		FileName:  "data.csv",
		Size:      4096,
		JobID:     42,
		Duration:  250 * time.Millisecond,
	}
	require.NoError(t, l.Write(rec))
	require.NoError(t, l.Close())

	buf, err := os.ReadFile(path)
	require.NoError(t, err)

	gotTime := int64(binary.LittleEndian.Uint64(buf[0:]))
	gotSize := int64(binary.LittleEndian.Uint64(buf[8:]))
	gotDuration := time.Duration(binary.LittleEndian.Uint64(buf[16:]))
	gotJobID := binary.LittleEndian.Uint32(buf[24:])
	assert.Equal(t, rec.Time.Unix(), gotTime)
	assert.Equal(t, rec.Size, gotSize)
	assert.Equal(t, rec.Duration, gotDuration)
	assert.Equal(t, rec.JobID, gotJobID)

	host, off := readLenPrefixed(t, buf, 28)
	name, _ := readLenPrefixed(t, buf, off)
	assert.Equal(t, "host1", host)
	assert.Equal(t, "data.csv", name)
}

func TestOutputLogAppendsMultipleRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.log")
	l, err := OpenOutputLog(path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Write(OutputRecord{HostAlias: "h", FileName: "f"}))
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestDeleteLogWriteAndDecode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delete.log")
	l, err := OpenDeleteLog(path)
	require.NoError(t, err)

	rec := DeleteRecord{
		Time:      time.Unix(1_700_000_500, 0),
		HostAlias: "host2",
		FileName:  "stale.dat",
		Size:      128,
		Reason:    DeleteReasonServerDeletedDuringFetch,
	}
	require.NoError(t, l.Write(rec))
	require.NoError(t, l.Close())

	buf, err := os.ReadFile(path)
	require.NoError(t, err)

	gotTime := int64(binary.LittleEndian.Uint64(buf[0:]))
	gotSize := int64(binary.LittleEndian.Uint64(buf[8:]))
	gotReason := DeleteReason(int32(binary.LittleEndian.Uint32(buf[16:])))
	assert.Equal(t, rec.Time.Unix(), gotTime)
	assert.Equal(t, rec.Size, gotSize)
	assert.Equal(t, rec.Reason, gotReason)

	host, off := readLenPrefixed(t, buf, 20)
	name, _ := readLenPrefixed(t, buf, off)
	assert.Equal(t, "host2", host)
	assert.Equal(t, "stale.dat", name)
}

func TestSummaryStringIncludesBurstTagOnlyWhenMultiBurst(t *testing.T) {
	single := Summary{HostAlias: "host1", Files: 2, Bytes: 2048, Duration: time.Second, BurstCount: 1}
	assert.NotContains(t, single.String(), "BURST")

	multi := Summary{HostAlias: "host1", Files: 5, Bytes: 4096, Duration: time.Second, BurstCount: 3}
	assert.Contains(t, multi.String(), "[BURST=3]")
}

func TestSummaryStringHandlesZeroDuration(t *testing.T) {
	s := Summary{HostAlias: "host1", Files: 0, Bytes: 0, Duration: 0}
	assert.Contains(t, s.String(), "n/a")
}
