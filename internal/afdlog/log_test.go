package afdlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLogFile(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func readAll(t *testing.T, f *os.File) string {
	t.Helper()
	_, err := f.Seek(0, 0)
	require.NoError(t, err)
	b, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return string(b)
}

func TestSignName(t *testing.T) {
	assert.Equal(t, "OFFLINE", signName(LevelOffline))
	assert.Equal(t, "DEBUG", signName(LevelDebug))
	assert.Equal(t, "INFO", signName(LevelInfo))
	assert.Equal(t, "WARN", signName(LevelWarn))
	assert.Equal(t, "ERROR", signName(LevelError))
}

func TestLoggerWritesSignAndMessage(t *testing.T) {
	f := openTestLogFile(t)
	lg := New(f)
	lg.Errorf("fetch failed for %s", "host1")

	out := readAll(t, f)
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "fetch failed for host1")
}

func TestLoggerWithTagsAttrs(t *testing.T) {
	f := openTestLogFile(t)
	lg := New(f).With("dir", "incoming")
	lg.Infof("scan complete")

	out := readAll(t, f)
	assert.Contains(t, out, "[dir=incoming]")
	assert.Contains(t, out, "scan complete")
}

func TestLoggerOfflinef(t *testing.T) {
	f := openTestLogFile(t)
	lg := New(f)
	lg.Offlinef("host paused by policy")

	out := readAll(t, f)
	assert.Contains(t, out, "OFFLINE")
}
