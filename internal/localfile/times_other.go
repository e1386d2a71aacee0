//go:build windows || plan9

package localfile

import (
	"os"
	"time"
)

// SetModTime falls back to os.Chtimes on platforms without utimes(2)
// AT_SYMLINK_NOFOLLOW semantics, mirroring the teacher's windows/plan9
// lChtimes stub.
func SetModTime(path string, t time.Time) error {
	return os.Chtimes(path, t, t)
}
