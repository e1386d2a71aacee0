//go:build !windows && !plan9

// Package localfile holds the handful of local-filesystem details the
// fetch worker needs beyond what os/io already cover: preserving a
// downloaded file's remote timestamp when a directory's
// keep_time_stamp option (spec §3.2) asks for it. Adapted from the
// teacher's backend/local lChtimes helper, which does the same
// utimes(2) call to support its own --local-no-set-modtime-on-copy
// surface.
package localfile

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// SetModTime sets path's access and modification time to t, the way
// lChtimes does for a plain (non-symlink) file: used after a fetch
// worker renames a completed download into place, spec §4.4 step 9
// "if keep_time_stamp, set local mtime from the remote listing".
func SetModTime(path string, t time.Time) error {
	var utimes [2]unix.Timespec
	utimes[0] = unix.NsecToTimespec(t.UnixNano())
	utimes[1] = unix.NsecToTimespec(t.UnixNano())
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, utimes[:], unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return &os.PathError{Op: "chtimes", Path: path, Err: err}
	}
	return nil
}
