// Package byterange describes byte ranges within shared, memory-mapped
// status files and turns them into advisory fcntl locks.
//
// The FSA, FRA and RL on-disk formats are all flat arrays of fixed-size
// records behind a small header; every lock taken against them is a lock
// on a sub-range of the backing file, keyed by record offset and size.
package byterange

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Range is a half-open byte range [Pos, Pos+Size) within a file.
type Range struct {
	Pos  int64
	Size int64
}

// End returns the first byte position beyond the range.
func (r Range) End() int64 {
	return r.Pos + r.Size
}

// IsEmpty returns true if the range contains no bytes.
func (r Range) IsEmpty() bool {
	return r.Size <= 0
}

// Intersection returns the overlap between r and b, which is empty if
// they don't overlap.
func (r Range) Intersection(b Range) Range {
	pos := max64(r.Pos, b.Pos)
	end := min64(r.End(), b.End())
	if end <= pos {
		return Range{}
	}
	return Range{Pos: pos, Size: end - pos}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// EntryRange computes the byte range covered by the entry at index idx
// in an array of fixed-size records starting at headerSize.
func EntryRange(headerSize int64, entrySize int64, idx int) Range {
	return Range{Pos: headerSize + int64(idx)*entrySize, Size: entrySize}
}

// Lock takes a blocking, exclusive, advisory byte-range lock on fd
// covering r. It corresponds to the C source's lock_region(): mutations
// to a shared FSA/FRA/RL record must happen while holding this lock.
func Lock(fd int, r Range) error {
	return fcntlLock(fd, unix.F_SETLKW, unix.F_WRLCK, r)
}

// TryLock is the non-blocking variant (lock_region_w in the C source):
// it returns immediately with an error if the range is already locked by
// another process instead of waiting.
func TryLock(fd int, r Range) error {
	return fcntlLock(fd, unix.F_SETLK, unix.F_WRLCK, r)
}

// Unlock releases a lock previously taken with Lock or TryLock.
func Unlock(fd int, r Range) error {
	return fcntlLock(fd, unix.F_SETLK, unix.F_UNLCK, r)
}

func fcntlLock(fd int, cmd int, typ int16, r Range) error {
	lk := unix.Flock_t{
		Type:   typ,
		Whence: int16(unix.SEEK_SET),
		Start:  r.Pos,
		Len:    r.Size,
	}
	if err := unix.FcntlFlock(uintptr(fd), cmd, &lk); err != nil {
		return fmt.Errorf("byterange: lock %+v on fd %d: %w", r, fd, err)
	}
	return nil
}

// WithLock runs fn while holding a blocking lock on r, always releasing
// it afterwards regardless of fn's outcome.
func WithLock(fd int, r Range, fn func() error) error {
	if err := Lock(fd, r); err != nil {
		return err
	}
	defer func() { _ = Unlock(fd, r) }()
	return fn()
}
