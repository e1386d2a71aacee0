package status

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/holger-afd/afd-transfer/internal/afdmmap"
	"github.com/holger-afd/afd-transfer/internal/byterange"
)

// Directory option bits, spec §3.2.
const (
	DirDoNotParallelize uint32 = 1 << iota
	DirOneProcessJustScanning
	DirZeroSize
	DirAcceptDotFiles
)

const (
	fraHeaderSize = 32
	fraEntrySize  = 512

	offDirAlias        = 0
	offDirMtime        = 64
	offDirFlag         = 72
	offDirOptions      = 76
	offStupidMode      = 80
	offRemove          = 84
	offForceReread     = 88
	offMaxCopiedFiles  = 92
	offMaxCopiedSize   = 96
	offIgnoreSize      = 104
	offIgnoreFileTime  = 112
	offGtLtSign        = 120
	offDeleteFilesFlag = 124
	offUnknownFileTime = 128
	offUnreadFileTime  = 136
	offErrorCounterFRA = 144
	offDirStatus       = 148
)

// DirArea is a mapped FRA file.
type DirArea struct {
	f       *os.File
	m       *afdmmap.Mapping
	numDirs int
}

// OpenDirArea maps an existing FRA file containing numDirs entries.
func OpenDirArea(path string, numDirs int) (*DirArea, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("status: open fra %s: %w", path, err)
	}
	size := int64(fraHeaderSize) + int64(numDirs)*fraEntrySize
	m, err := afdmmap.Open(f, size)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &DirArea{f: f, m: m, numDirs: numDirs}, nil
}

// Close unmaps and closes the FRA file.
func (d *DirArea) Close() error {
	if err := d.m.Close(); err != nil {
		return err
	}
	return d.f.Close()
}

func (d *DirArea) entryOffset(dirPos int) int64 {
	return int64(fraHeaderSize) + int64(dirPos)*fraEntrySize
}

func (d *DirArea) entry(dirPos int) []byte {
	off := d.entryOffset(dirPos)
	return d.m.Bytes()[off : off+fraEntrySize]
}

// LockEC / LockHS are the FRA error-counter and dir-status byte-range
// locks, spec FRA-1, §5.
func (d *DirArea) LockEC(dirPos int) byterange.Range {
	return byterange.Range{Pos: d.entryOffset(dirPos) + offErrorCounterFRA, Size: 4}
}
func (d *DirArea) LockHS(dirPos int) byterange.Range {
	return byterange.Range{Pos: d.entryOffset(dirPos) + offDirStatus, Size: 4}
}

// DirMtime reads the directory's last-known remote mtime.
func (d *DirArea) DirMtime(dirPos int) time.Time {
	sec := int64(binary.LittleEndian.Uint64(d.entry(dirPos)[offDirMtime:]))
	return time.Unix(sec, 0).UTC()
}

// SetDirMtime sets dir_mtime. Per FRA-2 the caller must only call this
// after a scan of the whole directory succeeded; partial success must
// leave dir_mtime untouched.
func (d *DirArea) SetDirMtime(dirPos int, t time.Time) {
	binary.LittleEndian.PutUint64(d.entry(dirPos)[offDirMtime:], uint64(t.Unix()))
}

// AdvanceDirMtime sets dir_mtime to newDirMtime minus one second, the
// deliberate epsilon documented in spec §4.4 "Directory mtime advance"
// and revisited as an Open Question in spec §9: it avoids missing files
// that land in the same second on a server that truncates mtimes to
// whole seconds.
func (d *DirArea) AdvanceDirMtime(dirPos int, newDirMtime time.Time) {
	d.SetDirMtime(dirPos, newDirMtime.Add(-time.Second))
}

// Options returns the dir_options bitset.
func (d *DirArea) Options(dirPos int) uint32 {
	return binary.LittleEndian.Uint32(d.entry(dirPos)[offDirOptions:])
}

// StupidMode returns stupid_mode ∈ {NO, YES, GET_ONCE_ONLY, APPEND_ONLY}.
func (d *DirArea) StupidMode(dirPos int) int32 {
	return int32(binary.LittleEndian.Uint32(d.entry(dirPos)[offStupidMode:]))
}

// Remove returns the remove flag.
func (d *DirArea) Remove(dirPos int) bool {
	return d.entry(dirPos)[offRemove] != 0
}

// MaxCopiedFiles / MaxCopiedFileSize are the batch caps from spec §4.2
// step 5.
func (d *DirArea) MaxCopiedFiles(dirPos int) int32 {
	return int32(binary.LittleEndian.Uint32(d.entry(dirPos)[offMaxCopiedFiles:]))
}

func (d *DirArea) MaxCopiedFileSize(dirPos int) int64 {
	return int64(binary.LittleEndian.Uint64(d.entry(dirPos)[offMaxCopiedSize:]))
}

// WithECLocked runs fn with the directory's error_counter byte range
// (LockEC) locked, per FRA-1; dir_status has its own range, LockHS.
func (d *DirArea) WithECLocked(dirPos int, fn func()) error {
	r := d.LockEC(dirPos)
	return byterange.WithLock(int(d.f.Fd()), r, func() error {
		fn()
		return nil
	})
}

// ErrorCounter reads the directory's error counter (must hold LockEC).
func (d *DirArea) ErrorCounter(dirPos int) int32 {
	return int32(binary.LittleEndian.Uint32(d.entry(dirPos)[offErrorCounterFRA:]))
}

// SetErrorCounter writes the directory's error counter (must hold LockEC).
func (d *DirArea) SetErrorCounter(dirPos int, v int32) {
	binary.LittleEndian.PutUint32(d.entry(dirPos)[offErrorCounterFRA:], uint32(v))
}
