// Package retrievelist implements the Retrieve List (RL, spec §3.3) and
// its concurrent-safe reservation algorithm check_list (spec §4.3): a
// file-backed, memory-mapped, resizable catalog of remote
// files seen for one watched directory, shared by every worker fetching
// from that directory.
package retrievelist

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/holger-afd/afd-transfer/internal/afdmmap"
	"github.com/holger-afd/afd-transfer/internal/byterange"
)

// RetrieveListStepSize is RETRIEVE_LIST_STEP_SIZE: the RL grows in
// chunks of this many entries (spec §3.3, §4.3).
const RetrieveListStepSize = 256

// AFDWordOffset is the padded header size in front of entry 0 (spec
// §3.3, §6.1): a leading int32 no_of_listed_files plus padding.
const AFDWordOffset = 8

// MaxFileNameLength bounds file_name (spec §3.3).
const MaxFileNameLength = 256

const entrySize = MaxFileNameLength + 64 // name + fixed fields, padded

// Entry is one RL record (spec §3.3).
type Entry struct {
	FileName   string
	Size       int64 // -1 = unknown
	FileMtime  time.Time
	GotDate    bool
	Retrieved  bool
	PrevSize   int64
	InList     bool // transient, per-scan
	Assigned   int  // 0 = free, else workerSlot+1
}

func (e Entry) isFree() bool { return e.Assigned == 0 }

// Mode mirrors afdconfig.StupidMode without importing it, to keep
// this package dependency-light; callers pass the three booleans that
// matter to check_list.
type Mode struct {
	// Stateless selects Mode A (stupid_mode == YES or remove == YES).
	Stateless bool
	// GetOnceOnly rejects a match whose Retrieved is already true
	// (stupid_mode == GET_ONCE_ONLY).
	GetOnceOnly bool
	// OldErrorJob forces the per-entry lock even in Mode A (spec §4.3,
	// Open Questions — resolved in SPEC_FULL.md §C.2: kept as a flag,
	// always honored, rather than locking unconditionally).
	OldErrorJob bool
}

// Predicates bundles the size/age/cap checks check_list must run after
// locating or creating an entry (spec §4.2 steps 2-3, §4.3).
type Predicates struct {
	// Accept returns true if an observed (size, mtime) pair should be
	// fetched at all (size + age predicates from admission, already
	// evaluated once during listing — re-checked here because check_list
	// can also be reached for a file whose listing record changed).
	Accept func(size int64, mtime time.Time, gotDate bool) bool
	// WithinCaps reports whether accepting one more file of the given
	// size keeps (filesToRetrieve, fileSizeToRetrieve) under the
	// directory's batch caps (spec §4.2 step 5); it must NOT mutate its
	// running totals — check_list does that itself, only on accept.
	WithinCaps func(size int64) bool
}

// List is a mapped, growable array of Entry records for one remote
// directory, plus a scan-round in_list set; the session's running
// totals are owned by the caller and passed to CheckList by pointer.
type List struct {
	f    *os.File
	m    *afdmmap.Mapping
	path string

	scanSeen mapset.Set[string] // names matched this scan round, for in_list bookkeeping
}

// Open maps (creating if absent) the RL file at path.
func Open(path string) (*List, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("retrievelist: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	size := info.Size()
	if size < AFDWordOffset {
		size = AFDWordOffset + RetrieveListStepSize*entrySize
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	m, err := afdmmap.Open(f, size)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &List{f: f, m: m, path: path, scanSeen: mapset.NewSet[string]()}, nil
}

// Close unmaps and closes the RL file.
func (l *List) Close() error {
	if err := l.m.Close(); err != nil {
		return err
	}
	return l.f.Close()
}

// NoOfListedFiles reads the header word.
func (l *List) NoOfListedFiles() int {
	return int(int32(binary.LittleEndian.Uint32(l.m.Bytes()[:4])))
}

func (l *List) setNoOfListedFiles(n int) {
	binary.LittleEndian.PutUint32(l.m.Bytes()[:4], uint32(n))
}

func (l *List) capacity() int {
	return (len(l.m.Bytes()) - AFDWordOffset) / entrySize
}

// entryRange returns the byte range of entry i, for byte-range locking
// (spec §3.3 "assigned transitions ... bracketed by a byte-range lock").
func (l *List) entryRange(i int) byterange.Range {
	return byterange.EntryRange(AFDWordOffset, entrySize, i)
}

// Lock takes a blocking lock on entry i's byte range.
func (l *List) Lock(i int) error { return byterange.Lock(int(l.f.Fd()), l.entryRange(i)) }

// Unlock releases a previous Lock on entry i.
func (l *List) Unlock(i int) error { return byterange.Unlock(int(l.f.Fd()), l.entryRange(i)) }

// entry layout within entrySize: [nameLen:u16][name:256][size:i64]
// [mtime:i64][gotDate:u8][retrieved:u8][prevSize:i64][inList:u8][assigned:i32]
const (
	eOffNameLen   = 0
	eOffName      = 2
	eOffSize      = 2 + MaxFileNameLength
	eOffMtime     = eOffSize + 8
	eOffGotDate   = eOffMtime + 8
	eOffRetrieved = eOffGotDate + 1
	eOffPrevSize  = eOffRetrieved + 1
	eOffInList    = ePrevSizeEnd()
	eOffAssigned  = eOffInList + 1
)

func ePrevSizeEnd() int { return eOffPrevSize + 8 }

func (l *List) rawEntry(i int) []byte {
	off := AFDWordOffset + i*entrySize
	return l.m.Bytes()[off : off+entrySize]
}

// Get reads entry i.
func (l *List) Get(i int) Entry {
	b := l.rawEntry(i)
	nameLen := int(binary.LittleEndian.Uint16(b[eOffNameLen:]))
	if nameLen > MaxFileNameLength {
		nameLen = MaxFileNameLength
	}
	return Entry{
		FileName:  string(b[eOffName : eOffName+nameLen]),
		Size:      int64(binary.LittleEndian.Uint64(b[eOffSize:])),
		FileMtime: time.Unix(int64(binary.LittleEndian.Uint64(b[eOffMtime:])), 0).UTC(),
		GotDate:   b[eOffGotDate] != 0,
		Retrieved: b[eOffRetrieved] != 0,
		PrevSize:  int64(binary.LittleEndian.Uint64(b[eOffPrevSize:])),
		InList:    b[eOffInList] != 0,
		Assigned:  int(int32(binary.LittleEndian.Uint32(b[eOffAssigned:]))),
	}
}

// Set writes entry i in full.
func (l *List) Set(i int, e Entry) {
	b := l.rawEntry(i)
	name := e.FileName
	if len(name) > MaxFileNameLength {
		name = name[:MaxFileNameLength]
	}
	binary.LittleEndian.PutUint16(b[eOffNameLen:], uint16(len(name)))
	clear(b[eOffName : eOffName+MaxFileNameLength])
	copy(b[eOffName:], name)
	binary.LittleEndian.PutUint64(b[eOffSize:], uint64(e.Size))
	binary.LittleEndian.PutUint64(b[eOffMtime:], uint64(e.FileMtime.Unix()))
	b[eOffGotDate] = boolByte(e.GotDate)
	b[eOffRetrieved] = boolByte(e.Retrieved)
	binary.LittleEndian.PutUint64(b[eOffPrevSize:], uint64(e.PrevSize))
	b[eOffInList] = boolByte(e.InList)
	binary.LittleEndian.PutUint32(b[eOffAssigned:], uint32(int32(e.Assigned)))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func clear(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// find does a linear scan by name, returning (index, true) or (-1, false).
// The C source does the same O(n) scan; the RL is not large enough in
// practice (a single remote directory's backlog) to justify an index.
func (l *List) find(name string) (int, bool) {
	n := l.NoOfListedFiles()
	for i := 0; i < n; i++ {
		if l.Get(i).FileName == name {
			return i, true
		}
	}
	return -1, false
}

// growIfNeeded implements the "Resize protocol" of spec §4.3: when
// no_of_listed_files sits on a RetrieveListStepSize boundary, remap the
// backing file one step bigger before appending.
func (l *List) growIfNeeded() error {
	n := l.NoOfListedFiles()
	if n%RetrieveListStepSize != 0 || n < l.capacity() {
		return nil
	}
	newSize := int64((n/RetrieveListStepSize+1)*RetrieveListStepSize*entrySize + AFDWordOffset)
	if err := l.m.Remap(newSize); err != nil {
		return fmt.Errorf("retrievelist: resize %s to %d entries failed, RL safety cannot be compromised: %w",
			l.path, newSize/entrySize, err)
	}
	return nil
}

// StartScan resets the transient in_list bookkeeping at the start of a
// directory scan.
func (l *List) StartScan() {
	l.scanSeen.Clear()
}

// MarkSeen records that name matched the current listing scan
// (spec §3.3 lifecycle step 2).
func (l *List) MarkSeen(name string) {
	l.scanSeen.Add(name)
}

// CompactStaleEntries drops every entry not marked seen this scan,
// only valid in stupid_mode == NO with remove == NO per spec §3.3.
func (l *List) CompactStaleEntries() {
	n := l.NoOfListedFiles()
	kept := 0
	for i := 0; i < n; i++ {
		e := l.Get(i)
		if !l.scanSeen.Contains(e.FileName) {
			continue
		}
		if kept != i {
			l.Set(kept, l.Get(i))
		}
		kept++
	}
	l.setNoOfListedFiles(kept)
}

// Result is what CheckList returns: whether the file was accepted for
// this worker, and if so its RL index (needed later to write back the
// download outcome, spec §4.4 step 10).
type Result struct {
	Accepted     bool
	Index        int
	MoreInList   bool // more_files_in_list flag, spec §4.2 step 5 / §4.3
}

// CheckList is check_list from spec §4.3: it locates, updates, or
// appends an RL entry for (name, size, mtime) and assigns it to
// workerSlot if predicates and batch caps allow, updating
// filesToRetrieve/fileSizeToRetrieve by reference exactly as the
// Testable Properties' Cap-roundtrip invariant requires.
func (l *List) CheckList(
	mode Mode,
	workerSlot int,
	name string,
	size int64,
	mtime time.Time,
	gotDate bool,
	pred Predicates,
	filesToRetrieve *int,
	fileSizeToRetrieve *int64,
) (Result, error) {
	l.MarkSeen(name)

	idx, found := l.find(name)
	if mode.Stateless {
		return l.checkListStateless(mode, workerSlot, idx, found, name, size, mtime, gotDate, pred, filesToRetrieve, fileSizeToRetrieve)
	}
	return l.checkListPersistent(mode, workerSlot, idx, found, name, size, mtime, gotDate, pred, filesToRetrieve, fileSizeToRetrieve)
}

func (l *List) withOptionalLock(mode Mode, idx int, fn func() error) error {
	if !mode.OldErrorJob {
		return fn()
	}
	if err := l.Lock(idx); err != nil {
		return err
	}
	defer func() { _ = l.Unlock(idx) }()
	return fn()
}

// checkListStateless is Mode A of spec §4.3.
func (l *List) checkListStateless(
	mode Mode, workerSlot int, idx int, found bool,
	name string, size int64, mtime time.Time, gotDate bool,
	pred Predicates, filesToRetrieve *int, fileSizeToRetrieve *int64,
) (Result, error) {
	if !found {
		// Resize protocol applies in both modes (spec §4.3): stateless
		// mode reallocates heap memory, persistent mode remaps the
		// backing file. Here that's the same Remap call either way,
		// since the stateless RL is still the mapped file, just without
		// cross-scan persistence of entries.
		if err := l.growIfNeeded(); err != nil {
			return Result{}, err
		}
		return l.appendEntry(mode, workerSlot, name, size, mtime, gotDate, pred, filesToRetrieve, fileSizeToRetrieve)
	}

	var res Result
	res.Index = idx
	err := l.withOptionalLock(mode, idx, func() error {
		e := l.Get(idx)
		if !(e.isFree() || e.Retrieved) {
			return nil // owned by another worker this round
		}
		e.Size = size
		e.FileMtime = mtime
		e.GotDate = gotDate
		e.InList = true
		if !pred.Accept(size, mtime, gotDate) {
			l.Set(idx, e)
			return nil
		}
		if !pred.WithinCaps(size) {
			e.Assigned = 0
			res.MoreInList = true
			l.Set(idx, e)
			return nil
		}
		e.Retrieved = false
		e.Assigned = workerSlot + 1
		l.Set(idx, e)
		*filesToRetrieve++
		*fileSizeToRetrieve += size
		res.Accepted = true
		return nil
	})
	return res, err
}

// checkListPersistent is Mode B of spec §4.3.
func (l *List) checkListPersistent(
	mode Mode, workerSlot int, idx int, found bool,
	name string, size int64, mtime time.Time, gotDate bool,
	pred Predicates, filesToRetrieve *int, fileSizeToRetrieve *int64,
) (Result, error) {
	if !found {
		if err := l.growIfNeeded(); err != nil {
			return Result{}, err
		}
		return l.appendEntry(mode, workerSlot, name, size, mtime, gotDate, pred, filesToRetrieve, fileSizeToRetrieve)
	}

	var res Result
	res.Index = idx
	err := l.withOptionalLock(mode, idx, func() error {
		e := l.Get(idx)
		e.InList = true

		if mode.GetOnceOnly && e.Retrieved {
			l.Set(idx, e)
			return nil
		}

		if !e.FileMtime.Equal(mtime) || e.Size != size {
			e.FileMtime = mtime
			e.Size = size
			e.Retrieved = false
			e.Assigned = 0
		}
		e.GotDate = gotDate

		if e.Retrieved {
			l.Set(idx, e)
			return nil
		}
		if !pred.Accept(size, mtime, gotDate) {
			l.Set(idx, e)
			return nil
		}
		if !pred.WithinCaps(size) {
			e.Assigned = 0
			res.MoreInList = true
			l.Set(idx, e)
			return nil
		}
		e.Assigned = workerSlot + 1
		l.Set(idx, e)
		*filesToRetrieve++
		*fileSizeToRetrieve += size
		res.Accepted = true
		return nil
	})
	return res, err
}

func (l *List) appendEntry(
	mode Mode, workerSlot int,
	name string, size int64, mtime time.Time, gotDate bool,
	pred Predicates, filesToRetrieve *int, fileSizeToRetrieve *int64,
) (Result, error) {
	n := l.NoOfListedFiles()
	e := Entry{
		FileName:  name,
		Size:      size,
		FileMtime: mtime,
		GotDate:   gotDate,
		InList:    true,
	}
	accepted := pred.Accept(size, mtime, gotDate)
	withinCaps := accepted && pred.WithinCaps(size)
	if accepted && withinCaps {
		e.Assigned = workerSlot + 1
	}
	l.Set(n, e)
	l.setNoOfListedFiles(n + 1)

	res := Result{Index: n}
	switch {
	case accepted && withinCaps:
		*filesToRetrieve++
		*fileSizeToRetrieve += size
		res.Accepted = true
	case accepted && !withinCaps:
		res.MoreInList = true
	}
	return res, nil
}

// Release clears assigned on entry i (spec §4.6 point 2: "Clear the
// worker's assigned stamp from any RL entries it owned").
func (l *List) Release(i int) {
	e := l.Get(i)
	e.Assigned = 0
	l.Set(i, e)
}

// MarkRetrieved flips retrieved=YES, assigned=0 for entry i, the
// transition from spec §3.3 lifecycle step 4 / §4.4 step 9.
func (l *List) MarkRetrieved(i int) {
	e := l.Get(i)
	e.Retrieved = true
	e.Assigned = 0
	l.Set(i, e)
}

// Destroy removes the backing RL file entirely, for stupid_mode == YES
// or remove == YES sessions where the RL is not persisted across
// sessions (spec §4.6 point 3, GLOSSARY "Stupid mode").
func (l *List) Destroy() error {
	if err := l.Close(); err != nil {
		return err
	}
	return os.Remove(l.path)
}
