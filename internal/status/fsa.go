// Package status implements the Filetransfer Status Area (FSA) and
// Fileretrieve Status Area (FRA) from spec §3.1 and §3.2: process-wide,
// memory-mapped, per-host / per-directory records shared by every
// worker, mutated only under the byte-range locks named in spec §5.
//
// The C source reads these through raw pointer arithmetic off a single
// mapped region (spec §9 "Pointer arithmetic with AFD_WORD_OFFSET").
// Here each record is a typed accessor bound to a byte range inside an
// afdmmap.Mapping; every field read/write goes through a method so the
// locking discipline can't be forgotten at a call site.
package status

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/holger-afd/afd-transfer/internal/afdmmap"
	"github.com/holger-afd/afd-transfer/internal/byterange"
)

// Feature flags stored in the global byte described in spec §6.4.
const (
	FeatureDisableRetrieve byte = 1 << iota
	FeatureArchiveEnable
	FeatureRetrieveEnable
	FeatureCreateTargetDir
	FeatureSimulateMode
)

// Host status bits, spec §3.1.
const (
	HostErrorQueueSet uint32 = 1 << iota
	HostDoNotDeleteData
	HostWarnTimeReached
	HostAutoPauseQueueStat
	HostStoreIP
	HostActionSuccess
)

const (
	fsaHeaderSize  = 64 // no_of_hosts + feature-flag byte + padding
	fsaMaxJobSlots = 16

	// jobSlotsOffset is where job_status[0] begins within one host
	// entry, after the fixed fields (spec §3.1).
	jobSlotsOffset = 320
	// jobSlotSize is the padded byte size of one job_status[] element.
	jobSlotSize = 160

	fsaEntrySize = jobSlotsOffset + fsaMaxJobSlots*jobSlotSize

	// AFD_FEATURE_FLAG_OFFSET_END: the feature byte sits this many
	// bytes before the first host entry (spec §6.4).
	featureFlagOffsetEnd = 8
)

// Job slot connect_status values (spec §3.1, §4.5 "transition all host
// slots NOT_WORKING -> DISCONNECT").
const (
	ConnectNotWorking int32 = iota
	ConnectConnecting
	ConnectConnected
	ConnectDisconnect
)

// Job slot field byte offsets, relative to the start of one
// job_status[] element.
const (
	jsOffConnectStatus     = 0
	jsOffNoOfFiles         = 4
	jsOffNoOfFilesDone     = 8
	jsOffFileSize          = 12
	jsOffFileSizeDone      = 20
	jsOffFileSizeInUse     = 28
	jsOffFileSizeInUseDone = 36
	jsOffFileNameInUseLen  = 44
	jsOffFileNameInUse     = 46
	jsMaxFileNameInUse     = 64
	jsOffJobID             = jsOffFileNameInUse + jsMaxFileNameInUse // 110
	jsOffUniqueNameLen     = jsOffJobID + 4                         // 114
	jsOffUniqueName        = jsOffUniqueNameLen + 2                 // 116
	jsMaxUniqueName        = 32
	jsOffBytesSend         = jsOffUniqueName + jsMaxUniqueName // 148
)

// JobSlot mirrors one element of job_status[] in an FSA host entry
// (spec §3.1).
type JobSlot struct {
	ConnectStatus      int32
	NoOfFiles          int32
	NoOfFilesDone      int32
	FileSize           int64
	FileSizeDone       int64
	FileSizeInUse      int64
	FileSizeInUseDone  int64
	FileNameInUse      string
	JobID              uint32
	UniqueName         string
	BytesSend          int64
}

// Area is a mapped FSA file: one Area per <work>/fifodir/fsa_id.<id>.
type Area struct {
	f        *os.File
	m        *afdmmap.Mapping
	numHosts int
}

// Open maps an existing FSA file containing numHosts entries.
func Open(path string, numHosts int) (*Area, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("status: open fsa %s: %w", path, err)
	}
	size := int64(fsaHeaderSize) + int64(numHosts)*fsaEntrySize
	m, err := afdmmap.Open(f, size)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Area{f: f, m: m, numHosts: numHosts}, nil
}

// Close unmaps and closes the FSA file.
func (a *Area) Close() error {
	if err := a.m.Close(); err != nil {
		return err
	}
	return a.f.Close()
}

// FeatureFlags reads the process-wide feature byte (spec §6.4), no
// lock required: it is written rarely and read-mostly, matching the
// teacher's "poll this byte in the burst gate" description.
func (a *Area) FeatureFlags() byte {
	buf := a.m.Bytes()
	off := fsaHeaderSize - featureFlagOffsetEnd
	if off < 0 || off >= len(buf) {
		return 0
	}
	return buf[off]
}

func (a *Area) entryOffset(hostPos int) int64 {
	return int64(fsaHeaderSize) + int64(hostPos)*fsaEntrySize
}

// lockRange returns the byte range covering a named sub-field lock
// class within one host entry: LOCK_CON, LOCK_TFC, LOCK_EC, LOCK_HS all
// lock different byte spans of the same entry (spec §5).
func (a *Area) lockRange(hostPos int, fieldOff, fieldLen int64) byterange.Range {
	return byterange.Range{Pos: a.entryOffset(hostPos) + fieldOff, Size: fieldLen}
}

// Field byte offsets within one fsaEntrySize record. Kept small and
// explicit rather than a reflected struct overlay, mirroring the C
// source's fixed layout.
const (
	offHostAlias       = 0
	offRealHostname0   = 64
	offRealHostname1   = 128
	offHostToggle      = 192
	offProtocolBitmask = 196
	offProtocolOptions = 200
	offHostStatus      = 204
	offBlockSize       = 208
	offTRLPerProcess   = 212
	offFileSizeOffset  = 220
	offAllowedXfers    = 228
	offActiveXfers     = 232
	offErrorCounter    = 236
	offTotalFileCount  = 240
	offTotalFileSize   = 248
	offFileCounterDone = 256
	offBytesSend       = 264
	offConnections     = 272
	offLastConnection  = 280
)

// LockCON, LockTFC, LockEC, LockHS are the byte ranges guarding
// connect-status/no_of_files/connections, the aggregate counters, the
// error counter, and the host-status bitset respectively (spec §5).
func (a *Area) LockCON(hostPos int) byterange.Range { return a.lockRange(hostPos, offConnections, 16) }
func (a *Area) LockTFC(hostPos int) byterange.Range {
	return a.lockRange(hostPos, offTotalFileCount, 32)
}
func (a *Area) LockEC(hostPos int) byterange.Range { return a.lockRange(hostPos, offErrorCounter, 4) }
func (a *Area) LockHS(hostPos int) byterange.Range { return a.lockRange(hostPos, offHostStatus, 4) }

func (a *Area) entry(hostPos int) []byte {
	off := a.entryOffset(hostPos)
	return a.m.Bytes()[off : off+fsaEntrySize]
}

// HostToggle returns 1 or 2, selecting real_hostname[toggle-1].
func (a *Area) HostToggle(hostPos int) int {
	return int(binary.LittleEndian.Uint32(a.entry(hostPos)[offHostToggle:]))
}

// AllowedTransfers / ActiveTransfers implement FSA-2's bounds check.
func (a *Area) AllowedTransfers(hostPos int) int32 {
	return int32(binary.LittleEndian.Uint32(a.entry(hostPos)[offAllowedXfers:]))
}

func (a *Area) ActiveTransfers(hostPos int) int32 {
	return int32(binary.LittleEndian.Uint32(a.entry(hostPos)[offActiveXfers:]))
}

// TRLPerProcess returns the configured bytes/sec rate limit (0 = unlimited).
func (a *Area) TRLPerProcess(hostPos int) int64 {
	return int64(binary.LittleEndian.Uint64(a.entry(hostPos)[offTRLPerProcess:]))
}

// HostStatus returns the host_status bitset (spec §3.1).
func (a *Area) HostStatus(hostPos int) uint32 {
	return binary.LittleEndian.Uint32(a.entry(hostPos)[offHostStatus:])
}

// WithHSLocked runs fn (given the current host_status bitset, returning
// the next value to store) while holding LOCK_HS for hostPos (spec §5).
func (a *Area) WithHSLocked(hostPos int, fn func(current uint32) uint32) error {
	r := a.LockHS(hostPos)
	return byterange.WithLock(int(a.f.Fd()), r, func() error {
		next := fn(a.HostStatus(hostPos))
		binary.LittleEndian.PutUint32(a.entry(hostPos)[offHostStatus:], next)
		return nil
	})
}

// WithTFCLocked runs fn while holding LOCK_TFC for hostPos, implementing
// the typed-accessor wrapper the re-architecture note in spec §9 asks
// for: "fsa.with_tfc_locked(|f| { ... })".
func (a *Area) WithTFCLocked(hostPos int, fn func(tfc *Aggregates)) error {
	r := a.LockTFC(hostPos)
	return byterange.WithLock(int(a.f.Fd()), r, func() error {
		buf := a.entry(hostPos)
		agg := &Aggregates{buf: buf}
		fn(agg)
		agg.clampNonNegative()
		return nil
	})
}

// Aggregates is a view over the FSA's total_file_counter /
// total_file_size / file_counter_done / bytes_send fields, valid only
// while the caller holds LOCK_TFC (enforced by only constructing it
// inside WithTFCLocked).
type Aggregates struct {
	buf []byte
}

func (g *Aggregates) TotalFileCounter() int64 {
	return int64(binary.LittleEndian.Uint64(g.buf[offTotalFileCount:]))
}

func (g *Aggregates) SetTotalFileCounter(v int64) {
	binary.LittleEndian.PutUint64(g.buf[offTotalFileCount:], uint64(v))
}

func (g *Aggregates) TotalFileSize() int64 {
	return int64(binary.LittleEndian.Uint64(g.buf[offTotalFileSize:]))
}

func (g *Aggregates) SetTotalFileSize(v int64) {
	binary.LittleEndian.PutUint64(g.buf[offTotalFileSize:], uint64(v))
}

func (g *Aggregates) AddFileCounterDone(n int64) {
	v := int64(binary.LittleEndian.Uint64(g.buf[offFileCounterDone:])) + n
	binary.LittleEndian.PutUint64(g.buf[offFileCounterDone:], uint64(v))
}

func (g *Aggregates) AddBytesSend(n int64) {
	v := int64(binary.LittleEndian.Uint64(g.buf[offBytesSend:])) + n
	binary.LittleEndian.PutUint64(g.buf[offBytesSend:], uint64(v))
}

// DecrementCounters subtracts a completed/removed job's contribution
// from total_file_counter/total_file_size, clamping to zero and never
// going negative — the FSA-1/Testable-properties "non-negativity"
// invariant.
func (g *Aggregates) DecrementCounters(files int64, size int64) {
	g.SetTotalFileCounter(g.TotalFileCounter() - files)
	g.SetTotalFileSize(g.TotalFileSize() - size)
	g.clampNonNegative()
}

func (g *Aggregates) clampNonNegative() {
	if g.TotalFileCounter() < 0 {
		g.SetTotalFileCounter(0)
	}
	if g.TotalFileSize() < 0 {
		g.SetTotalFileSize(0)
	}
	// FSA-1: total_file_counter == 0 iff total_file_size == 0
	if g.TotalFileCounter() == 0 {
		g.SetTotalFileSize(0)
	} else if g.TotalFileSize() == 0 {
		g.SetTotalFileCounter(0)
	}
}

// ErrorCounter reads error_counter (spec §3.1), guarded by LOCK_EC.
func (a *Area) ErrorCounter(hostPos int) int32 {
	return int32(binary.LittleEndian.Uint32(a.entry(hostPos)[offErrorCounter:]))
}

func (a *Area) setErrorCounter(hostPos int, v int32) {
	binary.LittleEndian.PutUint32(a.entry(hostPos)[offErrorCounter:], uint32(v))
}

// WithECLocked runs fn while holding LOCK_EC for hostPos (spec §5
// "FRA-1 ... requires the FRA per-entry lock LOCK_EC/LOCK_HS", mirrored
// here for the FSA's own error_counter).
func (a *Area) WithECLocked(hostPos int, fn func()) error {
	r := a.LockEC(hostPos)
	return byterange.WithLock(int(a.f.Fd()), r, func() error {
		fn()
		return nil
	})
}

func (a *Area) jobSlotBytes(hostPos, slot int) []byte {
	off := jobSlotsOffset + slot*jobSlotSize
	return a.entry(hostPos)[off : off+jobSlotSize]
}

// LockJobSlot is the byte range covering job_status[slot] within
// hostPos's entry, the per-slot counterpart of LockCON (spec §3.1,
// §4.4 steps 4/7 "update the slot's file_size_in_use / no_of_files_done").
func (a *Area) LockJobSlot(hostPos, slot int) byterange.Range {
	return byterange.Range{Pos: a.entryOffset(hostPos) + int64(jobSlotsOffset) + int64(slot)*jobSlotSize, Size: jobSlotSize}
}

// JobSlot reads job_status[slot] for hostPos. Callers that need a
// consistent read-modify-write should go through WithJobSlotLocked
// instead of calling this directly.
func (a *Area) JobSlot(hostPos, slot int) JobSlot {
	b := a.jobSlotBytes(hostPos, slot)
	nameLen := int(binary.LittleEndian.Uint16(b[jsOffFileNameInUseLen:]))
	if nameLen > jsMaxFileNameInUse {
		nameLen = jsMaxFileNameInUse
	}
	uniqueLen := int(binary.LittleEndian.Uint16(b[jsOffUniqueNameLen:]))
	if uniqueLen > jsMaxUniqueName {
		uniqueLen = jsMaxUniqueName
	}
	return JobSlot{
		ConnectStatus:     int32(binary.LittleEndian.Uint32(b[jsOffConnectStatus:])),
		NoOfFiles:         int32(binary.LittleEndian.Uint32(b[jsOffNoOfFiles:])),
		NoOfFilesDone:     int32(binary.LittleEndian.Uint32(b[jsOffNoOfFilesDone:])),
		FileSize:          int64(binary.LittleEndian.Uint64(b[jsOffFileSize:])),
		FileSizeDone:      int64(binary.LittleEndian.Uint64(b[jsOffFileSizeDone:])),
		FileSizeInUse:     int64(binary.LittleEndian.Uint64(b[jsOffFileSizeInUse:])),
		FileSizeInUseDone: int64(binary.LittleEndian.Uint64(b[jsOffFileSizeInUseDone:])),
		FileNameInUse:     string(b[jsOffFileNameInUse : jsOffFileNameInUse+nameLen]),
		JobID:             binary.LittleEndian.Uint32(b[jsOffJobID:]),
		UniqueName:        string(b[jsOffUniqueName : jsOffUniqueName+uniqueLen]),
		BytesSend:         int64(binary.LittleEndian.Uint64(b[jsOffBytesSend:])),
	}
}

// SetJobSlot writes job_status[slot] for hostPos in full.
func (a *Area) SetJobSlot(hostPos, slot int, j JobSlot) {
	b := a.jobSlotBytes(hostPos, slot)
	name := j.FileNameInUse
	if len(name) > jsMaxFileNameInUse {
		name = name[:jsMaxFileNameInUse]
	}
	unique := j.UniqueName
	if len(unique) > jsMaxUniqueName {
		unique = unique[:jsMaxUniqueName]
	}
	binary.LittleEndian.PutUint32(b[jsOffConnectStatus:], uint32(j.ConnectStatus))
	binary.LittleEndian.PutUint32(b[jsOffNoOfFiles:], uint32(j.NoOfFiles))
	binary.LittleEndian.PutUint32(b[jsOffNoOfFilesDone:], uint32(j.NoOfFilesDone))
	binary.LittleEndian.PutUint64(b[jsOffFileSize:], uint64(j.FileSize))
	binary.LittleEndian.PutUint64(b[jsOffFileSizeDone:], uint64(j.FileSizeDone))
	binary.LittleEndian.PutUint64(b[jsOffFileSizeInUse:], uint64(j.FileSizeInUse))
	binary.LittleEndian.PutUint64(b[jsOffFileSizeInUseDone:], uint64(j.FileSizeInUseDone))
	binary.LittleEndian.PutUint16(b[jsOffFileNameInUseLen:], uint16(len(name)))
	clear(b[jsOffFileNameInUse : jsOffFileNameInUse+jsMaxFileNameInUse])
	copy(b[jsOffFileNameInUse:], name)
	binary.LittleEndian.PutUint32(b[jsOffJobID:], j.JobID)
	binary.LittleEndian.PutUint16(b[jsOffUniqueNameLen:], uint16(len(unique)))
	clear(b[jsOffUniqueName : jsOffUniqueName+jsMaxUniqueName])
	copy(b[jsOffUniqueName:], unique)
	binary.LittleEndian.PutUint64(b[jsOffBytesSend:], uint64(j.BytesSend))
}

// WithJobSlotLocked guards a read-modify-write of job_status[slot]
// with its own byte-range lock, the per-slot counterpart of
// WithTFCLocked (spec §4.4 steps 4/7).
func (a *Area) WithJobSlotLocked(hostPos, slot int, fn func(cur JobSlot) JobSlot) error {
	r := a.LockJobSlot(hostPos, slot)
	return byterange.WithLock(int(a.f.Fd()), r, func() error {
		next := fn(a.JobSlot(hostPos, slot))
		a.SetJobSlot(hostPos, slot, next)
		return nil
	})
}

// DrainErrorsIfEmpty implements spec §4.5 "Deleted files cause
// fsa.total_file_counter and fsa.total_file_size to decrease under the
// FSA LOCK_TFC lock; when both reach zero and error_counter > 0, clear
// errors and transition all host slots NOT_WORKING -> DISCONNECT."
// Callers invoke this after any DecrementCounters call.
func (a *Area) DrainErrorsIfEmpty(hostPos int) error {
	var empty bool
	if err := a.WithTFCLocked(hostPos, func(tfc *Aggregates) {
		empty = tfc.TotalFileCounter() == 0 && tfc.TotalFileSize() == 0
	}); err != nil {
		return err
	}
	if !empty {
		return nil
	}
	return a.WithECLocked(hostPos, func() {
		if a.ErrorCounter(hostPos) <= 0 {
			return
		}
		a.setErrorCounter(hostPos, 0)
		for slot := 0; slot < fsaMaxJobSlots; slot++ {
			_ = a.WithJobSlotLocked(hostPos, slot, func(cur JobSlot) JobSlot {
				if cur.ConnectStatus == ConnectNotWorking {
					cur.ConnectStatus = ConnectDisconnect
				}
				return cur
			})
		}
	})
}
