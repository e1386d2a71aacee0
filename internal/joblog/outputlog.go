package joblog

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
)

// OutputRecord is one entry in the output log: a file that was
// successfully transferred (spec §6.2).
type OutputRecord struct {
	Time      time.Time
	HostAlias string
	FileName  string
	Size      int64
	JobID     uint32
	Duration  time.Duration
}

// OutputLog appends fixed-shape binary records to a log file, guarded
// by a single mutex: one OutputLog instance is shared by every fetch
// worker of a process (spec §6.2 "append-only, process-wide").
type OutputLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenOutputLog opens (creating if needed) the output log at path for
// append.
func OpenOutputLog(path string) (*OutputLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("joblog: open output log %s: %w", path, err)
	}
	return &OutputLog{f: f}, nil
}

// Close closes the underlying file.
func (l *OutputLog) Close() error { return l.f.Close() }

// Write appends r. The on-disk shape is a length-prefixed record so a
// reader can scan forward without needing fixed-width fields for the
// variable-length host alias / file name.
func (l *OutputLog) Write(r OutputRecord) error {
	buf := make([]byte, 0, 64+len(r.HostAlias)+len(r.FileName))
	var hdr [8 + 8 + 8 + 4]byte
	binary.LittleEndian.PutUint64(hdr[0:], uint64(r.Time.Unix()))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(r.Size))
	binary.LittleEndian.PutUint64(hdr[16:], uint64(r.Duration))
	binary.LittleEndian.PutUint32(hdr[24:], r.JobID)
	buf = append(buf, hdr[:]...)
	buf = appendLenPrefixed(buf, r.HostAlias)
	buf = appendLenPrefixed(buf, r.FileName)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.f.Write(buf)
	return err
}

func appendLenPrefixed(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}
