package joblog

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
)

// DeleteReason classifies why DeleteLog recorded a file, mirroring the
// reasons spec §4.2/§4.4 name for discarding a file without sending it.
type DeleteReason int32

const (
	DeleteReasonUnknownFile DeleteReason = iota
	DeleteReasonUnreadableFile
	DeleteReasonAgeLimit
	DeleteReasonUserDeleted
	DeleteReasonServerDeletedDuringFetch // scenario S4, spec §8
)

// DeleteRecord is one entry in the delete log: a file removed without
// being transferred (spec §6.2).
type DeleteRecord struct {
	Time      time.Time
	HostAlias string
	FileName  string
	Size      int64
	Reason    DeleteReason
}

// DeleteLog appends fixed-shape binary delete records, same append-only
// discipline as OutputLog.
type DeleteLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenDeleteLog opens (creating if needed) the delete log at path for append.
func OpenDeleteLog(path string) (*DeleteLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("joblog: open delete log %s: %w", path, err)
	}
	return &DeleteLog{f: f}, nil
}

// Close closes the underlying file.
func (l *DeleteLog) Close() error { return l.f.Close() }

// Write appends r.
func (l *DeleteLog) Write(r DeleteRecord) error {
	buf := make([]byte, 0, 32+len(r.HostAlias)+len(r.FileName))
	var hdr [8 + 8 + 4]byte
	binary.LittleEndian.PutUint64(hdr[0:], uint64(r.Time.Unix()))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(r.Size))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(r.Reason))
	buf = append(buf, hdr[:]...)
	buf = appendLenPrefixed(buf, r.HostAlias)
	buf = appendLenPrefixed(buf, r.FileName)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.f.Write(buf)
	return err
}
