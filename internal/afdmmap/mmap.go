// Package afdmmap maps the FSA, FRA and RL files into memory.
//
// Unlike the teacher's lib/mmap (which allocates anonymous, page-aligned
// scratch memory), every map here is backed by an open file descriptor:
// the whole point of the FSA/FRA/RL design is that several worker
// processes observe the same bytes. Growth is handled by unmapping,
// truncating the backing file and remapping, mirroring the "resize by
// remapping" note in spec §3.3.
package afdmmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mapping is a live mmap of an open file.
type Mapping struct {
	f    *os.File
	data []byte
}

// Open mmaps the first size bytes of f for shared read/write access.
// The caller keeps ownership of f and must Close the Mapping (which does
// not close f) before closing f itself.
func Open(f *os.File, size int64) (*Mapping, error) {
	if size <= 0 {
		return nil, fmt.Errorf("afdmmap: invalid size %d", size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("afdmmap: mmap %s: %w", f.Name(), err)
	}
	return &Mapping{f: f, data: data}, nil
}

// Bytes returns the mapped region. It is invalidated by the next Remap
// or Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Sync flushes the mapped pages back to the backing file (msync).
func (m *Mapping) Sync() error {
	if m.data == nil {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Remap grows (or shrinks) the mapping to newSize, first truncating the
// backing file to newSize (extending or cutting it as needed).
// This is the "remap" half of the RL resize protocol in spec §4.3: the
// caller must already hold whatever single-writer convention applies;
// Remap itself takes no lock.
func (m *Mapping) Remap(newSize int64) error {
	if err := m.f.Truncate(newSize); err != nil {
		return fmt.Errorf("afdmmap: truncate %s to %d: %w", m.f.Name(), newSize, err)
	}
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("afdmmap: munmap %s: %w", m.f.Name(), err)
		}
		m.data = nil
	}
	data, err := unix.Mmap(int(m.f.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("afdmmap: remap %s: %w", m.f.Name(), err)
	}
	m.data = data
	return nil
}

// Close unmaps the region. It does not close the underlying file.
func (m *Mapping) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
