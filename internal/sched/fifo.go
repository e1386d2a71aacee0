// Package sched implements the scheduler-facing FIFO transport (spec
// §6.3): the wake-up signal a scheduler sends a worker to start a new
// cycle, the log-relay FIFO workers write completion records to, and
// the send_proc_fin handshake a worker performs on exit.
//
// Grounded on github.com/containerd/fifo (present in the example
// corpus's moby-moby go.mod as a direct dependency): it wraps the
// O_NONBLOCK-open dance a named pipe needs so neither end blocks
// forever waiting for the other, exactly the property this transport
// needs between the scheduler and its workers.
package sched

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/containerd/fifo"
)

// WakeUp is one FD_WAKE_UP_FIFO message: "a new cycle may start for
// this host/directory" (spec §6.3).
type WakeUp struct {
	HostPos int32
	DirPos  int32
}

// WakeUpFifo is the scheduler's wake-up channel to a pool of workers.
type WakeUpFifo struct {
	rw io.ReadWriteCloser
}

// OpenWakeUpFifo opens (creating if needed) the named pipe at path.
// mode selects which end of the pipe this call represents: pass
// syscall.O_WRONLY from the scheduler side, syscall.O_RDONLY from a
// worker.
func OpenWakeUpFifo(ctx context.Context, path string, mode int) (*WakeUpFifo, error) {
	f, err := fifo.OpenFifo(ctx, path, mode|syscall.O_CREAT, 0o600)
	if err != nil {
		return nil, fmt.Errorf("sched: open wake-up fifo %s: %w", path, err)
	}
	return &WakeUpFifo{rw: f}, nil
}

// Send writes one wake-up message.
func (w *WakeUpFifo) Send(msg WakeUp) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(msg.HostPos))
	binary.LittleEndian.PutUint32(buf[4:], uint32(msg.DirPos))
	_, err := w.rw.Write(buf[:])
	return err
}

// Receive blocks for one wake-up message.
func (w *WakeUpFifo) Receive() (WakeUp, error) {
	var buf [8]byte
	if _, err := io.ReadFull(w.rw, buf[:]); err != nil {
		return WakeUp{}, err
	}
	return WakeUp{
		HostPos: int32(binary.LittleEndian.Uint32(buf[0:])),
		DirPos:  int32(binary.LittleEndian.Uint32(buf[4:])),
	}, nil
}

// Close closes the underlying pipe.
func (w *WakeUpFifo) Close() error { return w.rw.Close() }

// CompletionCode mirrors the afdexit.Code a worker reports back through
// RECEIVE_LOG_FIFO on exit (spec §6.3, §6.5).
type CompletionCode int32

// LogRelay is RECEIVE_LOG_FIFO: workers write one CompletionCode per
// finished job, the scheduler reads them to decide on requeueing.
type LogRelay struct {
	rw io.ReadWriteCloser
}

// OpenLogRelay opens (creating if needed) the named pipe at path.
func OpenLogRelay(ctx context.Context, path string, mode int) (*LogRelay, error) {
	f, err := fifo.OpenFifo(ctx, path, mode|syscall.O_CREAT, 0o600)
	if err != nil {
		return nil, fmt.Errorf("sched: open log relay %s: %w", path, err)
	}
	return &LogRelay{rw: f}, nil
}

// SendProcFin is send_proc_fin (spec §6.3): a worker's final message
// before exiting, reporting the job id and its completion code.
func (l *LogRelay) SendProcFin(jobID uint32, code CompletionCode) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:], jobID)
	binary.LittleEndian.PutUint32(buf[4:], uint32(code))
	_, err := l.rw.Write(buf[:])
	return err
}

// ReceiveProcFin reads one send_proc_fin message (scheduler side).
func (l *LogRelay) ReceiveProcFin() (jobID uint32, code CompletionCode, err error) {
	var buf [8]byte
	if _, err := io.ReadFull(l.rw, buf[:]); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint32(buf[0:]), CompletionCode(binary.LittleEndian.Uint32(buf[4:])), nil
}

// Close closes the underlying pipe.
func (l *LogRelay) Close() error { return l.rw.Close() }

// EnsureFifo creates path as a named pipe if it does not already exist,
// the one-time setup a scheduler does before any worker opens either
// end (spec §6.3).
func EnsureFifo(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := syscall.Mkfifo(path, 0o600); err != nil && !os.IsExist(err) {
		return fmt.Errorf("sched: mkfifo %s: %w", path, err)
	}
	return nil
}
