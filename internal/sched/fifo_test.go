package sched

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureFifoCreatesNamedPipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wakeup.fifo")
	require.NoError(t, EnsureFifo(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeNamedPipe)

	// Calling it again on an already-existing fifo must be a no-op.
	require.NoError(t, EnsureFifo(path))
}

func TestWakeUpFifoSendReceiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wakeup.fifo")
	require.NoError(t, EnsureFifo(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		msg WakeUp
		err error
	}
	received := make(chan result, 1)

	go func() {
		reader, err := OpenWakeUpFifo(ctx, path, syscall.O_RDONLY)
		if err != nil {
			received <- result{err: err}
			return
		}
		defer func() { _ = reader.Close() }()
		msg, err := reader.Receive()
		received <- result{msg: msg, err: err}
	}()

	writer, err := OpenWakeUpFifo(ctx, path, syscall.O_WRONLY)
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	require.NoError(t, writer.Send(WakeUp{HostPos: 3, DirPos: 7}))

	select {
	case r := <-received:
		require.NoError(t, r.err)
		assert.Equal(t, WakeUp{HostPos: 3, DirPos: 7}, r.msg)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for wake-up message")
	}
}

func TestLogRelaySendProcFinRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logrelay.fifo")
	require.NoError(t, EnsureFifo(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		jobID uint32
		code  CompletionCode
		err   error
	}
	received := make(chan result, 1)

	go func() {
		reader, err := OpenLogRelay(ctx, path, syscall.O_RDONLY)
		if err != nil {
			received <- result{err: err}
			return
		}
		defer func() { _ = reader.Close() }()
		jobID, code, err := reader.ReceiveProcFin()
		received <- result{jobID: jobID, code: code, err: err}
	}()

	writer, err := OpenLogRelay(ctx, path, syscall.O_WRONLY)
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	require.NoError(t, writer.SendProcFin(99, CompletionCode(1)))

	select {
	case r := <-received:
		require.NoError(t, r.err)
		assert.Equal(t, uint32(99), r.jobID)
		assert.Equal(t, CompletionCode(1), r.code)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for proc-fin message")
	}
}
