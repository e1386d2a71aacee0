// Package ratelimit throttles a worker's transfer rate to the FSA's
// trl_per_process (bytes/sec), the way the teacher's fs/accounting
// wraps golang.org/x/time/rate around every transfer.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter caps throughput for a single worker's data connection. A zero
// Limiter (from New(0)) never throttles — trl_per_process of 0 means
// "unlimited" in the FSA, same convention as the C source.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a Limiter capped at bytesPerSecond. The burst size is one
// blocksize-ish chunk (64KiB), or bytesPerSecond when that is smaller.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return &Limiter{}
	}
	burst := int(bytesPerSecond)
	if burst > 64*1024 {
		burst = 64 * 1024
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// WaitN blocks until n bytes' worth of tokens are available, the
// enforcement point for spec §4.4 step 5 / §4.5 step 4
// ("enforce trl_per_process via init/limit_transfer_rate").
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l == nil || l.rl == nil || n <= 0 {
		return nil
	}
	// WaitN refuses to wait for a request bigger than the burst size; to
	// support chunks larger than the configured burst, drain in slices.
	burst := l.rl.Burst()
	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}
		if err := l.rl.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// SetBytesPerSecond reconfigures the limit in place, used when a job
// switches hosts mid-burst with a different trl_per_process.
func (l *Limiter) SetBytesPerSecond(bytesPerSecond int64) {
	if bytesPerSecond <= 0 {
		l.rl = nil
		return
	}
	if l.rl == nil {
		*l = *New(bytesPerSecond)
		return
	}
	l.rl.SetLimit(rate.Limit(bytesPerSecond))
}

// TransferTimeout enforces spec's TIMEOUT_TRANSFER: the wall-clock delta
// since a file's transfer start must not exceed timeout.
type TransferTimeout struct {
	start   time.Time
	timeout time.Duration
}

// NewTransferTimeout starts a deadline clock for one file transfer.
func NewTransferTimeout(timeout time.Duration) *TransferTimeout {
	return &TransferTimeout{start: time.Now(), timeout: timeout}
}

// Exceeded reports whether the configured timeout has elapsed.
func (t *TransferTimeout) Exceeded() bool {
	if t.timeout <= 0 {
		return false
	}
	return time.Since(t.start) > t.timeout
}
