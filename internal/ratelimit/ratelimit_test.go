package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewZeroOrNegativeIsUnlimited(t *testing.T) {
	for _, bps := range []int64{0, -1} {
		l := New(bps)
		start := time.Now()
		err := l.WaitN(context.Background(), 10*1024*1024)
		assert.NoError(t, err)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	}
}

func TestWaitNDrainsLargerThanBurstInSlices(t *testing.T) {
	l := New(1024) // burst capped at bytesPerSecond here, 1024
	err := l.WaitN(context.Background(), 4096)
	assert.NoError(t, err)
}

func TestWaitNRespectsContextCancellation(t *testing.T) {
	l := New(1) // tiny rate, forces a real wait
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.WaitN(ctx, 100)
	assert.Error(t, err)
}

func TestSetBytesPerSecondFromUnlimitedToLimited(t *testing.T) {
	l := New(0)
	l.SetBytesPerSecond(1024)
	assert.NotNil(t, l.rl)
}

func TestSetBytesPerSecondToZeroDisablesLimiting(t *testing.T) {
	l := New(1024)
	l.SetBytesPerSecond(0)
	assert.Nil(t, l.rl)
	assert.NoError(t, l.WaitN(context.Background(), 10*1024*1024))
}

func TestTransferTimeoutZeroMeansNoTimeout(t *testing.T) {
	tt := NewTransferTimeout(0)
	time.Sleep(5 * time.Millisecond)
	assert.False(t, tt.Exceeded())
}

func TestTransferTimeoutExceeded(t *testing.T) {
	tt := NewTransferTimeout(1 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, tt.Exceeded())
}

func TestTransferTimeoutNotYetExceeded(t *testing.T) {
	tt := NewTransferTimeout(1 * time.Hour)
	assert.False(t, tt.Exceeded())
}
