package pacer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCalculateDecaysOnSuccess(t *testing.T) {
	d := NewDefault(MinSleep(10*time.Millisecond), MaxSleep(time.Second), DecayConstant(2))
	sleep := d.Calculate(State{SleepTime: 100 * time.Millisecond, ConsecutiveRetries: 0})
	assert.Less(t, sleep, 100*time.Millisecond)
	assert.GreaterOrEqual(t, sleep, 10*time.Millisecond)
}

func TestDefaultCalculateAttacksOnFailure(t *testing.T) {
	d := NewDefault(MinSleep(10*time.Millisecond), MaxSleep(time.Second))
	sleep := d.Calculate(State{SleepTime: 10 * time.Millisecond, ConsecutiveRetries: 1})
	assert.Greater(t, sleep, 10*time.Millisecond)
	assert.LessOrEqual(t, sleep, time.Second)
}

func TestPacerCallSucceedsFirstTry(t *testing.T) {
	p := New(RetriesOption(3))
	calls := 0
	err := p.Call(func() (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPacerCallRetriesUntilSuccess(t *testing.T) {
	p := New(RetriesOption(3), MinSleep(time.Millisecond), MaxSleep(5*time.Millisecond))
	calls := 0
	err := p.Call(func() (bool, error) {
		calls++
		if calls < 3 {
			return true, errors.New("transient")
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPacerCallStopsAfterConfiguredRetries(t *testing.T) {
	p := New(RetriesOption(1), MinSleep(time.Millisecond), MaxSleep(2*time.Millisecond))
	calls := 0
	err := p.Call(func() (bool, error) {
		calls++
		return true, errors.New("always fails")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls) // initial try + 1 retry
}
