// Package pacer implements the engine's in-worker retry. Its one caller
// is FTPClient.Connect, which retries a failed dial once; a refused
// login is not retried, and no reconnect-and-relogin after a USER
// refused on a later burst is implemented. Every other protocol failure
// propagates straight to a process exit code (spec §7).
//
// The shape (a Calculator that turns a retry State into a sleep
// duration, decaying on success and attacking on failure) is adapted
// from the teacher's lib/pacer.
package pacer

import (
	"math/rand"
	"sync"
	"time"
)

// State carries the pacer's memory between calls.
type State struct {
	SleepTime          time.Duration
	ConsecutiveRetries uint
}

// Calculator computes the next sleep time from the current state.
type Calculator interface {
	Calculate(state State) time.Duration
}

// Default is the teacher's exponential decay/attack calculator: sleep
// time decays geometrically towards minSleep on success and grows
// geometrically towards maxSleep on failure.
type Default struct {
	minSleep       time.Duration
	maxSleep       time.Duration
	decayConstant  uint
	attackConstant uint
}

// Option configures a Default calculator or a Pacer.
type Option func(*options)

type options struct {
	minSleep       time.Duration
	maxSleep       time.Duration
	decayConstant  uint
	attackConstant uint
	retries        int
}

// MinSleep sets the minimum time to sleep between retries.
func MinSleep(d time.Duration) Option { return func(o *options) { o.minSleep = d } }

// MaxSleep sets the maximum time to sleep between retries.
func MaxSleep(d time.Duration) Option { return func(o *options) { o.maxSleep = d } }

// DecayConstant sets how fast the sleep time decays on success.
func DecayConstant(c uint) Option { return func(o *options) { o.decayConstant = c } }

// RetriesOption sets the number of retries attempted.
func RetriesOption(n int) Option { return func(o *options) { o.retries = n } }

func newOptions(opts ...Option) options {
	o := options{
		minSleep:      10 * time.Millisecond,
		maxSleep:      2 * time.Second,
		decayConstant: 2,
		retries:       1,
	}
	o.attackConstant = 1
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// NewDefault creates a Default calculator.
func NewDefault(opts ...Option) *Default {
	o := newOptions(opts...)
	return &Default{
		minSleep:       o.minSleep,
		maxSleep:       o.maxSleep,
		decayConstant:  o.decayConstant,
		attackConstant: o.attackConstant,
	}
}

// Calculate implements Calculator.
func (d *Default) Calculate(state State) time.Duration {
	if state.ConsecutiveRetries == 0 {
		// decay: geometric approach towards minSleep
		sleepTime := d.minSleep
		if d.decayConstant > 0 {
			num := state.SleepTime*time.Duration(d.decayConstant) - d.minSleep
			den := time.Duration(d.decayConstant)
			if num > 0 {
				sleepTime = num / den
			}
		}
		if sleepTime < d.minSleep {
			sleepTime = d.minSleep
		}
		return sleepTime
	}
	// attack: geometric approach towards maxSleep
	sleepTime := d.maxSleep
	den := time.Duration(d.attackConstant + 1)
	num := state.SleepTime*time.Duration(d.attackConstant) + d.maxSleep
	if den > 0 {
		sleepTime = num / den
	}
	if sleepTime > d.maxSleep {
		sleepTime = d.maxSleep
	}
	return sleepTime
}

// Pacer serializes an operation (one control connection at a time) and
// retries it, sleeping according to its Calculator between attempts.
type Pacer struct {
	mu         sync.Mutex
	calculator Calculator
	state      State
	retries    int
	pacer      chan struct{}
}

// New creates a Pacer ready to call operations through.
func New(opts ...Option) *Pacer {
	o := newOptions(opts...)
	d := &Default{
		minSleep:       o.minSleep,
		maxSleep:       o.maxSleep,
		decayConstant:  o.decayConstant,
		attackConstant: o.attackConstant,
	}
	p := &Pacer{
		calculator: d,
		retries:    o.retries,
		pacer:      make(chan struct{}, 1),
	}
	p.state.SleepTime = d.minSleep
	p.pacer <- struct{}{}
	return p
}

// SetRetries changes how many times Call will retry before giving up.
func (p *Pacer) SetRetries(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = n
}

// Call runs fn, retrying while it returns (true, err), sleeping the
// calculated backoff (plus up to 10% jitter) between attempts, and
// stopping after the configured number of retries or on (false, err).
func (p *Pacer) Call(fn func() (bool, error)) error {
	<-p.pacer
	defer func() { p.pacer <- struct{}{} }()

	var err error
	for try := 0; try <= p.retries; try++ {
		var retry bool
		retry, err = fn()
		p.mu.Lock()
		sleep := p.calculator.Calculate(p.state)
		if retry {
			p.state.ConsecutiveRetries++
		} else {
			p.state.ConsecutiveRetries = 0
		}
		p.state.SleepTime = sleep
		p.mu.Unlock()
		if !retry {
			return err
		}
		if try == p.retries {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(sleep)/10 + 1))
		time.Sleep(sleep + jitter)
	}
	return err
}
