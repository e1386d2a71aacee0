// Package joblog writes the three persistent trails a worker leaves
// behind (spec §6.2): the binary output log (one record per file
// transferred), the binary delete log (one record per file removed
// without being sent), and the human-readable done-summary line a
// worker emits when a burst or session completes.
package joblog

import (
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"
)

// Summary is the data behind one done-summary line (spec §4.4 post-loop
// / §4.5 step 6).
type Summary struct {
	HostAlias    string
	Files        int
	Bytes        int64
	Duration     time.Duration
	BurstCount   int // SPEC_FULL.md §C.1: number of reused-connection bursts folded into this summary
}

// String renders the summary the way the teacher's accounting package
// renders a transfer-complete line: human-sized byte counts and a
// throughput figure, plus the burst count this module adds.
func (s Summary) String() string {
	rate := "n/a"
	if s.Duration > 0 {
		bps := float64(s.Bytes) / s.Duration.Seconds()
		rate = humanize.Bytes(uint64(bps)) + "/s"
	}
	tag := ""
	if s.BurstCount > 1 {
		tag = fmt.Sprintf(" [BURST=%d]", s.BurstCount)
	}
	return fmt.Sprintf("%s: %d file(s), %s transferred in %s (%s)%s",
		s.HostAlias, s.Files, humanize.Bytes(uint64(s.Bytes)), s.Duration.Round(time.Millisecond), rate, tag)
}
