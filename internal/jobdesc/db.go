// Package jobdesc implements the Job Descriptor (spec §3.4): the
// per-transfer configuration record a fetch or send worker is started
// with, and the outgoing-job unique_name/directory-name conventions
// from spec §3.5 and §6.1.
package jobdesc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/holger-afd/afd-transfer/internal/afdconfig"
)

// Descriptor is the fully-merged configuration one worker instance
// receives at startup (spec §3.4): host defaults layered with directory
// overrides, plus the job's identity fields.
type Descriptor struct {
	JobID      uint32
	HostAlias  string
	HostPos    int
	DirPos     int
	DirAlias   string

	Host afdconfig.HostDefaults
	Dir  afdconfig.DirOverrides

	// OldErrorJob marks a job descriptor recreated after an error-queue
	// requeue (spec §6.1, §9 Open Questions — see SPEC_FULL.md §C.2):
	// check_list keeps honoring FlagOldErrorJob's per-entry locking even
	// in Mode A for exactly this job until it completes cleanly once.
	OldErrorJob bool
}

// Load merges host and dir into a Descriptor's embedded Host/Dir
// fields via afdconfig.Merge.
func Load(jobID uint32, hostPos, dirPos int, hostAlias, dirAlias string, host afdconfig.HostDefaults, dir afdconfig.DirOverrides) (Descriptor, error) {
	mergedHost, mergedDir, err := afdconfig.Merge(host, dir)
	if err != nil {
		return Descriptor{}, fmt.Errorf("jobdesc: merge failed for job %d: %w", jobID, err)
	}
	d := Descriptor{
		JobID:     jobID,
		HostAlias: hostAlias,
		HostPos:   hostPos,
		DirPos:    dirPos,
		DirAlias:  dirAlias,
		Host:      mergedHost,
		Dir:       mergedDir,
	}
	d.OldErrorJob = mergedDir.Flags.Has(afdconfig.FlagOldErrorJob) || mergedHost.Flags.Has(afdconfig.FlagOldErrorJob)
	return d, nil
}

// UniqueName is the outgoing job directory's leaf name, the identity a
// send worker parses back out when it enumerates outgoing/ (spec §3.5,
// §6.1): "<unique>_<jobID-hex>_<dirNumber>".
type UniqueName struct {
	Unique    string
	JobID     uint32
	DirNumber uint32
}

// String renders a UniqueName in the canonical outgoing/ layout form.
func (u UniqueName) String() string {
	return fmt.Sprintf("%s_%08x_%d", u.Unique, u.JobID, u.DirNumber)
}

// ParseUniqueName reverses String, used by a send worker walking
// outgoing/ to recover which job produced each spooled directory (spec
// §4.5 step 1, §6.1).
func ParseUniqueName(s string) (UniqueName, error) {
	parts := strings.Split(s, "_")
	if len(parts) < 3 {
		return UniqueName{}, fmt.Errorf("jobdesc: malformed unique name %q", s)
	}
	dirNumberStr := parts[len(parts)-1]
	jobIDStr := parts[len(parts)-2]
	unique := strings.Join(parts[:len(parts)-2], "_")

	jobID, err := strconv.ParseUint(jobIDStr, 16, 32)
	if err != nil {
		return UniqueName{}, fmt.Errorf("jobdesc: malformed job id in %q: %w", s, err)
	}
	dirNumber, err := strconv.ParseUint(dirNumberStr, 10, 32)
	if err != nil {
		return UniqueName{}, fmt.Errorf("jobdesc: malformed dir number in %q: %w", s, err)
	}
	return UniqueName{Unique: unique, JobID: uint32(jobID), DirNumber: uint32(dirNumber)}, nil
}

// NewUniqueName builds one from a job id and dir number using seed as
// the disambiguating prefix (the C source derives "unique" from a
// counter plus pid; here the caller supplies an already-unique seed,
// e.g. from a monotonically increasing counter kept by the scheduler).
func NewUniqueName(seed string, jobID uint32, dirNumber uint32) UniqueName {
	return UniqueName{Unique: seed, JobID: jobID, DirNumber: dirNumber}
}

// AgeLimitExceeded reports whether a spooled job directory with the
// given creation time has exceeded its directory's age limit (spec
// §4.5 step 2, §8 scenario S5): such jobs are purged unsent rather than
// transmitted.
func AgeLimitExceeded(dir afdconfig.DirOverrides, created time.Time, now time.Time) bool {
	if dir.AgeLimit <= 0 {
		return false
	}
	return now.Sub(created) > dir.AgeLimit
}
