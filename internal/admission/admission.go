// Package admission implements the directory-level filter pipeline
// applied to each listing entry before it ever reaches check_list
// (spec §4.2): file-mask matching, size/age predicates, the
// unknown-file policy, and the batch caps that bound one fetch pass.
package admission

import (
	"path/filepath"
	"time"

	"github.com/holger-afd/afd-transfer/internal/afdconfig"
	"github.com/holger-afd/afd-transfer/internal/listing"
)

// Decision is the outcome of running one entry through the pipeline.
type Decision struct {
	Admit  bool
	Reason string // set when Admit == false, for the event log
}

func reject(reason string) Decision { return Decision{Admit: false, Reason: reason} }

// Filter holds one directory's admission configuration (the FRA-
// derived subset of DirOverrides relevant to filtering, spec §3.2) plus
// the masks a directory is configured with (spec §4.2 step 1).
type Filter struct {
	Masks []string // shell file-masks, e.g. "*.pdf"; empty = match all

	IgnoreSize     int64
	GtLtSign       afdconfig.GtLtSign
	IgnoreFileTime time.Duration // 0 disables the age predicate
	AcceptDotFiles bool

	DeleteFilesFlag    afdconfig.DeleteFilesFlag
	UnknownFileTime    time.Duration
	UnreadableFileTime time.Duration

	MaxCopiedFiles    int
	MaxCopiedFileSize int64
}

// Admit runs one listing entry through the filter pipeline (spec §4.2
// steps 1-4, batch caps are step 5 and are evaluated separately by
// WithinCaps since they depend on running totals check_list owns).
// A name that matches no mask is only rejected: the unknown-file policy
// (remote delete of an unmatched file once it is old enough) is not
// applied, here or by any caller.
func (f Filter) Admit(e listing.Entry, now time.Time) Decision {
	if e.Type == listing.TypeDir {
		return reject("is a directory")
	}
	if !f.AcceptDotFiles && len(e.Name) > 0 && e.Name[0] == '.' {
		return reject("dot file and accept_dot_files is NO")
	}
	if e.Type == listing.TypeSymlink && e.LinkTarget == "" {
		return reject("unresolvable symlink")
	}

	if len(f.Masks) > 0 && !f.matchesAnyMask(e.Name) {
		return reject("no file-mask match")
	}

	if e.Size < 0 {
		// Unknown size: spec §4.2 step 3 "unknown-file policy" — admit
		// only if the directory is configured to delete/retry unreadable
		// files, otherwise treat as not-yet-readable and skip this round.
		if f.DeleteFilesFlag.Has(afdconfig.DeleteUnreadableFiles) {
			return Decision{Admit: true}
		}
		return reject("size unknown, unreadable-file policy not set")
	}

	if !f.sizePredicate(e.Size) {
		return reject("size predicate failed")
	}

	if f.IgnoreFileTime > 0 && e.GotDate {
		if !f.agePredicate(e.Modify, now) {
			return reject("age predicate failed")
		}
	}

	return Decision{Admit: true}
}

func (f Filter) matchesAnyMask(name string) bool {
	for _, m := range f.Masks {
		if ok, err := filepath.Match(m, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (f Filter) sizePredicate(size int64) bool {
	if f.IgnoreSize == -1 {
		return true // spec §4.2 step 2: ignore_size == -1 means any size is allowed
	}
	switch f.GtLtSign {
	case afdconfig.SignLess:
		return size < f.IgnoreSize
	case afdconfig.SignGreater:
		return size > f.IgnoreSize
	default: // afdconfig.SignEqual
		return size == f.IgnoreSize
	}
}

func (f Filter) agePredicate(mtime, now time.Time) bool {
	age := now.Sub(mtime)
	switch f.GtLtSign {
	case afdconfig.SignLess:
		return age < f.IgnoreFileTime
	case afdconfig.SignGreater:
		return age > f.IgnoreFileTime
	default: // afdconfig.SignEqual
		return age == f.IgnoreFileTime
	}
}

// BatchState tracks the running totals a directory scan accumulates as
// check_list accepts files, so WithinCaps can enforce the batch caps
// from spec §4.2 step 5 ("more_files_in_list").
type BatchState struct {
	FilesSoFar int
	SizeSoFar  int64
}

// WithinCaps reports whether accepting one more file of size would stay
// within f's MaxCopiedFiles/MaxCopiedFileSize caps. A zero cap means
// unlimited, matching the teacher's "0 = no limit" config convention.
func (f Filter) WithinCaps(st BatchState, size int64) bool {
	if f.MaxCopiedFiles > 0 && st.FilesSoFar+1 > f.MaxCopiedFiles {
		return false
	}
	if f.MaxCopiedFileSize > 0 && st.SizeSoFar+size > f.MaxCopiedFileSize {
		return false
	}
	return true
}
