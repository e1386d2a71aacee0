package sendworker

import (
	"os"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"
)

// DupChecker remembers the content hash of every job already sent
// within its configured window, implementing the send worker's
// duplicate-suppression step (spec §4.5 step 3): an outgoing job whose
// first attachment hashes identically to one sent earlier is treated as
// a resend artifact, not a new message.
//
// xxhash gives a fast, non-cryptographic content identity check (the
// same tradeoff the teacher's pack uses it for — a dedup key, not a
// security boundary); golang-set holds the remembered set, and the
// order slice below tracks insertion order for eviction.
type DupChecker struct {
	seen mapset.Set[uint64]
	cap  int
	// order preserves insertion order so Remember can evict the oldest entry
	// once cap is exceeded (a plain ring, not an LRU: check_list-style
	// workloads see a job at most once within the dup window in
	// practice, so recency beyond "oldest first" doesn't matter here).
	order []uint64
}

// NewDupChecker creates a checker retaining up to cap distinct hashes.
func NewDupChecker(cap int) *DupChecker {
	return &DupChecker{seen: mapset.NewSet[uint64](), cap: cap}
}

// HashFile computes the content hash for a local attachment.
func HashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	buf := make([]byte, 64*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if rerr != nil {
			break
		}
	}
	return h.Sum64(), nil
}

// IsDuplicate reports whether hash has already been seen, without
// recording it.
func (d *DupChecker) IsDuplicate(hash uint64) bool {
	return d.seen.Contains(hash)
}

// Remember records hash as sent, evicting the oldest entry if the
// checker is at capacity.
func (d *DupChecker) Remember(hash uint64) {
	if d.seen.Contains(hash) {
		return
	}
	if d.cap > 0 && d.seen.Cardinality() >= d.cap && len(d.order) > 0 {
		oldest := d.order[0]
		d.order = d.order[1:]
		d.seen.Remove(oldest)
	}
	d.seen.Add(hash)
	d.order = append(d.order, hash)
}
