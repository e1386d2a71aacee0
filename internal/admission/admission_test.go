package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/holger-afd/afd-transfer/internal/afdconfig"
	"github.com/holger-afd/afd-transfer/internal/listing"
)

func TestAdmitRejectsDirectories(t *testing.T) {
	f := Filter{}
	d := f.Admit(listing.Entry{Name: "sub", Type: listing.TypeDir}, time.Now())
	assert.False(t, d.Admit)
}

func TestAdmitRejectsDotFilesByDefault(t *testing.T) {
	f := Filter{AcceptDotFiles: false, IgnoreSize: -1}
	d := f.Admit(listing.Entry{Name: ".hidden", Type: listing.TypeFile, Size: 10}, time.Now())
	assert.False(t, d.Admit)

	f.AcceptDotFiles = true
	d = f.Admit(listing.Entry{Name: ".hidden", Type: listing.TypeFile, Size: 10}, time.Now())
	assert.True(t, d.Admit)
}

func TestAdmitFileMask(t *testing.T) {
	f := Filter{Masks: []string{"*.csv"}, IgnoreSize: -1}
	assert.True(t, f.Admit(listing.Entry{Name: "report.csv", Type: listing.TypeFile, Size: 1}, time.Now()).Admit)
	assert.False(t, f.Admit(listing.Entry{Name: "report.txt", Type: listing.TypeFile, Size: 1}, time.Now()).Admit)
}

func TestAdmitUnknownSizePolicy(t *testing.T) {
	f := Filter{}
	d := f.Admit(listing.Entry{Name: "x", Type: listing.TypeFile, Size: -1}, time.Now())
	assert.False(t, d.Admit)

	f.DeleteFilesFlag = afdconfig.DeleteUnreadableFiles
	d = f.Admit(listing.Entry{Name: "x", Type: listing.TypeFile, Size: -1}, time.Now())
	assert.True(t, d.Admit)
}

func TestAdmitSizePredicate(t *testing.T) {
	f := Filter{IgnoreSize: 100, GtLtSign: afdconfig.SignGreater}
	assert.True(t, f.Admit(listing.Entry{Name: "a", Type: listing.TypeFile, Size: 200}, time.Now()).Admit)
	assert.False(t, f.Admit(listing.Entry{Name: "b", Type: listing.TypeFile, Size: 50}, time.Now()).Admit)
}

func TestAdmitAgePredicate(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	f := Filter{IgnoreFileTime: 24 * time.Hour, GtLtSign: afdconfig.SignGreater}
	old := listing.Entry{Name: "old", Type: listing.TypeFile, Size: 1, Modify: now.Add(-48 * time.Hour), GotDate: true}
	fresh := listing.Entry{Name: "fresh", Type: listing.TypeFile, Size: 1, Modify: now.Add(-time.Hour), GotDate: true}

	assert.True(t, f.Admit(old, now).Admit)
	assert.False(t, f.Admit(fresh, now).Admit)
}

func TestAdmitSizePredicateEqual(t *testing.T) {
	f := Filter{IgnoreSize: 500}
	assert.True(t, f.Admit(listing.Entry{Name: "a", Type: listing.TypeFile, Size: 500}, time.Now()).Admit)
	assert.False(t, f.Admit(listing.Entry{Name: "b", Type: listing.TypeFile, Size: 400}, time.Now()).Admit)
}

func TestAdmitSizePredicateIgnoreSizeDisabled(t *testing.T) {
	f := Filter{IgnoreSize: -1}
	assert.True(t, f.Admit(listing.Entry{Name: "a", Type: listing.TypeFile, Size: 0}, time.Now()).Admit)
	assert.True(t, f.Admit(listing.Entry{Name: "b", Type: listing.TypeFile, Size: 1 << 30}, time.Now()).Admit)
}

func TestWithinCaps(t *testing.T) {
	f := Filter{MaxCopiedFiles: 2, MaxCopiedFileSize: 1000}
	st := BatchState{FilesSoFar: 1, SizeSoFar: 500}
	assert.True(t, f.WithinCaps(st, 400))
	assert.False(t, f.WithinCaps(st, 600)) // would exceed size cap

	st2 := BatchState{FilesSoFar: 2, SizeSoFar: 0}
	assert.False(t, f.WithinCaps(st2, 1)) // would exceed file-count cap
}

func TestWithinCapsZeroMeansUnlimited(t *testing.T) {
	f := Filter{}
	assert.True(t, f.WithinCaps(BatchState{FilesSoFar: 1_000_000, SizeSoFar: 1_000_000_000}, 1))
}
