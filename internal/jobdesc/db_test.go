package jobdesc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holger-afd/afd-transfer/internal/afdconfig"
)

func TestUniqueNameRoundTrip(t *testing.T) {
	u := NewUniqueName("batch17", 0xdeadbeef, 3)
	s := u.String()

	parsed, err := ParseUniqueName(s)
	require.NoError(t, err)
	assert.Equal(t, u, parsed)
}

func TestUniqueNameWithUnderscoreInSeed(t *testing.T) {
	u := NewUniqueName("2024_06_01", 1, 0)
	parsed, err := ParseUniqueName(u.String())
	require.NoError(t, err)
	assert.Equal(t, u, parsed)
}

func TestParseUniqueNameRejectsMalformed(t *testing.T) {
	_, err := ParseUniqueName("not-a-valid-name")
	assert.Error(t, err)
}

func TestAgeLimitExceeded(t *testing.T) {
	dir := afdconfig.DirOverrides{AgeLimit: time.Hour}
	created := time.Now().Add(-2 * time.Hour)
	assert.True(t, AgeLimitExceeded(dir, created, time.Now()))
	assert.False(t, AgeLimitExceeded(dir, time.Now(), time.Now()))
}

func TestAgeLimitDisabledWhenZero(t *testing.T) {
	dir := afdconfig.DirOverrides{}
	assert.False(t, AgeLimitExceeded(dir, time.Now().Add(-100*time.Hour), time.Now()))
}

func TestLoadMergesHostAndDir(t *testing.T) {
	host := afdconfig.HostDefaults{Port: "21", Flags: afdconfig.FlagKeepAlive}
	dir := afdconfig.DirOverrides{TargetDir: "/data/in"}

	d, err := Load(7, 0, 0, "host1", "dir1", host, dir)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), d.JobID)
	assert.Equal(t, "/data/in", d.Dir.TargetDir)
	assert.True(t, d.Dir.Flags.Has(afdconfig.FlagKeepAlive))
}
