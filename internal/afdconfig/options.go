package afdconfig

import (
	"time"

	"dario.cat/mergo"
)

// TLSAuth mirrors db.tls_auth ∈ {NO, CONTROL, BOTH} (spec §3.4).
type TLSAuth int

const (
	TLSAuthNone TLSAuth = iota
	TLSAuthControl
	TLSAuthBoth
)

// TransferMode mirrors db.transfer_mode (spec §3.4).
type TransferMode int

const (
	TransferModeAuto TransferMode = iota
	TransferModeASCII
	TransferModeBinary
	TransferModeNone
)

// SpecialFlag bits, folded from the FSA protocol_options / FRA
// dir_options bitsets that a job descriptor inherits (spec §3.1, §3.2).
type SpecialFlag uint32

const (
	FlagKeepAlive SpecialFlag = 1 << iota
	FlagBursting
	FlagTLSStrictVerify
	FlagImplicitFTPS
	FlagKeepTimeStamp
	FlagSortFileNames
	FlagSetIdleTime
	FlagDisableMLST
	FlagUseList
	FlagUseStatList
	FlagAttachAllFiles
	FlagAttachFile
	FlagEncodeANSI
	FlagSilentNotLockedFile
	FlagOldErrorJob
	FlagDoNotDeleteData
	FlagSimulateMode
)

// Has reports whether flag bit f is set.
func (f SpecialFlag) Has(bit SpecialFlag) bool { return f&bit != 0 }

// HostDefaults are the per-host settings a job descriptor starts from
// (the relevant subset of FSA, spec §3.1) before directory-level
// overrides (FRA, spec §3.2) are merged on top.
type HostDefaults struct {
	Port             string
	User             string
	Pass             string // obscured
	TLSAuth          TLSAuth
	TransferMode     TransferMode
	RcvBufSize       int
	SndBufSize       int
	KeepConnected    time.Duration
	Disconnect       time.Duration
	Retries          int
	BlockSize        int
	RateLimitPerSec  int64
	Flags            SpecialFlag
	IdleTimeout      time.Duration
	TransferTimeout  time.Duration
}

// DirOverrides are directory-level (FRA) overrides merged over
// HostDefaults to produce the final Job Descriptor options.
type DirOverrides struct {
	TargetDir         string
	AgeLimit          time.Duration
	Flags             SpecialFlag
	MaxCopiedFiles    int
	MaxCopiedFileSize int64
	IgnoreSize        int64
	IgnoreFileTime    time.Duration
	GtLtSign          GtLtSign
	DeleteFilesFlag   DeleteFilesFlag
	UnknownFileTime   time.Duration
	UnreadableFileTime time.Duration
	Remove            bool
	StupidMode        StupidMode
	DupCheckTimeout   time.Duration
}

// GtLtSign selects which relation a size/mtime predicate tests, spec §4.2.
type GtLtSign int

const (
	SignEqual GtLtSign = iota
	SignLess
	SignGreater
)

// DeleteFilesFlag bits, spec §3.2.
type DeleteFilesFlag uint32

const (
	DeleteUnknownFiles DeleteFilesFlag = 1 << iota
	DeleteUnreadableFiles
)

// StupidMode, spec §3.2/GLOSSARY.
type StupidMode int

const (
	StupidModeNo StupidMode = iota
	StupidModeYes
	StupidModeGetOnceOnly
	StupidModeAppendOnly
)

// Merge returns host unchanged and dir with its Flags taken from
// host.Flags when dir sets no Flags of its own (mergo without
// WithOverride fills only zero-valued fields, so a non-zero dir Flags
// wins); every other dir field is returned as given. Using mergo here (rather
// than hand-rolled field-by-field copying) is the same choice the rest
// of the pack makes for layered option structs.
func Merge(host HostDefaults, dir DirOverrides) (HostDefaults, DirOverrides, error) {
	mergedHost := host
	mergedDir := dir
	if err := mergo.Merge(&mergedDir, DirOverrides{Flags: host.Flags}, mergo.WithoutDereference); err != nil {
		return host, dir, err
	}
	return mergedHost, mergedDir, nil
}
