// Package protocol defines the capability-set interface a fetch or
// send worker programs against (spec §9 "ProtocolClient"), decoupling
// the state machines in internal/fetchworker and internal/sendworker
// from the concrete FTP/SMTP wire implementations in this package.
package protocol

import (
	"context"
	"io"
	"time"
)

// RemoteFile is one directory-listing entry as seen through a
// FetchClient, independent of the wire format (MLSD, LIST, ...) it was
// parsed from.
type RemoteFile struct {
	Name    string
	Size    int64 // -1 if unknown
	Modify  time.Time
	GotDate bool
}

// FetchClient is the capability set the fetch worker state machine
// (spec §4.4) needs from a remote source protocol.
type FetchClient interface {
	// Connect performs the connect/login sequence (spec §4.4 steps 1-2).
	Connect(ctx context.Context) error
	// Chdir validates and enters the configured remote directory (spec
	// §4.4 step 3).
	Chdir(ctx context.Context, dir string) error
	// List returns the directory's current member listing (spec §4.4
	// step 4); implementations prefer MLSD and fall back to NLST/LIST
	// per the Feat capability check.
	List(ctx context.Context) ([]RemoteFile, error)
	// Retrieve streams name's content starting at offset (for resumed
	// downloads, spec §8 scenario S3) to w, returning bytes copied.
	Retrieve(ctx context.Context, name string, offset int64, w io.Writer) (int64, error)
	// Delete removes name from the remote directory (spec §4.4 step 11).
	// The fetch worker calls it after a download when
	// Config.DeleteRemoteAfterFetch is set, and for a vanished or
	// unreadable file under the unreadable-file policy.
	Delete(ctx context.Context, name string) error
	// Noop keeps a pooled control connection alive between bursts
	// (spec §4.4 "burst reuse").
	Noop(ctx context.Context) error
	// Quit closes the control connection cleanly.
	Quit(ctx context.Context) error
}

// Attachment is one local file handed to a SendClient for one outgoing
// job (spec §4.5, §3.5).
type Attachment struct {
	Path string
	Name string
	Size int64
}

// SendClient is the capability set the send worker state machine
// (spec §4.5) needs from an outgoing mail transport.
type SendClient interface {
	// Connect performs the connect/EHLO/auth sequence.
	Connect(ctx context.Context) error
	// Send transmits one outgoing job as a single message, honoring
	// attachAll (spec §4.5 step 4, ATTACH_ALL_FILES).
	Send(ctx context.Context, subject string, attachments []Attachment, attachAll bool) error
	// Quit closes the session cleanly.
	Quit(ctx context.Context) error
}
