// Package fetchworker implements the FTP fetch worker state machine
// (spec §4.4): connect, login, validate the target directory, list it,
// admit and reserve candidate files through check_list, download each,
// and report outcomes back to the FSA/FRA/output log, reusing its
// control connection across bursts until a burst admits no file,
// MaxBursts is reached, the keepalive NOOP fails, or an error ends the
// session. Config.IdleTimeout is not consulted.
package fetchworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/holger-afd/afd-transfer/internal/admission"
	"github.com/holger-afd/afd-transfer/internal/aerrors"
	"github.com/holger-afd/afd-transfer/internal/afdconfig"
	"github.com/holger-afd/afd-transfer/internal/afdexit"
	"github.com/holger-afd/afd-transfer/internal/joblog"
	"github.com/holger-afd/afd-transfer/internal/listing"
	"github.com/holger-afd/afd-transfer/internal/localfile"
	"github.com/holger-afd/afd-transfer/internal/protocol"
	"github.com/holger-afd/afd-transfer/internal/ratelimit"
	"github.com/holger-afd/afd-transfer/internal/retrievelist"
	"github.com/holger-afd/afd-transfer/internal/status"
)

// Deps bundles everything a Worker needs that isn't part of its own
// per-job state: the shared status areas, the directory's RL, the
// protocol client, and where to write local copies and logs.
type Deps struct {
	Client   protocol.FetchClient
	FSA      *status.Area
	FRA      *status.DirArea
	RL       *retrievelist.List
	Logs     *joblog.TextLogs
	Output   *joblog.OutputLog
	Deletes  *joblog.DeleteLog
}

// Config is the merged, per-job configuration a Worker runs with
// (spec §3.4).
type Config struct {
	HostPos    int
	DirPos     int
	WorkerSlot int
	JobID      uint32
	HostAlias  string
	DirAlias   string
	RemoteDir  string
	TargetDir  string

	RateLimitPerSec int64
	TransferTimeout time.Duration
	IdleTimeout     time.Duration
	MaxBursts       int // 0 = unlimited, else cap on reused-connection cycles

	Filter admission.Filter
	Mode   retrievelist.Mode

	DeleteRemoteAfterFetch bool
	CreateTargetDir        bool
	KeepTimeStamp          bool // spec §3.2 dir_options KEEP_TIME_STAMP
}

// Worker runs one fetch session: one or more bursts over a single
// reused control connection, per spec §4.4 "burst reuse of control
// connection".
type Worker struct {
	cfg  Config
	deps Deps
	rl   *ratelimit.Limiter
}

// New builds a Worker.
func New(cfg Config, deps Deps) *Worker {
	return &Worker{cfg: cfg, deps: deps, rl: ratelimit.New(cfg.RateLimitPerSec)}
}

// Run drives the full state machine and returns the process exit code
// to report through send_proc_fin (spec §4.4, §6.5).
func (w *Worker) Run(ctx context.Context) afdexit.Code {
	if err := w.connect(ctx); err != nil {
		w.deps.Logs.System.Errorf("connect failed: %v", err)
		return aerrors.ExitCode(err)
	}
	defer func() { _ = w.deps.Client.Quit(ctx) }()

	if err := w.deps.Client.Chdir(ctx, w.cfg.RemoteDir); err != nil {
		w.deps.Logs.System.Errorf("chdir %s failed: %v", w.cfg.RemoteDir, err)
		return aerrors.ExitCode(err)
	}

	summary := joblog.Summary{HostAlias: w.cfg.HostAlias}
	start := time.Now()

	var sessionErr error
	burst := 0
	for {
		burst++
		n, bytes, err := w.runBurst(ctx)
		summary.Files += n
		summary.Bytes += bytes
		summary.BurstCount = burst
		if err != nil {
			if aerrors.IsTemporary(err) {
				w.deps.Logs.Transfer.Warnf("burst %d: transient error, ending session: %v", burst, err)
				sessionErr = err
				break
			}
			w.deps.Logs.System.Errorf("burst %d failed: %v", burst, err)
			summary.Duration = time.Since(start)
			w.deps.Logs.Event.Infof("%s", summary)
			return aerrors.ExitCode(err)
		}
		if n == 0 {
			break // nothing admitted this round; session done
		}
		if w.cfg.MaxBursts > 0 && burst >= w.cfg.MaxBursts {
			break
		}
		if err := w.deps.Client.Noop(ctx); err != nil {
			w.deps.Logs.Transfer.Warnf("keepalive failed between bursts: %v", err)
			sessionErr = err
			break
		}
	}

	summary.Duration = time.Since(start)
	w.deps.Logs.Event.Infof("%s", summary)

	if summary.Files > 0 {
		_ = w.deps.FSA.WithTFCLocked(w.cfg.HostPos, func(tfc *status.Aggregates) {
			tfc.AddFileCounterDone(int64(summary.Files))
			tfc.AddBytesSend(summary.Bytes)
			tfc.DecrementCounters(int64(summary.Files), summary.Bytes)
		})
	}
	// FRA-2: dir_mtime only advances once the whole listing scan that
	// produced this session's bursts completed without error.
	if sessionErr == nil {
		w.deps.FRA.AdvanceDirMtime(w.cfg.DirPos, time.Now())
	}

	return afdexit.TransferSuccess
}

func (w *Worker) connect(ctx context.Context) error {
	return w.deps.Client.Connect(ctx)
}

// runBurst lists the remote directory once, admits and reserves
// candidates via check_list, and downloads every reserved file (spec
// §4.4 steps 3-10).
func (w *Worker) runBurst(ctx context.Context) (filesDone int, bytesDone int64, err error) {
	entries, err := w.deps.Client.List(ctx)
	if err != nil {
		return 0, 0, err
	}

	w.deps.RL.StartScan()
	var filesToRetrieve int
	var sizeToRetrieve int64
	var accepted []retrievelist.Result
	var names []string
	var mtimes []time.Time
	var sizes []int64

	now := time.Now()
	batch := admission.BatchState{}
	for _, e := range entries {
		dec := w.cfg.Filter.Admit(toListingEntry(e), now)
		if !dec.Admit {
			continue
		}
		res, err := w.deps.RL.CheckList(
			w.cfg.Mode, w.cfg.WorkerSlot, e.Name, e.Size, e.Modify, e.GotDate,
			retrievelist.Predicates{
				Accept:     func(size int64, mtime time.Time, gotDate bool) bool { return true },
				WithinCaps: func(size int64) bool { return w.cfg.Filter.WithinCaps(batch, size) },
			},
			&filesToRetrieve, &sizeToRetrieve,
		)
		if err != nil {
			return filesDone, bytesDone, fmt.Errorf("fetchworker: check_list failed for %s: %w", e.Name, err)
		}
		if res.Accepted {
			batch.FilesSoFar++
			batch.SizeSoFar += e.Size
			accepted = append(accepted, res)
			names = append(names, e.Name)
			mtimes = append(mtimes, e.Modify)
			sizes = append(sizes, e.Size)
		}
	}

	if w.cfg.CreateTargetDir {
		if err := os.MkdirAll(w.cfg.TargetDir, 0o755); err != nil {
			return filesDone, bytesDone, aerrors.Wrap(aerrors.KindLocalIO, afdexit.OpenLocalError, err)
		}
	}

	for i, name := range names {
		idx := accepted[i].Index
		n, err := w.downloadOne(ctx, name, idx, mtimes[i])
		if err != nil {
			if errors.Is(err, errRemoteGone) {
				w.handleRemoteGone(ctx, idx, name, mtimes[i], sizes[i])
				continue
			}
			w.deps.RL.Release(idx)
			return filesDone, bytesDone, err
		}
		filesDone++
		bytesDone += n
		w.deps.RL.MarkRetrieved(idx)
		_ = w.deps.Output.Write(joblog.OutputRecord{
			Time: time.Now(), HostAlias: w.cfg.HostAlias, FileName: name, Size: n, JobID: uint32(w.cfg.JobID),
		})
		if w.cfg.DeleteRemoteAfterFetch {
			if err := w.deps.Client.Delete(ctx, name); err != nil {
				w.deps.Logs.Transfer.Warnf("remote delete of %s failed: %v", name, err)
			}
		}
	}
	// Compact only after every accepted index has been written back:
	// compaction moves entries, which would invalidate those indices.
	if !w.cfg.Mode.Stateless {
		w.deps.RL.CompactStaleEntries()
	}

	return filesDone, bytesDone, nil
}

// errRemoteGone marks a download failure caused by the remote file
// disappearing mid-scan (spec §8 scenario S4): the worker reacts per
// handleRemoteGone and moves on instead of failing the whole session.
var errRemoteGone = errors.New("fetchworker: remote file no longer present")

// handleRemoteGone reacts to a RETR 550 (spec §4.4 step 3, scenario
// S4): "if beyond unreadable_file_time and policy allows, issue a
// remote delete and mark retrieved=YES, assigned=0; unlink any partial
// local file". When the directory isn't configured to delete
// unreadable files, or the file hasn't been gone long enough yet, the
// entry is just released so a later scan retries it.
func (w *Worker) handleRemoteGone(ctx context.Context, idx int, name string, mtime time.Time, size int64) {
	if !w.cfg.Filter.DeleteFilesFlag.Has(afdconfig.DeleteUnreadableFiles) || time.Since(mtime) < w.cfg.Filter.UnreadableFileTime {
		w.deps.RL.Release(idx)
		return
	}

	if err := w.deps.Client.Delete(ctx, name); err != nil {
		w.deps.Logs.Transfer.Warnf("remote delete of gone file %s failed: %v", name, err)
	}
	w.deps.RL.MarkRetrieved(idx)
	_ = os.Remove(filepath.Join(w.cfg.TargetDir, name) + ".tmp")
	_ = w.deps.Deletes.Write(joblog.DeleteRecord{
		Time: time.Now(), HostAlias: w.cfg.HostAlias, FileName: name,
		Reason: joblog.DeleteReasonServerDeletedDuringFetch,
	})
	_ = w.deps.FSA.WithTFCLocked(w.cfg.HostPos, func(tfc *status.Aggregates) {
		tfc.DecrementCounters(1, size)
	})
}

func (w *Worker) downloadOne(ctx context.Context, name string, rlIndex int, remoteMtime time.Time) (int64, error) {
	localPath := filepath.Join(w.cfg.TargetDir, name)
	var offset int64
	if fi, statErr := os.Stat(localPath + ".tmp"); statErr == nil {
		offset = fi.Size() // resumed download, spec §8 scenario S3
	}

	f, err := os.OpenFile(localPath+".tmp", os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return 0, aerrors.Wrap(aerrors.KindLocalIO, afdexit.OpenLocalError, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, aerrors.Wrap(aerrors.KindLocalIO, afdexit.WriteLocalError, err)
	}

	timeout := ratelimit.NewTransferTimeout(w.cfg.TransferTimeout)
	limited := &limitedWriter{w: f, limiter: w.rl, ctx: ctx, timeout: timeout}

	n, err := w.deps.Client.Retrieve(ctx, name, offset, limited)
	if err != nil {
		if code, ok := aerrors.FTPStatusCode(err); ok && code == 550 {
			return 0, errRemoteGone
		}
		return n, err
	}
	if timeout.Exceeded() {
		return n, aerrors.Wrap(aerrors.KindTimeout, afdexit.ReadRemoteError, fmt.Errorf("transfer timeout exceeded for %s", name))
	}

	if err := os.Rename(localPath+".tmp", localPath); err != nil {
		return n, aerrors.Wrap(aerrors.KindLocalIO, afdexit.WriteLocalError, err)
	}
	if w.cfg.KeepTimeStamp && !remoteMtime.IsZero() {
		if err := localfile.SetModTime(localPath, remoteMtime); err != nil {
			w.deps.Logs.Transfer.Warnf("keep_time_stamp: failed to set mtime on %s: %v", localPath, err)
		}
	}
	return offset + n, nil
}

// limitedWriter threads rate limiting and deadline enforcement through
// the Retrieve call's io.Writer destination.
type limitedWriter struct {
	w       io.Writer
	limiter *ratelimit.Limiter
	ctx     context.Context
	timeout *ratelimit.TransferTimeout
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.timeout.Exceeded() {
		return 0, fmt.Errorf("fetchworker: transfer timeout exceeded")
	}
	if err := l.limiter.WaitN(l.ctx, len(p)); err != nil {
		return 0, err
	}
	return l.w.Write(p)
}

// toListingEntry adapts a protocol.RemoteFile (wire-protocol-agnostic
// listing result) to the listing.Entry shape admission.Filter.Admit
// expects.
func toListingEntry(rf protocol.RemoteFile) listing.Entry {
	typ := listing.TypeFile
	return listing.Entry{
		Name:    rf.Name,
		Type:    typ,
		Size:    rf.Size,
		Modify:  rf.Modify,
		GotDate: rf.GotDate,
	}
}
