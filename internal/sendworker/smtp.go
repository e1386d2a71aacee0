// Package sendworker implements the SMTP send worker state machine
// (spec §4.5): enumerate the outgoing spool directory, purge
// age-expired jobs unsent, suppress resend duplicates, transmit each
// remaining job as one MIME message, and archive or delete its spool
// directory afterwards.
package sendworker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/holger-afd/afd-transfer/internal/aerrors"
	"github.com/holger-afd/afd-transfer/internal/afdconfig"
	"github.com/holger-afd/afd-transfer/internal/afdexit"
	"github.com/holger-afd/afd-transfer/internal/jobdesc"
	"github.com/holger-afd/afd-transfer/internal/joblog"
	"github.com/holger-afd/afd-transfer/internal/protocol"
	"github.com/holger-afd/afd-transfer/internal/status"
)

// Deps bundles a Worker's external dependencies.
type Deps struct {
	Client  protocol.SendClient
	FSA     *status.Area
	Logs    *joblog.TextLogs
	Output  *joblog.OutputLog
	Deletes *joblog.DeleteLog
	Dup     *DupChecker
}

// Config is one send worker's merged per-job configuration.
type Config struct {
	OutgoingDir string
	ArchiveDir  string // empty = delete instead of archive, spec §4.6 point 3 / §3.5
	HostAlias   string
	HostPos     int

	Dir afdconfig.DirOverrides
}

// Worker drains OutgoingDir once per Run call (spec §4.5); a scheduler
// invokes Run again on the next FD_WAKE_UP_FIFO signal.
type Worker struct {
	cfg  Config
	deps Deps
}

// New builds a Worker.
func New(cfg Config, deps Deps) *Worker {
	return &Worker{cfg: cfg, deps: deps}
}

// Run enumerates, filters, and transmits every outgoing job directory
// found under cfg.OutgoingDir, returning the process exit code to
// report through send_proc_fin (spec §4.5, §6.5).
func (w *Worker) Run(ctx context.Context) afdexit.Code {
	jobs, err := w.enumerate()
	if err != nil {
		w.deps.Logs.System.Errorf("enumerate outgoing dir failed: %v", err)
		return afdexit.OpenLocalError
	}
	if len(jobs) == 0 {
		return afdexit.TransferSuccess
	}

	if err := w.deps.Client.Connect(ctx); err != nil {
		w.deps.Logs.System.Errorf("smtp connect failed: %v", err)
		return aerrors.ExitCode(err)
	}
	defer func() { _ = w.deps.Client.Quit(ctx) }()

	summary := joblog.Summary{HostAlias: w.cfg.HostAlias}
	start := time.Now()

	for _, job := range jobs {
		if err := w.processJob(ctx, job, &summary); err != nil {
			w.deps.Logs.Transfer.Warnf("job %s failed: %v", job.name, err)
			if !aerrors.IsTemporary(err) {
				continue
			}
			summary.Duration = time.Since(start)
			w.deps.Logs.Event.Infof("%s", summary)
			return aerrors.ExitCode(err)
		}
	}

	summary.Duration = time.Since(start)
	w.deps.Logs.Event.Infof("%s", summary)
	return afdexit.TransferSuccess
}

type spoolJob struct {
	name    string
	path    string
	created time.Time
	unique  jobdesc.UniqueName
}

// enumerate reads the outgoing spool directory, oldest job first (spec
// §4.5 step 1 "process jobs in creation order").
func (w *Worker) enumerate() ([]spoolJob, error) {
	entries, err := os.ReadDir(w.cfg.OutgoingDir)
	if err != nil {
		return nil, err
	}
	var jobs []spoolJob
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		unique, err := jobdesc.ParseUniqueName(e.Name())
		if err != nil {
			continue // not a job directory; skip, don't abort the scan
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		jobs = append(jobs, spoolJob{
			name:    e.Name(),
			path:    filepath.Join(w.cfg.OutgoingDir, e.Name()),
			created: info.ModTime(),
			unique:  unique,
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].created.Before(jobs[j].created) })
	return jobs, nil
}

func (w *Worker) processJob(ctx context.Context, job spoolJob, summary *joblog.Summary) error {
	now := time.Now()
	// spec §4.5 step 2: "If age > age_limit and the host does not have
	// DO_NOT_DELETE_DATA, unlink locally ... else continue" — a host
	// flagged DO_NOT_DELETE_DATA keeps aged-out jobs and sends them
	// normally instead.
	if jobdesc.AgeLimitExceeded(w.cfg.Dir, job.created, now) && !w.doNotDeleteData() {
		return w.purgeUnsent(job, joblog.DeleteReasonAgeLimit)
	}

	files, err := w.listAttachments(job.path)
	if err != nil {
		return aerrors.Wrap(aerrors.KindLocalIO, afdexit.ReadLocalError, err)
	}
	if len(files) == 0 {
		return w.purgeUnsent(job, joblog.DeleteReasonUnknownFile)
	}

	hash, err := HashFile(files[0].Path)
	if err != nil {
		return aerrors.Wrap(aerrors.KindLocalIO, afdexit.ReadLocalError, err)
	}
	if w.deps.Dup.IsDuplicate(hash) {
		w.deps.Logs.Transfer.Infof("job %s suppressed as duplicate of an earlier send", job.name)
		return w.finishJob(job, files, summary, true)
	}

	attachAll := w.cfg.Dir.Flags.Has(afdconfig.FlagAttachAllFiles)
	if err := w.deps.Client.Send(ctx, job.unique.String(), files, attachAll); err != nil {
		return err
	}
	w.deps.Dup.Remember(hash)

	return w.finishJob(job, files, summary, false)
}

func (w *Worker) listAttachments(jobPath string) ([]protocol.Attachment, error) {
	entries, err := os.ReadDir(jobPath)
	if err != nil {
		return nil, err
	}
	var out []protocol.Attachment
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, protocol.Attachment{
			Path: filepath.Join(jobPath, e.Name()),
			Name: e.Name(),
			Size: info.Size(),
		})
	}
	return out, nil
}

func (w *Worker) finishJob(job spoolJob, files []protocol.Attachment, summary *joblog.Summary, wasDup bool) error {
	var filesDone int64
	var bytesDone int64
	for _, f := range files {
		filesDone++
		bytesDone += f.Size
		if !wasDup {
			summary.Files++
			summary.Bytes += f.Size
			_ = w.deps.Output.Write(joblog.OutputRecord{
				Time: time.Now(), HostAlias: w.cfg.HostAlias, FileName: f.Name, Size: f.Size,
				JobID: job.unique.JobID,
			})
		}
	}
	// spec §4.5 step 5: "update FSA counters under LOCK_TFC" per
	// transmitted file; a duplicate-suppressed job still leaves the
	// outgoing queue, so its totals are decremented without being
	// counted as sent.
	w.updateFSACounters(filesDone, bytesDone, !wasDup)
	return w.archiveOrDelete(job)
}

func (w *Worker) purgeUnsent(job spoolJob, reason joblog.DeleteReason) error {
	files, _ := w.listAttachments(job.path)
	var totalSize int64
	for _, f := range files {
		totalSize += f.Size
		_ = w.deps.Deletes.Write(joblog.DeleteRecord{
			Time: time.Now(), HostAlias: w.cfg.HostAlias, FileName: f.Name, Size: f.Size, Reason: reason,
		})
	}
	// spec §4.5 "Deleted files cause fsa.total_file_counter and
	// fsa.total_file_size to decrease under the FSA LOCK_TFC lock".
	w.updateFSACounters(int64(len(files)), totalSize, false)
	return os.RemoveAll(job.path)
}

// doNotDeleteData reports whether this job's host is flagged
// DO_NOT_DELETE_DATA (spec §3.1, §4.5 step 2).
func (w *Worker) doNotDeleteData() bool {
	if w.deps.FSA == nil {
		return false
	}
	return w.deps.FSA.HostStatus(w.cfg.HostPos)&status.HostDoNotDeleteData != 0
}

// updateFSACounters applies a completed or purged job's file/byte delta
// to the host's FSA aggregates under LOCK_TFC (spec §4.5 step 5 /
// "Deleted files cause ... to decrease"), then drains any stale
// error_counter once the totals reach zero (spec §4.5, see
// status.Area.DrainErrorsIfEmpty).
func (w *Worker) updateFSACounters(files, bytes int64, sent bool) {
	if w.deps.FSA == nil || files == 0 {
		return
	}
	_ = w.deps.FSA.WithTFCLocked(w.cfg.HostPos, func(tfc *status.Aggregates) {
		if sent {
			tfc.AddFileCounterDone(files)
			tfc.AddBytesSend(bytes)
		}
		tfc.DecrementCounters(files, bytes)
	})
	_ = w.deps.FSA.DrainErrorsIfEmpty(w.cfg.HostPos)
}

// archiveOrDelete disposes of a fully-sent job's spool directory
// according to cfg.ArchiveDir (spec §4.6 point 3): move it aside for
// audit, or remove it outright.
func (w *Worker) archiveOrDelete(job spoolJob) error {
	if w.cfg.ArchiveDir == "" {
		return os.RemoveAll(job.path)
	}
	dest := filepath.Join(w.cfg.ArchiveDir, job.name)
	if err := os.MkdirAll(w.cfg.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("sendworker: create archive dir: %w", err)
	}
	return os.Rename(job.path, dest)
}
