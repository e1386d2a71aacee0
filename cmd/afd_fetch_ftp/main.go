// Command afd_fetch_ftp is the FTP fetch worker entrypoint (spec §4.4):
// the scheduler execs one of these per host/directory pairing that has
// work to do, passing its identity and FSA/FRA/RL locations on the
// command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/holger-afd/afd-transfer/internal/admission"
	"github.com/holger-afd/afd-transfer/internal/afdconfig"
	"github.com/holger-afd/afd-transfer/internal/afdexit"
	"github.com/holger-afd/afd-transfer/internal/fetchworker"
	"github.com/holger-afd/afd-transfer/internal/joblog"
	"github.com/holger-afd/afd-transfer/internal/protocol"
	"github.com/holger-afd/afd-transfer/internal/retrievelist"
	"github.com/holger-afd/afd-transfer/internal/status"
)

func main() {
	var (
		fsaPath    = flag.String("fsa", "", "path to the FSA file")
		fraPath    = flag.String("fra", "", "path to the FRA file")
		rlPath     = flag.String("rl", "", "path to this directory's retrieve list")
		logDir     = flag.String("log-dir", ".", "directory for text logs")
		numHosts   = flag.Int("num-hosts", 1, "number of FSA entries")
		numDirs    = flag.Int("num-dirs", 1, "number of FRA entries")
		hostPos    = flag.Int("host-pos", 0, "this job's FSA index")
		dirPos     = flag.Int("dir-pos", 0, "this job's FRA index")
		workerSlot = flag.Int("worker-slot", 0, "this worker's RL assignment slot")
		jobID      = flag.Uint("job-id", 0, "job descriptor id")
		hostAlias  = flag.String("host-alias", "", "host alias for logging")
		dirAlias   = flag.String("dir-alias", "", "directory alias for logging")
		host       = flag.String("host", "", "FTP server host")
		port       = flag.String("port", "21", "FTP server port")
		user       = flag.String("user", "", "FTP username")
		pass       = flag.String("pass", "", "FTP password (obscured)")
		remoteDir  = flag.String("remote-dir", "/", "remote directory to fetch from")
		targetDir  = flag.String("target-dir", ".", "local directory to store fetched files in")
		deleteRemote = flag.Bool("delete-remote", false, "delete files remotely after a successful fetch")
		createTarget = flag.Bool("create-target-dir", false, "create target-dir if it does not exist")
		stupidMode   = flag.Bool("stupid-mode", false, "run check_list in Mode A (stateless)")
		keepTimeStamp = flag.Bool("keep-time-stamp", false, "set the local file's mtime from the remote listing after a fetch")
	)
	flag.Parse()

	code := run(runArgs{
		fsaPath: *fsaPath, fraPath: *fraPath, rlPath: *rlPath, logDir: *logDir,
		numHosts: *numHosts, numDirs: *numDirs, hostPos: *hostPos, dirPos: *dirPos,
		workerSlot: *workerSlot, jobID: uint32(*jobID), hostAlias: *hostAlias, dirAlias: *dirAlias,
		host: *host, port: *port, user: *user, pass: *pass,
		remoteDir: *remoteDir, targetDir: *targetDir,
		deleteRemote: *deleteRemote, createTarget: *createTarget, stupidMode: *stupidMode,
		keepTimeStamp: *keepTimeStamp,
	})
	os.Exit(int(code))
}

type runArgs struct {
	fsaPath, fraPath, rlPath, logDir string
	numHosts, numDirs                int
	hostPos, dirPos, workerSlot      int
	jobID                            uint32
	hostAlias, dirAlias              string
	host, port, user, pass           string
	remoteDir, targetDir             string
	deleteRemote, createTarget       bool
	stupidMode                       bool
	keepTimeStamp                    bool
}

func run(a runArgs) afdexit.Code {
	guard, sigCh := afdexit.NewGuard()
	defer guard.Run()

	logs, err := joblog.Open(a.logDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "afd_fetch_ftp: open logs: %v\n", err)
		return afdexit.Incorrect
	}
	guard.OnExit(func() {
		logs.System.Offlinef("worker exiting")
	})

	pass, err := afdconfig.Reveal(a.pass)
	if err != nil {
		pass = a.pass // accept a plaintext password for local/test configs
	}

	fsa, err := status.Open(a.fsaPath, a.numHosts)
	if err != nil {
		logs.System.Errorf("open fsa: %v", err)
		return afdexit.OpenLocalError
	}
	defer func() { _ = fsa.Close() }()

	fra, err := status.OpenDirArea(a.fraPath, a.numDirs)
	if err != nil {
		logs.System.Errorf("open fra: %v", err)
		return afdexit.OpenLocalError
	}
	defer func() { _ = fra.Close() }()

	rl, err := retrievelist.Open(a.rlPath)
	if err != nil {
		logs.System.Errorf("open retrieve list: %v", err)
		return afdexit.OpenLocalError
	}
	defer func() { _ = rl.Close() }()

	outputLog, err := joblog.OpenOutputLog(a.logDir + "/output.log")
	if err != nil {
		logs.System.Errorf("open output log: %v", err)
		return afdexit.OpenLocalError
	}
	defer func() { _ = outputLog.Close() }()

	deleteLog, err := joblog.OpenDeleteLog(a.logDir + "/delete.log")
	if err != nil {
		logs.System.Errorf("open delete log: %v", err)
		return afdexit.OpenLocalError
	}
	defer func() { _ = deleteLog.Close() }()

	client := protocol.NewFTPClient(protocol.FTPOptions{
		Host: a.host, Port: a.port, User: a.user, Pass: pass,
		DialTimeout: 30 * time.Second,
	})

	// TODO: thread the real job descriptor's OldErrorJob flag through
	// once the scheduler passes a job-store handle instead of raw flags.
	const oldErrorJob = false

	worker := fetchworker.New(fetchworker.Config{
		HostPos: a.hostPos, DirPos: a.dirPos, WorkerSlot: a.workerSlot, JobID: a.jobID,
		HostAlias: a.hostAlias, DirAlias: a.dirAlias,
		RemoteDir: a.remoteDir, TargetDir: a.targetDir,
		TransferTimeout: 0, IdleTimeout: 0,
		Filter: admission.Filter{
			// IgnoreSize -1: FRA doesn't expose per-dir size/age predicate
			// fields yet, so the size predicate is disabled rather than
			// defaulting to "only zero-byte files" (spec §4.2 step 2).
			IgnoreSize:        -1,
			MaxCopiedFiles:    int(fra.MaxCopiedFiles(a.dirPos)),
			MaxCopiedFileSize: fra.MaxCopiedFileSize(a.dirPos),
		},
		Mode: retrievelist.Mode{
			Stateless:   a.stupidMode || fra.Remove(a.dirPos),
			OldErrorJob: oldErrorJob,
		},
		DeleteRemoteAfterFetch: a.deleteRemote,
		CreateTargetDir:        a.createTarget,
		KeepTimeStamp:          a.keepTimeStamp,
	}, fetchworker.Deps{
		Client:  client,
		FSA:     fsa,
		FRA:     fra,
		RL:      rl,
		Logs:    logs,
		Output:  outputLog,
		Deletes: deleteLog,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sigCh
		cancel()
	}()

	return worker.Run(ctx)
}
