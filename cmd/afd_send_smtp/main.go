// Command afd_send_smtp is the SMTP send worker entrypoint (spec
// §4.5): the scheduler execs one of these whenever the outgoing spool
// directory for a host has jobs queued.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/holger-afd/afd-transfer/internal/afdconfig"
	"github.com/holger-afd/afd-transfer/internal/afdexit"
	"github.com/holger-afd/afd-transfer/internal/joblog"
	"github.com/holger-afd/afd-transfer/internal/protocol"
	"github.com/holger-afd/afd-transfer/internal/sendworker"
	"github.com/holger-afd/afd-transfer/internal/status"
)

func main() {
	var (
		outgoingDir = flag.String("outgoing-dir", "", "outgoing spool directory for this host")
		archiveDir  = flag.String("archive-dir", "", "where to move sent job directories (empty = delete)")
		logDir      = flag.String("log-dir", ".", "directory for text logs")
		fsaPath     = flag.String("fsa", "", "path to the FSA file")
		numHosts    = flag.Int("num-hosts", 1, "number of FSA entries")
		hostPos     = flag.Int("host-pos", 0, "this job's FSA index")
		hostAlias   = flag.String("host-alias", "", "host alias for logging")
		smtpHost    = flag.String("smtp-host", "", "SMTP server host")
		smtpPort    = flag.String("smtp-port", "25", "SMTP server port")
		from        = flag.String("from", "", "envelope-from address")
		to          = flag.String("to", "", "envelope-to address")
		user        = flag.String("user", "", "SMTP auth username")
		pass        = flag.String("pass", "", "SMTP auth password (obscured)")
		useAuth     = flag.Bool("auth", false, "authenticate with the SMTP server")
		useTLS      = flag.Bool("tls", false, "upgrade to TLS with STARTTLS")
		attachAll   = flag.Bool("attach-all-files", false, "attach every file in a job, not just the first")
		dupCacheSize = flag.Int("dup-cache-size", 4096, "number of recent content hashes to remember for dedup")
	)
	flag.Parse()

	code := run(runArgs{
		outgoingDir: *outgoingDir, archiveDir: *archiveDir, logDir: *logDir,
		fsaPath: *fsaPath, numHosts: *numHosts, hostPos: *hostPos, hostAlias: *hostAlias,
		smtpHost: *smtpHost, smtpPort: *smtpPort, from: *from, to: *to,
		user: *user, pass: *pass, useAuth: *useAuth, useTLS: *useTLS,
		attachAll: *attachAll, dupCacheSize: *dupCacheSize,
	})
	os.Exit(int(code))
}

type runArgs struct {
	outgoingDir, archiveDir, logDir string
	fsaPath                        string
	numHosts, hostPos              int
	hostAlias                      string
	smtpHost, smtpPort, from, to    string
	user, pass                      string
	useAuth, useTLS, attachAll      bool
	dupCacheSize                    int
}

func run(a runArgs) afdexit.Code {
	guard, sigCh := afdexit.NewGuard()
	defer guard.Run()

	logs, err := joblog.Open(a.logDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "afd_send_smtp: open logs: %v\n", err)
		return afdexit.Incorrect
	}
	guard.OnExit(func() {
		logs.System.Offlinef("worker exiting")
	})

	pass, err := afdconfig.Reveal(a.pass)
	if err != nil {
		pass = a.pass
	}

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

	var fsa *status.Area
	if a.fsaPath != "" {
		fsa, err = status.Open(a.fsaPath, a.numHosts)
		if err != nil {
			logs.System.Errorf("open fsa: %v", err)
			return afdexit.OpenLocalError
		}
		defer func() { _ = fsa.Close() }()
	}

	client := protocol.NewSMTPClient(protocol.SMTPOptions{
		Host: a.smtpHost, Port: a.smtpPort, From: a.from, To: []string{a.to},
		User: a.user, Pass: pass, UseAuth: a.useAuth, UseTLS: a.useTLS,
		Timeout: 30 * time.Second,
	})

	var flags afdconfig.SpecialFlag
	if a.attachAll {
		flags |= afdconfig.FlagAttachAllFiles
	}

	worker := sendworker.New(sendworker.Config{
		OutgoingDir: a.outgoingDir,
		ArchiveDir:  a.archiveDir,
		HostAlias:   a.hostAlias,
		HostPos:     a.hostPos,
		Dir:         afdconfig.DirOverrides{Flags: flags},
	}, sendworker.Deps{
		Client:  client,
		FSA:     fsa,
		Logs:    logs,
		Output:  outputLog,
		Deletes: deleteLog,
		Dup:     sendworker.NewDupChecker(a.dupCacheSize),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sigCh
		cancel()
	}()

	return worker.Run(ctx)
}
