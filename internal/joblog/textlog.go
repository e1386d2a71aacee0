package joblog

import (
	"os"

	"github.com/holger-afd/afd-transfer/internal/afdlog"
)

// TextLogs bundles the three text log sinks a worker writes to (spec
// §6.2): system events (startup, config errors, signals), per-transfer
// events (connect/login/retrieve/delete), and the done-summary line.
type TextLogs struct {
	System   *afdlog.Logger
	Transfer *afdlog.Logger
	Event    *afdlog.Logger
}

// Open opens (creating if needed) the three named log files under dir.
func Open(dir string) (*TextLogs, error) {
	sys, err := openAppend(dir + "/system.log")
	if err != nil {
		return nil, err
	}
	xfer, err := openAppend(dir + "/transfer.log")
	if err != nil {
		return nil, err
	}
	evt, err := openAppend(dir + "/event.log")
	if err != nil {
		return nil, err
	}
	return &TextLogs{
		System:   afdlog.New(sys),
		Transfer: afdlog.New(xfer),
		Event:    afdlog.New(evt),
	}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}
