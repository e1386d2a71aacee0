// Package aerrors implements the error taxonomy from spec §7:
// config/database (fatal), network transient (retriable, scheduler
// backs off), protocol-semantic (soft, policy-driven), local I/O
// (fatal), signal (forced teardown). Adapted from the teacher's
// fs/fserrors, which classifies errors the same way for its own
// shouldRetry() calls around FTP operations.
package aerrors

import (
	"errors"
	"fmt"
	"net/textproto"

	"github.com/holger-afd/afd-transfer/internal/afdexit"
)

// Kind classifies an error for propagation policy purposes.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindNetworkTransient
	KindProtocol
	KindLocalIO
	KindTimeout
	KindSignal
)

// Error wraps an underlying error with a Kind and the worker exit code
// it should surface as (spec §6.5), plus the server's last response
// string when there is one (spec §7 "user-visible failure").
type Error struct {
	Kind       Kind
	Code       afdexit.Code
	ServerResp string
	Err        error
}

func (e *Error) Error() string {
	if e.ServerResp != "" {
		return fmt.Sprintf("%s: %v (server: %s)", e.Code, e.Err, e.ServerResp)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether the error's Kind is KindNetworkTransient,
// as chosen by the caller of Wrap. FTPClient.Connect hands this to the
// pacer to retry a failed dial; the fetch and send workers end their
// session on such an error.
func (e *Error) Temporary() bool { return e.Kind == KindNetworkTransient }

// Wrap classifies err and attaches the exit code a worker should use if
// it gives up on this operation.
func Wrap(kind Kind, code afdexit.Code, err error) *Error {
	if err == nil {
		return nil
	}
	e := &Error{Kind: kind, Code: code, Err: err}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		e.ServerResp = fmt.Sprintf("%d %s", tpErr.Code, tpErr.Msg)
	}
	return e
}

// Config wraps a fatal configuration/database error (exit Incorrect).
func Config(err error) *Error {
	return Wrap(KindConfig, afdexit.Incorrect, err)
}

// Timeout wraps err as a timeout, folding it into the distinct TIMEOUT
// variant of whatever base code would otherwise apply, per spec §6.5
// ("codes ... may be passed through eval_timeout").
func Timeout(base afdexit.Code, err error) *Error {
	return Wrap(KindTimeout, base, err)
}

// IsTemporary reports whether err (possibly wrapped) is retriable.
func IsTemporary(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Temporary()
	}
	type temporary interface{ Temporary() bool }
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}

// ExitCode extracts the exit code a wrapped error carries, defaulting
// to Incorrect for an error this package never saw.
func ExitCode(err error) afdexit.Code {
	if err == nil {
		return afdexit.TransferSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return afdexit.Incorrect
}

// FTPStatusCode extracts the numeric FTP reply code from err, if any.
func FTPStatusCode(err error) (int, bool) {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code, true
	}
	return 0, false
}
