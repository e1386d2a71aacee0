// Package afdlog implements the engine's system/transfer/event log
// sign convention from spec §6.2 and §7 ("every failure emits a
// trans_log line with sign ... file:line ... directory alias") on top
// of log/slog, the way the teacher's fs/log wraps slog with a custom
// handler and one extra severity, OFFLINE, below the stdlib range.
package afdlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Sign-style severities from spec §7.
const (
	LevelOffline = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarn    = slog.LevelWarn
	LevelError   = slog.LevelError
)

func signName(l slog.Level) string {
	switch {
	case l <= LevelOffline:
		return "OFFLINE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}

// signHandler formats records as "SIGN time file:line [key=val]... msg",
// matching the teacher's "%s  %-25s: %s" style trans_log convention.
type signHandler struct {
	out   *os.File
	attrs []slog.Attr
}

func newSignHandler(out *os.File) *signHandler {
	return &signHandler{out: out}
}

func (h *signHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *signHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%-7s %s ", signName(r.Level), r.Time.Format("2006-01-02 15:04:05.000"))
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			file := frame.File
			if idx := strings.LastIndex(file, "/"); idx >= 0 {
				file = file[idx+1:]
			}
			fmt.Fprintf(&b, "%s:%d ", file, frame.Line)
		}
	}
	for _, a := range h.attrs {
		fmt.Fprintf(&b, "[%s=%v] ", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, "[%s=%v] ", a.Key, a.Value)
		return true
	})
	b.WriteString(r.Message)
	b.WriteByte('\n')
	_, err := h.out.WriteString(b.String())
	return err
}

func (h *signHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := &signHandler{out: h.out}
	n.attrs = append(n.attrs, h.attrs...)
	n.attrs = append(n.attrs, attrs...)
	return n
}

func (h *signHandler) WithGroup(string) slog.Handler { return h }

// Logger is a severity-signed, object-tagged logger: every component
// (a host alias for transfer log lines, a directory alias for event
// log lines) gets one, matching the teacher's fs.Debugf(object, ...)
// per-object prefix convention.
type Logger struct {
	l *slog.Logger
}

// New creates a Logger writing to out (a system log / transfer log /
// event log sink; joblog.Open passes log files it opened for append).
func New(out *os.File) *Logger {
	return &Logger{l: slog.New(newSignHandler(out))}
}

// With returns a Logger that tags every record with key/value pairs,
// e.g. Logger.With("dir", fra.DirAlias) for an event-log logger.
func (lg *Logger) With(args ...any) *Logger {
	return &Logger{l: lg.l.With(args...)}
}

func (lg *Logger) log(ctx context.Context, level slog.Level, format string, args ...any) {
	if !lg.l.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = lg.l.Handler().Handle(ctx, r)
}

// Offlinef logs at OFFLINE, the quietest sign — a host being paused by
// policy rather than failing.
func (lg *Logger) Offlinef(format string, args ...any) { lg.log(context.Background(), LevelOffline, format, args...) }

// Debugf logs a DEBUG line.
func (lg *Logger) Debugf(format string, args ...any) { lg.log(context.Background(), LevelDebug, format, args...) }

// Infof logs an INFO line.
func (lg *Logger) Infof(format string, args ...any) { lg.log(context.Background(), LevelInfo, format, args...) }

// Warnf logs a WARN line.
func (lg *Logger) Warnf(format string, args ...any) { lg.log(context.Background(), LevelWarn, format, args...) }

// Errorf logs an ERROR line.
func (lg *Logger) Errorf(format string, args ...any) { lg.log(context.Background(), LevelError, format, args...) }
