// Package log defines the Logger interface every consensus-core
// component takes at construction time. There is no package-global
// logger: each component receives one explicitly, following the
// teacher's "no process-wide mutable singletons" convention (see
// spec.md §9's dynamic-scope-injection re-architecture).
package log

import (
	"fmt"
	"io"
	"os"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Logger is the minimal structured-logging surface consumed by every
// package in this module.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})

	With(keyvals ...interface{}) Logger
}

type tmLogger struct {
	srcLogger kitlog.Logger
}

// NewLogger returns a Logger backed by go-kit/log, writing
// human-readable "key=value" lines to w with an ISO-8601 timestamp
// prefixed on every line, in the shape the teacher's node
// bootstrap configures for its own default logger.
func NewLogger(w io.Writer) Logger {
	l := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	l = kitlog.With(l, "ts", kitlog.DefaultTimestampUTC)
	return &tmLogger{srcLogger: l}
}

// NewNopLogger returns a Logger that discards everything, for tests
// and components that were not given one explicitly.
func NewNopLogger() Logger { return &tmLogger{srcLogger: kitlog.NewNopLogger()} }

func (l *tmLogger) Info(msg string, keyvals ...interface{}) {
	lWithLevel := level.Info(l.srcLogger)
	logMsg(lWithLevel, msg, keyvals...)
}

func (l *tmLogger) Debug(msg string, keyvals ...interface{}) {
	lWithLevel := level.Debug(l.srcLogger)
	logMsg(lWithLevel, msg, keyvals...)
}

func (l *tmLogger) Error(msg string, keyvals ...interface{}) {
	lWithLevel := level.Error(l.srcLogger)
	logMsg(lWithLevel, msg, keyvals...)
}

func logMsg(logger kitlog.Logger, msg string, keyvals ...interface{}) {
	lWithMsg := kitlog.With(logger, "msg", msg)
	if err := lWithMsg.Log(keyvals...); err != nil {
		fmt.Fprintf(os.Stderr, "log: unable to write message: %v keyvals: %v err: %v\n", msg, keyvals, err)
	}
}

func (l *tmLogger) With(keyvals ...interface{}) Logger {
	return &tmLogger{srcLogger: kitlog.With(l.srcLogger, keyvals...)}
}
