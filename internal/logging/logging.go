// Package logging provides the thin leveled-logger interface used by the
// compiler and runtime for diagnostics. No third-party structured-logging
// library appears anywhere in the example pack (the teacher repo and its
// siblings are all silent libraries with no log output of their own), so
// this wraps the standard library's log.Logger rather than inventing a
// dependency the corpus never reaches for (SPEC_FULL.md §1).
package logging

import (
	"log"
	"os"
)

// Level orders log verbosity, quietest first.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// Logger is the interface every package in this module logs through,
// letting cmd/wasmaotc and runtime.New wire in a quieter or noisier
// implementation without the rest of the tree depending on *log.Logger
// directly.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// stdLogger is the default Logger, backed by log.Logger and gated by Level.
type stdLogger struct {
	level Level
	l     *log.Logger
}

// New returns a Logger writing to os.Stderr at the given level.
func New(level Level) Logger {
	return &stdLogger{level: level, l: log.New(os.Stderr, "", log.LstdFlags)}
}

// Discard returns a Logger that drops everything, used by tests and by
// callers that configured no logger explicitly.
func Discard() Logger { return &stdLogger{level: -1, l: log.New(os.Stderr, "", 0)} }

func (s *stdLogger) Debugf(format string, args ...any) { s.logAt(LevelDebug, format, args...) }
func (s *stdLogger) Infof(format string, args ...any)  { s.logAt(LevelInfo, format, args...) }
func (s *stdLogger) Warnf(format string, args ...any)  { s.logAt(LevelWarn, format, args...) }
func (s *stdLogger) Errorf(format string, args ...any) { s.logAt(LevelError, format, args...) }

func (s *stdLogger) logAt(lvl Level, format string, args ...any) {
	if lvl > s.level {
		return
	}
	prefix := [...]string{"ERROR ", "WARN  ", "INFO  ", "DEBUG "}[lvl]
	s.l.Printf(prefix+format, args...)
}
