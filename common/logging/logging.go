// Package logging implements structured, leveled logging shared by the
// dispatcher, storage stack and host protocol.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Format is a log output format.
type Format uint8

const (
	// FmtLogfmt renders log lines in logfmt.
	FmtLogfmt Format = iota
	// FmtJSON renders log lines as JSON.
	FmtJSON
)

// Level is a log level.
type Level uint8

const (
	// LevelDebug is the most verbose level.
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) filter() level.Option {
	switch l {
	case LevelDebug:
		return level.AllowDebug()
	case LevelInfo:
		return level.AllowInfo()
	case LevelWarn:
		return level.AllowWarn()
	default:
		return level.AllowError()
	}
}

var (
	initOnce   sync.Once
	rootMu     sync.Mutex
	rootLogger log.Logger = log.NewNopLogger()
	defaultLvl Level
	moduleLvls = make(map[string]Level)
)

// Initialize sets up the package-wide root logger. Safe to call once; later
// calls are no-ops, matching the teacher's one-shot process-wide logging
// setup.
func Initialize(w io.Writer, format Format, lvl Level, perModule map[string]Level) error {
	var err error
	initOnce.Do(func() {
		var base log.Logger
		switch format {
		case FmtJSON:
			base = log.NewJSONLogger(log.NewSyncWriter(w))
		default:
			base = log.NewLogfmtLogger(log.NewSyncWriter(w))
		}
		base = log.With(base, "ts", log.DefaultTimestampUTC)

		rootMu.Lock()
		rootLogger = base
		defaultLvl = lvl
		for k, v := range perModule {
			moduleLvls[k] = v
		}
		rootMu.Unlock()
	})
	return err
}

// Logger is a named, leveled logger.
type Logger struct {
	module string
	base   log.Logger
	lvl    Level
}

// GetLogger returns a named logger bound to the root logger as it is at the
// time of the call. If Initialize has not been called yet, that is the
// default logfmt logger on stderr at info level (see init).
func GetLogger(module string) *Logger {
	rootMu.Lock()
	defer rootMu.Unlock()

	lvl := defaultLvl
	if l, ok := moduleLvls[module]; ok {
		lvl = l
	}

	return &Logger{
		module: module,
		base:   log.With(rootLogger, "module", module),
		lvl:    lvl,
	}
}

func (l *Logger) log(lvl level.Value, msg string, keyvals []interface{}) {
	kv := append([]interface{}{"msg", msg}, keyvals...)
	_ = level.NewFilter(l.base, l.lvl.filter()).Log(append([]interface{}{level.Key(), lvl}, kv...)...)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(level.DebugValue(), msg, keyvals)
}

// Info logs at info level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(level.InfoValue(), msg, keyvals)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(level.WarnValue(), msg, keyvals)
}

// Error logs at error level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(level.ErrorValue(), msg, keyvals)
}

// With returns a derived logger with additional static key-value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{
		module: l.module,
		base:   log.With(l.base, keyvals...),
		lvl:    l.lvl,
	}
}

var _ fmt.Stringer = Level(0)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func init() {
	// Default to a quiet stderr logger until Initialize is called explicitly
	// by a host binary or test.
	rootLogger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	defaultLvl = LevelInfo
}
