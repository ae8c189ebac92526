// Package log provides a structured, correlation-id-friendly logging
// facade over logrus, matching every call site's expectations in this
// repository (dialog engine, media session manager, transport).
package log

import "sync"

// Logger is the logging facade every package in this repository depends
// on instead of calling logrus directly, so the backing implementation
// can be swapped (or mocked in tests) without touching call sites.
type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
}

var (
	once   sync.Once
	logger Logger = noopLogger{}
)

// Init installs the process-wide logger. Safe to call once; subsequent
// calls are no-ops so daemon restarts in tests don't reattach appenders.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		logger, err = newLogrusAdapter(cfg)
	})
	return err
}

// GetLogger returns the process-wide logger, or a no-op logger if Init
// was never called (e.g. in unit tests that don't care about log output).
func GetLogger() Logger {
	return logger
}

// Flush blocks until any buffered appenders (file rotation) are synced.
// The lumberjack writer has no explicit flush; this exists so daemon
// shutdown has one call site to extend if a future appender needs it.
func Flush() {}

type noopLogger struct{}

func (noopLogger) Print(args ...interface{})                          {}
func (noopLogger) Printf(format string, args ...interface{})          {}
func (noopLogger) Trace(args ...interface{})                          {}
func (noopLogger) Tracef(format string, args ...interface{})          {}
func (noopLogger) Debug(args ...interface{})                          {}
func (noopLogger) Debugf(format string, args ...interface{})          {}
func (noopLogger) Info(args ...interface{})                           {}
func (noopLogger) Infof(format string, args ...interface{})           {}
func (noopLogger) Warn(args ...interface{})                           {}
func (noopLogger) Warnf(format string, args ...interface{})           {}
func (noopLogger) Error(args ...interface{})                          {}
func (noopLogger) Errorf(format string, args ...interface{})          {}
func (noopLogger) Fatal(args ...interface{})                          {}
func (noopLogger) Fatalf(format string, args ...interface{})          {}
func (n noopLogger) WithField(field string, value interface{}) Logger { return n }
func (n noopLogger) WithFields(fields map[string]interface{}) Logger  { return n }
func (n noopLogger) WithError(err error) Logger                       { return n }
func (noopLogger) IsTraceEnabled() bool                               { return false }
func (noopLogger) IsDebugEnabled() bool                               { return false }
