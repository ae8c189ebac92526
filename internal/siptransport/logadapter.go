package siptransport

import (
	"fmt"

	gosiplog "github.com/ghettovoice/gosip/log"

	"github.com/firestige/gb28181-nvr/internal/log"
)

// gosipLogAdapter bridges this repository's log.Logger facade to
// gosip's own logging interface, so the inbound parser's diagnostics
// flow through the same formatter/appender as everything else.
type gosipLogAdapter struct {
	logger log.Logger
}

func newGosipLogAdapter() *gosipLogAdapter {
	return &gosipLogAdapter{logger: log.GetLogger()}
}

func (a *gosipLogAdapter) Fields() gosiplog.Fields { return gosiplog.Fields{} }

func (a *gosipLogAdapter) WithFields(fields map[string]interface{}) gosiplog.Logger {
	return &gosipLogAdapter{logger: a.logger.WithFields(fields)}
}

func (a *gosipLogAdapter) Prefix() string { return "sip" }

func (a *gosipLogAdapter) WithPrefix(prefix string) gosiplog.Logger {
	return &gosipLogAdapter{logger: a.logger.WithField("prefix", prefix)}
}

func (a *gosipLogAdapter) Print(args ...interface{})                 { a.logger.Print(args...) }
func (a *gosipLogAdapter) Printf(format string, args ...interface{}) { a.logger.Printf(format, args...) }
func (a *gosipLogAdapter) Trace(args ...interface{})                 { a.logger.Trace(args...) }
func (a *gosipLogAdapter) Tracef(format string, args ...interface{}) { a.logger.Tracef(format, args...) }
func (a *gosipLogAdapter) Debug(args ...interface{})                 { a.logger.Debug(args...) }
func (a *gosipLogAdapter) Debugf(format string, args ...interface{}) { a.logger.Debugf(format, args...) }
func (a *gosipLogAdapter) Info(args ...interface{})                  { a.logger.Info(args...) }
func (a *gosipLogAdapter) Infof(format string, args ...interface{})  { a.logger.Infof(format, args...) }
func (a *gosipLogAdapter) Warn(args ...interface{})                  { a.logger.Warn(args...) }
func (a *gosipLogAdapter) Warnf(format string, args ...interface{})  { a.logger.Warnf(format, args...) }
func (a *gosipLogAdapter) Error(args ...interface{})                 { a.logger.Error(args...) }
func (a *gosipLogAdapter) Errorf(format string, args ...interface{}) { a.logger.Errorf(format, args...) }
func (a *gosipLogAdapter) Fatal(args ...interface{})                 { a.logger.Fatal(args...) }
func (a *gosipLogAdapter) Fatalf(format string, args ...interface{}) { a.logger.Fatalf(format, args...) }

func (a *gosipLogAdapter) Panic(args ...interface{}) {
	a.logger.Error(args...)
	panic(fmt.Sprint(args...))
}

func (a *gosipLogAdapter) Panicf(format string, args ...interface{}) {
	a.logger.Errorf(format, args...)
	panic(fmt.Sprintf(format, args...))
}

func (a *gosipLogAdapter) SetLevel(level uint32) {}
