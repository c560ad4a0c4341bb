package mediasoup

import (
	"fmt"

	"github.com/pion/logging"
)

// sctpMaxStreamId is the highest stream id an SCTP association can address
// (stream ids are a 16-bit field on the wire); pion/sctp enforces the same
// bound internally on any association it drives.
const sctpMaxStreamId = 65535

// validateNumSctpStreams rejects an OS/MIS pair that falls outside what an
// SCTP association can actually negotiate (spec.md §4.5).
func validateNumSctpStreams(streams NumSctpStreams) error {
	if streams.OS <= 0 || streams.MIS <= 0 {
		return NewTypeError("numSctpStreams.OS and numSctpStreams.MIS must be positive")
	}
	if streams.OS > sctpMaxStreamId || streams.MIS > sctpMaxStreamId {
		return NewTypeError("numSctpStreams exceeds the maximum SCTP stream id (%d)", sctpMaxStreamId)
	}
	return nil
}

// sctpLoggerFactory adapts this package's logr logger to the
// pion/logging.LoggerFactory interface so any pion/sctp association driven
// by an application on top of this library shares the same log sink.
type sctpLoggerFactory struct {
	base logrLeveledLoggerBase
}

// logrLeveledLoggerBase is the minimal logr surface sctpLeveledLogger wraps.
type logrLeveledLoggerBase struct {
	name string
}

func newSctpLoggerFactory(scope string) logging.LoggerFactory {
	return &sctpLoggerFactory{base: logrLeveledLoggerBase{name: scope}}
}

func (f *sctpLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &sctpLeveledLogger{logger: NewLogger(fmt.Sprintf("%s.%s", f.base.name, scope))}
}

// sctpLeveledLogger implements logging.LeveledLogger over a logr.Logger, so
// an embedding application that wires a real pion/sctp.Association (e.g. for
// a test harness driving a transport end-to-end) gets consistent log output.
type sctpLeveledLogger struct {
	logger interface {
		Info(msg string, keysAndValues ...interface{})
		Error(err error, msg string, keysAndValues ...interface{})
	}
}

func (l *sctpLeveledLogger) Trace(msg string)                          { l.logger.Info(msg) }
func (l *sctpLeveledLogger) Tracef(format string, args ...interface{}) { l.logger.Info(fmt.Sprintf(format, args...)) }
func (l *sctpLeveledLogger) Debug(msg string)                          { l.logger.Info(msg) }
func (l *sctpLeveledLogger) Debugf(format string, args ...interface{}) { l.logger.Info(fmt.Sprintf(format, args...)) }
func (l *sctpLeveledLogger) Info(msg string)                           { l.logger.Info(msg) }
func (l *sctpLeveledLogger) Infof(format string, args ...interface{})  { l.logger.Info(fmt.Sprintf(format, args...)) }
func (l *sctpLeveledLogger) Warn(msg string)                           { l.logger.Info(msg) }
func (l *sctpLeveledLogger) Warnf(format string, args ...interface{})  { l.logger.Info(fmt.Sprintf(format, args...)) }
func (l *sctpLeveledLogger) Error(msg string)                          { l.logger.Error(nil, msg) }
func (l *sctpLeveledLogger) Errorf(format string, args ...interface{}) { l.logger.Error(nil, fmt.Sprintf(format, args...)) }
