package main

import (
	"github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

// logrusFactory adapts a logrus logger to the pion LoggerFactory used by the
// mesh packages. Each scope becomes a "module" field.
type logrusFactory struct {
	logger *logrus.Logger
}

func (f logrusFactory) NewLogger(scope string) logging.LeveledLogger {
	return &logrusLogger{entry: f.logger.WithField("module", scope)}
}

type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) Trace(msg string)                          { l.entry.Trace(msg) }
func (l *logrusLogger) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
func (l *logrusLogger) Debug(msg string)                          { l.entry.Debug(msg) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(msg string)                           { l.entry.Info(msg) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(msg string)                           { l.entry.Warn(msg) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(msg string)                          { l.entry.Error(msg) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

var _ logging.LoggerFactory = logrusFactory{}
