package zkteco

import (
	"github.com/sirupsen/logrus"
)

type logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

// Log may be replaced before the first NewSession call to route the
// package's logging somewhere else.
var Log logger

func pkgLog() logger {
	if Log == nil {
		Log = defaultLogger()
	}
	return Log
}

func defaultLogger() logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &zkLogger{entry: l.WithField("module", "zkteco")}
}

type zkLogger struct {
	entry *logrus.Entry
}

func (l *zkLogger) Info(v ...interface{})                  { l.entry.Info(v...) }
func (l *zkLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *zkLogger) Debug(v ...interface{})                 { l.entry.Debug(v...) }
func (l *zkLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
func (l *zkLogger) Error(v ...interface{})                 { l.entry.Error(v...) }
func (l *zkLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
