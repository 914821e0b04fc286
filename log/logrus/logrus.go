// Package logrus adapts a logrus entry to memtier.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/memtier"
)

var _ memtier.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every line with component=memtier.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "memtier")}
}

func (l Logger) with(f memtier.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	e := l.E
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		e = e.WithField(k, v)
	}
	return e
}

func (l Logger) Debug(msg string, f memtier.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f memtier.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f memtier.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f memtier.Fields) { l.with(f).Error(msg) }
