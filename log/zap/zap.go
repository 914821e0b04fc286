// Package zap adapts a *zap.Logger to memtier.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/memtier"
)

var _ memtier.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New names the logger "memtier" so its lines are easy to filter.
func New(l *zap.Logger) Logger { return Logger{L: l.Named("memtier")} }

func (z Logger) Debug(msg string, f memtier.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f memtier.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f memtier.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f memtier.Fields) { z.L.Error(msg, fields(f)...) }

// fields keeps a stable key order so lines diff cleanly.
func fields(f memtier.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
