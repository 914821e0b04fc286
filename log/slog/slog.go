// Package slog adapts a *slog.Logger to memtier.Logger.
package slog

import (
	"context"
	stdslog "log/slog"
	"sort"

	"github.com/unkn0wn-root/memtier"
)

var _ memtier.Logger = Logger{}

type Logger struct{ L *stdslog.Logger }

// New groups memtier's fields under "memtier".
func New(l *stdslog.Logger) Logger { return Logger{L: l.WithGroup("memtier")} }

func (s Logger) log(lvl stdslog.Level, msg string, f memtier.Fields) {
	ctx := context.Background()
	if !s.L.Enabled(ctx, lvl) {
		return
	}
	s.L.LogAttrs(ctx, lvl, msg, attrs(f)...)
}

func (s Logger) Debug(msg string, f memtier.Fields) { s.log(stdslog.LevelDebug, msg, f) }
func (s Logger) Info(msg string, f memtier.Fields)  { s.log(stdslog.LevelInfo, msg, f) }
func (s Logger) Warn(msg string, f memtier.Fields)  { s.log(stdslog.LevelWarn, msg, f) }
func (s Logger) Error(msg string, f memtier.Fields) { s.log(stdslog.LevelError, msg, f) }

func attrs(f memtier.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]stdslog.Attr, 0, len(f))
	for _, k := range keys {
		out = append(out, stdslog.Any(k, f[k]))
	}
	return out
}
