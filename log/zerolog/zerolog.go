// Package zerolog adapts a zerolog.Logger to memtier.Logger.
package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/unkn0wn-root/memtier"
)

var _ memtier.Logger = Logger{}

type Logger struct{ L zerolog.Logger }

func New(l zerolog.Logger) Logger {
	return Logger{L: l.With().Str("component", "memtier").Logger()}
}

func emit(e *zerolog.Event, msg string, f memtier.Fields) {
	for k, v := range f {
		if err, ok := v.(error); ok {
			e = e.AnErr(k, err)
			continue
		}
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func (z Logger) Debug(msg string, f memtier.Fields) { emit(z.L.Debug(), msg, f) }
func (z Logger) Info(msg string, f memtier.Fields)  { emit(z.L.Info(), msg, f) }
func (z Logger) Warn(msg string, f memtier.Fields)  { emit(z.L.Warn(), msg, f) }
func (z Logger) Error(msg string, f memtier.Fields) { emit(z.L.Error(), msg, f) }
