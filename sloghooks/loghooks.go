// Package sloghooks reports memtier hook events through log/slog.
//
// Lookups and self-heals can be frequent, so both are sampled. Keys are never
// logged in clear; errors are always logged.
package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/memtier"
	"github.com/unkn0wn-root/memtier/remote"
)

type Options struct {
	// Log every Nth event; 0 and 1 log all of them.
	LookupEvery   uint64
	SelfHealEvery uint64

	// Redact replaces keys before they are logged. Default: first 8 bytes of
	// the SHA-256, hex encoded.
	Redact func(string) string
}

// Hooks implements memtier.Hooks. A nil logger makes every method a no-op.
type Hooks struct {
	l    *slog.Logger
	opts Options

	lookups atomic.Uint64
	heals   atomic.Uint64
}

var _ memtier.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	if opts.Redact == nil {
		opts.Redact = hashKey
	}
	return &Hooks{l: l, opts: opts}
}

func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

// every reports whether this call is the nth since the last one logged.
func every(n uint64, ctr *atomic.Uint64) bool {
	return n <= 1 || ctr.Add(1)%n == 0
}

func (h *Hooks) emit(lvl slog.Level, msg string, attrs ...slog.Attr) {
	ctx := context.Background()
	if h.l == nil || !h.l.Enabled(ctx, lvl) {
		return
	}
	h.l.LogAttrs(ctx, lvl, msg, attrs...)
}

func (h *Hooks) LocalLookup(op string, hits, misses int) {
	if h.l == nil || !every(h.opts.LookupEvery, &h.lookups) {
		return
	}
	h.emit(slog.LevelDebug, "memtier.local_lookup",
		slog.String("op", op), slog.Int("hits", hits), slog.Int("misses", misses))
}

func (h *Hooks) LocalSelfHeal(key string) {
	if h.l == nil || !every(h.opts.SelfHealEvery, &h.heals) {
		return
	}
	h.emit(slog.LevelInfo, "memtier.local_self_heal", slog.String("key", h.opts.Redact(key)))
}

func (h *Hooks) LocalError(stage string, keys int, err error) {
	h.emit(slog.LevelWarn, "memtier.local_error",
		slog.String("stage", stage), slog.Int("keys", keys), slog.Any("err", err))
}

// RemoteError carries the memcached result code next to the error so log
// queries can group by it.
func (h *Hooks) RemoteError(op string, err error) {
	h.emit(slog.LevelWarn, "memtier.remote_error",
		slog.String("op", op), slog.String("code", remote.ResultOf(err).String()), slog.Any("err", err))
}

func (h *Hooks) ServersPushed(n int) {
	h.emit(slog.LevelInfo, "memtier.servers_pushed", slog.Int("count", n))
}
