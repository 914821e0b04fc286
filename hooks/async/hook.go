// Package asynchook moves hook calls off the coordinator's hot path onto a
// bounded queue. Events are dropped when the queue is full.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000)
//	defer hooks.Close()
//
//	c, _ := memtier.New(memtier.Options{Dial: dial, Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/memtier"
)

type Hooks struct {
	inner   memtier.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ memtier.Hooks = (*Hooks)(nil)

func New(inner memtier.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for range workers {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent afterwards
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// lost a race with Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) LocalSelfHeal(k string) { h.try(func() { h.inner.LocalSelfHeal(k) }) }
func (h *Hooks) ServersPushed(n int)    { h.try(func() { h.inner.ServersPushed(n) }) }
func (h *Hooks) LocalLookup(op string, hits, misses int) {
	h.try(func() { h.inner.LocalLookup(op, hits, misses) })
}
func (h *Hooks) LocalError(stage string, n int, err error) {
	h.try(func() { h.inner.LocalError(stage, n, err) })
}
func (h *Hooks) RemoteError(op string, err error) {
	h.try(func() { h.inner.RemoteError(op, err) })
}
