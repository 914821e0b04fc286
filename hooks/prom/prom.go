// Package prom counts memtier hook events with Prometheus counters.
package prom

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unkn0wn-root/memtier"
	"github.com/unkn0wn-root/memtier/remote"
)

type Hooks struct {
	lookups       *prometheus.CounterVec // op, result
	selfHeals     prometheus.Counter
	localErrors   *prometheus.CounterVec // stage
	remoteErrors  *prometheus.CounterVec // op, code
	serversPushed prometheus.Counter
}

var _ memtier.Hooks = (*Hooks)(nil)

// New registers the counters with reg (prometheus.DefaultRegisterer when
// nil). Registering twice on the same registry reuses the existing counters.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "memtier"
	}

	h := &Hooks{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "local_lookups_total",
			Help: "Keys looked up in the local store, by result.",
		}, []string{"op", "result"}),
		selfHeals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "local_self_heals_total",
			Help: "Corrupt local entries deleted on read.",
		}),
		localErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "local_errors_total",
			Help: "Failed local store calls, by stage.",
		}, []string{"stage"}),
		remoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "remote_errors_total",
			Help: "Remote client errors, by operation and result code.",
		}, []string{"op", "code"}),
		serversPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "servers_pushed_total",
			Help: "Server descriptors pushed to a live remote handle.",
		}),
	}

	var err error
	h.lookups, err = register(reg, h.lookups)
	if err != nil {
		return nil, err
	}
	if h.selfHeals, err = register(reg, h.selfHeals); err != nil {
		return nil, err
	}
	if h.localErrors, err = register(reg, h.localErrors); err != nil {
		return nil, err
	}
	if h.remoteErrors, err = register(reg, h.remoteErrors); err != nil {
		return nil, err
	}
	if h.serversPushed, err = register(reg, h.serversPushed); err != nil {
		return nil, err
	}
	return h, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (h *Hooks) LocalLookup(op string, hits, misses int) {
	if hits > 0 {
		h.lookups.WithLabelValues(op, "hit").Add(float64(hits))
	}
	if misses > 0 {
		h.lookups.WithLabelValues(op, "miss").Add(float64(misses))
	}
}

func (h *Hooks) LocalSelfHeal(string) { h.selfHeals.Inc() }

func (h *Hooks) LocalError(stage string, _ int, _ error) {
	h.localErrors.WithLabelValues(stage).Inc()
}

func (h *Hooks) RemoteError(op string, err error) {
	h.remoteErrors.WithLabelValues(op, remote.ResultOf(err).String()).Inc()
}

func (h *Hooks) ServersPushed(n int) { h.serversPushed.Add(float64(n)) }
