package memtier

import (
	"context"
	"maps"
	"reflect"

	"github.com/unkn0wn-root/memtier/remote"
)

// registry remembers every server and option ever configured so that a new
// remote handle can be brought to the same state. It is guarded by
// Coordinator.mu.
type registry struct {
	servers []remote.Server
	seen    map[remote.Server]struct{}
	options map[remote.Option]any
}

func newRegistry() registry {
	return registry{
		seen:    make(map[remote.Server]struct{}),
		options: make(map[remote.Option]any),
	}
}

// fresh returns the normalized servers from in that are not registered yet,
// without registering them.
func (r *registry) fresh(in []remote.Server) []remote.Server {
	var out []remote.Server
	batch := make(map[remote.Server]struct{}, len(in))
	for _, s := range in {
		s = s.Normalize()
		if _, ok := r.seen[s]; ok {
			continue
		}
		if _, ok := batch[s]; ok {
			continue
		}
		batch[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (r *registry) commitServers(add []remote.Server) {
	for _, s := range add {
		r.seen[s] = struct{}{}
		r.servers = append(r.servers, s)
	}
}

func (r *registry) resetServers() {
	r.servers = nil
	clear(r.seen)
}

func (r *registry) list() []remote.Server {
	out := make([]remote.Server, len(r.servers))
	copy(out, r.servers)
	return out
}

// changedOptions returns the entries of in whose value differs from the
// recorded one (or that were never recorded).
func (r *registry) changedOptions(in map[remote.Option]any) map[remote.Option]any {
	out := make(map[remote.Option]any, len(in))
	for k, v := range in {
		if old, ok := r.options[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		out[k] = v
	}
	return out
}

func (r *registry) commitOptions(m map[remote.Option]any) {
	maps.Copy(r.options, m)
}

func (r *registry) optionsCopy() map[remote.Option]any {
	return maps.Clone(r.options)
}

// AddServer registers one server. See AddServers.
func (c *Coordinator) AddServer(ctx context.Context, host string, port, weight int) error {
	return c.AddServers(ctx, remote.Server{Host: host, Port: port, Weight: weight})
}

// AddServers registers servers that were not registered before. If a remote
// handle exists the new ones are pushed to it first; a failed push leaves the
// registry untouched. Without a handle they are only recorded and replayed
// when one is created.
func (c *Coordinator) AddServers(ctx context.Context, servers ...remote.Server) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	add := c.reg.fresh(servers)
	if len(add) == 0 {
		c.log.Debug("no new servers", Fields{"given": len(servers)})
		return nil
	}
	if c.client != nil && !c.replay {
		if err := c.client.AddServers(ctx, add); err != nil {
			return c.remoteErr("add_servers", err)
		}
		c.hooks.ServersPushed(len(add))
	}
	c.reg.commitServers(add)
	c.log.Debug("servers registered", Fields{"added": len(add), "total": len(c.reg.servers)})
	return nil
}

// Servers returns the registered servers in insertion order.
func (c *Coordinator) Servers() []remote.Server {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.list()
}

// SetOptions records options and pushes the ones that changed to the live
// handle, if any. Nothing is recorded when the push fails.
func (c *Coordinator) SetOptions(ctx context.Context, opts map[remote.Option]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := c.reg.changedOptions(opts)
	if len(changed) == 0 {
		return nil
	}
	if c.client != nil && !c.replay {
		if err := c.client.SetOptions(ctx, changed); err != nil {
			return c.remoteErr("set_options", err)
		}
	}
	c.reg.commitOptions(changed)
	return nil
}

// SetOption is SetOptions for a single entry.
func (c *Coordinator) SetOption(ctx context.Context, opt remote.Option, v any) error {
	return c.SetOptions(ctx, map[remote.Option]any{opt: v})
}

// RemoteOptions returns a copy of the recorded options.
func (c *Coordinator) RemoteOptions() map[remote.Option]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.optionsCopy()
}

// ResetServerList clears the remote client's server list and, once that
// succeeded, the registry. Recorded options are kept.
func (c *Coordinator) ResetServerList(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, err := c.connectLocked(ctx)
	if err != nil {
		return err
	}
	if err := cl.ResetServerList(ctx); err != nil {
		return c.remoteErr("reset_server_list", err)
	}
	c.reg.resetServers()
	return nil
}
