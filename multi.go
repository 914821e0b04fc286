package memtier

import (
	"context"
	"time"

	"github.com/unkn0wn-root/memtier/internal/wire"
	"github.com/unkn0wn-root/memtier/local"
)

// GetMulti returns every key found in either tier; missing keys are absent
// from the result. Keys are served locally unless WithCAS or WithFlags was
// given, in which case all of them go remote. Remote results are copied into
// the local store.
func (c *Coordinator) GetMulti(ctx context.Context, keys []string, opts ...GetOption) (map[string]Item, error) {
	o := buildGetOptions(opts)
	out := make(map[string]Item, len(keys))

	ls := c.localTier(ctx)
	var needed []string
	if ls != nil && !o.WithCAS && o.Flags == 0 {
		needed = c.readLocalMulti(ctx, ls, keys, out)
		c.hooks.LocalLookup("get_multi", len(out), len(needed))
	} else {
		needed = uniq(keys)
	}
	if len(needed) == 0 {
		return out, nil
	}

	cl, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	got, err := cl.GetMulti(ctx, needed, o)
	if err != nil {
		return nil, c.remoteErr("get_multi", err)
	}

	for k, it := range got {
		it.Key = k
		out[k] = it
	}
	if ls != nil && len(got) > 0 {
		vals := make(map[string][]byte, len(got))
		for k, it := range got {
			vals[k] = wire.EncodeEntry(it.Flags, it.Value)
		}
		c.populateErr(ls.SetMultiple(ctx, vals), len(vals), "")
	}
	return out, nil
}

// readLocalMulti fills out with local hits and returns the keys that still
// need a remote read, deduplicated, in request order.
func (c *Coordinator) readLocalMulti(ctx context.Context, ls local.Store, keys []string, out map[string]Item) []string {
	raw, err := ls.GetMultiple(ctx, keys)
	if err != nil {
		c.localErr("read", len(keys), err, "")
		return uniq(keys)
	}

	needed := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		if b, ok := raw[k]; ok {
			if it, ok := c.decodeLocal(ctx, ls, k, b); ok {
				out[k] = it
				continue
			}
		}
		needed = append(needed, k)
	}
	return needed
}

// SetMulti clears every key locally, then writes all items in one remote call.
func (c *Coordinator) SetMulti(ctx context.Context, items []Item) error {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	c.invalidateMulti(ctx, keys)

	cl, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	return c.remoteErr("set_multi", cl.SetMulti(ctx, items))
}

// DeleteMulti reports, per key, whether the remote client deleted it.
func (c *Coordinator) DeleteMulti(ctx context.Context, keys []string, hold time.Duration) (map[string]bool, error) {
	c.invalidateMulti(ctx, keys)

	cl, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := cl.DeleteMulti(ctx, keys, hold)
	return res, c.remoteErr("delete_multi", err)
}

func (c *Coordinator) invalidateMulti(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	ls := c.localTier(ctx)
	if ls == nil {
		return
	}
	if err := ls.DeleteMultiple(ctx, keys); err != nil {
		c.localErr("invalidate", len(keys), err, "")
	}
}

func uniq(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
