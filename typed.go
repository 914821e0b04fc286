package memtier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/memtier/codec"
	"github.com/unkn0wn-root/memtier/remote"
)

// Typed stores values of type V through a Coordinator. The codec's flag id is
// written into Item.Flags and checked on every read.
type Typed[V any] struct {
	c     *Coordinator
	codec codec.Codec[V]
}

func NewTyped[V any](c *Coordinator, cd codec.Codec[V]) *Typed[V] {
	return &Typed[V]{c: c, codec: cd}
}

func (t *Typed[V]) item(key string, v V, ttl time.Duration) (Item, error) {
	b, err := t.codec.Encode(v)
	if err != nil {
		return Item{}, fmt.Errorf("memtier: encode %q: %w", key, err)
	}
	return Item{Key: key, Value: b, Flags: t.codec.Flag(), Expiration: ttl}, nil
}

func (t *Typed[V]) value(it Item) (V, error) {
	var zero V
	if it.Flags != t.codec.Flag() {
		return zero, fmt.Errorf("%w: key %q stored as %s, read as %s",
			ErrFlagMismatch, it.Key, codec.FlagName(it.Flags), codec.FlagName(t.codec.Flag()))
	}
	v, err := t.codec.Decode(it.Value)
	if err != nil {
		return zero, fmt.Errorf("memtier: decode %q: %w", it.Key, err)
	}
	return v, nil
}

func (t *Typed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	it, ok, err := t.c.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := t.value(it)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (t *Typed[V]) Set(ctx context.Context, key string, v V, ttl time.Duration) error {
	it, err := t.item(key, v, ttl)
	if err != nil {
		return err
	}
	return t.c.Set(ctx, it)
}

func (t *Typed[V]) Add(ctx context.Context, key string, v V, ttl time.Duration) (bool, error) {
	it, err := t.item(key, v, ttl)
	if err != nil {
		return false, err
	}
	return t.c.Add(ctx, it)
}

// GetMulti decodes every hit. Entries that fail to decode are left out and
// their errors joined into the returned error.
func (t *Typed[V]) GetMulti(ctx context.Context, keys []string) (map[string]V, error) {
	items, err := t.c.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]V, len(items))
	var errs []error
	for k, it := range items {
		v, err := t.value(it)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[k] = v
	}
	return out, errors.Join(errs...)
}

// GetOrLoad reads key remotely and, on a miss, lets the remote client call
// load and store its result with ttl. load returning ok=false is a miss.
func (t *Typed[V]) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context, key string) (V, bool, error)) (V, bool, error) {
	var zero V
	rt := func(ctx context.Context, key string) (remote.Item, bool, error) {
		v, ok, err := load(ctx, key)
		if err != nil || !ok {
			return remote.Item{}, false, err
		}
		it, err := t.item(key, v, ttl)
		return it, err == nil, err
	}
	it, ok, err := t.c.Get(ctx, key, WithReadThrough(rt))
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := t.value(it)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// GetCAS reads key remotely with its CAS token for a later CompareAndSwap.
func (t *Typed[V]) GetCAS(ctx context.Context, key string) (V, CASToken, bool, error) {
	var zero V
	it, ok, err := t.c.Get(ctx, key, WithCAS())
	if err != nil || !ok {
		return zero, CASToken{}, false, err
	}
	v, err := t.value(it)
	if err != nil {
		return zero, CASToken{}, false, err
	}
	return v, it.CAS, true, nil
}

func (t *Typed[V]) CompareAndSwap(ctx context.Context, key string, v V, ttl time.Duration, tok CASToken) (bool, error) {
	it, err := t.item(key, v, ttl)
	if err != nil {
		return false, err
	}
	it.CAS = tok
	return t.c.CompareAndSwap(ctx, it)
}

func (t *Typed[V]) Delete(ctx context.Context, key string) (bool, error) {
	return t.c.Delete(ctx, key, 0)
}
