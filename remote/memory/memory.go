// Package memory is an in-process remote.Client. It keeps memcached
// semantics (CAS sequence, counters, delayed flush, result codes) without a
// network, which makes it the default double in tests and a usable backend
// for single-process deployments.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/unkn0wn-root/memtier/remote"
)

type entry struct {
	value []byte
	flags uint32
	cas   uint64
	exp   time.Time // zero => no TTL
}

// Client is safe for concurrent use.
type Client struct {
	remote.Recorder

	mu      sync.Mutex
	now     func() time.Time
	entries map[string]entry
	casSeq  uint64

	servers []remote.Server
	binary  bool
	prefix  string
	timeout time.Duration

	hits, misses, gets, sets uint64
}

var _ remote.Client = (*Client)(nil)

type Config struct {
	BinaryProtocol bool
	Prefix         string
	// Now overrides the clock; nil => time.Now.
	Now func() time.Time
}

func New(cfg Config) *Client {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		now:     now,
		entries: make(map[string]entry),
		binary:  cfg.BinaryProtocol,
		prefix:  cfg.Prefix,
	}
}

func (c *Client) BinaryProtocol() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binary
}

// lookup must be called with mu held.
func (c *Client) lookup(key string) (entry, bool) {
	e, ok := c.entries[c.prefix+key]
	if !ok {
		return entry{}, false
	}
	if !e.exp.IsZero() && !c.now().Before(e.exp) {
		delete(c.entries, c.prefix+key)
		return entry{}, false
	}
	return e, true
}

// store must be called with mu held.
func (c *Client) store(it remote.Item) uint64 {
	c.casSeq++
	e := entry{
		value: append([]byte(nil), it.Value...),
		flags: it.Flags,
		cas:   c.casSeq,
	}
	if it.Expiration > 0 {
		e.exp = c.now().Add(it.Expiration)
	}
	c.entries[c.prefix+it.Key] = e
	c.sets++
	return e.cas
}

func (c *Client) toItem(key string, e entry, withCAS bool) remote.Item {
	it := remote.Item{
		Key:   key,
		Value: append([]byte(nil), e.value...),
		Flags: e.flags,
	}
	if withCAS {
		it.CAS = remote.NewCASToken(e.cas)
	}
	return it
}

func (c *Client) Get(ctx context.Context, key string, opts remote.GetOptions) (remote.Item, bool, error) {
	c.mu.Lock()
	c.gets++
	e, ok := c.lookup(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if ok {
		c.Record(nil)
		return c.toItem(key, e, opts.WithCAS || opts.Flags&remote.GetExtended != 0), true, nil
	}
	if opts.ReadThrough != nil {
		it, ok, err := remote.LoadThrough(ctx, c.Set, key, opts.ReadThrough)
		c.Record(err)
		return it, ok, err
	}
	c.Record(remote.ErrCacheMiss)
	return remote.Item{}, false, nil
}

func (c *Client) GetMulti(_ context.Context, keys []string, opts remote.GetOptions) (map[string]remote.Item, error) {
	withCAS := opts.WithCAS || opts.Flags&remote.GetExtended != 0
	out := make(map[string]remote.Item, len(keys))

	c.mu.Lock()
	for _, k := range keys {
		c.gets++
		e, ok := c.lookup(k)
		if !ok {
			c.misses++
			continue
		}
		c.hits++
		out[k] = c.toItem(k, e, withCAS)
	}
	c.mu.Unlock()

	c.Record(nil)
	return out, nil
}

func (c *Client) Set(_ context.Context, it remote.Item) error {
	c.mu.Lock()
	c.store(it)
	c.mu.Unlock()
	return c.Record(nil)
}

func (c *Client) SetMulti(_ context.Context, items []remote.Item) error {
	c.mu.Lock()
	for _, it := range items {
		c.store(it)
	}
	c.mu.Unlock()
	return c.Record(nil)
}

func (c *Client) Add(_ context.Context, it remote.Item) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(it.Key); ok {
		c.Record(remote.ErrNotStored)
		return false, nil
	}
	c.store(it)
	c.Record(nil)
	return true, nil
}

func (c *Client) CompareAndSwap(_ context.Context, it remote.Item) (bool, error) {
	tok, ok := it.CAS.Value().(uint64)
	if !ok {
		return false, c.Record(remote.ErrInvalidCASToken)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(it.Key)
	if !ok {
		c.Record(remote.ErrCacheMiss)
		return false, nil
	}
	if e.cas != tok {
		c.Record(remote.ErrCASConflict)
		return false, nil
	}
	c.store(it)
	c.Record(nil)
	return true, nil
}

func (c *Client) Touch(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok {
		c.Record(remote.ErrCacheMiss)
		return false, nil
	}
	e.exp = time.Time{}
	if ttl > 0 {
		e.exp = c.now().Add(ttl)
	}
	c.entries[c.prefix+key] = e
	c.Record(nil)
	return true, nil
}

func (c *Client) Delete(_ context.Context, key string, hold time.Duration) (bool, error) {
	if hold > 0 {
		return false, c.Record(remote.ErrNotSupported)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); !ok {
		c.Record(remote.ErrCacheMiss)
		return false, nil
	}
	delete(c.entries, c.prefix+key)
	c.Record(nil)
	return true, nil
}

func (c *Client) DeleteMulti(_ context.Context, keys []string, hold time.Duration) (map[string]bool, error) {
	if hold > 0 {
		return nil, c.Record(remote.ErrNotSupported)
	}
	out := make(map[string]bool, len(keys))
	c.mu.Lock()
	for _, k := range keys {
		_, ok := c.lookup(k)
		if ok {
			delete(c.entries, c.prefix+k)
		}
		out[k] = ok
	}
	c.mu.Unlock()
	c.Record(nil)
	return out, nil
}

func (c *Client) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.counter(key, delta, true, false, 0, 0)
}

func (c *Client) Decrement(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.counter(key, delta, false, false, 0, 0)
}

func (c *Client) IncrementWithInitial(_ context.Context, key string, delta, initial uint64, expiry time.Duration) (uint64, error) {
	return c.counter(key, delta, true, true, initial, expiry)
}

func (c *Client) DecrementWithInitial(_ context.Context, key string, delta, initial uint64, expiry time.Duration) (uint64, error) {
	return c.counter(key, delta, false, true, initial, expiry)
}

func (c *Client) counter(key string, delta uint64, incr, create bool, initial uint64, expiry time.Duration) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key)
	if !ok {
		if !create {
			return 0, c.Record(remote.ErrCacheMiss)
		}
		c.store(remote.Item{Key: key, Value: strconv.AppendUint(nil, initial, 10), Expiration: expiry})
		c.Record(nil)
		return initial, nil
	}
	n, err := remote.ParseCounter(e.value)
	if err != nil {
		return 0, c.Record(err)
	}
	n = remote.ApplyDelta(n, delta, incr)

	// counters keep their TTL
	c.casSeq++
	e.value = strconv.AppendUint(nil, n, 10)
	e.cas = c.casSeq
	c.entries[c.prefix+key] = e
	c.Record(nil)
	return n, nil
}

// Flush invalidates everything; with a delay, entries expire once it elapses.
func (c *Client) Flush(_ context.Context, delay time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if delay <= 0 {
		c.entries = make(map[string]entry)
		return c.Record(nil)
	}
	at := c.now().Add(delay)
	for k, e := range c.entries {
		if e.exp.IsZero() || e.exp.After(at) {
			e.exp = at
			c.entries[k] = e
		}
	}
	return c.Record(nil)
}

func (c *Client) AddServers(_ context.Context, servers []remote.Server) error {
	c.mu.Lock()
	c.servers = append(c.servers, servers...)
	c.mu.Unlock()
	return c.Record(nil)
}

// Servers returns every descriptor pushed so far, duplicates included.
func (c *Client) Servers() []remote.Server {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]remote.Server(nil), c.servers...)
}

func (c *Client) SetOptions(_ context.Context, opts map[remote.Option]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, v := range opts {
		var err error
		switch name {
		case remote.OptBinaryProtocol:
			c.binary, err = remote.BoolOption(name, v)
		case remote.OptPrefixKey:
			c.prefix, err = remote.StringOption(name, v)
		case remote.OptTimeout:
			c.timeout, err = remote.DurationOption(name, v)
		case remote.OptMaxIdleConns:
			_, err = remote.IntOption(name, v) // no connections to pool
		default:
			err = &remote.OptionError{Option: name, Value: v, Err: remote.ErrUnknownOption}
		}
		if err != nil {
			return c.Record(err)
		}
	}
	return c.Record(nil)
}

func (c *Client) ResetServerList(context.Context) error {
	c.mu.Lock()
	c.servers = nil
	c.mu.Unlock()
	return c.Record(nil)
}

// Quit is a no-op: the data outlives any one connection, as on a real server.
func (c *Client) Quit(context.Context) error { return c.Record(nil) }

func (c *Client) Stats(context.Context) (map[string]map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := map[string]string{
		"version":    "memtier-memory",
		"curr_items": strconv.Itoa(len(c.entries)),
		"cmd_get":    strconv.FormatUint(c.gets, 10),
		"cmd_set":    strconv.FormatUint(c.sets, 10),
		"get_hits":   strconv.FormatUint(c.hits, 10),
		"get_misses": strconv.FormatUint(c.misses, 10),
	}
	out := make(map[string]map[string]string)
	if len(c.servers) == 0 {
		out["memory"] = st
	}
	for _, s := range c.servers {
		out[s.Addr()] = st
	}
	c.Record(nil)
	return out, nil
}

func (c *Client) AllKeys(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		if len(k) < len(c.prefix) || k[:len(c.prefix)] != c.prefix {
			continue
		}
		if _, ok := c.lookup(k[len(c.prefix):]); ok {
			keys = append(keys, k[len(c.prefix):])
		}
	}
	sort.Strings(keys)
	c.Record(nil)
	return keys, nil
}
