// Package memcache implements remote.Client with bradfitz/gomemcache.
//
// gomemcache speaks the text protocol only. With OptBinaryProtocol set the
// client emulates initial-value counters with an Add followed by a retry of
// the increment. Stats, AllKeys, delayed flush and delete hold times are not
// available and return remote.ErrNotSupported.
package memcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/unkn0wn-root/memtier/remote"
)

// Expirations above this many seconds are absolute unix times to memcached.
const relativeExpiryLimit = 30 * 24 * 60 * 60

type Config struct {
	Servers        []remote.Server
	Prefix         string
	BinaryProtocol bool
	Timeout        time.Duration // 0 => gomemcache default
	MaxIdleConns   int           // 0 => gomemcache default
	// Now overrides the clock used for long expirations; nil => time.Now.
	Now func() time.Time
}

// Client is safe for concurrent use.
type Client struct {
	remote.Recorder

	mu      sync.RWMutex
	mc      *memcache.Client
	sel     *memcache.ServerList
	servers []remote.Server
	prefix  string
	binary  bool
	timeout time.Duration
	maxIdle int
	now     func() time.Time
}

var _ remote.Client = (*Client)(nil)

// New fails when a server address cannot be resolved.
func New(cfg Config) (*Client, error) {
	c := &Client{
		sel:     new(memcache.ServerList),
		prefix:  cfg.Prefix,
		binary:  cfg.BinaryProtocol,
		timeout: cfg.Timeout,
		maxIdle: cfg.MaxIdleConns,
		now:     cfg.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if err := c.AddServers(context.Background(), cfg.Servers); err != nil {
		return nil, err
	}
	c.mc = c.build()
	return c, nil
}

// build must be called with mu held (or before c is shared).
func (c *Client) build() *memcache.Client {
	mc := memcache.NewFromSelector(c.sel)
	if c.timeout > 0 {
		mc.Timeout = c.timeout
	}
	if c.maxIdle > 0 {
		mc.MaxIdleConns = c.maxIdle
	}
	return mc
}

// selectorAddrs lists each server weight times (at least once); gomemcache
// hashes keys over the list, so heavier servers get more keys.
func selectorAddrs(servers []remote.Server) []string {
	var out []string
	for _, s := range servers {
		for range max(s.Weight, 1) {
			out = append(out, s.Addr())
		}
	}
	return out
}

func (c *Client) handle() (*memcache.Client, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.servers) == 0 {
		return nil, "", remote.ErrNoServers
	}
	return c.mc, c.prefix, nil
}

// expiry converts a relative duration to memcached's int32 seconds.
func (c *Client) expiry(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	secs := int64((d + time.Second - 1) / time.Second)
	if secs > relativeExpiryLimit {
		return int32(c.now().Unix() + secs)
	}
	return int32(secs)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, memcache.ErrCacheMiss):
		return remote.ErrCacheMiss
	case errors.Is(err, memcache.ErrNotStored):
		return remote.ErrNotStored
	case errors.Is(err, memcache.ErrCASConflict):
		return remote.ErrCASConflict
	case errors.Is(err, memcache.ErrNoServers):
		return fmt.Errorf("%w: %v", remote.ErrNoServers, err)
	case strings.Contains(err.Error(), "non-numeric"):
		return fmt.Errorf("%w: %v", remote.ErrNotNumeric, err)
	default:
		return err
	}
}

func (c *Client) toMC(prefix string, it remote.Item) *memcache.Item {
	return &memcache.Item{
		Key:        prefix + it.Key,
		Value:      it.Value,
		Flags:      it.Flags,
		Expiration: c.expiry(it.Expiration),
	}
}

func fromMC(key string, mi *memcache.Item, withCAS bool) remote.Item {
	it := remote.Item{Key: key, Value: mi.Value, Flags: mi.Flags}
	if withCAS {
		it.CAS = remote.NewCASToken(mi)
	}
	return it
}

func wantCAS(opts remote.GetOptions) bool {
	return opts.WithCAS || opts.Flags&remote.GetExtended != 0
}

func (c *Client) BinaryProtocol() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.binary
}

func (c *Client) Get(ctx context.Context, key string, opts remote.GetOptions) (remote.Item, bool, error) {
	mc, prefix, err := c.handle()
	if err != nil {
		return remote.Item{}, false, c.Record(err)
	}
	mi, err := mc.Get(prefix + key)
	switch err = mapErr(err); {
	case err == nil:
		c.Record(nil)
		return fromMC(key, mi, wantCAS(opts)), true, nil
	case !errors.Is(err, remote.ErrCacheMiss):
		return remote.Item{}, false, c.Record(err)
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
	mc, prefix, err := c.handle()
	if err != nil {
		return nil, c.Record(err)
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = prefix + k
	}
	got, err := mc.GetMulti(full)
	if err != nil {
		return nil, c.Record(mapErr(err))
	}
	out := make(map[string]remote.Item, len(got))
	for _, k := range keys {
		if mi, ok := got[prefix+k]; ok {
			out[k] = fromMC(k, mi, wantCAS(opts))
		}
	}
	return out, c.Record(nil)
}

func (c *Client) Set(_ context.Context, it remote.Item) error {
	mc, prefix, err := c.handle()
	if err != nil {
		return c.Record(err)
	}
	return c.Record(mapErr(mc.Set(c.toMC(prefix, it))))
}

// SetMulti stops at the first failure; earlier items stay written.
func (c *Client) SetMulti(ctx context.Context, items []remote.Item) error {
	for _, it := range items {
		if err := c.Set(ctx, it); err != nil {
			return fmt.Errorf("memcache: set %q: %w", it.Key, err)
		}
	}
	return nil
}

func (c *Client) Add(_ context.Context, it remote.Item) (bool, error) {
	mc, prefix, err := c.handle()
	if err != nil {
		return false, c.Record(err)
	}
	err = mapErr(mc.Add(c.toMC(prefix, it)))
	if errors.Is(err, remote.ErrNotStored) {
		c.Record(err)
		return false, nil
	}
	return err == nil, c.Record(err)
}

// CompareAndSwap needs a token from a Get that asked for one.
func (c *Client) CompareAndSwap(_ context.Context, it remote.Item) (bool, error) {
	tok, ok := it.CAS.Value().(*memcache.Item)
	if !ok || tok == nil {
		return false, c.Record(remote.ErrInvalidCASToken)
	}
	mc, prefix, err := c.handle()
	if err != nil {
		return false, c.Record(err)
	}
	mi := *tok // carries the server's cas id
	mi.Key = prefix + it.Key
	mi.Value = it.Value
	mi.Flags = it.Flags
	mi.Expiration = c.expiry(it.Expiration)

	err = mapErr(mc.CompareAndSwap(&mi))
	if errors.Is(err, remote.ErrCASConflict) || errors.Is(err, remote.ErrCacheMiss) || errors.Is(err, remote.ErrNotStored) {
		c.Record(err)
		return false, nil
	}
	return err == nil, c.Record(err)
}

func (c *Client) Touch(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc, prefix, err := c.handle()
	if err != nil {
		return false, c.Record(err)
	}
	err = mapErr(mc.Touch(prefix+key, c.expiry(ttl)))
	if errors.Is(err, remote.ErrCacheMiss) {
		c.Record(err)
		return false, nil
	}
	return err == nil, c.Record(err)
}

func (c *Client) Delete(_ context.Context, key string, hold time.Duration) (bool, error) {
	if hold > 0 {
		return false, c.Record(remote.ErrNotSupported)
	}
	mc, prefix, err := c.handle()
	if err != nil {
		return false, c.Record(err)
	}
	err = mapErr(mc.Delete(prefix + key))
	if errors.Is(err, remote.ErrCacheMiss) {
		c.Record(err)
		return false, nil
	}
	return err == nil, c.Record(err)
}

func (c *Client) DeleteMulti(ctx context.Context, keys []string, hold time.Duration) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		ok, err := c.Delete(ctx, k, hold)
		if err != nil {
			return nil, err
		}
		out[k] = out[k] || ok
	}
	return out, nil
}

func (c *Client) Increment(_ context.Context, key string, delta uint64) (uint64, error) {
	mc, prefix, err := c.handle()
	if err != nil {
		return 0, c.Record(err)
	}
	n, err := mc.Increment(prefix+key, delta)
	return n, c.Record(mapErr(err))
}

func (c *Client) Decrement(_ context.Context, key string, delta uint64) (uint64, error) {
	mc, prefix, err := c.handle()
	if err != nil {
		return 0, c.Record(err)
	}
	n, err := mc.Decrement(prefix+key, delta)
	return n, c.Record(mapErr(err))
}

func (c *Client) IncrementWithInitial(ctx context.Context, key string, delta, initial uint64, expiry time.Duration) (uint64, error) {
	return c.counterWithInitial(ctx, key, delta, initial, expiry, c.Increment)
}

func (c *Client) DecrementWithInitial(ctx context.Context, key string, delta, initial uint64, expiry time.Duration) (uint64, error) {
	return c.counterWithInitial(ctx, key, delta, initial, expiry, c.Decrement)
}

func (c *Client) counterWithInitial(ctx context.Context, key string, delta, initial uint64, expiry time.Duration,
	step func(context.Context, string, uint64) (uint64, error),
) (uint64, error) {
	if !c.BinaryProtocol() {
		return 0, c.Record(remote.ErrNotSupported)
	}
	n, err := step(ctx, key, delta)
	if !errors.Is(err, remote.ErrCacheMiss) {
		return n, err
	}
	seed := remote.Item{Key: key, Value: []byte(fmt.Sprint(initial)), Expiration: expiry}
	stored, err := c.Add(ctx, seed)
	if err != nil {
		return 0, err
	}
	if stored {
		return initial, nil
	}
	// someone else created it in between
	return step(ctx, key, delta)
}

// Flush empties every server. Delayed flushes are not supported.
func (c *Client) Flush(_ context.Context, delay time.Duration) error {
	if delay > 0 {
		return c.Record(remote.ErrNotSupported)
	}
	mc, _, err := c.handle()
	if err != nil {
		return c.Record(err)
	}
	return c.Record(mapErr(mc.FlushAll()))
}

// AddServers resolves every address before it changes the selector; nothing
// is added when one of them fails.
func (c *Client) AddServers(_ context.Context, servers []remote.Server) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := append([]remote.Server(nil), c.servers...)
	for _, s := range servers {
		next = append(next, s.Normalize())
	}
	if err := c.sel.SetServers(selectorAddrs(next)...); err != nil {
		return c.Record(fmt.Errorf("memcache: servers: %w", err))
	}
	c.servers = next
	return c.Record(nil)
}

func (c *Client) Servers() []remote.Server {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]remote.Server(nil), c.servers...)
}

// SetOptions validates every entry before applying any.
func (c *Client) SetOptions(_ context.Context, opts map[remote.Option]any) error {
	var (
		binary, prefix, timeout, idle bool

		b bool
		s string
		d time.Duration
		n int
	)
	for k, v := range opts {
		var err error
		switch k {
		case remote.OptBinaryProtocol:
			b, err = remote.BoolOption(k, v)
			binary = true
		case remote.OptPrefixKey:
			s, err = remote.StringOption(k, v)
			prefix = true
		case remote.OptTimeout:
			d, err = remote.DurationOption(k, v)
			timeout = true
		case remote.OptMaxIdleConns:
			n, err = remote.IntOption(k, v)
			idle = true
		default:
			err = &remote.OptionError{Option: k, Value: v, Err: remote.ErrUnknownOption}
		}
		if err != nil {
			return c.Record(err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if binary {
		c.binary = b
	}
	if prefix {
		c.prefix = s
	}
	if timeout {
		c.timeout = d
	}
	if idle {
		c.maxIdle = n
	}
	if timeout || idle {
		c.mc = c.build()
	}
	return c.Record(nil)
}

func (c *Client) ResetServerList(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sel.SetServers(); err != nil {
		return c.Record(err)
	}
	c.servers = nil
	return c.Record(nil)
}

// Quit drops the connection pool. Servers and options are kept.
func (c *Client) Quit(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mc = c.build()
	return c.Record(nil)
}

func (c *Client) Stats(context.Context) (map[string]map[string]string, error) {
	return nil, c.Record(remote.ErrNotSupported)
}

func (c *Client) AllKeys(context.Context) ([]string, error) {
	return nil, c.Record(remote.ErrNotSupported)
}
