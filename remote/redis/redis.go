// Package redis implements remote.Client on a go-redis Ring sharded over the
// configured servers. Items are hashes {v, f, c}: value, flags and a CAS
// version drawn from a per-shard sequence key. Writes that must be atomic
// (add, cas, counters) run as Lua scripts.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/memtier/remote"
)

const (
	seqKey = "memtier:cas-seq"

	fieldValue = "v"
	fieldFlags = "f"
	fieldCAS   = "c"

	modeSet = "set"
	modeAdd = "add"
	modeCAS = "cas"

	maxCounterRetries = 16
)

// setScript stores an item under KEYS[1], drawing its version from KEYS[2].
// ARGV: mode, value, flags, ttl_ms, cas, keep_ttl.
// Returns the new version, 0 when add found the key or cas found another
// version, -1 when cas found no key.
var setScript = goredis.NewScript(`
local mode = ARGV[1]
if mode == 'add' then
  if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
elseif mode == 'cas' then
  local cur = redis.call('HGET', KEYS[1], 'c')
  if not cur then return -1 end
  if cur ~= ARGV[5] then return 0 end
end
local keep = -1
if ARGV[6] == '1' then keep = redis.call('PTTL', KEYS[1]) end
local c = redis.call('INCR', KEYS[2])
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'v', ARGV[2], 'f', ARGV[3], 'c', c)
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
elseif keep > 0 then
  redis.call('PEXPIRE', KEYS[1], keep)
end
return c
`)

type Config struct {
	Servers        []remote.Server
	Prefix         string
	BinaryProtocol bool
	// Ring is the template for every ring the client builds; Addrs is
	// replaced with the server list. nil => go-redis defaults.
	Ring *goredis.RingOptions
}

// Client is safe for concurrent use. The ring is built on first use and
// rebuilt after Quit or a timeout/pool option change.
type Client struct {
	remote.Recorder

	mu       sync.RWMutex
	ring     *goredis.Ring
	ringOpts goredis.RingOptions
	servers  []remote.Server
	prefix   string
	binary   bool
}

var _ remote.Client = (*Client)(nil)

func New(cfg Config) *Client {
	c := &Client{
		prefix: cfg.Prefix,
		binary: cfg.BinaryProtocol,
	}
	if cfg.Ring != nil {
		c.ringOpts = *cfg.Ring
	}
	for _, s := range cfg.Servers {
		c.servers = append(c.servers, s.Normalize())
	}
	return c
}

// shardAddrs replicates each server weight times (at least once) so the
// ring's hashing favours heavier servers.
func shardAddrs(servers []remote.Server) map[string]string {
	out := make(map[string]string, len(servers))
	for _, s := range servers {
		n := max(s.Weight, 1)
		for i := range n {
			out[s.Addr()+"#"+strconv.Itoa(i)] = s.Addr()
		}
	}
	return out
}

func (c *Client) handle() (*goredis.Ring, error) {
	c.mu.RLock()
	r := c.ring
	c.mu.RUnlock()
	if r != nil {
		return r, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ring != nil {
		return c.ring, nil
	}
	if len(c.servers) == 0 {
		return nil, remote.ErrNoServers
	}
	o := c.ringOpts
	o.Addrs = shardAddrs(c.servers)
	c.ring = goredis.NewRing(&o)
	return c.ring, nil
}

func (c *Client) pfx() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prefix
}

func (c *Client) key(k string) string { return c.pfx() + k }
func (c *Client) seq() string         { return c.pfx() + seqKey }

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "all ring shards are down"):
		return fmt.Errorf("%w: %v", remote.ErrNoServers, err)
	default:
		return err
	}
}

func ttlMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return max(d.Milliseconds(), 1)
}

func (c *Client) BinaryProtocol() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.binary
}

func (c *Client) setArgs(mode string, it remote.Item, cas string, keepTTL bool) []any {
	keep := "0"
	if keepTTL {
		keep = "1"
	}
	return []any{mode, it.Value, strconv.FormatUint(uint64(it.Flags), 10), ttlMillis(it.Expiration), cas, keep}
}

func (c *Client) eval(ctx context.Context, r goredis.Scripter, mode string, it remote.Item, cas string, keepTTL bool) (int64, error) {
	keys := []string{c.key(it.Key), c.seq()}
	n, err := setScript.Run(ctx, r, keys, c.setArgs(mode, it, cas, keepTTL)...).Int64()
	return n, mapErr(err)
}

// parseHash turns an HMGET v f c reply into an item; ok=false on a miss.
func parseHash(key string, vals []any, withCAS bool) (remote.Item, bool) {
	if len(vals) != 3 || vals[0] == nil {
		return remote.Item{}, false
	}
	v, _ := vals[0].(string)
	it := remote.Item{Key: key, Value: []byte(v)}
	if f, ok := vals[1].(string); ok {
		n, _ := strconv.ParseUint(f, 10, 32)
		it.Flags = uint32(n)
	}
	if withCAS {
		if s, ok := vals[2].(string); ok {
			it.CAS = remote.NewCASToken(s)
		}
	}
	return it, true
}

func (c *Client) read(ctx context.Context, r *goredis.Ring, key string, withCAS bool) (remote.Item, bool, error) {
	vals, err := r.HMGet(ctx, c.key(key), fieldValue, fieldFlags, fieldCAS).Result()
	if err != nil {
		return remote.Item{}, false, mapErr(err)
	}
	it, ok := parseHash(key, vals, withCAS)
	return it, ok, nil
}

func wantCAS(opts remote.GetOptions) bool {
	return opts.WithCAS || opts.Flags&remote.GetExtended != 0
}

func (c *Client) Get(ctx context.Context, key string, opts remote.GetOptions) (remote.Item, bool, error) {
	r, err := c.handle()
	if err != nil {
		return remote.Item{}, false, c.Record(err)
	}
	it, ok, err := c.read(ctx, r, key, wantCAS(opts))
	if err != nil {
		return remote.Item{}, false, c.Record(err)
	}
	if ok {
		c.Record(nil)
		return it, true, nil
	}
	if opts.ReadThrough != nil {
		it, ok, err := remote.LoadThrough(ctx, c.Set, key, opts.ReadThrough)
		c.Record(err)
		return it, ok, err
	}
	c.Record(remote.ErrCacheMiss)
	return remote.Item{}, false, nil
}

func (c *Client) GetMulti(ctx context.Context, keys []string, opts remote.GetOptions) (map[string]remote.Item, error) {
	r, err := c.handle()
	if err != nil {
		return nil, c.Record(err)
	}
	cmds := make([]*goredis.SliceCmd, len(keys))
	_, err = r.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.HMGet(ctx, c.key(k), fieldValue, fieldFlags, fieldCAS)
		}
		return nil
	})
	if err != nil {
		return nil, c.Record(mapErr(err))
	}

	out := make(map[string]remote.Item, len(keys))
	for i, k := range keys {
		if it, ok := parseHash(k, cmds[i].Val(), wantCAS(opts)); ok {
			out[k] = it
		}
	}
	c.Record(nil)
	return out, nil
}

func (c *Client) Set(ctx context.Context, it remote.Item) error {
	r, err := c.handle()
	if err != nil {
		return c.Record(err)
	}
	_, err = c.eval(ctx, r, modeSet, it, "", false)
	return c.Record(err)
}

func (c *Client) SetMulti(ctx context.Context, items []remote.Item) error {
	r, err := c.handle()
	if err != nil {
		return c.Record(err)
	}
	// EVAL rather than EVALSHA: a pipeline cannot retry on NOSCRIPT.
	_, err = r.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, it := range items {
			setScript.Eval(ctx, p, []string{c.key(it.Key), c.seq()}, c.setArgs(modeSet, it, "", false)...)
		}
		return nil
	})
	return c.Record(mapErr(err))
}

func (c *Client) Add(ctx context.Context, it remote.Item) (bool, error) {
	r, err := c.handle()
	if err != nil {
		return false, c.Record(err)
	}
	n, err := c.eval(ctx, r, modeAdd, it, "", false)
	if err != nil {
		return false, c.Record(err)
	}
	if n == 0 {
		c.Record(remote.ErrNotStored)
		return false, nil
	}
	c.Record(nil)
	return true, nil
}

func (c *Client) CompareAndSwap(ctx context.Context, it remote.Item) (bool, error) {
	tok, ok := it.CAS.Value().(string)
	if !ok {
		return false, c.Record(remote.ErrInvalidCASToken)
	}
	r, err := c.handle()
	if err != nil {
		return false, c.Record(err)
	}
	n, err := c.eval(ctx, r, modeCAS, it, tok, false)
	switch {
	case err != nil:
		return false, c.Record(err)
	case n == -1:
		c.Record(remote.ErrCacheMiss)
		return false, nil
	case n == 0:
		c.Record(remote.ErrCASConflict)
		return false, nil
	}
	c.Record(nil)
	return true, nil
}

func (c *Client) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	r, err := c.handle()
	if err != nil {
		return false, c.Record(err)
	}
	var ok bool
	if ttl > 0 {
		ok, err = r.PExpire(ctx, c.key(key), ttl).Result()
	} else {
		var n int64
		if n, err = r.Exists(ctx, c.key(key)).Result(); err == nil && n == 1 {
			ok = true
			err = r.Persist(ctx, c.key(key)).Err()
		}
	}
	if err != nil {
		return false, c.Record(mapErr(err))
	}
	if !ok {
		c.Record(remote.ErrCacheMiss)
		return false, nil
	}
	c.Record(nil)
	return true, nil
}

func (c *Client) Delete(ctx context.Context, key string, hold time.Duration) (bool, error) {
	if hold > 0 {
		return false, c.Record(remote.ErrNotSupported)
	}
	r, err := c.handle()
	if err != nil {
		return false, c.Record(err)
	}
	n, err := r.Del(ctx, c.key(key)).Result()
	if err != nil {
		return false, c.Record(mapErr(err))
	}
	if n == 0 {
		c.Record(remote.ErrCacheMiss)
		return false, nil
	}
	c.Record(nil)
	return true, nil
}

func (c *Client) DeleteMulti(ctx context.Context, keys []string, hold time.Duration) (map[string]bool, error) {
	if hold > 0 {
		return nil, c.Record(remote.ErrNotSupported)
	}
	r, err := c.handle()
	if err != nil {
		return nil, c.Record(err)
	}
	cmds := make([]*goredis.IntCmd, len(keys))
	_, err = r.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.Del(ctx, c.key(k))
		}
		return nil
	})
	if err != nil {
		return nil, c.Record(mapErr(err))
	}
	out := make(map[string]bool, len(keys))
	for i, k := range keys {
		out[k] = out[k] || cmds[i].Val() > 0
	}
	c.Record(nil)
	return out, nil
}

func (c *Client) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.counter(ctx, key, delta, true, false, 0, 0)
}

func (c *Client) Decrement(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.counter(ctx, key, delta, false, false, 0, 0)
}

func (c *Client) IncrementWithInitial(ctx context.Context, key string, delta, initial uint64, expiry time.Duration) (uint64, error) {
	return c.counter(ctx, key, delta, true, true, initial, expiry)
}

func (c *Client) DecrementWithInitial(ctx context.Context, key string, delta, initial uint64, expiry time.Duration) (uint64, error) {
	return c.counter(ctx, key, delta, false, true, initial, expiry)
}

// counter does the arithmetic in Go (Lua numbers are doubles) and commits it
// with a CAS write, retrying when another writer got in between.
func (c *Client) counter(ctx context.Context, key string, delta uint64, incr, create bool, initial uint64, expiry time.Duration) (uint64, error) {
	r, err := c.handle()
	if err != nil {
		return 0, c.Record(err)
	}
	for range maxCounterRetries {
		it, ok, err := c.read(ctx, r, key, true)
		if err != nil {
			return 0, c.Record(err)
		}
		if !ok {
			if !create {
				return 0, c.Record(remote.ErrCacheMiss)
			}
			seed := remote.Item{Key: key, Value: []byte(strconv.FormatUint(initial, 10)), Expiration: expiry}
			n, err := c.eval(ctx, r, modeAdd, seed, "", false)
			if err != nil {
				return 0, c.Record(err)
			}
			if n > 0 {
				return initial, c.Record(nil)
			}
			continue
		}

		cur, err := remote.ParseCounter(it.Value)
		if err != nil {
			return 0, c.Record(err)
		}
		next := remote.ApplyDelta(cur, delta, incr)
		tok, _ := it.CAS.Value().(string)
		it.Value = []byte(strconv.FormatUint(next, 10))
		n, err := c.eval(ctx, r, modeCAS, it, tok, true)
		if err != nil {
			return 0, c.Record(err)
		}
		if n > 0 {
			return next, c.Record(nil)
		}
	}
	return 0, c.Record(fmt.Errorf("redis: counter %q: %w after %d attempts", key, remote.ErrCASConflict, maxCounterRetries))
}

// Flush empties each shard's database, or only this client's keys when a
// prefix is set. Delayed flushes are not supported.
func (c *Client) Flush(ctx context.Context, delay time.Duration) error {
	if delay > 0 {
		return c.Record(remote.ErrNotSupported)
	}
	r, err := c.handle()
	if err != nil {
		return c.Record(err)
	}
	prefix := c.pfx()
	if prefix == "" {
		err = r.ForEachShard(ctx, func(ctx context.Context, shard *goredis.Client) error {
			return shard.FlushDB(ctx).Err()
		})
		return c.Record(mapErr(err))
	}
	err = r.ForEachShard(ctx, func(ctx context.Context, shard *goredis.Client) error {
		iter := shard.Scan(ctx, 0, scanPattern(prefix), 1000).Iterator()
		for iter.Next(ctx) {
			if err := shard.Del(ctx, iter.Val()).Err(); err != nil {
				return err
			}
		}
		return iter.Err()
	})
	return c.Record(mapErr(err))
}

func (c *Client) AddServers(_ context.Context, servers []remote.Server) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range servers {
		c.servers = append(c.servers, s.Normalize())
	}
	if c.ring != nil {
		c.ring.SetAddrs(shardAddrs(c.servers))
	}
	return c.Record(nil)
}

// Servers returns the server list in the order it was given.
func (c *Client) Servers() []remote.Server {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]remote.Server(nil), c.servers...)
}

// SetOptions validates every entry before applying any. Timeout and pool
// changes take effect on the next ring, which is built on the next call.
func (c *Client) SetOptions(_ context.Context, opts map[remote.Option]any) error {
	next := struct {
		binary  *bool
		prefix  *string
		timeout *time.Duration
		idle    *int
	}{}
	for k, v := range opts {
		switch k {
		case remote.OptBinaryProtocol:
			b, err := remote.BoolOption(k, v)
			if err != nil {
				return c.Record(err)
			}
			next.binary = &b
		case remote.OptPrefixKey:
			s, err := remote.StringOption(k, v)
			if err != nil {
				return c.Record(err)
			}
			next.prefix = &s
		case remote.OptTimeout:
			d, err := remote.DurationOption(k, v)
			if err != nil {
				return c.Record(err)
			}
			next.timeout = &d
		case remote.OptMaxIdleConns:
			n, err := remote.IntOption(k, v)
			if err != nil {
				return c.Record(err)
			}
			next.idle = &n
		default:
			return c.Record(&remote.OptionError{Option: k, Value: v, Err: remote.ErrUnknownOption})
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if next.binary != nil {
		c.binary = *next.binary
	}
	if next.prefix != nil {
		c.prefix = *next.prefix
	}
	rebuild := false
	if next.timeout != nil {
		d := *next.timeout
		c.ringOpts.DialTimeout, c.ringOpts.ReadTimeout, c.ringOpts.WriteTimeout = d, d, d
		rebuild = true
	}
	if next.idle != nil {
		c.ringOpts.MaxIdleConns = *next.idle
		rebuild = true
	}
	if rebuild && c.ring != nil {
		_ = c.ring.Close()
		c.ring = nil
	}
	return c.Record(nil)
}

func (c *Client) ResetServerList(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers = nil
	if c.ring != nil {
		_ = c.ring.Close()
		c.ring = nil
	}
	return c.Record(nil)
}

// Quit closes the ring. The next call builds a new one from the same servers.
func (c *Client) Quit(context.Context) error {
	c.mu.Lock()
	r := c.ring
	c.ring = nil
	c.mu.Unlock()
	if r == nil {
		return c.Record(nil)
	}
	if err := r.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return c.Record(err)
	}
	return c.Record(nil)
}

// Stats reports DBSIZE per shard address as curr_items.
func (c *Client) Stats(ctx context.Context) (map[string]map[string]string, error) {
	r, err := c.handle()
	if err != nil {
		return nil, c.Record(err)
	}
	var mu sync.Mutex
	out := make(map[string]map[string]string)
	err = r.ForEachShard(ctx, func(ctx context.Context, shard *goredis.Client) error {
		n, err := shard.DBSize(ctx).Result()
		if err != nil {
			return err
		}
		mu.Lock()
		out[shard.Options().Addr] = map[string]string{"curr_items": strconv.FormatInt(n, 10)}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, c.Record(mapErr(err))
	}
	return out, c.Record(nil)
}

// scanPattern matches every key under prefix. Glob metacharacters in the
// prefix are escaped so they match literally.
func scanPattern(prefix string) string {
	var b strings.Builder
	b.Grow(len(prefix) + 2)
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('*')
	return b.String()
}

// AllKeys scans every shard for this client's keys, sorted.
func (c *Client) AllKeys(ctx context.Context) ([]string, error) {
	r, err := c.handle()
	if err != nil {
		return nil, c.Record(err)
	}
	prefix := c.pfx()
	seq := prefix + seqKey
	var mu sync.Mutex
	seen := make(map[string]struct{})
	err = r.ForEachShard(ctx, func(ctx context.Context, shard *goredis.Client) error {
		iter := shard.Scan(ctx, 0, scanPattern(prefix), 1000).Iterator()
		for iter.Next(ctx) {
			k := iter.Val()
			if k == seq {
				continue
			}
			mu.Lock()
			seen[strings.TrimPrefix(k, prefix)] = struct{}{}
			mu.Unlock()
		}
		return iter.Err()
	})
	if err != nil {
		return nil, c.Record(mapErr(err))
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, c.Record(nil)
}
