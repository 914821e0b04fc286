package memtier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/memtier/internal/wire"
	"github.com/unkn0wn-root/memtier/local"
	"github.com/unkn0wn-root/memtier/local/ristretto"
	"github.com/unkn0wn-root/memtier/remote"
)

// Coordinator fronts a remote client with a local store. Every mutation
// clears the affected local entries before it reaches the remote client;
// reads are served locally unless they need authoritative remote state.
//
// A Coordinator may be shared between goroutines when its remote client and
// local store are safe for concurrent use. There is no transaction spanning
// the two tiers: a read that populates the local store can race a concurrent
// write's invalidation and leave a stale entry until the next write to that key.
type Coordinator struct {
	dial     DialFunc
	newLocal func() (local.Store, error)
	log      Logger
	hooks    Hooks

	// mu guards the remote handle and the registries. It is held across
	// dials and registry pushes, so the local tier must never need it.
	mu     sync.Mutex
	client remote.Client
	replay bool // client was supplied in Options and has not seen the registries yet
	reg    registry

	lmu   sync.Mutex
	local local.Store
}

func newCoordinator(opts Options) (*Coordinator, error) {
	if opts.Client == nil && opts.Dial == nil {
		return nil, ErrNoRemote
	}

	c := &Coordinator{
		dial:     opts.Dial,
		newLocal: opts.NewLocal,
		client:   opts.Client,
		replay:   opts.Client != nil,
		local:    opts.Local,
		reg:      newRegistry(),
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if c.newLocal == nil {
		c.newLocal = defaultLocal
	}

	c.reg.commitServers(c.reg.fresh(opts.Servers))
	c.reg.commitOptions(c.reg.changedOptions(opts.RemoteOptions))
	return c, nil
}

func defaultLocal() (local.Store, error) {
	return ristretto.New(ristretto.DefaultConfig())
}

// Connect returns the remote handle, creating it if needed. A new handle
// receives every known server and option before it is returned.
func (c *Coordinator) Connect(ctx context.Context) (remote.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Coordinator) connectLocked(ctx context.Context) (remote.Client, error) {
	if c.client != nil && !c.replay {
		return c.client, nil
	}

	cl, dialed := c.client, false
	if cl == nil {
		if c.dial == nil {
			return nil, ErrNoDialer
		}
		var err error
		if cl, err = c.dial(ctx); err != nil {
			return nil, fmt.Errorf("memtier: dial: %w", err)
		}
		dialed = true
	}

	servers := c.reg.list()
	if len(servers) > 0 {
		if err := cl.AddServers(ctx, servers); err != nil {
			c.abandon(ctx, cl, dialed)
			return nil, fmt.Errorf("memtier: replay servers: %w", err)
		}
	}
	opts := c.reg.optionsCopy()
	if len(opts) > 0 {
		if err := cl.SetOptions(ctx, opts); err != nil {
			c.abandon(ctx, cl, dialed)
			return nil, fmt.Errorf("memtier: replay options: %w", err)
		}
	}

	c.client, c.replay = cl, false
	c.log.Info("remote handle ready", Fields{"servers": len(servers), "options": len(opts), "dialed": dialed})
	return cl, nil
}

func (c *Coordinator) abandon(ctx context.Context, cl remote.Client, dialed bool) {
	if !dialed {
		return
	}
	if err := cl.Quit(ctx); err != nil {
		c.log.Warn("quit of half-configured handle failed", Fields{"err": err})
	}
}

// LocalStore returns the local tier, creating it if needed.
func (c *Coordinator) LocalStore(context.Context) (local.Store, error) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	if c.local != nil {
		return c.local, nil
	}
	s, err := c.newLocal()
	if err != nil {
		return nil, fmt.Errorf("memtier: local store: %w", err)
	}
	c.local = s
	return s, nil
}

// localTier returns nil when the store cannot be built; callers then run
// remote-only, which cannot serve stale data since nothing was cached.
func (c *Coordinator) localTier(ctx context.Context) local.Store {
	s, err := c.LocalStore(ctx)
	if err != nil {
		c.localErr("init", 0, err, "")
		return nil
	}
	return s
}

func (c *Coordinator) localErr(stage string, n int, err error, key string) {
	c.hooks.LocalError(stage, n, err)
	c.log.Warn("local store "+stage+" failed", Fields{"key": key, "keys": n, "err": err})
}

// remoteErr reports err and returns it unchanged.
func (c *Coordinator) remoteErr(op string, err error) error {
	if err != nil {
		c.hooks.RemoteError(op, err)
		c.log.Debug("remote "+op+" failed", Fields{"err": err, "code": remote.ResultOf(err)})
	}
	return err
}

func (c *Coordinator) invalidate(ctx context.Context, key string) {
	ls := c.localTier(ctx)
	if ls == nil {
		return
	}
	if err := ls.Delete(ctx, key); err != nil {
		c.localErr("invalidate", 1, err, key)
	}
}

func (c *Coordinator) readLocal(ctx context.Context, ls local.Store, key string) (Item, bool) {
	raw, ok, err := ls.Get(ctx, key)
	if err != nil {
		c.localErr("read", 1, err, key)
		return Item{}, false
	}
	if !ok {
		return Item{}, false
	}
	return c.decodeLocal(ctx, ls, key, raw)
}

func (c *Coordinator) decodeLocal(ctx context.Context, ls local.Store, key string, raw []byte) (Item, bool) {
	flags, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		_ = ls.Delete(ctx, key) // self-heal
		c.hooks.LocalSelfHeal(key)
		return Item{}, false
	}
	return Item{Key: key, Value: append([]byte(nil), payload...), Flags: flags}, true
}

// populate stores it under key, the key that was asked for.
func (c *Coordinator) populate(ctx context.Context, ls local.Store, key string, it Item) {
	err := ls.Set(ctx, key, wire.EncodeEntry(it.Flags, it.Value))
	c.populateErr(err, 1, key)
}

func (c *Coordinator) populateErr(err error, n int, key string) {
	switch {
	case err == nil:
	case errors.Is(err, local.ErrRejected):
		c.log.Debug("local store rejected populate (pressure)", Fields{"key": key, "keys": n})
	default:
		c.localErr("populate", n, err, key)
	}
}

// Add stores it only if the key is absent remotely. The local entry is
// removed first whatever the outcome.
func (c *Coordinator) Add(ctx context.Context, it Item) (bool, error) {
	c.invalidate(ctx, it.Key)
	cl, err := c.Connect(ctx)
	if err != nil {
		return false, err
	}
	ok, err := cl.Add(ctx, it)
	return ok, c.remoteErr("add", err)
}

func (c *Coordinator) Set(ctx context.Context, it Item) error {
	c.invalidate(ctx, it.Key)
	cl, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	return c.remoteErr("set", cl.Set(ctx, it))
}

// Get serves key from the local store when possible. A read-through
// callback, a CAS request or get flags force a remote read. Remote hits are
// copied into the local store; a forced read that misses drops the local copy.
func (c *Coordinator) Get(ctx context.Context, key string, opts ...GetOption) (Item, bool, error) {
	o := buildGetOptions(opts)
	forced := o.ReadThrough != nil || o.WithCAS || o.Flags != 0

	ls := c.localTier(ctx)
	if ls != nil && !forced {
		if it, ok := c.readLocal(ctx, ls, key); ok {
			c.hooks.LocalLookup("get", 1, 0)
			return it, true, nil
		}
		c.hooks.LocalLookup("get", 0, 1)
	}

	cl, err := c.Connect(ctx)
	if err != nil {
		return Item{}, false, err
	}
	it, ok, err := cl.Get(ctx, key, o)
	if err != nil {
		return Item{}, false, c.remoteErr("get", err)
	}
	if ok {
		it.Key = key
	}
	if ls != nil {
		switch {
		case ok:
			c.populate(ctx, ls, key, it)
		case forced:
			c.invalidate(ctx, key)
		}
	}
	return it, ok, nil
}

func (c *Coordinator) Delete(ctx context.Context, key string, hold time.Duration) (bool, error) {
	c.invalidate(ctx, key)
	cl, err := c.Connect(ctx)
	if err != nil {
		return false, err
	}
	ok, err := cl.Delete(ctx, key, hold)
	return ok, c.remoteErr("delete", err)
}

// Increment adds offset to a numeric value. initial and expiry only apply
// when the remote client speaks the binary protocol; otherwise a missing key
// fails with remote.ErrCacheMiss.
func (c *Coordinator) Increment(ctx context.Context, key string, offset, initial uint64, expiry time.Duration) (uint64, error) {
	return c.counter(ctx, key, offset, initial, expiry, true)
}

// Decrement is Increment's counterpart; values stop at zero.
func (c *Coordinator) Decrement(ctx context.Context, key string, offset, initial uint64, expiry time.Duration) (uint64, error) {
	return c.counter(ctx, key, offset, initial, expiry, false)
}

func (c *Coordinator) counter(ctx context.Context, key string, offset, initial uint64, expiry time.Duration, incr bool) (uint64, error) {
	c.invalidate(ctx, key)
	cl, err := c.Connect(ctx)
	if err != nil {
		return 0, err
	}

	var (
		n  uint64
		op = "decrement"
	)
	if incr {
		op = "increment"
	}
	switch bin := cl.BinaryProtocol(); {
	case bin && incr:
		n, err = cl.IncrementWithInitial(ctx, key, offset, initial, expiry)
	case bin:
		n, err = cl.DecrementWithInitial(ctx, key, offset, initial, expiry)
	case incr:
		n, err = cl.Increment(ctx, key, offset)
	default:
		n, err = cl.Decrement(ctx, key, offset)
	}
	return n, c.remoteErr(op, err)
}

// CompareAndSwap goes straight to the remote client. CAS flows always read
// with WithCAS, which never trusts the local store.
func (c *Coordinator) CompareAndSwap(ctx context.Context, it Item) (bool, error) {
	cl, err := c.Connect(ctx)
	if err != nil {
		return false, err
	}
	ok, err := cl.CompareAndSwap(ctx, it)
	return ok, c.remoteErr("cas", err)
}

// Touch changes only the remote expiry; the local copy stays valid.
func (c *Coordinator) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cl, err := c.Connect(ctx)
	if err != nil {
		return false, err
	}
	ok, err := cl.Touch(ctx, key, ttl)
	return ok, c.remoteErr("touch", err)
}

// Flush clears the remote tier and, only if that worked, the local one.
func (c *Coordinator) Flush(ctx context.Context, delay time.Duration) error {
	cl, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	if err := cl.Flush(ctx, delay); err != nil {
		return c.remoteErr("flush", err)
	}
	ls := c.localTier(ctx)
	if ls == nil {
		return nil
	}
	if err := ls.Clear(ctx); err != nil {
		c.localErr("clear", 0, err, "")
		return fmt.Errorf("memtier: flush: clear local store: %w", err)
	}
	return nil
}

// Quit releases the remote handle (the next call dials again) and clears the
// local store. If the remote quit fails nothing else happens.
func (c *Coordinator) Quit(ctx context.Context) error {
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()

	if cl != nil {
		if err := cl.Quit(ctx); err != nil {
			return c.remoteErr("quit", err)
		}
		c.mu.Lock()
		if c.client == cl {
			c.client, c.replay = nil, false
		}
		c.mu.Unlock()
		c.log.Info("remote handle released", nil)
	}

	ls := c.localTier(ctx)
	if ls == nil {
		return nil
	}
	if err := ls.Clear(ctx); err != nil {
		c.localErr("clear", 0, err, "")
		return &QuitError{LocalErr: err}
	}
	return nil
}

// Close quits the remote handle if one exists and closes the local store.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	cl := c.client
	c.client, c.replay = nil, false
	c.mu.Unlock()

	c.lmu.Lock()
	ls := c.local
	c.local = nil
	c.lmu.Unlock()

	var qe QuitError
	if cl != nil {
		qe.QuitErr = cl.Quit(ctx)
	}
	if ls != nil {
		qe.LocalErr = ls.Close(ctx)
	}
	if qe.QuitErr != nil || qe.LocalErr != nil {
		return &qe
	}
	return nil
}

func (c *Coordinator) Stats(ctx context.Context) (map[string]map[string]string, error) {
	cl, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	st, err := cl.Stats(ctx)
	return st, c.remoteErr("stats", err)
}

func (c *Coordinator) AllKeys(ctx context.Context) ([]string, error) {
	cl, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := cl.AllKeys(ctx)
	return keys, c.remoteErr("all_keys", err)
}

// ResultCode reports the remote client's last outcome; SUCCESS when no
// handle exists yet.
func (c *Coordinator) ResultCode() remote.ResultCode {
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	if cl == nil {
		return remote.ResSuccess
	}
	return cl.ResultCode()
}

func (c *Coordinator) ResultMessage() string {
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	if cl == nil {
		return remote.ResSuccess.String()
	}
	return cl.ResultMessage()
}
