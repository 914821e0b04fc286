package memtier

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/memtier/internal/wire"
	"github.com/unkn0wn-root/memtier/local"
	"github.com/unkn0wn-root/memtier/remote"
	"github.com/unkn0wn-root/memtier/remote/memory"
)

var errBoom = errors.New("boom")

// events is an ordered log shared by the fakes so tests can check which tier
// was touched first.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.log = append(e.log, s)
	e.mu.Unlock()
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.log)
}

func (e *events) reset() {
	e.mu.Lock()
	e.log = nil
	e.mu.Unlock()
}

func (e *events) index(s string) int { return slices.Index(e.all(), s) }

func (e *events) has(prefix string) bool {
	for _, s := range e.all() {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// spyRemote logs every call and can fail any of them by name.
type spyRemote struct {
	*memory.Client
	ev *events

	mu   sync.Mutex
	fail map[string]error
}

func newSpyRemote(ev *events) *spyRemote {
	return &spyRemote{Client: memory.New(memory.Config{}), ev: ev, fail: map[string]error{}}
}

func (s *spyRemote) failOn(op string, err error) {
	s.mu.Lock()
	s.fail[op] = err
	s.mu.Unlock()
}

func (s *spyRemote) op(name string, keys ...string) error {
	s.ev.add("remote." + name + ":" + strings.Join(keys, ","))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail[name]
}

func itemKeys(items []remote.Item) []string {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	return keys
}

func (s *spyRemote) Get(ctx context.Context, key string, o remote.GetOptions) (remote.Item, bool, error) {
	if err := s.op("get", key); err != nil {
		return remote.Item{}, false, err
	}
	return s.Client.Get(ctx, key, o)
}

func (s *spyRemote) GetMulti(ctx context.Context, keys []string, o remote.GetOptions) (map[string]remote.Item, error) {
	if err := s.op("get_multi", keys...); err != nil {
		return nil, err
	}
	return s.Client.GetMulti(ctx, keys, o)
}

func (s *spyRemote) Set(ctx context.Context, it remote.Item) error {
	if err := s.op("set", it.Key); err != nil {
		return err
	}
	return s.Client.Set(ctx, it)
}

func (s *spyRemote) SetMulti(ctx context.Context, items []remote.Item) error {
	if err := s.op("set_multi", itemKeys(items)...); err != nil {
		return err
	}
	return s.Client.SetMulti(ctx, items)
}

func (s *spyRemote) Add(ctx context.Context, it remote.Item) (bool, error) {
	if err := s.op("add", it.Key); err != nil {
		return false, err
	}
	return s.Client.Add(ctx, it)
}

func (s *spyRemote) CompareAndSwap(ctx context.Context, it remote.Item) (bool, error) {
	if err := s.op("cas", it.Key); err != nil {
		return false, err
	}
	return s.Client.CompareAndSwap(ctx, it)
}

func (s *spyRemote) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := s.op("touch", key); err != nil {
		return false, err
	}
	return s.Client.Touch(ctx, key, ttl)
}

func (s *spyRemote) Delete(ctx context.Context, key string, hold time.Duration) (bool, error) {
	if err := s.op("delete", key); err != nil {
		return false, err
	}
	return s.Client.Delete(ctx, key, hold)
}

func (s *spyRemote) DeleteMulti(ctx context.Context, keys []string, hold time.Duration) (map[string]bool, error) {
	if err := s.op("delete_multi", keys...); err != nil {
		return nil, err
	}
	return s.Client.DeleteMulti(ctx, keys, hold)
}

func (s *spyRemote) Increment(ctx context.Context, key string, d uint64) (uint64, error) {
	if err := s.op("increment", key); err != nil {
		return 0, err
	}
	return s.Client.Increment(ctx, key, d)
}

func (s *spyRemote) Decrement(ctx context.Context, key string, d uint64) (uint64, error) {
	if err := s.op("decrement", key); err != nil {
		return 0, err
	}
	return s.Client.Decrement(ctx, key, d)
}

func (s *spyRemote) IncrementWithInitial(ctx context.Context, key string, d, initial uint64, exp time.Duration) (uint64, error) {
	if err := s.op("increment_initial", key); err != nil {
		return 0, err
	}
	return s.Client.IncrementWithInitial(ctx, key, d, initial, exp)
}

func (s *spyRemote) DecrementWithInitial(ctx context.Context, key string, d, initial uint64, exp time.Duration) (uint64, error) {
	if err := s.op("decrement_initial", key); err != nil {
		return 0, err
	}
	return s.Client.DecrementWithInitial(ctx, key, d, initial, exp)
}

func (s *spyRemote) Flush(ctx context.Context, delay time.Duration) error {
	if err := s.op("flush"); err != nil {
		return err
	}
	return s.Client.Flush(ctx, delay)
}

func (s *spyRemote) AddServers(ctx context.Context, servers []remote.Server) error {
	addrs := make([]string, len(servers))
	for i, sv := range servers {
		addrs[i] = sv.String()
	}
	if err := s.op("add_servers", addrs...); err != nil {
		return err
	}
	return s.Client.AddServers(ctx, servers)
}

func (s *spyRemote) SetOptions(ctx context.Context, opts map[remote.Option]any) error {
	names := make([]string, 0, len(opts))
	for k := range opts {
		names = append(names, string(k))
	}
	sort.Strings(names)
	if err := s.op("set_options", names...); err != nil {
		return err
	}
	return s.Client.SetOptions(ctx, opts)
}

func (s *spyRemote) ResetServerList(ctx context.Context) error {
	if err := s.op("reset_server_list"); err != nil {
		return err
	}
	return s.Client.ResetServerList(ctx)
}

func (s *spyRemote) Quit(ctx context.Context) error {
	if err := s.op("quit"); err != nil {
		return err
	}
	return s.Client.Quit(ctx)
}

// fakeLocal is a map-backed local.Store with per-call failure injection.
type fakeLocal struct {
	ev *events

	mu     sync.Mutex
	m      map[string][]byte
	fail   map[string]error
	closed bool
}

var _ local.Store = (*fakeLocal)(nil)

func newFakeLocal(ev *events) *fakeLocal {
	return &fakeLocal{ev: ev, m: map[string][]byte{}, fail: map[string]error{}}
}

func (l *fakeLocal) failOn(op string, err error) {
	l.mu.Lock()
	l.fail[op] = err
	l.mu.Unlock()
}

func (l *fakeLocal) op(name string, keys ...string) error {
	l.ev.add("local." + name + ":" + strings.Join(keys, ","))
	return l.fail[name]
}

// raw puts bytes in place without framing.
func (l *fakeLocal) raw(key string, b []byte) {
	l.mu.Lock()
	l.m[key] = b
	l.mu.Unlock()
}

func (l *fakeLocal) put(key, value string, flags uint32) {
	l.raw(key, wire.EncodeEntry(flags, []byte(value)))
}

func (l *fakeLocal) holds(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.m[key]
	return ok
}

func (l *fakeLocal) Has(_ context.Context, key string) (bool, error) {
	return l.holds(key), nil
}

func (l *fakeLocal) Get(_ context.Context, key string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.op("get", key); err != nil {
		return nil, false, err
	}
	b, ok := l.m[key]
	return b, ok, nil
}

func (l *fakeLocal) Set(_ context.Context, key string, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.op("set", key); err != nil {
		return err
	}
	l.m[key] = slices.Clone(value)
	return nil
}

func (l *fakeLocal) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.op("delete", key); err != nil {
		return err
	}
	delete(l.m, key)
	return nil
}

func (l *fakeLocal) Clear(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.op("clear"); err != nil {
		return err
	}
	clear(l.m)
	return nil
}

func (l *fakeLocal) GetMultiple(_ context.Context, keys []string) (map[string][]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.op("get_multiple", keys...); err != nil {
		return nil, err
	}
	out := map[string][]byte{}
	for _, k := range keys {
		if b, ok := l.m[k]; ok {
			out[k] = b
		}
	}
	return out, nil
}

func (l *fakeLocal) SetMultiple(_ context.Context, values map[string][]byte) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.op("set_multiple", keys...); err != nil {
		return err
	}
	for k, v := range values {
		l.m[k] = slices.Clone(v)
	}
	return nil
}

func (l *fakeLocal) DeleteMultiple(_ context.Context, keys []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.op("delete_multiple", keys...); err != nil {
		return err
	}
	for _, k := range keys {
		delete(l.m, k)
	}
	return nil
}

func (l *fakeLocal) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.op("close"); err != nil {
		return err
	}
	l.closed = true
	return nil
}

type recHooks struct {
	mu         sync.Mutex
	hits       int
	misses     int
	selfHeals  []string
	localErrs  map[string]int
	remoteErrs map[string]int
	pushed     int
}

func newRecHooks() *recHooks {
	return &recHooks{localErrs: map[string]int{}, remoteErrs: map[string]int{}}
}

func (h *recHooks) LocalLookup(_ string, hits, misses int) {
	h.mu.Lock()
	h.hits += hits
	h.misses += misses
	h.mu.Unlock()
}

func (h *recHooks) LocalSelfHeal(key string) {
	h.mu.Lock()
	h.selfHeals = append(h.selfHeals, key)
	h.mu.Unlock()
}

func (h *recHooks) LocalError(stage string, _ int, _ error) {
	h.mu.Lock()
	h.localErrs[stage]++
	h.mu.Unlock()
}

func (h *recHooks) RemoteError(op string, _ error) {
	h.mu.Lock()
	h.remoteErrs[op]++
	h.mu.Unlock()
}

func (h *recHooks) ServersPushed(n int) {
	h.mu.Lock()
	h.pushed += n
	h.mu.Unlock()
}

// fixture wires a Coordinator to a fresh spyRemote per dial and a fakeLocal.
type fixture struct {
	c     *Coordinator
	ev    *events
	loc   *fakeLocal
	hooks *recHooks

	mu      sync.Mutex
	remotes []*spyRemote
	dialErr error
}

func newFixture(t *testing.T, mod ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{ev: &events{}, hooks: newRecHooks()}
	f.loc = newFakeLocal(f.ev)

	opts := Options{
		Dial:  f.dial,
		Local: f.loc,
		Hooks: f.hooks,
	}
	for _, m := range mod {
		m(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	f.c = c
	return f
}

func (f *fixture) dial(context.Context) (remote.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	r := newSpyRemote(f.ev)
	f.remotes = append(f.remotes, r)
	return r, nil
}

func (f *fixture) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.remotes)
}

// remote connects if needed and returns the live spy.
func (f *fixture) remote(t *testing.T) *spyRemote {
	t.Helper()
	cl, err := f.c.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return cl.(*spyRemote)
}
