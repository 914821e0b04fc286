// Package remote defines the distributed-cache client consumed by memtier.
//
// A Client is the authoritative tier: every write memtier performs lands here,
// and every value memtier keeps locally was read from here first. Adapters in
// subpackages (memory, memcache, redis) implement it; oteltrace decorates any of
// them.
package remote

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Item is the unit stored in and returned by a Client.
type Item struct {
	Key   string
	Value []byte
	// Flags are opaque client flags stored next to the value.
	Flags uint32
	// Expiration is relative to the write; <= 0 means no expiry.
	Expiration time.Duration
	// CAS is set on reads that asked for it, and required by CompareAndSwap.
	CAS CASToken
}

// CASToken is an opaque version marker. Its zero value means "no token".
type CASToken struct{ v any }

// NewCASToken wraps an adapter-specific version marker.
func NewCASToken(v any) CASToken { return CASToken{v: v} }

func (t CASToken) Value() any   { return t.v }
func (t CASToken) IsZero() bool { return t.v == nil }

func (t CASToken) String() string {
	if t.v == nil {
		return "<none>"
	}
	return fmt.Sprint(t.v)
}

// Server identifies one remote node. Two servers are the same only when all
// three fields are equal.
type Server struct {
	Host   string
	Port   int
	Weight int
}

// Normalize clamps the weight to zero or more.
func (s Server) Normalize() Server {
	if s.Weight < 0 {
		s.Weight = 0
	}
	return s
}

// Addr returns host:port.
func (s Server) Addr() string { return s.Host + ":" + strconv.Itoa(s.Port) }

func (s Server) String() string { return s.Addr() + "/" + strconv.Itoa(s.Weight) }

// ReadThroughFunc is invoked by a Client when Get misses. Returning ok=true
// stores the item remotely and returns it to the caller.
type ReadThroughFunc func(ctx context.Context, key string) (it Item, ok bool, err error)

// GetFlags tune reads. Values follow memcached's get flags; preserve-order
// (1) is not defined since multi-key results are maps.
type GetFlags uint32

// GetExtended asks for CAS tokens and flags on every returned item.
const GetExtended GetFlags = 2

// GetOptions modify a read. Zero value is a plain read.
type GetOptions struct {
	ReadThrough ReadThroughFunc
	WithCAS     bool
	Flags       GetFlags
}

// Option names a client setting applied by SetOptions.
type Option string

const (
	OptBinaryProtocol Option = "binary_protocol" // bool
	OptPrefixKey      Option = "prefix_key"      // string
	OptTimeout        Option = "timeout"         // time.Duration
	OptMaxIdleConns   Option = "max_idle_conns"  // int
)

// Client is the remote (authoritative) tier.
type Client interface {
	Get(ctx context.Context, key string, opts GetOptions) (Item, bool, error)
	GetMulti(ctx context.Context, keys []string, opts GetOptions) (map[string]Item, error)

	Set(ctx context.Context, it Item) error
	SetMulti(ctx context.Context, items []Item) error
	// Add stores it only if the key does not exist; false means it did.
	Add(ctx context.Context, it Item) (bool, error)
	// CompareAndSwap stores it only if it.CAS still matches; false means
	// the key changed or vanished.
	CompareAndSwap(ctx context.Context, it Item) (bool, error)
	Touch(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Delete(ctx context.Context, key string, hold time.Duration) (bool, error)
	DeleteMulti(ctx context.Context, keys []string, hold time.Duration) (map[string]bool, error)

	// Increment and Decrement fail with ErrCacheMiss on a missing key.
	Increment(ctx context.Context, key string, delta uint64) (uint64, error)
	Decrement(ctx context.Context, key string, delta uint64) (uint64, error)
	// The WithInitial forms create a missing key at initial (binary protocol).
	IncrementWithInitial(ctx context.Context, key string, delta, initial uint64, expiry time.Duration) (uint64, error)
	DecrementWithInitial(ctx context.Context, key string, delta, initial uint64, expiry time.Duration) (uint64, error)

	Flush(ctx context.Context, delay time.Duration) error

	AddServers(ctx context.Context, servers []Server) error
	SetOptions(ctx context.Context, opts map[Option]any) error
	ResetServerList(ctx context.Context) error
	Quit(ctx context.Context) error

	Stats(ctx context.Context) (map[string]map[string]string, error)
	AllKeys(ctx context.Context) ([]string, error)

	ResultCode() ResultCode
	ResultMessage() string
	BinaryProtocol() bool
}
