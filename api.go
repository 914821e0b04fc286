package memtier

import (
	"context"

	"github.com/unkn0wn-root/memtier/local"
	"github.com/unkn0wn-root/memtier/remote"
)

type (
	Item     = remote.Item
	Server   = remote.Server
	CASToken = remote.CASToken
	Option   = remote.Option
)

// DialFunc builds a fresh remote handle. It is called on first use and again
// after Quit.
type DialFunc func(ctx context.Context) (remote.Client, error)

// Options configure a Coordinator. Client or Dial is required; the rest has
// defaults.
type Options struct {
	Client remote.Client // initial remote handle; optional when Dial is set
	Dial   DialFunc      // nil => the coordinator cannot reconnect after Quit

	Local    local.Store                 // nil => built by NewLocal on first use
	NewLocal func() (local.Store, error) // nil => ristretto with DefaultConfig

	// Seeds for the registries. Replayed into every newly created handle.
	Servers       []remote.Server
	RemoteOptions map[remote.Option]any

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
}

// New validates opts and returns a Coordinator. Nothing is dialed until the
// first operation (or an explicit Connect).
func New(opts Options) (*Coordinator, error) {
	return newCoordinator(opts)
}

// GetOption modifies a single- or multi-key read.
type GetOption func(*remote.GetOptions)

// WithReadThrough passes fn to the remote client, which calls it on a miss.
// The local tier is bypassed so fn runs even when a local copy exists.
func WithReadThrough(fn remote.ReadThroughFunc) GetOption {
	return func(o *remote.GetOptions) { o.ReadThrough = fn }
}

// WithCAS requests CAS tokens. Reads that ask for one always go remote.
func WithCAS() GetOption {
	return func(o *remote.GetOptions) { o.WithCAS = true }
}

// WithFlags sets remote get flags. Any non-zero flags bypass the local tier.
func WithFlags(f remote.GetFlags) GetOption {
	return func(o *remote.GetOptions) { o.Flags = f }
}

func buildGetOptions(opts []GetOption) remote.GetOptions {
	var o remote.GetOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
