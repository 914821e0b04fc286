package memtier

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The coordinator calls them on hot paths.
type Hooks interface {
	// Outcome of consulting the local tier for a read.
	// op ∈ {"get", "get_multi"}
	LocalLookup(op string, hits, misses int)

	// A local entry failed to decode and was deleted on read.
	LocalSelfHeal(key string)

	// A local store call failed. keys is the number of keys involved.
	// stage ∈ {"init", "read", "invalidate", "populate", "clear"}
	LocalError(stage string, keys int, err error)

	// The remote client returned an error for op.
	RemoteError(op string, err error)

	// n new server descriptors were pushed to a live remote handle.
	ServersPushed(n int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) LocalLookup(string, int, int)  {}
func (NopHooks) LocalSelfHeal(string)          {}
func (NopHooks) LocalError(string, int, error) {}
func (NopHooks) RemoteError(string, error)     {}
func (NopHooks) ServersPushed(int)             {}
