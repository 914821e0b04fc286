package remote

import (
	"context"
	"fmt"
	"strconv"
)

// LoadThrough runs fn for a key that missed and stores what it produced.
// The stored item carries no CAS token.
func LoadThrough(ctx context.Context, set func(context.Context, Item) error, key string, fn ReadThroughFunc) (Item, bool, error) {
	it, ok, err := fn(ctx, key)
	if err != nil {
		return Item{}, false, fmt.Errorf("remote: read-through %q: %w", key, err)
	}
	if !ok {
		return Item{}, false, nil
	}
	it.Key = key
	it.CAS = CASToken{}
	if err := set(ctx, it); err != nil {
		return Item{}, false, err
	}
	return it, true, nil
}

// ParseCounter parses a stored counter value (decimal ASCII).
func ParseCounter(b []byte) (uint64, error) {
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, ErrNotNumeric
	}
	return n, nil
}

// ApplyDelta moves n by delta with memcached semantics: increments wrap at
// 2^64, decrements stop at zero.
func ApplyDelta(n, delta uint64, incr bool) uint64 {
	if incr {
		return n + delta
	}
	if delta > n {
		return 0
	}
	return n - delta
}
