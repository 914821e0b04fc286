// Package local defines the process-local tier used by memtier.
//
// A Store never holds anything the remote tier does not also hold: memtier
// writes to it only after a remote read, and clears entries before every remote
// mutation. Implementations must be byte-for-byte transparent: Get returns
// exactly the bytes passed to Set. Eviction is the implementation's business.
package local

import (
	"context"
	"errors"
)

// ErrRejected is returned by Set when an admission policy dropped the write.
var ErrRejected = errors.New("local: write rejected")

// Store is an in-process key-value cache. Safe for concurrent use.
type Store interface {
	Has(ctx context.Context, key string) (bool, error)
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete succeeds for missing keys.
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error

	// GetMultiple returns hits only.
	GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMultiple(ctx context.Context, values map[string][]byte) error
	DeleteMultiple(ctx context.Context, keys []string) error

	Close(ctx context.Context) error
}
