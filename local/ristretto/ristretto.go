// Package ristretto is the default local.Store, backed by dgraph-io/ristretto.
package ristretto

import (
	"context"
	"errors"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/memtier/local"
)

type Store struct {
	c    *rc.Cache
	cost func(value []byte) int64
}

var _ local.Store = (*Store)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// Cost of one entry; nil => len(value).
	Cost func(value []byte) int64
}

// DefaultConfig sizes the cache for ~64MiB of values.
func DefaultConfig() Config {
	return Config{
		NumCounters: 1e6,
		MaxCost:     64 << 20,
		BufferItems: 64,
	}
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	cost := cfg.Cost
	if cost == nil {
		cost = func(v []byte) int64 { return int64(len(v)) + 1 }
	}
	return &Store{c: c, cost: cost}, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set waits for the write buffer so a following Get observes the value.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	ok := s.c.Set(key, value, s.cost(value))
	s.c.Wait()
	if !ok {
		return local.ErrRejected
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.c.Del(key)
	return nil
}

func (s *Store) Clear(context.Context) error {
	s.c.Clear()
	return nil
}

func (s *Store) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if b, ok, _ := s.Get(ctx, k); ok {
			out[k] = b
		}
	}
	return out, nil
}

func (s *Store) SetMultiple(_ context.Context, values map[string][]byte) error {
	rejected := 0
	for k, v := range values {
		if !s.c.Set(k, v, s.cost(v)) {
			rejected++
		}
	}
	s.c.Wait()
	if rejected > 0 {
		return local.ErrRejected
	}
	return nil
}

func (s *Store) DeleteMultiple(_ context.Context, keys []string) error {
	for _, k := range keys {
		s.c.Del(k)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes ristretto counters; nil unless Config.Metrics was set.
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }
