package cache

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"
)

const (
	defaultNumCounters = 1 << 16
	defaultMaxEntries  = 1 << 13
	defaultBufferItems = 64
	defaultTTL         = time.Hour
)

// Ristretto is an in-process Cache backed by a ristretto admission cache.
// Each entry costs 1 so MaxEntries bounds the entry count directly.
type Ristretto struct {
	c   *rc.Cache
	ttl time.Duration
}

var _ Cache = (*Ristretto)(nil)

// RistrettoConfig tunes the in-process cache. Zero values select defaults.
type RistrettoConfig struct {
	MaxEntries int64
	TTL        time.Duration
}

// NewRistretto builds the in-process edge cache.
func NewRistretto(cfg RistrettoConfig) (*Ristretto, error) {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	c, err := rc.NewCache(&rc.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     maxEntries,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto{c: c, ttl: ttl}, nil
}

func (r *Ristretto) Match(_ context.Context, key string) (*Entry, error) {
	v, ok := r.c.Get(key)
	if !ok {
		return nil, nil
	}
	entry, ok := v.(*Entry)
	if !ok {
		// Unexpected entry shape: drop it and treat as a miss.
		r.c.Del(key)
		return nil, nil
	}
	return entry, nil
}

func (r *Ristretto) Put(_ context.Context, key string, entry *Entry) error {
	if entry == nil {
		return errors.New("cache: nil entry")
	}
	r.c.SetWithTTL(key, entry, 1, r.ttl)
	return nil
}

// Wait flushes ristretto's internal set buffers. Tests use it to make Put
// synchronously visible.
func (r *Ristretto) Wait() { r.c.Wait() }

// Close releases the underlying cache.
func (r *Ristretto) Close() { r.c.Close() }
