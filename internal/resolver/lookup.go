package resolver

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/imaxisXD/ndle-worker/internal/link"
)

// Coalescer deduplicates concurrent backend fetches for the same slug.
// Within one process at most one store fetch per slug is in flight; every
// concurrent caller for that slug shares its result. The in-flight entry is
// removed when the fetch settles, success or failure, so errors are never
// cached and the next request may retry.
type Coalescer struct {
	store link.Store
	group singleflight.Group
}

func NewCoalescer(store link.Store) *Coalescer {
	return &Coalescer{store: store}
}

// Fetch returns the record for slug, or nil when the store has none. leader
// reports whether this caller issued the store fetch (followers joined an
// in-flight one and must skip the cache write that follows).
func (c *Coalescer) Fetch(ctx context.Context, slug string) (rec *link.Record, leader bool, err error) {
	v, err, _ := c.group.Do(slug, func() (any, error) {
		// Runs on the first caller's goroutine only.
		leader = true
		return c.store.GetRecord(ctx, slug)
	})
	if err != nil {
		return nil, leader, err
	}
	rec, _ = v.(*link.Record)
	return rec, leader, nil
}
