// Package cache holds the edge response cache: resolved redirects keyed by
// the normalized request key. Entries store the canonical, pre-variant
// destination so variant selection never fragments the cache, plus the
// record snapshot the hit path needs to re-derive a variant and enrich
// telemetry without another store round-trip.
package cache

import (
	"context"

	"github.com/imaxisXD/ndle-worker/internal/link"
)

// Entry is one cached redirect.
type Entry struct {
	// Location is the canonical destination with UTM parameters already
	// merged in. Variant substitution is applied per-request, never cached.
	Location string       `json:"location"`
	Status   int          `json:"status"`
	Record   *link.Record `json:"record,omitempty"`
}

// Cache is the edge response cache collaborator. Match returns (nil, nil)
// on a miss. Put failures are logged by callers and never affect responses.
type Cache interface {
	Match(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, entry *Entry) error
}
