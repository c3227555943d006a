package link

import (
	"context"
	"time"
)

// Key layout in the backing store.
const (
	recordKeyPrefix  = "link:"
	sessionKeyPrefix = "session:"
)

// SessionMarkerTTL bounds how long a session/slug pair counts as "seen".
const SessionMarkerTTL = 1800 * time.Second

// Store is the backing key-value store collaborator. GetRecord returns
// (nil, nil) when the slug has no record. MarkSession atomically sets the
// first-click marker and reports whether this caller was the first observer
// within the TTL window, so callers never need a separate existence check.
type Store interface {
	GetRecord(ctx context.Context, slug string) (*Record, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	MarkSession(ctx context.Context, sessionID, slug string) (first bool, err error)
}

// RecordKey returns the store key holding the record for slug.
func RecordKey(slug string) string { return recordKeyPrefix + slug }

// SessionKey returns the first-click marker key for a session/slug pair.
func SessionKey(sessionID, slug string) string {
	return sessionKeyPrefix + sessionID + ":" + slug
}
