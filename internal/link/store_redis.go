package link

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/imaxisXD/ndle-worker/internal/errx"
)

// RedisStore implements Store on top of a go-redis universal client.
type RedisStore struct {
	rdb goredis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisStore(rdb goredis.UniversalClient) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("link: nil redis client")
	}
	return &RedisStore{rdb: rdb}, nil
}

// GetRecord fetches and decodes the record for slug. A missing key is not an
// error; a present but undecodable payload is.
func (s *RedisStore) GetRecord(ctx context.Context, slug string) (*Record, error) {
	const op = "link.RedisStore.GetRecord"

	b, err := s.rdb.Get(ctx, RecordKey(slug)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}

	rec, err := DecodeRecord(b)
	if err != nil {
		return nil, errx.E(op, errx.Internal, err)
	}
	return rec, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "link.RedisStore.Set"

	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

// MarkSession sets the session marker with SETNX semantics so exactly one
// concurrent observer wins the "first click" for a session/slug pair.
func (s *RedisStore) MarkSession(ctx context.Context, sessionID, slug string) (bool, error) {
	const op = "link.RedisStore.MarkSession"

	first, err := s.rdb.SetNX(ctx, SessionKey(sessionID, slug), "1", SessionMarkerTTL).Result()
	if err != nil {
		return false, errx.E(op, errx.Unavailable, err)
	}
	return first, nil
}
