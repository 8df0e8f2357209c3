package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/BaSui01/claudegate/internal/cache"
)

const snapshotKey = "catalog:models"

// RedisStore keeps snapshots in Redis through the cache manager so every
// instance serves the same list.
type RedisStore struct {
	cache *cache.Manager
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(m *cache.Manager) *RedisStore {
	return &RedisStore{cache: m}
}

// Load returns the stored snapshot, or nil when none is stored. A snapshot
// that does not decode or holds no models is deleted and reported as absent.
func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	err := s.cache.GetJSON(ctx, snapshotKey, &snap)
	switch {
	case err == nil && len(snap.Models) > 0:
		return &snap, nil
	case cache.IsCacheMiss(err):
		return nil, nil
	case err != nil && !isDecodeError(err):
		return nil, err
	}
	if err := s.cache.Delete(ctx, snapshotKey); err != nil {
		return nil, err
	}
	return nil, nil
}

func isDecodeError(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syntax) || errors.As(err, &typ)
}

// Save stores snap. A negative ttl keeps it until overwritten.
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot, ttl time.Duration) error {
	return s.cache.SetJSON(ctx, snapshotKey, snap, ttl)
}
