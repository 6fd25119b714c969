package run

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/ragflow/internal/db"
	"github.com/kailas-cloud/ragflow/internal/domain"
	domrun "github.com/kailas-cloud/ragflow/internal/domain/run"
)

// store is the consumer interface for the Redis run store (ISP).
type store interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore keeps runs as JSON strings with a TTL.
type RedisStore struct {
	store store
	ttl   time.Duration
}

// NewRedis creates a Redis-backed run store. Runs and cancel flags expire
// after ttl; chunk counts never expire.
func NewRedis(s store, ttl time.Duration) *RedisStore {
	return &RedisStore{store: s, ttl: ttl}
}

// Save writes the whole run record, replacing any previous version.
func (s *RedisStore) Save(ctx context.Context, r *domrun.Run) error {
	data, err := encodeRun(r)
	if err != nil {
		return err
	}
	if err := s.store.SetWithTTL(ctx, runKey(r.ID), data, s.ttl); err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// Get loads a run. Unknown or expired ids return domain.ErrRunNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (*domrun.Run, error) {
	data, err := s.store.Get(ctx, runKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("run %s: %w", id, domain.ErrRunNotFound)
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return decodeRun(id, data)
}

// RequestCancel raises the cancel flag. The flag lives under its own key so
// a worker saving the run record cannot overwrite it.
func (s *RedisStore) RequestCancel(ctx context.Context, id string) error {
	if err := s.store.SetWithTTL(ctx, cancelKey(id), []byte("1"), s.ttl); err != nil {
		return fmt.Errorf("request cancel %s: %w", id, err)
	}
	return nil
}

// CancelRequested reports whether the cancel flag is raised.
func (s *RedisStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	if _, err := s.store.Get(ctx, cancelKey(id)); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check cancel %s: %w", id, err)
	}
	return true, nil
}

// ChunkCount returns the chunk count of the last ingestion of sourceID.
func (s *RedisStore) ChunkCount(ctx context.Context, sourceID string) (int, bool, error) {
	data, err := s.store.Get(ctx, chunkCountKey(sourceID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get chunk count %s: %w", sourceID, err)
	}
	n, err := decodeCount(sourceID, data)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// SetChunkCount records the chunk count of the latest ingestion of sourceID.
func (s *RedisStore) SetChunkCount(ctx context.Context, sourceID string, n int) error {
	if err := s.store.Set(ctx, chunkCountKey(sourceID), []byte(strconv.Itoa(n))); err != nil {
		return fmt.Errorf("set chunk count %s: %w", sourceID, err)
	}
	return nil
}

// Ping checks backend connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("run store ping: %w", err)
	}
	return nil
}
