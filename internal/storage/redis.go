package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/interview-engine/internal/models"
)

const (
	liveKeyPrefix = "interview:live:"
	liveIndexKey  = "interview:live"

	// DefaultLiveTTL bounds how long a snapshot survives a crashed process
	DefaultLiveTTL = 24 * time.Hour
)

// LiveStore keeps JSON snapshots of in-progress interviews in Redis so any
// replica can answer "what is running right now".
type LiveStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLiveStore creates a live store. ttl <= 0 uses DefaultLiveTTL.
func NewLiveStore(client *redis.Client, ttl time.Duration) *LiveStore {
	if ttl <= 0 {
		ttl = DefaultLiveTTL
	}
	return &LiveStore{client: client, ttl: ttl}
}

func liveKey(id string) string {
	return liveKeyPrefix + id
}

// Put stores or replaces a snapshot and refreshes its TTL
func (s *LiveStore) Put(ctx context.Context, live *models.LiveInterview) error {
	if live == nil || live.ID == "" {
		return fmt.Errorf("live interview id is required")
	}

	data, err := json.Marshal(live)
	if err != nil {
		return fmt.Errorf("failed to marshal live interview: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, liveKey(live.ID), data, s.ttl)
	pipe.SAdd(ctx, liveIndexKey, live.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store live interview: %w", err)
	}

	return nil
}

// Get returns a snapshot, or nil, nil when it is absent or expired
func (s *LiveStore) Get(ctx context.Context, id string) (*models.LiveInterview, error) {
	data, err := s.client.Get(ctx, liveKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get live interview: %w", err)
	}

	var live models.LiveInterview
	if err := json.Unmarshal(data, &live); err != nil {
		return nil, fmt.Errorf("failed to unmarshal live interview: %w", err)
	}
	return &live, nil
}

// Delete removes a snapshot. Deleting a missing id is not an error.
func (s *LiveStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, liveKey(id))
	pipe.SRem(ctx, liveIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete live interview: %w", err)
	}
	return nil
}

// List returns all live snapshots, oldest first. Index entries whose
// snapshot expired are pruned.
func (s *LiveStore) List(ctx context.Context) ([]*models.LiveInterview, error) {
	ids, err := s.client.SMembers(ctx, liveIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list live interviews: %w", err)
	}

	result := make([]*models.LiveInterview, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = liveKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load live interviews: %w", err)
	}

	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var live models.LiveInterview
		if err := json.Unmarshal([]byte(raw), &live); err != nil {
			return nil, fmt.Errorf("failed to unmarshal live interview %s: %w", ids[i], err)
		}
		result = append(result, &live)
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, liveIndexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune live index: %w", err)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// Ping checks Redis connectivity
func (s *LiveStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
