package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cardiogenie:"

// redisRepo keeps one JSON document per session plus a sorted set of
// session ids scored by update time.
type redisRepo struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRepository stores snapshots in redis. ttl 0 keeps them forever.
func NewRedisRepository(client *redis.Client, prefix string, ttl time.Duration) Repository {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisRepo{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisRepo) sessionKey(id string) string { return r.prefix + "session:" + id }
func (r *redisRepo) indexKey() string            { return r.prefix + "sessions" }

func (r *redisRepo) Save(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(s.ID), data, r.ttl)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(s.UpdatedAt.UnixMilli()), Member: s.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func (r *redisRepo) Load(ctx context.Context, id string) (Snapshot, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("get session: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return s, nil
}

func (r *redisRepo) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}

	out := make([]Snapshot, 0, len(values))
	var expired []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var s Snapshot
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", ids[i], err)
		}
		out = append(out, s)
	}
	// Drop index entries whose documents have expired.
	if len(expired) > 0 {
		_ = r.client.ZRem(ctx, r.indexKey(), expired...).Err()
	}
	return out, nil
}
