package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each quote as a JSON value under devis:{project}:{id}.
// A sorted set per project indexes ids by creation time and a hash maps
// source content hashes to ids.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL. A positive ttl expires quotes that
// are not written again within it.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "devis:", ttl: max(ttl, 0)}
}

func (s *RedisStore) recordKey(projectID, id string) string {
	return s.prefix + projectID + ":" + id
}

func (s *RedisStore) indexKey(projectID string) string {
	return s.prefix + projectID + ":_ids"
}

func (s *RedisStore) hashKey(projectID string) string {
	return s.prefix + projectID + ":_hashes"
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal devis: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(rec.ProjectID, rec.ID), data, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(rec.ProjectID), redis.Z{
			Score:  float64(rec.CreatedAt.UnixMilli()),
			Member: rec.ID,
		})
		if rec.ContentHash != "" {
			pipe.HSet(ctx, s.hashKey(rec.ProjectID), rec.ContentHash, rec.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save devis %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, projectID, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(projectID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load devis %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal devis %s: %w", id, err)
	}
	return &rec, nil
}

// List returns the project's quotes newest first. Ids whose record expired
// are dropped from the index on the way.
func (s *RedisStore) List(ctx context.Context, projectID string) ([]Summary, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(projectID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list devis: %w", err)
	}
	out := make([]Summary, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(projectID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list devis: %w", err)
	}
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal devis %s: %w", ids[i], err)
		}
		out = append(out, rec.Summary())
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, s.indexKey(projectID), stale...)
	}
	sortSummaries(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, projectID, id string) error {
	rec, err := s.Get(ctx, projectID, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(projectID, id))
		pipe.ZRem(ctx, s.indexKey(projectID), id)
		if rec.ContentHash != "" {
			pipe.HDel(ctx, s.hashKey(projectID), rec.ContentHash)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete devis %s: %w", id, err)
	}
	return nil
}

// FindByHash ignores index entries whose record has expired.
func (s *RedisStore) FindByHash(ctx context.Context, projectID, hash string) (string, bool, error) {
	if hash == "" {
		return "", false, nil
	}
	id, err := s.client.HGet(ctx, s.hashKey(projectID), hash).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup content hash: %w", err)
	}
	n, err := s.client.Exists(ctx, s.recordKey(projectID, id)).Result()
	if err != nil {
		return "", false, fmt.Errorf("lookup content hash: %w", err)
	}
	if n == 0 {
		s.client.HDel(ctx, s.hashKey(projectID), hash)
		return "", false, nil
	}
	return id, true, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
