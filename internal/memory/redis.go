package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records as JSON strings with one set per keyword.
//
//	<prefix>:mem:<id>   JSON record
//	<prefix>:kw:<word>  set of ids
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to addr and pings it.
func NewRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "drcodept"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) recordKey(id string) string  { return s.prefix + ":mem:" + id }
func (s *RedisStore) keywordKey(kw string) string { return s.prefix + ":kw:" + kw }

func (s *RedisStore) Add(ctx context.Context, rec Record) error {
	rec = prepare(rec)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.recordKey(rec.ID), data, 0)
		for _, kw := range rec.Keywords {
			p.SAdd(ctx, s.keywordKey(kw), rec.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store memory: %w", err)
	}
	return nil
}

func (s *RedisStore) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	kws := Keywords(query)
	if len(kws) == 0 {
		return nil, nil
	}
	keys := make([]string, len(kws))
	for i, k := range kws {
		keys[i] = s.keywordKey(k)
	}
	ids, err := s.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("union keywords: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	recKeys := make([]string, len(ids))
	for i, id := range ids {
		recKeys[i] = s.recordKey(id)
	}
	vals, err := s.client.MGet(ctx, recKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	recs := make([]Record, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("decode memory: %w", err)
		}
		recs = append(recs, r)
	}
	return rank(kws, recs, limit), nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
