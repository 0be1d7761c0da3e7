package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	redisv9 "github.com/redis/go-redis/v9"
)

// SchemaVersion is written into every blob envelope.
const SchemaVersion = 1

var (
	ErrUnsupportedVersion = errors.New("stored blob has unsupported schema version")
	// ErrConflict means a concurrent writer changed the key during Update.
	ErrConflict = errors.New("stored blob changed concurrently")
)

// KVStore is the key-value blob collaborator behind the persisted lists.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Update runs fn over the current value and writes its result back.
	// fn receives nil when the key is absent.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
}

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal blob failed: %w", err)
	}
	return json.Marshal(envelope{Version: SchemaVersion, Data: data})
}

func decode(raw []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unmarshal blob envelope failed: %w", err)
	}
	if env.Version != SchemaVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("unmarshal blob data failed: %w", err)
	}
	return nil
}

// RedisKV keeps blobs as plain Redis strings under a key prefix.
type RedisKV struct {
	client *redisv9.Client
	prefix string
}

func NewRedisKV(client *redisv9.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s failed: %w", key, err)
	}
	return raw, true, nil
}

func (s *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s failed: %w", key, err)
	}
	return nil
}

func (s *RedisKV) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete %s failed: %w", key, err)
	}
	return nil
}

// Update uses WATCH/MULTI so a concurrent append is not silently lost.
func (s *RedisKV) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	fullKey := s.prefix + key
	txf := func(tx *redisv9.Tx) error {
		current, err := tx.Get(ctx, fullKey).Bytes()
		if err != nil && err != redisv9.Nil {
			return fmt.Errorf("redis get %s failed: %w", key, err)
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
			pipe.Set(ctx, fullKey, next, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txf, fullKey)
		if err == redisv9.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis update %s failed: %w", key, err)
		}
		return nil
	}
	return ErrConflict
}

// MemoryKV keeps blobs in process memory. Used without Redis and in tests.
type MemoryKV struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{cache: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (s *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (s *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	s.cache.Set(key, append([]byte(nil), value...), cache.NoExpiration)
	return nil
}

func (s *MemoryKV) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *MemoryKV) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _, _ := s.Get(ctx, key)
	next, err := fn(current)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, next)
}
