package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis key namespaces, one key of each per file
const (
	redisEmbeddingsPrefix = "embeddings:"
	redisHashesPrefix     = "hashes:"
)

// RedisOptions configures a RedisStore
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces keys so several projects can share one server
	Prefix string
}

// RedisStore keeps embeddings:<path> and hashes:<path> as JSON strings
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore connects and pings the server
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	return NewRedisStoreWithClient(client, opts.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client. The store closes it on Close.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) embeddingsKey(filePath string) string {
	return s.prefix + redisEmbeddingsPrefix + filePath
}

func (s *RedisStore) hashesKey(filePath string) string {
	return s.prefix + redisHashesPrefix + filePath
}

func (s *RedisStore) Load(ctx context.Context, filePath string) (*Entry, bool, error) {
	var vecCmd, hashCmd *redis.StringCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		vecCmd = p.Get(ctx, s.embeddingsKey(filePath))
		hashCmd = p.Get(ctx, s.hashesKey(filePath))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("redis get %s: %w", filePath, err)
	}

	vecData, vErr := vecCmd.Bytes()
	hashData, hErr := hashCmd.Bytes()
	if errors.Is(vErr, redis.Nil) || errors.Is(hErr, redis.Nil) {
		return nil, false, nil
	}
	if err := errors.Join(vErr, hErr); err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", filePath, err)
	}

	entry := &Entry{}
	if err := json.Unmarshal(vecData, &entry.Vectors); err != nil {
		return nil, false, fmt.Errorf("decode cached vectors for %s: %w", filePath, err)
	}
	if err := json.Unmarshal(hashData, &entry.Hashes); err != nil {
		return nil, false, fmt.Errorf("decode cached hashes for %s: %w", filePath, err)
	}
	if entry.Validate() != nil {
		return nil, false, nil
	}

	return entry, true, nil
}

// Save writes both keys in one MULTI/EXEC
func (s *RedisStore) Save(ctx context.Context, filePath string, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	vecData, err := json.Marshal(entry.Vectors)
	if err != nil {
		return fmt.Errorf("encode vectors: %w", err)
	}
	hashData, err := json.Marshal(entry.Hashes)
	if err != nil {
		return fmt.Errorf("encode hashes: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.embeddingsKey(filePath), vecData, 0)
		p.Set(ctx, s.hashesKey(filePath), hashData, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", filePath, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, filePath string) error {
	if err := s.client.Del(ctx, s.embeddingsKey(filePath), s.hashesKey(filePath)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", filePath, err)
	}
	return nil
}

// Clear removes every key under this store's namespaces
func (s *RedisStore) Clear(ctx context.Context) error {
	for _, pattern := range []string{s.prefix + redisEmbeddingsPrefix + "*", s.prefix + redisHashesPrefix + "*"} {
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == 100 {
				if err := s.client.Del(ctx, batch...).Err(); err != nil {
					return fmt.Errorf("redis clear: %w", err)
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(batch) > 0 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis clear: %w", err)
			}
		}
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
