package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/hitlflow/internal/tlsutil"
)

// RedisStateStore is a Redis-based implementation of StateStore.
// Suitable for distributed deployments: thread writes are compare-and-set
// under WATCH/MULTI, so processes sharing the same Redis cannot interleave.
type RedisStateStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateStore creates a new Redis-based state store
func NewRedisStateStore(config StoreConfig) (*RedisStateStore, error) {
	opts := &redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	}
	if config.Redis.TLS {
		opts.TLSConfig = tlsutil.ClientConfig(config.Redis.Addr)
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStateStoreWithClient(client, config.KeyPrefix), nil
}

// NewRedisStateStoreWithClient wraps an existing client.
func NewRedisStateStoreWithClient(client *redis.Client, keyPrefix string) *RedisStateStore {
	if keyPrefix == "" {
		keyPrefix = "hitlflow:"
	}
	return &RedisStateStore{client: client, keyPrefix: keyPrefix}
}

// Close closes the store
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// threadKey returns the Redis key for a thread snapshot
func (s *RedisStateStore) threadKey(threadID string) string {
	return s.keyPrefix + "thread:" + threadID
}

// indexKey returns the sorted set of thread ids scored by update time
func (s *RedisStateStore) indexKey() string {
	return s.keyPrefix + "threads"
}

// prefKey returns the Redis key for a preference namespace
func (s *RedisStateStore) prefKey(namespace string) string {
	return s.keyPrefix + "pref:" + namespace
}

func (s *RedisStateStore) GetThread(ctx context.Context, threadID string) (*ThreadRecord, error) {
	data, err := s.client.Get(ctx, s.threadKey(threadID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	var rec ThreadRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thread: %w", err)
	}
	return &rec, nil
}

func (s *RedisStateStore) PutThread(ctx context.Context, rec *ThreadRecord, expectedVersion int64) (int64, error) {
	if err := validateRecord(rec, expectedVersion); err != nil {
		return 0, err
	}

	key := s.threadKey(rec.ThreadID)
	var newVersion int64

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		now := time.Now()
		next := rec.clone()
		next.CreatedAt = now

		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			if expectedVersion != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return err
		default:
			var current ThreadRecord
			if err := json.Unmarshal(data, &current); err != nil {
				return fmt.Errorf("failed to unmarshal thread: %w", err)
			}
			if current.Version != expectedVersion {
				return ErrVersionConflict
			}
			next.CreatedAt = current.CreatedAt
		}

		next.Version = expectedVersion + 1
		next.UpdatedAt = now
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal thread: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(now.UnixNano()), Member: rec.ThreadID})
			return nil
		})
		if err == nil {
			newVersion = next.Version
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

func (s *RedisStateStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]*ThreadRecord, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.threadKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load threads: %w", err)
	}

	var out []*ThreadRecord
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // index entry without data
		}
		var rec ThreadRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, &rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStateStore) DeleteThread(ctx context.Context, threadID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.threadKey(threadID))
	pipe.ZRem(ctx, s.indexKey(), threadID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStateStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan threads: %w", err)
	}

	removed := 0
	for _, id := range ids {
		rec, err := s.GetThread(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return removed, err
		}
		if rec.Status != ThreadStatusCompleted {
			continue
		}
		if err := s.DeleteThread(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *RedisStateStore) GetMemory(ctx context.Context, namespace string) (string, bool, error) {
	content, err := s.client.Get(ctx, s.prefKey(namespace)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get memory: %w", err)
	}
	return content, true, nil
}

func (s *RedisStateStore) PutMemory(ctx context.Context, namespace, content string) error {
	if namespace == "" {
		return ErrInvalidInput
	}
	return s.client.Set(ctx, s.prefKey(namespace), content, 0).Err()
}

// UpdateMemory runs fn under WATCH and retries when another writer wins the race.
func (s *RedisStateStore) UpdateMemory(ctx context.Context, namespace string, fn MemoryUpdateFunc) (string, error) {
	if namespace == "" || fn == nil {
		return "", ErrInvalidInput
	}
	key := s.prefKey(namespace)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var result string
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Result()
			exists := true
			if err == redis.Nil {
				current, exists = "", false
			} else if err != nil {
				return err
			}

			next, err := fn(current, exists)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				return nil
			})
			if err == nil {
				result = next
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return "", err
		}
		return result, nil
	}
	return "", fmt.Errorf("update memory %s: %w", namespace, ErrVersionConflict)
}

// Ensure RedisStateStore implements StateStore.
var _ StateStore = (*RedisStateStore)(nil)
