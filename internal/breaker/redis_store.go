package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists breaker state in Redis so every node of a multi-node
// deployment sees the same halt flag. Trip uses a WATCH/MULTI transaction to
// get check-and-set semantics: two racing cycles cannot both trip.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore connects to Redis and verifies connectivity before
// returning, so a misconfigured address fails at startup.
func NewRedisStore(addr, password string, db int, key string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	return &RedisStore{rdb: rdb, key: key}, nil
}

// Close shuts down the underlying client.
func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) Load(ctx context.Context) (State, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("breaker state in redis corrupt: %w", err)
	}
	return st, nil
}

func (s *RedisStore) Trip(ctx context.Context, next State) (bool, error) {
	tripped := false

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, s.key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var current State
			if jsonErr := json.Unmarshal(data, &current); jsonErr == nil && current.Halted {
				// Someone else already tripped; nothing to do
				return nil
			}
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, encoded, 0)
			return nil
		})
		if err == nil {
			tripped = true
		}
		return err
	}

	// Retry on WATCH conflicts a few times; a conflict means another node
	// is tripping concurrently, which resolves on re-read.
	for i := 0; i < 5; i++ {
		err := s.rdb.Watch(ctx, txn, s.key)
		if err == nil {
			return tripped, nil
		}
		if err != redis.TxFailedErr {
			return false, err
		}
	}
	return false, fmt.Errorf("breaker trip: redis transaction contention on %s", s.key)
}

func (s *RedisStore) Reset(ctx context.Context) error {
	encoded, err := json.Marshal(State{})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key, encoded, 0).Err()
}
