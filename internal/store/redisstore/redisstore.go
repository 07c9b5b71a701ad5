package redisstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/medchat/internal/store/kv"
)

const prefix = "medchat:"

// Store implements kv.Store on redis. Entries carry no TTL unless one is
// configured; persisted history is meant to outlive the process.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// WithTTL sets an expiry applied on every Set.
func (s *Store) WithTTL(ttl time.Duration) *Store {
	s.ttl = ttl
	return s
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, kv.ErrNotFound
		}
		return nil, errors.Wrapf(err, "redisstore: get %q", key)
	}
	return b, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	err := s.rdb.Set(ctx, prefix+key, value, s.ttl).Err()
	return errors.Wrapf(err, "redisstore: set %q", key)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.rdb.Del(ctx, prefix+key).Err()
	return errors.Wrapf(err, "redisstore: delete %q", key)
}
