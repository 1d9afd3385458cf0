package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/strataorm/strata/rowcache"
)

// StoreOption is a function type for configuring a Store.
type StoreOption func(store *Store)

type Store struct {
	prefix     string // redis 中 key 的前缀
	client     redis.Cmdable
	expiration time.Duration // 过期时间
}

// NewStore creates a Redis backed row cache.
// It takes a redis.Cmdable client as the first argument and optional StoreOptions as the rest.
func NewStore(client redis.Cmdable, opts ...StoreOption) *Store {
	res := &Store{
		client:     client,
		prefix:     "rowcache",
		expiration: time.Minute * 15,
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// WithPrefix sets the key prefix of the store.
// 多个应用共用一个 redis 时用它隔离键空间
func WithPrefix(prefix string) StoreOption {
	return func(store *Store) {
		store.prefix = prefix
	}
}

// WithExpiration sets the expiration duration for cached rows.
func WithExpiration(expiration time.Duration) StoreOption {
	return func(store *Store) {
		store.expiration = expiration
	}
}

// key generates the Redis key by combining the row key with the store's prefix.
func (s *Store) key(key string) string {
	return fmt.Sprintf("%s_%s", s.prefix, key)
}

// Get retrieves a cached row by its key.
// 行经过 JSON 编码，数值会退化成 float64，时间退化成 RFC3339 字符串，
// 读取侧要自己转回声明的列类型
func (s *Store) Get(ctx context.Context, key string) (rowcache.Row, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var row rowcache.Row
	if err = json.Unmarshal(data, &row); err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// Set caches the row under the key with the store's expiration.
func (s *Store) Set(ctx context.Context, key string, row rowcache.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, s.expiration).Err()
}

// Del removes a cached row by its key.
func (s *Store) Del(ctx context.Context, key string) error {
	_, err := s.client.Del(ctx, s.key(key)).Result()
	return err
}
