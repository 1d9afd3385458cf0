package memory

import (
	"context"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/strataorm/strata/rowcache"
)

type Store struct {
	// 如果难以确保同一个 key 不会被多个 goroutine 来操作，就加上这个
	mutex sync.RWMutex
	c     *cache.Cache
	// 利用一个内存缓存来帮助我们管理过期时间
	expiration time.Duration
}

// NewStore creates a new in-process row cache.
// The expiration parameter specifies the duration for which the cached rows live.
func NewStore(expiration time.Duration) *Store {
	return &Store{
		c:          cache.New(expiration, time.Second),
		expiration: expiration,
	}
}

// Get retrieves a cached row by its key.
// 返回的是副本，调用方改它不会影响缓存里的那份
func (s *Store) Get(ctx context.Context, key string) (rowcache.Row, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	val, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return clone(val.(rowcache.Row)), true, nil
}

// Set caches the row under the key with the store's expiration.
func (s *Store) Set(ctx context.Context, key string, row rowcache.Row) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.c.Set(key, clone(row), s.expiration)
	return nil
}

// Del removes a cached row by its key.
func (s *Store) Del(ctx context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.c.Delete(key)
	return nil
}

// clone 进程内共享同一份 map 会把缓存变成可变全局状态，存取都拷一份
func clone(row rowcache.Row) rowcache.Row {
	res := make(rowcache.Row, len(row))
	for k, v := range row {
		res[k] = v
	}
	return res
}
