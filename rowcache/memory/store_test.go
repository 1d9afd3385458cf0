package memory

import (
	"context"
	"testing"
	"time"

	"github.com/strataorm/strata/rowcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := NewStore(time.Minute)
	ctx := context.Background()

	// 未命中不是错误
	_, ok, err := s.Get(ctx, "persons[1]")
	require.NoError(t, err)
	assert.False(t, ok)

	row := rowcache.Row{"id": int64(1), "name": "Tom"}
	require.NoError(t, s.Set(ctx, "persons[1]", row))

	got, ok, err := s.Get(ctx, "persons[1]")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, row, got)

	require.NoError(t, s.Del(ctx, "persons[1]"))
	_, ok, err = s.Get(ctx, "persons[1]")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_isolation(t *testing.T) {
	s := NewStore(time.Minute)
	ctx := context.Background()

	row := rowcache.Row{"name": "Tom"}
	require.NoError(t, s.Set(ctx, "k", row))

	// 写入之后改原 map 不影响缓存里的那份
	row["name"] = "Jerry"
	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Tom", got["name"])

	// 改读出来的副本也一样
	got["name"] = "Spike"
	again, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "Tom", again["name"])
}

func TestStore_expiration(t *testing.T) {
	s := NewStore(10 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", rowcache.Row{"id": int64(1)}))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
