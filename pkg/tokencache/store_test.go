package tokencache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"eventhub/pkg/tokencache"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s tokencache.Store) {
	ctx := context.Background()
	tok := tokencache.CachedToken{Value: "tok", ExpiresAt: time.Now().Add(time.Hour).Unix(), AccountID: "u1"}

	_, found, err := s.Get(ctx, "user:alice")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "user:alice", tok, time.Hour))
	require.NoError(t, s.Set(ctx, "visitor", tok, time.Hour))

	got, found, err := s.Get(ctx, "user:alice")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, tok, got)

	require.NoError(t, s.Delete(ctx, "user:alice"))
	_, found, err = s.Get(ctx, "user:alice")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Clear(ctx))
	_, found, err = s.Get(ctx, "visitor")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, tokencache.NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	s := tokencache.NewRedisStore(rdb)
	exerciseStore(t, s)

	t.Run("expired token is not stored", func(t *testing.T) {
		ctx := context.Background()
		expired := tokencache.CachedToken{Value: "old", ExpiresAt: time.Now().Add(-time.Minute).Unix()}
		require.NoError(t, s.Set(ctx, "visitor", expired, -time.Minute))
		_, found, err := s.Get(ctx, "visitor")
		require.NoError(t, err)
		assert.False(t, found)
	})
}
