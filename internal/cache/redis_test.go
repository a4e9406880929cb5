package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{Address: "  "})
	require.EqualError(t, err, "redis: address is required")
}

func TestNewRedisStoreFailsFastWhenUnreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{
		Address: "127.0.0.1:1",
		Timeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis: ping 127.0.0.1:1")
}

func TestRedisStorePrefixesKeys(t *testing.T) {
	store := NewRedisStoreFromClient(nil)
	require.Equal(t, "bookshelf:auth:1.2.3.4", store.prefixed("auth:1.2.3.4"))
}
