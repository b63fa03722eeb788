package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRedisDefaultsOutlastFeedBlock(t *testing.T) {
	got := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	require.Greater(t, got.ReadTimeout, 5*time.Second)
	require.Equal(t, 20, got.PoolSize)
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisConfig{})
	require.Error(t, err)
}
