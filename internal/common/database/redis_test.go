package database

import (
	"context"
	"testing"

	"cleaner-dispatch/internal/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis_RequiresAddress(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{})
	require.Error(t, err)
}

func TestRedisClient_PingAndCmdable(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedis(config.RedisConfig{Address: mr.Addr(), PoolSize: 4, MinIdleConns: 9})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Cmdable().Set(ctx, "dispatch:ping-check", "1", 0).Err())

	got, err := mr.Get("dispatch:ping-check")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
}

func TestRedisClient_PingFailsWhenServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer c.Close()

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}
