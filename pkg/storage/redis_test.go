package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.RedisPoolSize = 4

	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 4, client.Options().PoolSize)
	assert.Equal(t, 3, client.Options().MaxRetries)

	require.NoError(t, client.HSet(context.Background(), "session:abc", "user", "alice").Err())
	assert.Equal(t, "alice", mr.HGet("session:abc", "user"))
}

func TestNewRedisClient_Password(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("hunter2")

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	_, err := NewRedisClient(context.Background(), cfg)
	assert.Error(t, err, "expected auth failure without password")

	cfg.RedisPassword = "hunter2"
	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	client.Close()
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), Config{RedisURL: "http://not-redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), Config{RedisURL: "redis://" + addr, RedisMaxRetries: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}
