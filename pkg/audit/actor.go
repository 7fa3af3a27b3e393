package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/chronicle/pkg/contextkeys"
)

// ActorProvider supplies the identity of whoever triggered a commit.
// An empty result means no identity is known.
type ActorProvider interface {
	Actor(ctx context.Context) (string, error)
}

// ActorProviderFunc adapts a function to ActorProvider
type ActorProviderFunc func(ctx context.Context) (string, error)

// Actor implements ActorProvider
func (f ActorProviderFunc) Actor(ctx context.Context) (string, error) {
	return f(ctx)
}

// ContextActorProvider reads the user set by the identity middleware
type ContextActorProvider struct{}

// Actor implements ActorProvider
func (ContextActorProvider) Actor(ctx context.Context) (string, error) {
	return contextkeys.GetUserID(ctx), nil
}

// RedisSessionActorProvider looks up the user of the request's session in
// Redis. Sessions are hashes at "<prefix><id>" with the user in field "user".
type RedisSessionActorProvider struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisSessionActorProvider creates a provider over a redis client
func NewRedisSessionActorProvider(client redis.Cmdable) *RedisSessionActorProvider {
	return &RedisSessionActorProvider{
		client:    client,
		keyPrefix: "session:",
	}
}

// Actor implements ActorProvider
func (p *RedisSessionActorProvider) Actor(ctx context.Context) (string, error) {
	sessionID := contextkeys.GetSessionID(ctx)
	if sessionID == "" {
		return "", nil
	}

	user, err := p.client.HGet(ctx, p.keyPrefix+sessionID, "user").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	return user, nil
}

// ChainActorProvider returns the first non-empty identity.
// The first error stops the chain.
type ChainActorProvider []ActorProvider

// Actor implements ActorProvider
func (c ChainActorProvider) Actor(ctx context.Context) (string, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		user, err := p.Actor(ctx)
		if err != nil {
			return "", err
		}
		if user != "" {
			return user, nil
		}
	}
	return "", nil
}
