package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces account keys.
const DefaultRedisPrefix = "mailer:account:"

// StringGetter is the subset of a Redis client used by RedisRegistry.
type StringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisRegistry reads accounts stored as JSON strings under prefix+name.
type RedisRegistry struct {
	client StringGetter
	prefix string
}

// NewRedisRegistry returns a registry backed by client. An empty prefix
// uses DefaultRedisPrefix.
func NewRedisRegistry(client StringGetter, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL and returns a client for it.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Lookup implements Registry.
func (r *RedisRegistry) Lookup(ctx context.Context, name string) (Account, error) {
	key := r.prefix + name
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Account{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to read account %q from redis: %w", name, err)
	}

	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return Account{}, fmt.Errorf("%w: account %q: %v", ErrInvalid, name, err)
	}
	a.ApplyDefaults()
	if err := a.Validate(); err != nil {
		return Account{}, err
	}

	slog.Debug("account loaded from redis", "account", name, "host", a.Host, "engine", a.Engine)
	return a, nil
}
