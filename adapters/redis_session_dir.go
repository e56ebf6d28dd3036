package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"sessionproxy/helpers"
)

const sessionDirKey = "session_dir"

// RedisSessionDirResolver resolves the cluster session directory with a
// one-shot GET against the bootstrap redis, closing the connection
// afterward (spec.md §4.C session_dir(), SPEC_FULL.md §4.C). Grounded on
// MyAuth's redis.userStore and MyDiscoverer's myredis cache, both of which
// construct a client, issue one request, and special-case redis.Nil.
type RedisSessionDirResolver struct {
	address string
}

// NewRedisSessionDirResolver panics on empty address.
func NewRedisSessionDirResolver(address string) *RedisSessionDirResolver {
	return &RedisSessionDirResolver{address: helpers.StrPanic(address, "adapters.redis_session_dir.go: address is required")}
}

func (r *RedisSessionDirResolver) Resolve() (string, error) {
	client := redis.NewClient(&redis.Options{Addr: r.address})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	val, err := client.Get(ctx, sessionDirKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("sessionproxy: session_dir key not set in redis at %s", r.address)
		}
		return "", fmt.Errorf("sessionproxy: get session_dir from redis: %w", err)
	}
	return val, nil
}
