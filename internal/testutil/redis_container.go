package testutil

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// GetRedisAddress starts an in-process Redis server for the duration of
// the test and returns its address.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	return miniredis.RunT(t).Addr()
}

// NewRedisClient returns a client connected to a fresh in-process Redis.
// The client is closed when the test ends.
func NewRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: GetRedisAddress(t)})
	t.Cleanup(func() {
		_ = client.Close()
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}
	return client
}
