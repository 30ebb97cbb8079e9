package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckAll(t *testing.T) {
	r := NewRegistry(0)
	down := errors.New("down")
	r.Register("postgres", CheckFunc(func(ctx context.Context) error { return nil }))
	r.Register("redis", CheckFunc(func(ctx context.Context) error { return down }))

	results := r.HealthCheckAll(context.Background())
	require.Len(t, results, 2)
	assert.NoError(t, results["postgres"])
	assert.ErrorIs(t, results["redis"], down)
	assert.False(t, Healthy(results))

	r.Unregister("redis")
	assert.Equal(t, []string{"postgres"}, r.List())
	assert.True(t, Healthy(r.HealthCheckAll(context.Background())))
}

func TestHealthCheckTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("slow", CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	results := r.HealthCheckAll(context.Background())
	assert.ErrorIs(t, results["slow"], context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	checker := NewRedisChecker(client)
	assert.NoError(t, checker.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, checker.HealthCheck(context.Background()))
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisClient(ctx, RedisConfig{Address: addr})
	assert.Error(t, err)
}
