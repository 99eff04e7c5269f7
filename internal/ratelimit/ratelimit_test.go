package ratelimit

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowFallsBackWhenRedisUnavailable(t *testing.T) {
	l := NewLimiter(nil, zerolog.Nop())

	allowed, remaining, reset, err := l.Allow(context.Background(), "user-1", 10)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 10, remaining)
	assert.Equal(t, 60, reset)
}

func TestAllowWithBurstFallsBackWhenRedisUnavailable(t *testing.T) {
	l := NewLimiter(nil, zerolog.Nop())

	allowed, _, _, err := l.AllowWithBurst(context.Background(), "user-1", 10, 5)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestGetUsageWithoutRedisReturnsZero(t *testing.T) {
	l := NewLimiter(nil, zerolog.Nop())
	usage, err := l.GetUsage(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, usage)
}

func TestResetWithoutRedisIsNoop(t *testing.T) {
	l := NewLimiter(nil, zerolog.Nop())
	assert.NoError(t, l.Reset(context.Background(), "user-1"))
}

func TestHealthAndReadyFalseWithoutRedis(t *testing.T) {
	l := NewLimiter(nil, zerolog.Nop())
	assert.False(t, l.Health())
	assert.False(t, l.Ready())
}
