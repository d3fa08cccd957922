package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{6, 60 * time.Second},
		{40, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CalculateBackoff(tt.retry), "retry %d", tt.retry)
	}
}

func TestGateBurst(t *testing.T) {
	g := NewGate(1, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx))
	assert.Error(t, g.Acquire(ctx))
}

func (g *Gate) strikeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.strikes
}

func TestGatePenaltyBlocksEveryCaller(t *testing.T) {
	g := NewGate(1000, 10).WithBackoff(50*time.Millisecond, time.Second)

	d1 := g.Penalize()
	d2 := g.Penalize()
	assert.Equal(t, 50*time.Millisecond, d1)
	assert.Equal(t, 100*time.Millisecond, d2)
	assert.Equal(t, 2, g.strikeCount())
	assert.Greater(t, g.penaltyRemaining(), time.Duration(0))

	start := time.Now()
	require.NoError(t, g.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	g.Success()
	assert.Equal(t, 0, g.strikeCount())
}

func TestGateAcquireCanceled(t *testing.T) {
	g := NewGate(1000, 10).WithBackoff(time.Minute, time.Minute)
	g.Penalize()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
