package ratelimit

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Gate is the single request budget shared by every strategy in the process. Each exchange call
// takes one token. A rate-limit rejection pushes all callers back by an exponential penalty, and
// the next successful call clears it.
type Gate struct {
	limiter *rate.Limiter

	mu           sync.Mutex
	strikes      int
	blockedUntil time.Time

	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

// NewGate builds a gate allowing perSecond calls with the given burst.
func NewGate(perSecond float64, burst int) *Gate {
	if burst < 1 {
		burst = 1
	}
	return &Gate{
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		baseBackoff: baseDelay,
		maxBackoff:  maxDelay,
		now:         time.Now,
	}
}

// WithBackoff overrides the penalty bounds.
func (g *Gate) WithBackoff(base, max time.Duration) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.baseBackoff = base
	g.maxBackoff = max
	return g
}

// Acquire blocks until the penalty window has passed and a token is available.
func (g *Gate) Acquire(ctx context.Context) error {
	for {
		wait := g.penaltyRemaining()
		if wait <= 0 {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return g.limiter.Wait(ctx)
}

// Penalize registers a rate-limit rejection and returns the delay applied to all callers.
func (g *Gate) Penalize() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	delay := Backoff(g.strikes, g.baseBackoff, g.maxBackoff)
	g.strikes++
	until := g.now().Add(delay)
	if until.After(g.blockedUntil) {
		g.blockedUntil = until
	}

	logger.WithFields(map[string]interface{}{
		"strikes": g.strikes,
		"delay":   delay.String(),
	}).Warn("Rate limited by exchange, backing off")
	return delay
}

// Success clears the strike counter.
func (g *Gate) Success() {
	g.mu.Lock()
	g.strikes = 0
	g.mu.Unlock()
}

func (g *Gate) penaltyRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blockedUntil.Sub(g.now())
}
