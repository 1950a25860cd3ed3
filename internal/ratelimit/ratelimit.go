// Package ratelimit bounds the request rate against per-chain RPC endpoints so
// a monitoring cycle cannot exhaust a provider's request budget.
package ratelimit

import (
	"context"
	"sync"

	"github.com/defi-risk-monitor/internal/types"
	"golang.org/x/time/rate"
)

// ChainLimiter holds one token-bucket limiter per chain
type ChainLimiter struct {
	mu       sync.RWMutex
	limiters map[types.ChainID]*rate.Limiter
	// defaultRPS applies to chains registered without an explicit rate.
	defaultRPS int
}

// NewChainLimiter creates a limiter registry with a default requests-per-second
func NewChainLimiter(defaultRPS int) *ChainLimiter {
	if defaultRPS <= 0 {
		defaultRPS = 20
	}
	return &ChainLimiter{
		limiters:   make(map[types.ChainID]*rate.Limiter),
		defaultRPS: defaultRPS,
	}
}

// Register sets the request rate for a chain. Burst equals the per-second rate.
func (c *ChainLimiter) Register(chain types.ChainID, rps int) {
	if rps <= 0 {
		rps = c.defaultRPS
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiters[chain] = rate.NewLimiter(rate.Limit(rps), rps)
}

// Wait blocks until a request slot is available for the chain, or the context
// is cancelled. Unregistered chains are registered lazily at the default rate.
func (c *ChainLimiter) Wait(ctx context.Context, chain types.ChainID) error {
	c.mu.RLock()
	limiter, ok := c.limiters[chain]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		if limiter, ok = c.limiters[chain]; !ok {
			limiter = rate.NewLimiter(rate.Limit(c.defaultRPS), c.defaultRPS)
			c.limiters[chain] = limiter
		}
		c.mu.Unlock()
	}

	return limiter.Wait(ctx)
}

// Allow reports whether a request slot is immediately available
func (c *ChainLimiter) Allow(chain types.ChainID) bool {
	c.mu.RLock()
	limiter, ok := c.limiters[chain]
	c.mu.RUnlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}
