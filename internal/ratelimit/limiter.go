package ratelimit

import "context"

// RateLimiter throttles provider handoffs per backend.
type RateLimiter interface {
	Allow(ctx context.Context, backend string) (bool, error)
	Wait(ctx context.Context, backend string) error
}

// NoopLimiter never throttles. Used when no Redis is configured.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter { return &NoopLimiter{} }

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoopLimiter) Wait(context.Context, string) error { return nil }
