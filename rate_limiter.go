package goVerify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	errDestinationRateLimited = errors.New("destination over throughput")
	errLimiterUnavailable     = errors.New("rate limiter unavailable")
)

// destinationLimiter is a fixed-window per-destination throughput guard.
// Increment-then-check: the counter always advances, including on rejected
// requests, so the window reflects true request volume. Approximate by
// design; it bounds abuse, it does not provide precise fairness.
type destinationLimiter struct {
	redis  redis.UniversalClient
	window time.Duration
}

func newDestinationLimiter(redisClient redis.UniversalClient, window time.Duration) *destinationLimiter {
	return &destinationLimiter{
		redis:  redisClient,
		window: window,
	}
}

// Allow describes the allow operation and its observable behavior.
//
// Allow may return an error when input validation, dependency calls, or security checks fail.
// Allow does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (l *destinationLimiter) Allow(ctx context.Context, destinationHash string, perWindow int) error {
	key := rateKey(destinationHash)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errLimiterUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", errLimiterUnavailable, err)
		}
	}

	if count > int64(perWindow) {
		return errDestinationRateLimited
	}

	return nil
}

func rateKey(destinationHash string) string {
	return "rate:" + destinationHash
}
