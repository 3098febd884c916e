package goVerify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errCooldownUnavailable = errors.New("cooldown store unavailable")

// resendCooldown enforces the minimum interval between resends for one
// requestId. Existence of the sentinel key is the only state; absence means a
// resend is permitted.
type resendCooldown struct {
	redis redis.UniversalClient
}

func newResendCooldown(redisClient redis.UniversalClient) *resendCooldown {
	return &resendCooldown{redis: redisClient}
}

func cooldownKey(requestID string) string {
	return "resendlock:" + requestID
}

// Acquire atomically creates the cooldown sentinel if absent. Returns false
// when the sentinel already exists, meaning the cooldown is still running.
func (c *resendCooldown) Acquire(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	acquired, err := c.redis.SetNX(ctx, cooldownKey(requestID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errCooldownUnavailable, err)
	}
	return acquired, nil
}
