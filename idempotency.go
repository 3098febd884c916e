package goVerify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errIdempotencyUnavailable = errors.New("idempotency store unavailable")

// idempotencyGuard deduplicates issue calls that carry the same client-supplied
// key. The mapping lives exactly as long as the record it shadows, so the
// idempotency window equals the code's validity window.
type idempotencyGuard struct {
	redis redis.UniversalClient
}

func newIdempotencyGuard(redisClient redis.UniversalClient) *idempotencyGuard {
	return &idempotencyGuard{redis: redisClient}
}

func (g *idempotencyGuard) key(tenantID, idempotencyKey string) string {
	return "idem:" + tenantID + ":" + idempotencyKey
}

// Lookup returns the requestId previously recorded for the key, or "" on a
// miss. Missing keys do not reveal whether they expired or never existed.
func (g *idempotencyGuard) Lookup(ctx context.Context, tenantID, idempotencyKey string) (string, error) {
	requestID, err := g.redis.Get(ctx, g.key(tenantID, idempotencyKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", errIdempotencyUnavailable, err)
	}
	return requestID, nil
}

// Record describes the record operation and its observable behavior.
//
// Record may return an error when input validation, dependency calls, or security checks fail.
// Record does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *idempotencyGuard) Record(ctx context.Context, tenantID, idempotencyKey, requestID string, ttl time.Duration) error {
	if err := g.redis.Set(ctx, g.key(tenantID, idempotencyKey), requestID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errIdempotencyUnavailable, err)
	}
	return nil
}

// Forget removes a mapping. Used as the compensating step when delivery fails
// after the mapping was recorded, so a client retry re-issues cleanly.
func (g *idempotencyGuard) Forget(ctx context.Context, tenantID, idempotencyKey string) error {
	if err := g.redis.Del(ctx, g.key(tenantID, idempotencyKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errIdempotencyUnavailable, err)
	}
	return nil
}
