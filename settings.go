package goVerify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// settingsResolver resolves effective per-tenant settings with a short-lived
// process-local cache in front of the remote source. It never returns an
// error: any fetch failure falls back to defaults without caching the
// failure, so the next call retries.
//
// A stale read within the freshness window is an accepted trade-off, not a
// correctness bug.
type settingsResolver struct {
	source    SettingsSource
	defaults  TenantSettings
	freshness time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSettings

	now func() time.Time
}

type cachedSettings struct {
	settings  TenantSettings
	fetchedAt time.Time
}

func newSettingsResolver(source SettingsSource, defaults DefaultsConfig, cacheCfg SettingsCacheConfig) *settingsResolver {
	return &settingsResolver{
		source: source,
		defaults: TenantSettings{
			CodeLength:            defaults.CodeLength,
			CodeTTLSeconds:        int(defaults.CodeTTL / time.Second),
			RatePerMinute:         defaults.RatePerMinute,
			MaxAttempts:           defaults.MaxAttempts,
			ResendCooldownSeconds: int(defaults.ResendCooldown / time.Second),
		},
		freshness: cacheCfg.Freshness,
		cache:     make(map[string]cachedSettings),
		now:       time.Now,
	}
}

// Resolve returns a usable settings snapshot, always. An empty tenantID
// returns the process-wide defaults with no store round-trip.
func (r *settingsResolver) Resolve(ctx context.Context, tenantID string) TenantSettings {
	if tenantID == "" {
		return r.defaults
	}

	now := r.now()

	r.mu.RLock()
	entry, ok := r.cache[tenantID]
	r.mu.RUnlock()
	if ok && now.Sub(entry.fetchedAt) < r.freshness {
		return entry.settings
	}

	doc, err := r.source.FetchRaw(ctx, tenantID)
	if err != nil {
		return r.defaults
	}

	merged := r.defaults
	if doc != nil {
		mergePositiveInt(&merged.CodeLength, doc.CodeLength)
		mergePositiveInt(&merged.CodeTTLSeconds, doc.CodeTTLSeconds)
		mergePositiveInt(&merged.RatePerMinute, doc.RatePerMinute)
		mergePositiveInt(&merged.MaxAttempts, doc.MaxAttempts)
		mergePositiveInt(&merged.ResendCooldownSeconds, doc.ResendCooldownSeconds)
	}

	r.mu.Lock()
	r.cache[tenantID] = cachedSettings{settings: merged, fetchedAt: now}
	r.mu.Unlock()

	return merged
}

// mergePositiveInt overwrites dst only when the raw field is present,
// positive, and finite. Malformed overrides keep the default.
func mergePositiveInt(dst *int, raw *float64) {
	if raw == nil {
		return
	}
	v := *raw
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 || v > math.MaxInt32 {
		return
	}
	*dst = int(v)
}

func (s TenantSettings) codeTTL() time.Duration {
	return time.Duration(s.CodeTTLSeconds) * time.Second
}

func (s TenantSettings) resendCooldown() time.Duration {
	return time.Duration(s.ResendCooldownSeconds) * time.Second
}

// RedisSettingsSource defines a public type used by goVerify APIs.
//
// RedisSettingsSource instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// It reads tenant override documents as JSON from the same Redis the engine
// uses, under tenantsettings:{tenantId}. The engine never writes these keys.
type RedisSettingsSource struct {
	redis redis.UniversalClient
}

// NewRedisSettingsSource describes the newredissettingssource operation and its observable behavior.
//
// NewRedisSettingsSource may return an error when input validation, dependency calls, or security checks fail.
// NewRedisSettingsSource does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewRedisSettingsSource(redisClient redis.UniversalClient) *RedisSettingsSource {
	return &RedisSettingsSource{redis: redisClient}
}

// FetchRaw describes the fetchraw operation and its observable behavior.
//
// FetchRaw may return an error when input validation, dependency calls, or security checks fail.
// FetchRaw does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisSettingsSource) FetchRaw(ctx context.Context, tenantID string) (*TenantSettingsDocument, error) {
	data, err := s.redis.Get(ctx, "tenantsettings:"+tenantID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("tenant settings fetch failed: %w", err)
	}

	var doc TenantSettingsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tenant settings document malformed: %w", err)
	}

	return &doc, nil
}
