package goVerify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferrix07/goVerify/internal"
	"github.com/google/uuid"
)

const maxDestinationLength = 320

// Issue generates a fresh code for the destination, stores its salted hash
// with the tenant's TTL, and hands the rendered message to the channel's
// delivery gateway. The returned requestId references the in-flight code for
// Verify and Resend.
//
// When idempotencyKey is non-empty and a prior issue within the code's
// validity window recorded the same key, the prior requestId is returned
// unchanged: no new code, no rate-limit increment, no delivery call. A
// delivery failure deletes the just-written record (and mapping), so a failed
// delivery never leaves a verifiable-but-undelivered code behind.
//
// Issue may return an error when input validation, dependency calls, or security checks fail.
// Issue does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Issue(ctx context.Context, destination string, channel Channel, idempotencyKey string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)

	channelCfg, ok := e.config.Channels[channel]
	gateway := e.gateways[channel]
	if !ok || gateway == nil {
		e.metricInc(MetricIssueFailure)
		e.emitAudit(ctx, auditEventIssue, false, tenantID, "", ErrChannelNotConfigured, func() map[string]string {
			return map[string]string{
				"channel": string(channel),
			}
		})
		return "", ErrChannelNotConfigured
	}

	normalized := internal.NormalizeDestination(destination)
	if normalized == "" || len(normalized) > maxDestinationLength {
		e.metricInc(MetricIssueFailure)
		e.emitAudit(ctx, auditEventIssue, false, tenantID, "", ErrInvalidDestination, nil)
		return "", ErrInvalidDestination
	}

	settingsTenant, _ := tenantIDFromContextExplicit(ctx)
	settings := e.settings.Resolve(ctx, settingsTenant)

	if idempotencyKey != "" {
		prior, err := e.idempotency.Lookup(ctx, tenantID, idempotencyKey)
		if err != nil {
			e.metricInc(MetricStoreUnavailable)
			e.emitAudit(ctx, auditEventIssue, false, tenantID, "", ErrStoreUnavailable, nil)
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if prior != "" {
			e.metricInc(MetricIssueIdempotentReplay)
			e.emitAudit(ctx, auditEventIssueReplay, true, tenantID, prior, nil, func() map[string]string {
				return map[string]string{
					"channel": string(channel),
				}
			})
			return prior, nil
		}
	}

	destinationHash := internal.HashDestination(normalized)

	if err := e.limiter.Allow(ctx, destinationHash, settings.RatePerMinute); err != nil {
		mapped := mapLimiterError(err)
		if errors.Is(mapped, ErrRateLimited) {
			e.metricInc(MetricIssueRateLimited)
			e.emitRateLimit(ctx, "issue", tenantID, func() map[string]string {
				return map[string]string{
					"destination_hash": destinationHash,
				}
			})
		} else {
			e.metricInc(MetricStoreUnavailable)
		}
		e.emitAudit(ctx, auditEventIssue, false, tenantID, "", mapped, func() map[string]string {
			return map[string]string{
				"destination_hash": destinationHash,
			}
		})
		return "", mapped
	}

	length := clampCodeLength(settings.CodeLength, channelCfg)
	requestID := uuid.NewString()

	code, err := internal.NewNumericCode(length)
	if err != nil {
		e.metricInc(MetricIssueFailure)
		e.emitAudit(ctx, auditEventIssue, false, tenantID, "", err, nil)
		return "", err
	}
	salt, err := internal.NewSalt()
	if err != nil {
		e.metricInc(MetricIssueFailure)
		e.emitAudit(ctx, auditEventIssue, false, tenantID, "", err, nil)
		return "", err
	}

	record := &verificationRecord{
		CodeHash:        internal.HashCode(salt, code),
		Salt:            salt,
		Attempts:        0,
		ExpiresAt:       time.Now().Add(settings.codeTTL()).Unix(),
		TenantID:        tenantID,
		Channel:         channel,
		Destination:     normalized,
		DestinationHash: destinationHash,
	}

	if err := e.records.Save(ctx, tenantID, requestID, record, settings.codeTTL()); err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.emitAudit(ctx, auditEventIssue, false, tenantID, requestID, ErrStoreUnavailable, nil)
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// The mapping shares the record's TTL: the idempotency window and the
	// code's validity window are the same window.
	if idempotencyKey != "" {
		if err := e.idempotency.Record(ctx, tenantID, idempotencyKey, requestID, settings.codeTTL()); err != nil {
			_ = e.records.Delete(ctx, tenantID, requestID)
			e.metricInc(MetricStoreUnavailable)
			e.emitAudit(ctx, auditEventIssue, false, tenantID, requestID, ErrStoreUnavailable, nil)
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	message := fmt.Sprintf(channelCfg.MessageTemplate, code)
	if err := gateway.Send(ctx, normalized, message); err != nil {
		_ = e.records.Delete(ctx, tenantID, requestID)
		if idempotencyKey != "" {
			_ = e.idempotency.Forget(ctx, tenantID, idempotencyKey)
		}
		e.metricInc(MetricIssueDeliveryFailed)
		e.emitAudit(ctx, auditEventIssue, false, tenantID, requestID, ErrDeliveryFailed, func() map[string]string {
			return map[string]string{
				"channel": string(channel),
			}
		})
		return "", fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	e.metricInc(MetricIssueSuccess)
	e.emitAudit(ctx, auditEventIssue, true, tenantID, requestID, nil, func() map[string]string {
		return map[string]string{
			"channel":          string(channel),
			"destination_hash": destinationHash,
		}
	})
	return requestID, nil
}

// clampCodeLength forces a tenant-configured length into the channel's
// supported bounds, with the system floor applied first.
func clampCodeLength(length int, cfg ChannelConfig) int {
	min := cfg.MinCodeLength
	if min < systemMinCodeLength {
		min = systemMinCodeLength
	}
	if length < min {
		return min
	}
	if cfg.MaxCodeLength > 0 && length > cfg.MaxCodeLength {
		return cfg.MaxCodeLength
	}
	return length
}

func mapLimiterError(err error) error {
	switch {
	case errors.Is(err, errDestinationRateLimited):
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
