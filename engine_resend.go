package goVerify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ferrix07/goVerify/internal"
)

// Resend regenerates the code for an in-flight record and redelivers it to
// the record's stored destination. The cooldown sentinel is taken atomically
// before any regeneration: a second resend inside the cooldown window fails
// with [ErrCooldownActive] and performs no work. The attempt counter is NOT
// reset; a resend does not grant a fresh attempt budget. The record's full
// TTL restarts.
//
// A delivery failure after the rewrite is left as-is: the old code is already
// invalid and the new one undelivered, which a later resend (after the
// cooldown expires) resolves.
//
// Resend may return an error when input validation, dependency calls, or security checks fail.
// Resend does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Resend(ctx context.Context, requestID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)

	if requestID == "" {
		e.metricInc(MetricResendNotFound)
		e.emitAudit(ctx, auditEventResend, false, tenantID, requestID, ErrNotFound, nil)
		return ErrNotFound
	}

	record, err := e.records.Get(ctx, tenantID, requestID)
	if err != nil {
		mapped := mapRecordError(err)
		if errors.Is(mapped, ErrNotFound) {
			e.metricInc(MetricResendNotFound)
		} else {
			e.metricInc(MetricStoreUnavailable)
		}
		e.emitAudit(ctx, auditEventResend, false, tenantID, requestID, mapped, nil)
		return mapped
	}

	channelCfg, ok := e.config.Channels[record.Channel]
	gateway := e.gateways[record.Channel]
	if !ok || gateway == nil {
		e.emitAudit(ctx, auditEventResend, false, tenantID, requestID, ErrChannelNotConfigured, func() map[string]string {
			return map[string]string{
				"channel": string(record.Channel),
			}
		})
		return ErrChannelNotConfigured
	}

	settingsTenant, _ := tenantIDFromContextExplicit(ctx)
	settings := e.settings.Resolve(ctx, settingsTenant)

	acquired, err := e.cooldown.Acquire(ctx, requestID, settings.resendCooldown())
	if err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.emitAudit(ctx, auditEventResend, false, tenantID, requestID, ErrStoreUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !acquired {
		e.metricInc(MetricResendCooldownActive)
		e.emitAudit(ctx, auditEventResend, false, tenantID, requestID, ErrCooldownActive, nil)
		return ErrCooldownActive
	}

	length := clampCodeLength(settings.CodeLength, channelCfg)

	code, err := internal.NewNumericCode(length)
	if err != nil {
		e.emitAudit(ctx, auditEventResend, false, tenantID, requestID, err, nil)
		return err
	}
	salt, err := internal.NewSalt()
	if err != nil {
		e.emitAudit(ctx, auditEventResend, false, tenantID, requestID, err, nil)
		return err
	}

	rewritten, err := e.records.Replace(ctx, tenantID, requestID, salt, internal.HashCode(salt, code), settings.codeTTL())
	if err != nil {
		mapped := mapRecordError(err)
		if errors.Is(mapped, ErrNotFound) {
			// Expired between the read and the rewrite.
			e.metricInc(MetricResendNotFound)
		} else {
			e.metricInc(MetricStoreUnavailable)
		}
		e.emitAudit(ctx, auditEventResend, false, tenantID, requestID, mapped, nil)
		return mapped
	}

	message := fmt.Sprintf(channelCfg.MessageTemplate, code)
	if err := gateway.Send(ctx, rewritten.Destination, message); err != nil {
		// No rollback of the salt/hash swap. Recoverable by a further resend
		// once the cooldown sentinel expires.
		e.metricInc(MetricResendDeliveryFailed)
		e.emitAudit(ctx, auditEventResend, false, tenantID, requestID, ErrDeliveryFailed, func() map[string]string {
			return map[string]string{
				"channel": string(record.Channel),
			}
		})
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	e.metricInc(MetricResendSuccess)
	e.emitAudit(ctx, auditEventResend, true, tenantID, requestID, nil, func() map[string]string {
		return map[string]string{
			"channel":          string(record.Channel),
			"destination_hash": record.DestinationHash,
		}
	})
	return nil
}
