package goVerify

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventIssue              = "code_issue"
	auditEventIssueReplay        = "code_issue_idempotent_replay"
	auditEventVerify             = "code_verify"
	auditEventResend             = "code_resend"
	auditEventRateLimitTriggered = "rate_limit_triggered"
)

// AuditErrorCode defines a public type used by goVerify APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrCooldownActive     AuditErrorCode = "cooldown_active"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrIncorrectCode      AuditErrorCode = "incorrect_code"
	auditErrAttemptsExhausted  AuditErrorCode = "attempts_exhausted"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrStoreUnavailable   AuditErrorCode = "store_unavailable"
	auditErrInvalidDestination AuditErrorCode = "invalid_destination"
	auditErrChannelMissing     AuditErrorCode = "channel_not_configured"
	auditErrInternal           AuditErrorCode = "internal"
)

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrCooldownActive):
		return auditErrCooldownActive
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrIncorrectCode):
		return auditErrIncorrectCode
	case errors.Is(err, ErrAttemptsExhausted):
		return auditErrAttemptsExhausted
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, ErrInvalidDestination):
		return auditErrInvalidDestination
	case errors.Is(err, ErrChannelNotConfigured):
		return auditErrChannelMissing
	default:
		return auditErrInternal
	}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	tenantID string,
	requestID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		TenantID:  tenantID,
		RequestID: requestID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	tenantID string,
	metadataBuilder func() map[string]string,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, tenantID, "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}
