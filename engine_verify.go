package goVerify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferrix07/goVerify/internal"
	"github.com/redis/go-redis/v9"
)

// Verify runs one attempt of the submitted code against the in-flight record.
// The attempt counter advances on every call that reaches the record. Outcomes:
//
//   - nil: the code matched; the record is deleted in the same step, so the
//     code is spent and a repeat call reports [ErrNotFound].
//   - [ErrIncorrectCode]: mismatch with attempts remaining; the record
//     survives with its remaining TTL. A syntactically invalid (non-numeric)
//     code reports the same error without a store round-trip and without
//     spending an attempt, since codes are numeric by construction.
//   - [ErrAttemptsExhausted]: mismatch at the attempt cap; the record is
//     destroyed and no later call can succeed.
//   - [ErrNotFound]: unknown or expired requestId; the two are deliberately
//     indistinguishable.
//
// When proof tokens are enabled the success path returns a signed receipt;
// otherwise the returned string is empty.
//
// Verify may return an error when input validation, dependency calls, or security checks fail.
// Verify does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Verify(ctx context.Context, requestID, code string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}

	start := time.Now()
	tenantID := tenantIDFromContext(ctx)

	if requestID == "" || code == "" {
		e.metricInc(MetricVerifyNotFound)
		e.emitAudit(ctx, auditEventVerify, false, tenantID, requestID, ErrNotFound, func() map[string]string {
			return map[string]string{
				"reason": "empty_input",
			}
		})
		return "", ErrNotFound
	}

	if !internal.IsNumericString(code) {
		// Cannot match any issued code, so the record and its attempt
		// counter are left untouched.
		e.metricInc(MetricVerifyIncorrect)
		e.emitAudit(ctx, auditEventVerify, false, tenantID, requestID, ErrIncorrectCode, func() map[string]string {
			return map[string]string{
				"reason": "malformed_code",
			}
		})
		return "", ErrIncorrectCode
	}

	settingsTenant, _ := tenantIDFromContextExplicit(ctx)
	settings := e.settings.Resolve(ctx, settingsTenant)

	record, err := e.records.Consume(ctx, tenantID, requestID, code, settings.MaxAttempts)
	if err != nil {
		mapped := mapRecordError(err)
		switch {
		case errors.Is(mapped, ErrIncorrectCode):
			e.metricInc(MetricVerifyIncorrect)
		case errors.Is(mapped, ErrAttemptsExhausted):
			e.metricInc(MetricVerifyAttemptsExhausted)
		case errors.Is(mapped, ErrNotFound):
			e.metricInc(MetricVerifyNotFound)
		default:
			e.metricInc(MetricStoreUnavailable)
		}
		e.emitAudit(ctx, auditEventVerify, false, tenantID, requestID, mapped, nil)
		e.metricObserve(MetricVerifyLatency, time.Since(start))
		return "", mapped
	}

	var proofToken string
	if e.proof != nil {
		proofToken, err = e.proof.Mint(tenantID, record.DestinationHash, record.Channel)
		if err != nil {
			// The code is already spent; a proof signing failure must not
			// report the verification itself as failed.
			proofToken = ""
		}
	}

	e.metricInc(MetricVerifySuccess)
	e.emitAudit(ctx, auditEventVerify, true, tenantID, requestID, nil, func() map[string]string {
		return map[string]string{
			"channel":          string(record.Channel),
			"destination_hash": record.DestinationHash,
		}
	})
	e.metricObserve(MetricVerifyLatency, time.Since(start))
	return proofToken, nil
}

func mapRecordError(err error) error {
	switch {
	case errors.Is(err, errRecordNotFound), errors.Is(err, redis.Nil):
		return ErrNotFound
	case errors.Is(err, errRecordCodeMismatch):
		return ErrIncorrectCode
	case errors.Is(err, errRecordAttemptsExceeded):
		return ErrAttemptsExhausted
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
