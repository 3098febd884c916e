package goVerify

import "errors"

var (
	// ErrRateLimited is an exported constant or variable used by the verification engine.
	ErrRateLimited = errors.New("destination rate limited")
	// ErrCooldownActive is an exported constant or variable used by the verification engine.
	ErrCooldownActive = errors.New("resend cooldown active")
	// ErrNotFound is an exported constant or variable used by the verification engine.
	ErrNotFound = errors.New("verification request not found")
	// ErrIncorrectCode is an exported constant or variable used by the verification engine.
	ErrIncorrectCode = errors.New("incorrect verification code")
	// ErrAttemptsExhausted is an exported constant or variable used by the verification engine.
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")
	// ErrDeliveryFailed is an exported constant or variable used by the verification engine.
	ErrDeliveryFailed = errors.New("delivery gateway failure")
	// ErrStoreUnavailable is an exported constant or variable used by the verification engine.
	ErrStoreUnavailable = errors.New("verification store unavailable")
	// ErrInvalidDestination is an exported constant or variable used by the verification engine.
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrChannelNotConfigured is an exported constant or variable used by the verification engine.
	ErrChannelNotConfigured = errors.New("channel not configured")
	// ErrProofDisabled is an exported constant or variable used by the verification engine.
	ErrProofDisabled = errors.New("proof tokens disabled")
	// ErrProofInvalid is an exported constant or variable used by the verification engine.
	ErrProofInvalid = errors.New("invalid proof token")
	// ErrEngineNotReady is an exported constant or variable used by the verification engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
