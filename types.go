package goVerify

import "context"

// Channel defines a public type used by goVerify APIs.
//
// Channel instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Channel string

const (
	// ChannelSMS is an exported constant or variable used by the verification engine.
	ChannelSMS Channel = "sms"
	// ChannelEmail is an exported constant or variable used by the verification engine.
	ChannelEmail Channel = "email"
)

// DeliveryGateway sends a rendered message to a destination. Implementations
// wrap the actual transport (SMS provider, SMTP relay); the engine treats a
// nil error as delivered and anything else as a delivery failure.
//
// Send must be safe for concurrent use.
type DeliveryGateway interface {
	Send(ctx context.Context, destination, message string) error
}

// TenantSettings defines a public type used by goVerify APIs.
//
// TenantSettings instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// A TenantSettings value is a resolved, effective snapshot: every field is
// positive and usable, with defaults filled in for anything the tenant
// override omitted or malformed.
type TenantSettings struct {
	CodeLength     int
	CodeTTLSeconds int
	RatePerMinute  int
	MaxAttempts    int
	// ResendCooldownSeconds is the minimum interval between resends for one
	// requestId.
	ResendCooldownSeconds int
}

// TenantSettingsDocument is the raw, partial settings override fetched from a
// [SettingsSource]. Fields are pointers so that an absent field is
// distinguishable from zero; only well-formed positive finite values are
// merged over the defaults.
type TenantSettingsDocument struct {
	CodeLength            *float64 `json:"code_length,omitempty"`
	CodeTTLSeconds        *float64 `json:"code_ttl_seconds,omitempty"`
	RatePerMinute         *float64 `json:"rate_per_minute,omitempty"`
	MaxAttempts           *float64 `json:"max_attempts,omitempty"`
	ResendCooldownSeconds *float64 `json:"resend_cooldown_seconds,omitempty"`
}

// SettingsSource resolves raw per-tenant settings overrides. Returning
// (nil, nil) means the tenant has no override document; any error is absorbed
// by the resolver, which falls back to defaults without caching the failure.
type SettingsSource interface {
	FetchRaw(ctx context.Context, tenantID string) (*TenantSettingsDocument, error)
}
