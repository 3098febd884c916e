package goVerify

import (
	"errors"
	"time"
)

// Config defines a public type used by goVerify APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Defaults      DefaultsConfig
	SettingsCache SettingsCacheConfig
	RateLimit     RateLimitConfig
	Channels      map[Channel]ChannelConfig
	Proof         ProofConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
DEFAULT TENANT SETTINGS
====================================
*/

// DefaultsConfig defines a public type used by goVerify APIs.
//
// DefaultsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// These are the process-wide settings used when no tenant id is supplied, when
// the tenant has no override document, and for every override field that is
// absent or malformed.
type DefaultsConfig struct {
	CodeLength     int
	CodeTTL        time.Duration
	RatePerMinute  int
	MaxAttempts    int
	ResendCooldown time.Duration
}

/*
====================================
SETTINGS CACHE CONFIG
====================================
*/

// SettingsCacheConfig defines a public type used by goVerify APIs.
//
// SettingsCacheConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SettingsCacheConfig struct {
	// Freshness is how long a resolved tenant snapshot is served from the
	// process-local cache before the remote source is consulted again.
	Freshness time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig defines a public type used by goVerify APIs.
//
// RateLimitConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RateLimitConfig struct {
	// Window is the fixed (not sliding) per-destination counting window.
	Window time.Duration
}

/*
====================================
CHANNEL CONFIG
====================================
*/

// ChannelConfig defines a public type used by goVerify APIs.
//
// ChannelConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ChannelConfig struct {
	MinCodeLength int
	MaxCodeLength int
	// MessageTemplate is a fmt template with a single %s verb receiving the
	// plaintext code.
	MessageTemplate string
}

/*
====================================
PROOF TOKEN CONFIG
====================================
*/

// ProofConfig defines a public type used by goVerify APIs.
//
// ProofConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ProofConfig struct {
	Enabled       bool
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	TTL           time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig defines a public type used by goVerify APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by goVerify APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// systemMinCodeLength is the floor below which no tenant configuration can
// push a code length, regardless of channel bounds. systemMaxCodeLength is
// the code generator's digit cap; channel bounds must stay inside it so a
// validated config can never produce an ungeneratable length.
const (
	systemMinCodeLength = 4
	systemMaxCodeLength = 12
)

func defaultConfig() Config {
	return Config{
		Defaults: DefaultsConfig{
			CodeLength:     6,
			CodeTTL:        5 * time.Minute,
			RatePerMinute:  5,
			MaxAttempts:    5,
			ResendCooldown: 30 * time.Second,
		},
		SettingsCache: SettingsCacheConfig{
			Freshness: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Window: time.Minute,
		},
		Channels: map[Channel]ChannelConfig{
			ChannelSMS: {
				MinCodeLength:   4,
				MaxCodeLength:   8,
				MessageTemplate: "Your verification code is %s",
			},
			ChannelEmail: {
				MinCodeLength:   4,
				MaxCodeLength:   10,
				MessageTemplate: "Your verification code is %s",
			},
		},
		Proof: ProofConfig{
			Enabled:       false,
			SigningMethod: "ed25519",
			TTL:           5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg

	if cfg.Channels != nil {
		out.Channels = make(map[Channel]ChannelConfig, len(cfg.Channels))
		for ch, chCfg := range cfg.Channels {
			out.Channels[ch] = chCfg
		}
	}
	out.Proof.PrivateKey = cloneBytes(cfg.Proof.PrivateKey)
	out.Proof.PublicKey = cloneBytes(cfg.Proof.PublicKey)

	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Defaults
	if c.Defaults.CodeLength < systemMinCodeLength {
		return errors.New("Defaults CodeLength must be >= 4")
	}
	if c.Defaults.CodeLength > systemMaxCodeLength {
		return errors.New("Defaults CodeLength must be <= 12")
	}
	if c.Defaults.CodeTTL <= 0 {
		return errors.New("Defaults CodeTTL must be > 0")
	}
	if c.Defaults.RatePerMinute <= 0 {
		return errors.New("Defaults RatePerMinute must be > 0")
	}
	if c.Defaults.MaxAttempts <= 0 {
		return errors.New("Defaults MaxAttempts must be > 0")
	}
	if c.Defaults.ResendCooldown <= 0 {
		return errors.New("Defaults ResendCooldown must be > 0")
	}

	// Settings cache
	if c.SettingsCache.Freshness <= 0 {
		return errors.New("SettingsCache Freshness must be > 0")
	}

	// Rate limit
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}

	// Channels
	if len(c.Channels) == 0 {
		return errors.New("at least one channel must be configured")
	}
	for ch, chCfg := range c.Channels {
		if ch == "" {
			return errors.New("channel name must not be empty")
		}
		if chCfg.MinCodeLength < systemMinCodeLength {
			return errors.New("channel MinCodeLength must be >= 4")
		}
		if chCfg.MaxCodeLength < chCfg.MinCodeLength {
			return errors.New("channel MaxCodeLength must be >= MinCodeLength")
		}
		if chCfg.MaxCodeLength > systemMaxCodeLength {
			return errors.New("channel MaxCodeLength must be <= 12")
		}
		if chCfg.MessageTemplate == "" {
			return errors.New("channel MessageTemplate must not be empty")
		}
	}

	// Proof
	if c.Proof.Enabled {
		if c.Proof.SigningMethod != "ed25519" && c.Proof.SigningMethod != "hs256" {
			return errors.New("unsupported proof signing method")
		}
		if c.Proof.SigningMethod == "ed25519" && len(c.Proof.PrivateKey) == 0 {
			return errors.New("ed25519 proof requires PrivateKey")
		}
		if c.Proof.SigningMethod == "ed25519" && len(c.Proof.PublicKey) == 0 {
			return errors.New("ed25519 proof requires PublicKey")
		}
		if c.Proof.SigningMethod == "hs256" && len(c.Proof.PrivateKey) == 0 {
			return errors.New("hs256 proof requires PrivateKey")
		}
		if c.Proof.TTL <= 0 {
			return errors.New("Proof TTL must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
