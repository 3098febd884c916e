package goVerify

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by goVerify APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	gateways       map[Channel]DeliveryGateway
	settingsSource SettingsSource
	auditSink      AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config:   defaultConfig(),
		gateways: make(map[Channel]DeliveryGateway),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDeliveryGateway registers the gateway that carries rendered messages for
// one channel. Issuing on a channel with no registered gateway fails with
// [ErrChannelNotConfigured].
//
// WithDeliveryGateway may return an error when input validation, dependency calls, or security checks fail.
// WithDeliveryGateway does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithDeliveryGateway(channel Channel, gateway DeliveryGateway) *Builder {
	b.gateways[channel] = gateway
	return b
}

// WithSettingsSource describes the withsettingssource operation and its observable behavior.
//
// WithSettingsSource may return an error when input validation, dependency calls, or security checks fail.
// WithSettingsSource does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithSettingsSource(source SettingsSource) *Builder {
	b.settingsSource = source
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(b.gateways) == 0 {
		return nil, errors.New("at least one delivery gateway required")
	}
	for ch := range b.gateways {
		if _, ok := cfg.Channels[ch]; !ok {
			return nil, errors.New("delivery gateway registered for unconfigured channel")
		}
	}

	source := b.settingsSource
	if source == nil {
		source = NewRedisSettingsSource(b.redis)
	}

	gateways := make(map[Channel]DeliveryGateway, len(b.gateways))
	for ch, gw := range b.gateways {
		gateways[ch] = gw
	}

	engine := &Engine{
		config:      cfg,
		records:     newVerificationRecordStore(b.redis),
		limiter:     newDestinationLimiter(b.redis, cfg.RateLimit.Window),
		idempotency: newIdempotencyGuard(b.redis),
		cooldown:    newResendCooldown(b.redis),
		settings:    newSettingsResolver(source, cfg.Defaults, cfg.SettingsCache),
		gateways:    gateways,
		audit:       newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:     NewMetrics(cfg.Metrics),
	}

	if cfg.Proof.Enabled {
		pm, err := newProofManager(cfg.Proof)
		if err != nil {
			return nil, err
		}
		engine.proof = pm
	}

	b.built = true

	return engine, nil
}
