// Package goVerify provides a verification-code engine: short-lived, single-use
// numeric codes delivered over SMS or email, verified against salted hashes in a
// shared Redis store, with per-destination rate limiting, idempotent issuance,
// and cooldown-guarded resends.
//
// The package is designed for concurrent server workloads: Engine methods are safe
// to call from multiple goroutines after initialization through [Builder.Build].
// The engine holds no in-process locks; every cross-request coordination point
// (rate counters, idempotency mappings, cooldown sentinels, record writes) is
// delegated to atomic Redis primitives, so multiple service instances can share
// one store.
//
// # Architecture boundaries
//
// goVerify is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (Channel, TenantSettings, AuditEvent, MetricsSnapshot). Message
// delivery, tenant configuration lookup, and audit consumption are injected
// collaborators ([DeliveryGateway], [SettingsSource], [AuditSink]); the engine
// never decides how a message reaches a destination and never authenticates the
// caller.
//
// # What this package must NOT do
//
//   - Expose Redis clients, record encodings, or key layouts in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Keep verification records or rate counters in process memory; the tenant
//     settings cache is the only process-local mutable structure.
//
// # Single-use contract
//
// A code is consumed by the first verification that matches its hash before
// expiry or attempt exhaustion: the record is deleted in the same step, so a
// repeated verify with the same code reports not-found. Exceeding the attempt
// cap destroys the record irreversibly; expiry is handled entirely by Redis TTL
// with no background sweep.
package goVerify
