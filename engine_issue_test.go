package goVerify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIssueDeliversCodeOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	gw := &fakeGateway{}
	engine := newTestEngine(t, rdb, gw, testConfig())

	requestID, code := issueAndCapture(t, engine, gw, ctx, "User@Example.com ", ChannelEmail)
	if requestID == "" {
		t.Fatal("expected requestID")
	}
	if gw.Calls() != 1 {
		t.Fatalf("expected 1 delivery, got %d", gw.Calls())
	}
	if gw.LastDestination() != "user@example.com" {
		t.Fatalf("expected normalized destination, got %q", gw.LastDestination())
	}
	if len(code) != 6 {
		t.Fatalf("expected default 6-digit code, got %q", code)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			t.Fatalf("expected numeric code, got %q", code)
		}
	}
}

func TestIssueIdempotentReplay(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	gw := &fakeGateway{}
	engine := newTestEngine(t, rdb, gw, testConfig())

	first, err := engine.Issue(ctx, "user@example.com", ChannelEmail, "req-key-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	second, err := engine.Issue(ctx, "user@example.com", ChannelEmail, "req-key-1")
	if err != nil {
		t.Fatalf("replay Issue failed: %v", err)
	}
	if second != first {
		t.Fatalf("expected identical requestID on replay, got %q and %q", first, second)
	}
	if gw.Calls() != 1 {
		t.Fatalf("expected no additional delivery on replay, got %d calls", gw.Calls())
	}

	// The replay must not have incremented the rate counter either: the
	// remaining budget still allows limit-1 fresh issues.
	for i := 0; i < 4; i++ {
		if _, err := engine.Issue(ctx, "user@example.com", ChannelEmail, ""); err != nil {
			t.Fatalf("issue %d within budget failed: %v", i+2, err)
		}
	}
	if _, err := engine.Issue(ctx, "user@example.com", ChannelEmail, ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited once budget spent, got %v", err)
	}
}

func TestIssueIdempotencyWindowExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	gw := &fakeGateway{}
	engine := newTestEngine(t, rdb, gw, testConfig())

	first, err := engine.Issue(ctx, "user@example.com", ChannelEmail, "req-key-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Past the code TTL the mapping is gone and the same key issues afresh.
	mr.FastForward(5*time.Minute + time.Second)

	second, err := engine.Issue(ctx, "user@example.com", ChannelEmail, "req-key-1")
	if err != nil {
		t.Fatalf("post-expiry Issue failed: %v", err)
	}
	if second == first {
		t.Fatal("expected a fresh requestID after the idempotency window expired")
	}
	if gw.Calls() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", gw.Calls())
	}
}

func TestIssueRateLimitPerDestination(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	gw := &fakeGateway{}
	engine := newTestEngine(t, rdb, gw, testConfig())

	for i := 0; i < 5; i++ {
		if _, err := engine.Issue(ctx, "+15551234567", ChannelSMS, ""); err != nil {
			t.Fatalf("issue %d failed: %v", i+1, err)
		}
	}

	if _, err := engine.Issue(ctx, "+15551234567", ChannelSMS, ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on 6th issue, got %v", err)
	}

	// A different destination in the same window is unaffected.
	if _, err := engine.Issue(ctx, "+15559876543", ChannelSMS, ""); err != nil {
		t.Fatalf("different destination should be unaffected: %v", err)
	}

	// The window is fixed: after it elapses the original destination resets.
	mr.FastForward(61 * time.Second)
	if _, err := engine.Issue(ctx, "+15551234567", ChannelSMS, ""); err != nil {
		t.Fatalf("issue after window reset failed: %v", err)
	}
}

func TestIssueDeliveryFailureRollsBack(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	gw := &fakeGateway{fail: true}
	engine := newTestEngine(t, rdb, gw, testConfig())

	requestID, err := engine.Issue(ctx, "user@example.com", ChannelEmail, "req-key-1")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if requestID != "" {
		t.Fatalf("expected empty requestID on delivery failure, got %q", requestID)
	}

	// The just-written record must not be verifiable.
	gw.SetFail(false)
	if _, err := engine.Verify(ctx, requestID, "123456"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound against rolled-back record, got %v", err)
	}

	// The idempotency mapping was also compensated: a retry with the same key
	// goes through the full issuance path.
	fresh, err := engine.Issue(ctx, "user@example.com", ChannelEmail, "req-key-1")
	if err != nil {
		t.Fatalf("retry after delivery failure failed: %v", err)
	}
	if fresh == "" {
		t.Fatal("expected fresh requestID on retry")
	}
}

func TestIssueRejectsInvalidDestination(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	gw := &fakeGateway{}
	engine := newTestEngine(t, rdb, gw, testConfig())

	if _, err := engine.Issue(ctx, "   ", ChannelEmail, ""); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
	if gw.Calls() != 0 {
		t.Fatal("expected no delivery for invalid destination")
	}
}

func TestIssueUnconfiguredChannel(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	gw := &fakeGateway{}
	engine := newTestEngine(t, rdb, gw, testConfig())

	if _, err := engine.Issue(ctx, "user@example.com", Channel("carrier-pigeon"), ""); !errors.Is(err, ErrChannelNotConfigured) {
		t.Fatalf("expected ErrChannelNotConfigured, got %v", err)
	}
}

func TestIssueClampsTenantCodeLength(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	gw := &fakeGateway{}
	cfg := testConfig()

	source := &staticSettingsSource{doc: &TenantSettingsDocument{
		CodeLength: f64(2), // below the system floor
	}}
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDeliveryGateway(ChannelSMS, gw).
		WithSettingsSource(source).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	ctx := WithTenantID(context.Background(), "t1")
	if _, err := engine.Issue(ctx, "+15551234567", ChannelSMS, ""); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if got := len(gw.LastCode()); got != 4 {
		t.Fatalf("expected code clamped to floor of 4 digits, got %d", got)
	}

	// Oversized tenant lengths clamp to the channel maximum.
	source.doc = &TenantSettingsDocument{CodeLength: f64(40)}
	engine.settings.mu.Lock()
	delete(engine.settings.cache, "t1")
	engine.settings.mu.Unlock()

	if _, err := engine.Issue(ctx, "+15559876543", ChannelSMS, ""); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if got := len(gw.LastCode()); got != 8 {
		t.Fatalf("expected code clamped to SMS max of 8 digits, got %d", got)
	}
}

func f64(v float64) *float64 {
	return &v
}
