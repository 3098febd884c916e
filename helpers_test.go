package goVerify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// fakeGateway records every delivery so tests can assert call counts and
// recover the plaintext code (tests configure the message template as "%s").
type fakeGateway struct {
	mu              sync.Mutex
	calls           int
	fail            bool
	lastDestination string
	lastMessage     string
}

func (g *fakeGateway) Send(_ context.Context, destination, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	g.lastDestination = destination
	g.lastMessage = message
	if g.fail {
		return errors.New("gateway down")
	}
	return nil
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGateway) LastCode() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastMessage
}

func (g *fakeGateway) LastDestination() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastDestination
}

func (g *fakeGateway) SetFail(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = fail
}

type staticSettingsSource struct {
	doc   *TenantSettingsDocument
	err   error
	calls atomic.Int64
}

func (s *staticSettingsSource) FetchRaw(context.Context, string) (*TenantSettingsDocument, error) {
	s.calls.Add(1)
	return s.doc, s.err
}

func testConfig() Config {
	cfg := defaultConfig()
	// Bare "%s" templates let tests read the code straight off the gateway.
	cfg.Channels = map[Channel]ChannelConfig{
		ChannelSMS: {
			MinCodeLength:   4,
			MaxCodeLength:   8,
			MessageTemplate: "%s",
		},
		ChannelEmail: {
			MinCodeLength:   4,
			MaxCodeLength:   10,
			MessageTemplate: "%s",
		},
	}
	return cfg
}

func newTestEngine(t *testing.T, rdb *redis.Client, gw *fakeGateway, cfg Config) *Engine {
	t.Helper()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDeliveryGateway(ChannelSMS, gw).
		WithDeliveryGateway(ChannelEmail, gw).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func issueAndCapture(t *testing.T, engine *Engine, gw *fakeGateway, ctx context.Context, destination string, channel Channel) (string, string) {
	t.Helper()

	requestID, err := engine.Issue(ctx, destination, channel, "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if requestID == "" {
		t.Fatal("expected non-empty requestID")
	}
	return requestID, gw.LastCode()
}

func mustWrongCode(t *testing.T, code string) string {
	t.Helper()

	wrong := []byte(code)
	wrong[0] = '0' + (wrong[0]-'0'+1)%10
	return string(wrong)
}
