package goVerify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ferrix07/goVerify/internal"
	"github.com/redis/go-redis/v9"
)

func testRecord(t *testing.T, code string) *verificationRecord {
	t.Helper()

	salt, err := internal.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}

	return &verificationRecord{
		CodeHash:        internal.HashCode(salt, code),
		Salt:            salt,
		Attempts:        0,
		ExpiresAt:       time.Now().Add(5 * time.Minute).Unix(),
		TenantID:        "t1",
		Channel:         ChannelEmail,
		Destination:     "user@example.com",
		DestinationHash: internal.HashDestination("user@example.com"),
	}
}

func TestRecordCodecRoundTrip(t *testing.T) {
	record := testRecord(t, "123456")
	record.Attempts = 3

	encoded, err := encodeVerificationRecord(record)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeVerificationRecord(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if *decoded != *record {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, record)
	}
}

func TestRecordCodecRejectsUnknownVersion(t *testing.T) {
	record := testRecord(t, "123456")

	encoded, err := encodeVerificationRecord(record)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	encoded[0] = 99

	if _, err := decodeVerificationRecord(encoded); err == nil {
		t.Fatal("expected version error")
	}
}

func TestConsumeMismatchPersistsAttempts(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := newVerificationRecordStore(rdb)
	record := testRecord(t, "123456")

	if err := store.Save(ctx, "t1", "r1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Consume(ctx, "t1", "r1", "999999", 5); !errors.Is(err, errRecordCodeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	survivor, err := store.Get(ctx, "t1", "r1")
	if err != nil {
		t.Fatalf("record should survive a mismatch below the cap: %v", err)
	}
	if survivor.Attempts != 1 {
		t.Fatalf("expected 1 attempt persisted, got %d", survivor.Attempts)
	}

	// The rewrite keeps the remaining TTL rather than restarting it.
	ttl := mr.TTL(store.key("t1", "r1"))
	if ttl <= 0 || ttl > 5*time.Minute {
		t.Fatalf("expected remaining TTL preserved, got %v", ttl)
	}
}

func TestConsumeMatchDeletes(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := newVerificationRecordStore(rdb)
	record := testRecord(t, "123456")

	if err := store.Save(ctx, "t1", "r1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	matched, err := store.Consume(ctx, "t1", "r1", "123456", 5)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if matched.Destination != "user@example.com" {
		t.Fatalf("unexpected matched record: %+v", matched)
	}

	if _, err := store.Get(ctx, "t1", "r1"); !errors.Is(err, errRecordNotFound) {
		t.Fatalf("expected record deleted on match, got %v", err)
	}
}

func TestConsumeCapDeletes(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := newVerificationRecordStore(rdb)
	record := testRecord(t, "123456")

	if err := store.Save(ctx, "t1", "r1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := store.Consume(ctx, "t1", "r1", "999999", 3); !errors.Is(err, errRecordCodeMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", i+1, err)
		}
	}
	if _, err := store.Consume(ctx, "t1", "r1", "999999", 3); !errors.Is(err, errRecordAttemptsExceeded) {
		t.Fatalf("expected attempts exceeded at the cap, got %v", err)
	}
	if _, err := store.Get(ctx, "t1", "r1"); !errors.Is(err, errRecordNotFound) {
		t.Fatalf("expected record destroyed at the cap, got %v", err)
	}
}

// txConflictHook rewrites the watched key right before every transaction
// commit, so each optimistic attempt observes a concurrent modification and
// aborts. WATCH/GET travel as single commands and pass through untouched.
type txConflictHook struct {
	mr      *miniredis.Miniredis
	key     string
	payload string
}

func (h txConflictHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h txConflictHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return next
}

func (h txConflictHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if err := h.mr.Set(h.key, h.payload); err != nil {
			return err
		}
		return next(ctx, cmds)
	}
}

func TestConsumeGivesUpUnderConstantContention(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := newVerificationRecordStore(rdb)
	record := testRecord(t, "123456")

	if err := store.Save(ctx, "t1", "r1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	encoded, err := encodeVerificationRecord(record)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	rdb.AddHook(txConflictHook{
		mr:      mr,
		key:     store.key("t1", "r1"),
		payload: string(encoded),
	})

	// Every retry conflicts; once the retry bound is spent the caller sees
	// the record as gone rather than an infinite loop or a raw TxFailedErr.
	if _, err := store.Consume(ctx, "t1", "r1", "123456", 5); !errors.Is(err, errRecordNotFound) {
		t.Fatalf("expected not found after retry exhaustion, got %v", err)
	}
}

func TestReplaceKeepsAttempts(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := newVerificationRecordStore(rdb)
	record := testRecord(t, "123456")
	record.Attempts = 2

	if err := store.Save(ctx, "t1", "r1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	salt, err := internal.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}
	newHash := internal.HashCode(salt, "654321")

	rewritten, err := store.Replace(ctx, "t1", "r1", salt, newHash, 5*time.Minute)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if rewritten.Attempts != 2 {
		t.Fatalf("expected attempts carried over, got %d", rewritten.Attempts)
	}
	if rewritten.CodeHash != newHash {
		t.Fatal("expected new code hash after replace")
	}
	if rewritten.Salt != salt {
		t.Fatal("expected new salt after replace")
	}
	if rewritten.Destination != record.Destination {
		t.Fatal("destination must survive replace")
	}
}

func TestReplaceMissingRecord(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := newVerificationRecordStore(rdb)

	salt, err := internal.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}

	if _, err := store.Replace(ctx, "t1", "missing", salt, internal.HashCode(salt, "1234"), time.Minute); !errors.Is(err, errRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
