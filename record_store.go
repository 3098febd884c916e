package goVerify

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ferrix07/goVerify/internal"
	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "code"
	recordVersionV1 = 1
)

var (
	errRecordNotFound         = errors.New("verification record not found")
	errRecordCodeMismatch     = errors.New("verification code mismatch")
	errRecordAttemptsExceeded = errors.New("verification attempts exceeded")
	errRecordStoreUnavailable = errors.New("verification record store unavailable")
)

// verificationRecord is one in-flight code. The plaintext code never appears
// here; only its salted hash does. The plaintext destination is retained so a
// resend can redeliver without the caller resupplying it.
type verificationRecord struct {
	CodeHash        [32]byte
	Salt            [internal.SaltSize]byte
	Attempts        uint16
	ExpiresAt       int64
	TenantID        string
	Channel         Channel
	Destination     string
	DestinationHash string
}

type verificationRecordStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newVerificationRecordStore(redisClient redis.UniversalClient) *verificationRecordStore {
	return &verificationRecordStore{
		redis:  redisClient,
		prefix: recordKeyPrefix,
	}
}

func (s *verificationRecordStore) key(tenantID, requestID string) string {
	return s.prefix + ":" + tenantID + ":" + requestID
}

// Save describes the save operation and its observable behavior.
//
// Save may return an error when input validation, dependency calls, or security checks fail.
// Save does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *verificationRecordStore) Save(
	ctx context.Context,
	tenantID, requestID string,
	record *verificationRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeVerificationRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(tenantID, requestID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRecordStoreUnavailable, err)
	}

	return nil
}

// Get describes the get operation and its observable behavior.
//
// Get may return an error when input validation, dependency calls, or security checks fail.
// Get does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *verificationRecordStore) Get(
	ctx context.Context,
	tenantID, requestID string,
) (*verificationRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", errRecordStoreUnavailable, err)
	}

	record, err := decodeVerificationRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		// Redis TTL is the primary expiry mechanism; this guards against
		// clock drift between writer and store.
		return nil, errRecordNotFound
	}

	return record, nil
}

// Delete describes the delete operation and its observable behavior.
//
// Delete may return an error when input validation, dependency calls, or security checks fail.
// Delete does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *verificationRecordStore) Delete(ctx context.Context, tenantID, requestID string) error {
	if err := s.redis.Del(ctx, s.key(tenantID, requestID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRecordStoreUnavailable, err)
	}
	return nil
}

// Consume runs one verification attempt against the record under an
// optimistic transaction. The attempt counter always advances; a mismatch at
// the attempt cap destroys the record, a mismatch below the cap persists the
// incremented counter with the record's remaining TTL, and a match deletes
// the record and returns it.
//
// Consume may return an error when input validation, dependency calls, or security checks fail.
// Consume does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *verificationRecordStore) Consume(
	ctx context.Context,
	tenantID, requestID, code string,
	maxAttempts int,
) (*verificationRecord, error) {
	const maxRetries = 4
	key := s.key(tenantID, requestID)

	for i := 0; i < maxRetries; i++ {
		var matched *verificationRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeVerificationRecord(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errRecordNotFound
			}

			record.Attempts++
			if int(record.Attempts) > maxAttempts {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errRecordAttemptsExceeded
			}

			providedHash := internal.HashCode(record.Salt, code)
			if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
				if int(record.Attempts) >= maxAttempts {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errRecordAttemptsExceeded
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errRecordNotFound
				}

				updated, err := encodeVerificationRecord(record)
				if err != nil {
					return err
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errRecordCodeMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, errRecordNotFound), errors.Is(err, errRecordCodeMismatch), errors.Is(err, errRecordAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errRecordStoreUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errRecordNotFound
}

// Replace swaps the record's salt and code hash in place under an optimistic
// transaction and restarts the full TTL. The attempt counter survives: a
// resend does not grant a fresh attempt budget.
//
// Replace may return an error when input validation, dependency calls, or security checks fail.
// Replace does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *verificationRecordStore) Replace(
	ctx context.Context,
	tenantID, requestID string,
	salt [internal.SaltSize]byte,
	codeHash [32]byte,
	ttl time.Duration,
) (*verificationRecord, error) {
	const maxRetries = 4
	key := s.key(tenantID, requestID)

	for i := 0; i < maxRetries; i++ {
		var rewritten *verificationRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeVerificationRecord(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errRecordNotFound
			}

			record.Salt = salt
			record.CodeHash = codeHash
			record.ExpiresAt = now.Add(ttl).Unix()

			encoded, err := encodeVerificationRecord(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			rewritten = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, errRecordNotFound):
				return nil, errRecordNotFound
			default:
				return nil, fmt.Errorf("%w: %v", errRecordStoreUnavailable, err)
			}
		}

		return rewritten, nil
	}

	return nil, errRecordNotFound
}

func encodeVerificationRecord(record *verificationRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	buf.Write(record.Salt[:])
	buf.Write(record.CodeHash[:])

	for _, field := range []string{record.TenantID, string(record.Channel), record.Destination, record.DestinationHash} {
		if len(field) > 65535 {
			return nil, errors.New("verification record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeVerificationRecord(data []byte) (*verificationRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid verification record version")
	}

	record := &verificationRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(reader, record.Salt[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	fields := make([]string, 4)
	for i := range fields {
		var fieldLen uint16
		if err := binary.Read(reader, binary.BigEndian, &fieldLen); err != nil {
			return nil, err
		}

		field := make([]byte, fieldLen)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		fields[i] = string(field)
	}

	record.TenantID = fields[0]
	record.Channel = Channel(fields[1])
	record.Destination = fields[2]
	record.DestinationHash = fields[3]

	return record, nil
}
