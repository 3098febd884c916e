package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// SaltSize is the per-record salt length in bytes.
	SaltSize = 16

	minCodeDigits = 4
	maxCodeDigits = 12
)

// NormalizeDestination lower-cases and trims a destination so that the same
// address always maps to the same record and rate-limit keys.
func NormalizeDestination(destination string) string {
	return strings.ToLower(strings.TrimSpace(destination))
}

// HashDestination returns the hex SHA-256 digest of the normalized
// destination. Used only as a key component, never reversed.
func HashDestination(destination string) string {
	sum := sha256.Sum256([]byte(NormalizeDestination(destination)))
	return hex.EncodeToString(sum[:])
}

// NewSalt returns a fresh random per-record salt. A new salt is drawn on every
// issuance and every resend so two identical codes never share a stored hash.
func NewSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	_, err := rand.Read(salt[:])
	return salt, err
}

// HashCode returns SHA-256(salt || code). Deterministic for the same inputs;
// compared with constant-time equality at verify time.
func HashCode(salt [SaltSize]byte, code string) [32]byte {
	buf := make([]byte, 0, SaltSize+len(code))
	buf = append(buf, salt[:]...)
	buf = append(buf, code...)
	return sha256.Sum256(buf)
}

// NewNumericCode produces a uniformly random numeric string of exactly digits
// digits, each drawn independently from a CSPRNG. Callers clamp digits into
// the channel's supported bounds first.
func NewNumericCode(digits int) (string, error) {
	if digits < minCodeDigits || digits > maxCodeDigits {
		return "", errors.New("invalid code digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	code := b.String()
	if len(code) != digits {
		return "", fmt.Errorf("invalid code generation length")
	}
	return code, nil
}

// IsNumericString reports whether s is non-empty and all ASCII digits.
func IsNumericString(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
