package goVerify

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ProofClaims defines a public type used by goVerify APIs.
//
// ProofClaims instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// A proof token asserts that a destination was verified moments ago, so
// downstream services can trust the fact without a store lookup. It carries
// the destination hash, never the destination itself.
type ProofClaims struct {
	DestinationHash string `json:"dst"`
	Channel         string `json:"chl"`
	TenantID        string `json:"tid,omitempty"`
	jwt.RegisteredClaims
}

type proofManager struct {
	config ProofConfig
}

func newProofManager(cfg ProofConfig) (*proofManager, error) {
	switch cfg.SigningMethod {
	case "hs256":
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 proof requires private key")
		}
	case "ed25519":
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("invalid ed25519 proof private key size")
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("invalid ed25519 proof public key size")
		}
	default:
		return nil, errors.New("unsupported proof signing method")
	}

	if cfg.TTL <= 0 {
		return nil, errors.New("invalid proof TTL configuration")
	}

	return &proofManager{config: cfg}, nil
}

// Mint describes the mint operation and its observable behavior.
//
// Mint may return an error when input validation, dependency calls, or security checks fail.
// Mint does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *proofManager) Mint(tenantID, destinationHash string, channel Channel) (string, error) {
	now := time.Now()

	claims := ProofClaims{
		DestinationHash: destinationHash,
		Channel:         string(channel),
		TenantID:        tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.config.TTL)),
			ID:        uuid.NewString(),
		},
	}

	switch p.config.SigningMethod {
	case "hs256":
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString(p.config.PrivateKey)
		if err != nil {
			return "", fmt.Errorf("proof signing failed: %w", err)
		}
		return signed, nil
	case "ed25519":
		token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
		signed, err := token.SignedString(ed25519.PrivateKey(p.config.PrivateKey))
		if err != nil {
			return "", fmt.Errorf("proof signing failed: %w", err)
		}
		return signed, nil
	default:
		return "", errors.New("unsupported proof signing method")
	}
}

// Parse describes the parse operation and its observable behavior.
//
// Parse may return an error when input validation, dependency calls, or security checks fail.
// Parse does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *proofManager) Parse(token string) (*ProofClaims, error) {
	claims := &ProofClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		switch p.config.SigningMethod {
		case "hs256":
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected proof signing method")
			}
			return []byte(p.config.PrivateKey), nil
		case "ed25519":
			if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, errors.New("unexpected proof signing method")
			}
			return ed25519.PublicKey(p.config.PublicKey), nil
		default:
			return nil, errors.New("unsupported proof signing method")
		}
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrProofInvalid
	}

	return claims, nil
}

// ParseProof verifies a proof token minted by this engine's configuration and
// returns its claims. Returns [ErrProofDisabled] when proof tokens are not
// enabled.
//
// ParseProof may return an error when input validation, dependency calls, or security checks fail.
// ParseProof does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ParseProof(token string) (*ProofClaims, error) {
	if e == nil || e.proof == nil {
		return nil, ErrProofDisabled
	}
	return e.proof.Parse(token)
}
