// Package session mints and validates the bearer tokens that scope which VM
// a control-plane caller may issue verbs (ExportRemote, Unexport, Query, ...)
// for. A session is a signed, short-lived claim over one VM id; the token
// carries no filesystem identity, only a session id and the VM it was
// minted for.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
)

// Standard session-token errors.
var (
	ErrInvalidToken        = errors.New("session: invalid token")
	ErrExpiredToken        = errors.New("session: token has expired")
	ErrInvalidSecretLength = errors.New("session: secret must be at least 32 bytes")
)

// Claims is the JWT payload minted for a control-plane session.
type Claims struct {
	jwt.RegisteredClaims

	// OwnerVM is the VM this session may issue verbs on behalf of.
	OwnerVM uint32 `json:"owner_vm"`
}

// Config configures a Minter.
type Config struct {
	// Secret is the HMAC signing key. Must be at least 32 bytes.
	Secret string

	// Issuer is the token issuer claim. Default: "hyperdmabufd".
	Issuer string

	// TokenTTL is the session token lifetime. Default: 1 hour.
	TokenTTL time.Duration
}

// GenerateSecret returns a cryptographically random 32-byte HMAC secret,
// base64-encoded, for deployments that don't supply one via config.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Ref is a minted session: the signed token plus the fields a caller needs
// without re-parsing the token.
type Ref struct {
	Token     string
	SessionID string
	OwnerVM   uint32
	ExpiresAt time.Time
}

// Minter issues and validates session tokens for one signing key.
type Minter struct {
	cfg Config
}

// NewMinter constructs a Minter, applying defaults to unset Config fields.
func NewMinter(cfg Config) (*Minter, error) {
	if len(cfg.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "hyperdmabufd"
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Minter{cfg: cfg}, nil
}

// Mint signs a new session token scoping ownerVM, with a fresh session id.
func (m *Minter) Mint(ownerVM uint32) (Ref, error) {
	now := time.Now()
	expiresAt := now.Add(m.cfg.TokenTTL)
	sessionID := uuid.New().String()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		OwnerVM: ownerVM,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return Ref{}, bridgeerr.Wrap(bridgeerr.BadArg, err, "sign session token")
	}

	return Ref{
		Token:     signed,
		SessionID: sessionID,
		OwnerVM:   ownerVM,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate parses and verifies token, returning its claims. Returns
// ErrExpiredToken for an expired-but-otherwise-valid token so callers can
// distinguish "session ended" from "malformed/forged token".
func (m *Minter) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
