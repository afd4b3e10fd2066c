package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Purpose is the claim value every download credential must carry. Tokens
// minted for any other purpose are rejected.
const Purpose = "pass-download"

// ErrInvalidToken is the single failure the verifier reports. Bad signature,
// expiry, wrong purpose and malformed input all collapse into it so a caller
// cannot probe token structure through error differences.
var ErrInvalidToken = errors.New("invalid or expired token")

const maxHolderNameLen = 64

// Claims is the payload of a download credential. The jti registered claim
// uniquely identifies each minted credential for audit; nothing consults it
// for revocation yet, so a credential stays replayable until expiry.
type Claims struct {
	Purpose    string `json:"purpose"`
	HolderName string `json:"holder_name,omitempty"`
	jwt.RegisteredClaims
}

// Manager mints and verifies download credentials with an HMAC key.
type Manager struct {
	key []byte
}

// NewManager refuses an empty key: a missing signing secret is a deployment
// error to surface at startup, not on the first redemption.
func NewManager(key string) (*Manager, error) {
	if key == "" {
		return nil, errors.New("token signing key is not configured")
	}
	return &Manager{key: []byte(key)}, nil
}

// Mint produces a signed credential valid for ttl, optionally carrying a
// holder display name capped at 64 runes.
func (m *Manager) Mint(ttl time.Duration, holderName string) (string, error) {
	if runes := []rune(holderName); len(runes) > maxHolderNameLen {
		holderName = string(runes[:maxHolderNameLen])
	}

	now := time.Now()
	claims := Claims{
		Purpose:    Purpose,
		HolderName: holderName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Verify validates signature, expiry and purpose. The specific cause is
// logged at debug level and never returned.
func (m *Manager) Verify(tok string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tok, claims,
		func(t *jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		log.Debug().Err(err).Msg("credential rejected")
		return nil, ErrInvalidToken
	}
	if claims.Purpose != Purpose {
		log.Debug().Str("purpose", claims.Purpose).Msg("credential rejected: wrong purpose")
		return nil, ErrInvalidToken
	}
	return claims, nil
}
