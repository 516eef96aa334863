// Package jwttoken implements component F's token issuance and
// verification: HS256 tokens carrying iss/sub/aud/exp/iat/jti/device_id/
// business_system_id/app_id/session_version claims, with a process-local
// revocation set keyed by jti.
//
// Grounded on server/auth/token/auth_token.go's TokenAuth struct shape
// (salt/timeout fields, Init/GenSecret/Authenticate methods), adapted from
// an opaque 48-byte HMAC blob to a real JWT because the claim set spec
// §4.F names requires named fields, not a binary layout.
package jwttoken

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token's payload, spec §4.F's named field set.
type Claims struct {
	jwt.RegisteredClaims
	DeviceID         string `json:"device_id"`
	BusinessSystemID string `json:"business_system_id"`
	AppID            string `json:"app_id"`
	SessionVersion   uint64 `json:"session_version"`
}

// Errors surfaced by Verify, classified per spec §7.
var (
	ErrInvalidSignature = errors.New("jwttoken: invalid signature")
	ErrExpired          = errors.New("jwttoken: token expired")
	ErrRevoked          = errors.New("jwttoken: token revoked")
	ErrMalformed        = errors.New("jwttoken: malformed token")
)

// TokenAuth issues and verifies tokens and tracks revoked jtis.
//
// The revocation set is process-local: in a single-process deployment
// (this spec's scope; clustering is a Non-goal) this is sufficient. A
// revoked jti also fails verification by virtue of the device record
// having been deleted or its session_version bumped, which
// store.DeviceRepository callers check independently (see internal/devicestate).
type TokenAuth struct {
	secret   []byte
	issuer   string
	audience string
	lifetime time.Duration

	mu       sync.RWMutex
	revoked  map[string]bool
}

// New builds a TokenAuth. lifetime is the default token validity period
// used when Issue is called with lifetime == 0.
func New(secret []byte, issuer, audience string, lifetime time.Duration) (*TokenAuth, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwttoken: secret too short, want >= 32 bytes, got %d", len(secret))
	}
	if lifetime <= 0 {
		return nil, errors.New("jwttoken: invalid lifetime")
	}
	return &TokenAuth{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		lifetime: lifetime,
		revoked:  make(map[string]bool),
	}, nil
}

// Issue mints a new token for the given subject/device/session_version.
func (ta *TokenAuth) Issue(userID uint64, deviceID, businessSystemID, appID string, sessionVersion uint64, jti string, lifetime time.Duration) (string, time.Time, error) {
	if lifetime == 0 {
		lifetime = ta.lifetime
	}
	now := time.Now().UTC()
	expires := now.Add(lifetime)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ta.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  jwt.ClaimStrings{ta.audience},
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		DeviceID:         deviceID,
		BusinessSystemID: businessSystemID,
		AppID:            appID,
		SessionVersion:   sessionVersion,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ta.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwttoken: sign: %w", err)
	}
	return signed, expires, nil
}

// Verify performs signature, iss, aud, exp and revocation checks (steps 1-2
// of spec §4.F; device-level checks 3-5 are the caller's responsibility via
// internal/devicestate, since they require a repository lookup this
// package deliberately doesn't depend on).
func (ta *TokenAuth) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("jwttoken: unexpected signing method %v", t.Header["alg"])
		}
		return ta.secret, nil
	}, jwt.WithIssuer(ta.issuer), jwt.WithAudience(ta.audience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !token.Valid {
		return nil, ErrMalformed
	}

	ta.mu.RLock()
	revoked := ta.revoked[claims.ID]
	ta.mu.RUnlock()
	if revoked {
		return nil, ErrRevoked
	}

	return claims, nil
}

// Revoke adds a jti to the process-local revocation set.
func (ta *TokenAuth) Revoke(jti string) {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	ta.revoked[jti] = true
}

// IsRevoked reports whether a jti has been revoked.
func (ta *TokenAuth) IsRevoked(jti string) bool {
	ta.mu.RLock()
	defer ta.mu.RUnlock()
	return ta.revoked[jti]
}
