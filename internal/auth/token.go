// Package auth implements bearer-token issuance and verification, HS256
// over a shared secret, plus the per-token rate limiter enforcing the
// relay's request caps. A single process holds both ends of the
// signature, so there's no asymmetric key distribution problem to solve.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/principal"
)

const clockSkewTolerance = 30 * time.Second

var (
	ErrInvalidToken = errors.New("auth: invalid or expired token")

	// ErrTokenExpired, ErrTokenMalformed, and ErrTokenInvalidSignature
	// narrow ErrInvalidToken with the reason VerifyToken failed, so
	// callers that need it for audit purposes can recover it with
	// errors.Is without VerifyToken's return type growing a second value.
	ErrTokenExpired          = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrTokenMalformed        = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrTokenInvalidSignature = fmt.Errorf("%w: invalid_signature", ErrInvalidToken)
)

// Reason maps a VerifyToken error to the short string recorded in an
// AUTH_FAILURE audit event's failure reason field.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, ErrTokenInvalidSignature):
		return "invalid_signature"
	default:
		return "invalid"
	}
}

// Claims is the relay's JWT payload shape.
type Claims struct {
	jwt.RegisteredClaims
	Role                 principal.Role `json:"role"`
	Permissions          []string       `json:"permissions,omitempty"`
	NodeID               string         `json:"node_id,omitempty"`
	ClassificationLevel  string         `json:"classification_level,omitempty"`
}

// TokenManager issues and verifies HS256 bearer tokens against a single
// shared secret, with an optional previous secret accepted during
// rotation so in-flight tokens signed under it keep verifying.
type TokenManager struct {
	secret     []byte
	prevSecret []byte
	issuer     string
	audience   string
	now        func() time.Time
}

type TokenManagerOption func(*TokenManager)

func WithClock(now func() time.Time) TokenManagerOption {
	return func(tm *TokenManager) { tm.now = now }
}

func WithIssuerAudience(issuer, audience string) TokenManagerOption {
	return func(tm *TokenManager) { tm.issuer = issuer; tm.audience = audience }
}

func NewTokenManager(secret []byte, opts ...TokenManagerOption) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: token signing key must be at least 32 bytes")
	}
	tm := &TokenManager{
		secret:   secret,
		issuer:   "tacedge-gateway",
		audience: "tacedge",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm, nil
}

// Rotate installs a new signing secret, retaining the previous one for
// verification only, so tokens already issued keep validating until
// their natural expiry.
func (tm *TokenManager) Rotate(newSecret []byte) error {
	if len(newSecret) < 32 {
		return errors.New("auth: token signing key must be at least 32 bytes")
	}
	tm.prevSecret = tm.secret
	tm.secret = newSecret
	return nil
}

// IssueToken mints a signed bearer token for subject/nodeID under role,
// valid for ttl.
func (tm *TokenManager) IssueToken(subject, nodeID string, role principal.Role, ttl time.Duration) (string, error) {
	perms, err := principal.PermissionsForRole(role)
	if err != nil {
		return "", err
	}
	now := tm.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        newJTI(),
			Subject:   subject,
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{tm.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:                role,
		Permissions:         perms,
		NodeID:              nodeID,
		ClassificationLevel: string(principal.ClassificationCeiling[role]),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// VerifyToken parses and validates tokenString, returning the derived
// Principal. Verification tries the current secret first, then the
// previous one (if set), so rotation never invalidates in-flight tokens.
// The returned error, on failure, is one of ErrTokenExpired,
// ErrTokenMalformed, or ErrTokenInvalidSignature (all wrapping
// ErrInvalidToken) — whichever attempt produced the most specific
// diagnosis — so callers can recover the failure reason with Reason(err)
// for audit purposes without the token itself ever being valid.
func (tm *TokenManager) VerifyToken(tokenString string) (principal.Principal, error) {
	claims, err := tm.parse(tokenString, tm.secret)
	if err != nil && tm.prevSecret != nil {
		var prevErr error
		claims, prevErr = tm.parse(tokenString, tm.prevSecret)
		if prevErr == nil {
			err = nil
		} else if errors.Is(err, ErrTokenInvalidSignature) {
			// The current secret did not sign the token, so the previous
			// secret's diagnosis (e.g. expired) is the more specific one.
			err = prevErr
		}
	}
	if err != nil {
		return principal.Principal{}, err
	}
	return principal.Principal{
		Subject:     claims.Subject,
		NodeID:      claims.NodeID,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		TokenID:     claims.ID,
	}, nil
}

func (tm *TokenManager) parse(tokenString string, secret []byte) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkewTolerance),
		jwt.WithIssuer(tm.issuer),
		jwt.WithAudience(tm.audience),
	)
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenInvalidSignature
		case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, ErrTokenMalformed
		default:
			return nil, ErrInvalidToken
		}
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func newJTI() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
