package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer   = "qazna-superadmin"
	DefaultTokenTTL = 24 * time.Hour

	minSecretBytes = 16
)

var errMissingSecret = errors.New("auth: token secret is not configured")

// sessionClaims is the JWT payload. The permission list is a snapshot taken at issuance.
type sessionClaims struct {
	Email       string   `json:"email"`
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 session tokens. Verification needs only the
// shared secret, never the store.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithTokenIssuer overrides the iss claim.
func WithTokenIssuer(iss string) TokenOption {
	return func(t *TokenIssuer) {
		if iss = strings.TrimSpace(iss); iss != "" {
			t.issuer = iss
		}
	}
}

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(t *TokenIssuer) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithTokenClock injects the clock used for iat/exp and validation.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *TokenIssuer) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokenIssuer validates secret and applies opts.
func NewTokenIssuer(secret string, opts ...TokenOption) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("auth: token secret must be at least %d bytes", minSecretBytes)
	}
	t := &TokenIssuer{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue signs a token for acct carrying perms.
func (t *TokenIssuer) Issue(acct Account, perms PermissionSet) (string, Session, error) {
	if strings.TrimSpace(acct.ID) == "" {
		return "", Session{}, errors.New("auth: account id is required")
	}
	now := t.now().UTC().Truncate(time.Second)
	sess := Session{
		ID:          uuid.NewString(),
		UserID:      acct.ID,
		Email:       acct.Email,
		Role:        acct.Role,
		Permissions: NewPermissionSet(perms.Sorted()...),
		IssuedAt:    now,
		ExpiresAt:   now.Add(t.ttl),
	}
	claims := sessionClaims{
		Email:       sess.Email,
		Role:        sess.Role,
		Permissions: sess.Permissions.Strings(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   sess.UserID,
			IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			ID:        sess.ID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, sess, nil
}

// Verify checks signature, issuer and expiry and returns the embedded session.
// Every failure is reported as ErrInvalidToken.
func (t *TokenIssuer) Verify(raw string) (Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Session{}, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
		jwt.WithLeeway(5*time.Second),
	)
	var claims sessionClaims
	parsed, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Session{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return Session{}, ErrInvalidToken
	}
	if !claims.Role.Valid() {
		return Session{}, ErrInvalidToken
	}
	perms := make(PermissionSet, len(claims.Permissions))
	for _, p := range claims.Permissions {
		perm := Permission(p)
		if !perm.Valid() {
			return Session{}, ErrInvalidToken
		}
		perms.Add(perm)
	}
	return Session{
		ID:          claims.ID,
		UserID:      claims.Subject,
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: perms,
		IssuedAt:    claims.IssuedAt.Time.UTC(),
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
	}, nil
}
