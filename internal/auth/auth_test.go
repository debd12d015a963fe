package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(testSecret, WithTokenClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	acct := Account{ID: "01J0000000000000000000000A", Email: "ops@example.com", Role: RoleDevOps}
	perms := Resolve(RoleDevOps, PermDeleteTenants)

	token, issued, err := issuer.Issue(acct, perms)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !issued.ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", issued.ExpiresAt)
	}

	sess, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sess.UserID != acct.ID || sess.Email != acct.Email || sess.Role != RoleDevOps || sess.ID != issued.ID {
		t.Fatalf("unexpected session %+v", sess)
	}
	if !sess.Permissions.Equal(perms) {
		t.Fatalf("permission snapshot mismatch: %v vs %v", sess.Permissions.Sorted(), perms.Sorted())
	}
}

func TestIssuedSnapshotIsIsolated(t *testing.T) {
	issuer, _ := NewTokenIssuer(testSecret)
	perms := NewPermissionSet(PermManageBilling)
	_, sess, err := issuer.Issue(Account{ID: "u1", Role: RoleBillingAdmin}, perms)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	perms.Add(PermConfigureSystem)
	if sess.Permissions.Has(PermConfigureSystem) {
		t.Fatalf("session must not alias the caller's set")
	}
}

func TestVerifyRejects(t *testing.T) {
	now := time.Now()
	issuer, _ := NewTokenIssuer(testSecret, WithTokenClock(fixedClock(now)))
	token, _, err := issuer.Issue(Account{ID: "u1", Role: RoleReadOnly}, DefaultPermissions(RoleReadOnly))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	later, _ := NewTokenIssuer(testSecret, WithTokenClock(fixedClock(now.Add(25*time.Hour))))
	other, _ := NewTokenIssuer("ffffffffffffffffffffffffffffffff")
	foreign, _ := NewTokenIssuer(testSecret, WithTokenIssuer("someone-else"))

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "u1", "iss": DefaultIssuer, "role": "read_only",
		"iat": now.Unix(), "exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}

	cases := []struct {
		name   string
		issuer *TokenIssuer
		token  string
	}{
		{"expired", later, token},
		{"wrong secret", other, token},
		{"wrong issuer", foreign, token},
		{"tampered", issuer, token[:len(token)-2] + "xx"},
		{"other algorithm", issuer, hs512},
		{"empty", issuer, "  "},
	}
	for _, tc := range cases {
		if _, err := tc.issuer.Verify(tc.token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", tc.name, err)
		}
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer(""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := NewTokenIssuer("short"); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestHasherAndPolicy(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !h.Verify(hash, "correct horse") || h.Verify(hash, "wrong horse") || h.Verify("", "correct horse") {
		t.Fatalf("unexpected verification result")
	}
	if cost, _ := bcrypt.Cost([]byte(hash)); cost != bcrypt.MinCost {
		t.Fatalf("unexpected cost %d", cost)
	}
	if NewHasher(0).cost != DefaultBcryptCost {
		t.Fatalf("zero cost must select default")
	}

	policy := PasswordPolicy{MinLength: 8}
	if err := policy.Validate("1234567"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected short password rejection, got %v", err)
	}
	if err := policy.Validate("12345678"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSessionContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := SessionFromContext(ctx); ok {
		t.Fatalf("unexpected session")
	}
	ctx = ContextWithSession(ctx, Session{UserID: "u7", Role: RoleSupport})
	ctx = ContextWithToken(ctx, "tok")
	sess, ok := SessionFromContext(ctx)
	if !ok || sess.UserID != "u7" {
		t.Fatalf("unexpected session %+v ok=%v", sess, ok)
	}
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token %q", tok)
	}
}
