package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"qazna.org/superadmin/internal/obs"
)

// Login outcomes reported to metrics.
const (
	outcomeSuccess         = "success"
	outcomeInvalidPassword = "invalid_password"
	outcomeUnknownAccount  = "unknown_account"
	outcomeInactive        = "inactive"
	outcomeLocked          = "locked"
	outcomeError           = "error"
)

// Service implements login, session and operator administration on top of a Store.
type Service struct {
	store     Store
	tokens    *TokenIssuer
	auditor   Auditor
	hasher    Hasher
	lockout   LockoutPolicy
	passwords PasswordPolicy
	now       func() time.Time
	log       *zerolog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAuditor routes audit entries to a. Without it entries are dropped.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		if a == nil {
			return errors.New("auth: auditor is nil")
		}
		s.auditor = a
		return nil
	}
}

// WithLockoutPolicy overrides the 5 attempts / 30 minutes default.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) error {
		if p.Threshold <= 0 || p.Window <= 0 {
			return errors.New("auth: lockout threshold and window must be positive")
		}
		s.lockout = p
		return nil
	}
}

// WithPasswordPolicy overrides the minimum password length.
func WithPasswordPolicy(p PasswordPolicy) ServiceOption {
	return func(s *Service) error {
		s.passwords = p
		return nil
	}
}

// WithBcryptCost sets the hashing cost for new passwords.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) error {
		s.hasher = NewHasher(cost)
		return nil
	}
}

// WithClock injects the time source used for lockout decisions.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// WithLogger overrides the shared logger.
func WithLogger(l *zerolog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService wires a Service. store and tokens are required.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is nil")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is nil")
	}
	s := &Service{
		store:     store,
		tokens:    tokens,
		auditor:   nopAuditor{},
		hasher:    NewHasher(DefaultBcryptCost),
		lockout:   DefaultLockoutPolicy(),
		passwords: PasswordPolicy{MinLength: DefaultPasswordMinLength},
		now:       time.Now,
		log:       obs.Logger(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Tokens exposes the issuer so transports can verify sessions.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// LockoutPolicy returns the active lockout policy.
func (s *Service) LockoutPolicy() LockoutPolicy { return s.lockout }

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// LoginResult is a successful login: the signed token and its decoded session.
type LoginResult struct {
	Token   string
	Session Session
	Account Account
}

// Login authenticates email/password. The lock check happens before the password is
// evaluated. Every call past input validation produces exactly one audit entry.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, invalid("email and password are required")
	}

	acct, err := s.store.AccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		// Burn a bcrypt comparison so unknown addresses are not cheaper to probe.
		s.hasher.Verify(s.dummy(), password)
		s.recordLogin(ctx, "", false, ReasonAccountNotFound, map[string]string{"email": email})
		obs.ObserveLogin(outcomeUnknownAccount)
		return LoginResult{}, &AuthError{}
	}
	if err != nil {
		return LoginResult{}, s.loginError(ctx, "", map[string]string{"email": email}, fmt.Errorf("lookup account: %w", err))
	}

	now := s.now().UTC()
	if until, locked := s.lockout.Locked(acct, now); locked {
		s.auditor.Record(ctx, AuditEntry{
			Action:        ActionLoginLocked,
			TargetUserID:  acct.ID,
			FailureReason: ReasonAccountLocked,
			Metadata:      map[string]string{"locked_until": until.Format(time.RFC3339)},
		})
		obs.ObserveLogin(outcomeLocked)
		return LoginResult{}, &LockedError{Until: until}
	}

	if !acct.IsActive {
		s.hasher.Verify(s.dummy(), password)
		s.recordLogin(ctx, acct.ID, false, ReasonAccountInactive, nil)
		obs.ObserveLogin(outcomeInactive)
		return LoginResult{}, &AuthError{}
	}

	if !s.hasher.Verify(acct.PasswordHash, password) {
		return LoginResult{}, s.loginFailed(ctx, acct, now)
	}

	// Lockout state is only reset once a token exists.
	perms, err := s.EffectivePermissions(ctx, acct)
	if err != nil {
		return LoginResult{}, s.loginError(ctx, acct.ID, nil, err)
	}
	token, sess, err := s.tokens.Issue(acct, perms)
	if err != nil {
		return LoginResult{}, s.loginError(ctx, acct.ID, nil, fmt.Errorf("issue token: %w", err))
	}

	if err := s.store.RecordLoginSuccess(ctx, acct.ID, now); err != nil {
		s.log.Error().Err(err).Str("user_id", acct.ID).Msg("reset lockout state failed")
	}
	acct.FailedLoginAttempts = 0
	acct.LockedUntil = nil
	acct.LastLoginAt = &now

	s.recordLogin(ctx, acct.ID, true, "", map[string]string{"session_id": sess.ID})
	obs.ObserveLogin(outcomeSuccess)
	return LoginResult{Token: token, Session: sess, Account: acct}, nil
}

func (s *Service) loginFailed(ctx context.Context, acct Account, now time.Time) error {
	state, err := s.store.RecordLoginFailure(ctx, acct.ID, s.lockout.Threshold, s.lockout.LockUntil(now))
	if err != nil {
		s.log.Error().Err(err).Str("user_id", acct.ID).Msg("record login failure failed")
		state = s.lockout.OnFailure(acct.FailedLoginAttempts, now)
	}
	meta := map[string]string{"attempts": strconv.Itoa(state.Attempts)}
	obs.ObserveLogin(outcomeInvalidPassword)
	if s.lockout.LockedAfter(state, now) {
		meta["locked"] = "true"
		s.recordLogin(ctx, acct.ID, false, ReasonInvalidPassword, meta)
		obs.IncLockout()
		s.log.Warn().Str("user_id", acct.ID).Time("locked_until", *state.LockedUntil).Msg("account locked")
		return &LockedError{Until: *state.LockedUntil}
	}
	s.recordLogin(ctx, acct.ID, false, ReasonInvalidPassword, meta)
	remaining := s.lockout.Remaining(state.Attempts)
	return &AuthError{AttemptsRemaining: &remaining}
}

// loginError audits an attempt that failed for reasons unrelated to the credentials.
// The lockout counter is left alone.
func (s *Service) loginError(ctx context.Context, userID string, meta map[string]string, err error) error {
	s.recordLogin(ctx, userID, false, ReasonInternal, meta)
	obs.ObserveLogin(outcomeError)
	return err
}

func (s *Service) recordLogin(ctx context.Context, userID string, ok bool, reason string, meta map[string]string) {
	action := ActionLoginFailure
	actor := ""
	if ok {
		action = ActionLoginSuccess
		actor = userID
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorUserID:   actor,
		Action:        action,
		TargetUserID:  userID,
		Success:       ok,
		FailureReason: reason,
		Metadata:      meta,
	})
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		buf := make([]byte, 16)
		_, _ = rand.Read(buf)
		hash, err := s.hasher.Hash(hex.EncodeToString(buf))
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

// EffectivePermissions reads the stored grants of acct and unites them with the
// role defaults.
func (s *Service) EffectivePermissions(ctx context.Context, acct Account) (PermissionSet, error) {
	grants, err := s.store.Grants(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	custom := make([]Permission, 0, len(grants))
	for _, g := range grants {
		if g.Permission.Valid() {
			custom = append(custom, g.Permission)
		}
	}
	return Resolve(acct.Role, custom...), nil
}

// Logout audits the end of sess. Clearing the cookie is the transport's job.
func (s *Service) Logout(ctx context.Context, sess Session) {
	s.auditor.Record(ctx, AuditEntry{
		ActorUserID:  sess.UserID,
		Action:       ActionLogout,
		TargetUserID: sess.UserID,
		Success:      true,
		Metadata:     map[string]string{"session_id": sess.ID},
	})
}

// Me returns the current account for sess. Permissions come from the token snapshot,
// not from the store.
func (s *Service) Me(ctx context.Context, sess Session) (Superadmin, error) {
	acct, err := s.store.AccountByID(ctx, sess.UserID)
	if errors.Is(err, ErrNotFound) {
		return Superadmin{}, ErrInvalidToken
	}
	if err != nil {
		return Superadmin{}, err
	}
	return Superadmin{Account: acct, Permissions: sess.Permissions}, nil
}

// ChangePassword replaces the password of the session holder after verifying current.
// A wrong current password does not count towards lockout.
func (s *Service) ChangePassword(ctx context.Context, sess Session, current, next string) error {
	if current == "" || next == "" {
		return invalid("current_password and new_password are required")
	}
	if err := s.passwords.Validate(next); err != nil {
		s.recordPasswordChange(ctx, sess.UserID, ReasonPasswordPolicy)
		return err
	}
	acct, err := s.store.AccountByID(ctx, sess.UserID)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return err
	}
	if !s.hasher.Verify(acct.PasswordHash, current) {
		s.recordPasswordChange(ctx, acct.ID, ReasonInvalidCurrentPassword)
		return &AuthError{}
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.store.UpdateAccount(ctx, acct.ID, AccountUpdate{PasswordHash: &hash}); err != nil {
		return err
	}
	s.recordPasswordChange(ctx, acct.ID, "")
	return nil
}

func (s *Service) recordPasswordChange(ctx context.Context, userID, reason string) {
	s.auditor.Record(ctx, AuditEntry{
		ActorUserID:   userID,
		Action:        ActionPasswordChange,
		TargetUserID:  userID,
		Success:       reason == "",
		FailureReason: reason,
	})
}

// Bootstrap creates the first super_admin when the store holds no accounts.
// It reports whether an account was created.
func (s *Service) Bootstrap(ctx context.Context, email, password string) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return false, nil
	}
	n, err := s.store.CountAccounts(ctx)
	if err != nil {
		return false, fmt.Errorf("count accounts: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	_, err = s.createAccount(ctx, "", NewSuperadmin{
		Email:    email,
		Password: password,
		Name:     "Bootstrap administrator",
		Role:     string(RoleSuperAdmin),
	})
	if errors.Is(err, ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Info().Str("email", email).Msg("bootstrap super_admin created")
	return true, nil
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, AuditEntry) {}

func trimID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalid("id is required")
	}
	return id, nil
}
