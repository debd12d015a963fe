package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation     = errors.New("auth: invalid input")
	ErrAuthentication = errors.New("auth: invalid credentials")
	ErrAccountLocked  = errors.New("auth: account locked")
	ErrNotFound       = errors.New("auth: not found")
	ErrForbidden      = errors.New("auth: forbidden")
	ErrConflict       = errors.New("auth: already exists")
	ErrInvalidToken   = errors.New("auth: invalid token")
)

// AuthError is returned for unknown accounts and wrong passwords.
// AttemptsRemaining is nil when no existing account was evaluated.
type AuthError struct {
	AttemptsRemaining *int
}

func (e *AuthError) Error() string {
	if e.AttemptsRemaining == nil {
		return ErrAuthentication.Error()
	}
	return fmt.Sprintf("%s (%d attempts remaining)", ErrAuthentication.Error(), *e.AttemptsRemaining)
}

func (e *AuthError) Unwrap() error { return ErrAuthentication }

// LockedError is returned while an account is inside its lockout window.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked.Error(), e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
