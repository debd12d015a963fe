package auth

import "time"

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutWindow    = 30 * time.Minute
)

// LockoutPolicy is the brute-force state machine. It holds no state itself;
// every method is a pure function of the persisted (attempts, locked_until) pair.
//
// An expired lock does not reset the counter. Only a successful login does, so the
// first failure after expiry locks the account again.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

// DefaultLockoutPolicy returns the 5 attempts / 30 minutes policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: DefaultLockoutThreshold, Window: DefaultLockoutWindow}
}

// Locked reports whether acct must be rejected at now without evaluating a password.
func (p LockoutPolicy) Locked(acct Account, now time.Time) (time.Time, bool) {
	if acct.LockedUntil == nil || !now.Before(*acct.LockedUntil) {
		return time.Time{}, false
	}
	return *acct.LockedUntil, true
}

// OnFailure computes the state after a failed password check from attempts.
func (p LockoutPolicy) OnFailure(attempts int, now time.Time) LockoutState {
	next := attempts + 1
	if next >= p.Threshold {
		until := now.Add(p.Window)
		return LockoutState{Attempts: next, LockedUntil: &until}
	}
	return LockoutState{Attempts: next}
}

// LockUntil is the expiry written when a failure reaches the threshold at now.
func (p LockoutPolicy) LockUntil(now time.Time) time.Time {
	return now.Add(p.Window)
}

// Remaining is max(0, threshold - attempts).
func (p LockoutPolicy) Remaining(attempts int) int {
	if r := p.Threshold - attempts; r > 0 {
		return r
	}
	return 0
}

// LockedAfter reports whether state carries a lock that is still in force at now.
func (p LockoutPolicy) LockedAfter(state LockoutState, now time.Time) bool {
	return state.LockedUntil != nil && now.Before(*state.LockedUntil)
}
