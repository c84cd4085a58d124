package auth

import (
	"time"

	"github.com/frahmantamala/traffic-auth/internal/user"
)

// LockoutPolicy is the per-account lockout state machine. It is pure: the
// orchestrator persists the states it returns.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 5, Duration: 30 * time.Minute}
}

// Effective resolves the stored state at now. A lock whose deadline has passed
// reads as unlocked with a cleared counter.
func (p LockoutPolicy) Effective(state user.LockState, now time.Time) user.LockState {
	if state.LockedUntil != nil && !now.Before(*state.LockedUntil) {
		return user.LockState{}
	}
	return state
}

// IsLocked reports whether the account must be rejected without checking the
// password.
func (p LockoutPolicy) IsLocked(state user.LockState, now time.Time) bool {
	return state.LockedUntil != nil && now.Before(*state.LockedUntil)
}

// OnFailure returns the state after a failed attempt and whether this attempt
// tripped the lock. Reaching the threshold locks the account and resets the
// counter.
func (p LockoutPolicy) OnFailure(state user.LockState, now time.Time) (user.LockState, bool) {
	state = p.Effective(state, now)
	attempts := state.FailedAttempts + 1
	if attempts >= p.Threshold {
		until := now.Add(p.Duration)
		return user.LockState{FailedAttempts: 0, LockedUntil: &until}, true
	}
	return user.LockState{FailedAttempts: attempts}, false
}

// OnSuccess returns the cleared state.
func (p LockoutPolicy) OnSuccess() user.LockState {
	return user.LockState{}
}
