package auth_test

import (
	"time"

	"github.com/frahmantamala/traffic-auth/internal/auth"
	"github.com/frahmantamala/traffic-auth/internal/user"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LockoutPolicy", func() {
	policy := auth.LockoutPolicy{Threshold: 3, Duration: 30 * time.Minute}
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	It("counts failures below the threshold", func() {
		state, tripped := policy.OnFailure(user.LockState{}, now)
		Expect(tripped).To(BeFalse())
		Expect(state.FailedAttempts).To(Equal(1))
		Expect(state.LockedUntil).To(BeNil())
	})

	It("locks on the failure that reaches the threshold and resets the count", func() {
		state, tripped := policy.OnFailure(user.LockState{FailedAttempts: 2}, now)
		Expect(tripped).To(BeTrue())
		Expect(state.FailedAttempts).To(BeZero())
		Expect(*state.LockedUntil).To(Equal(now.Add(30 * time.Minute)))
		Expect(policy.IsLocked(state, now.Add(29*time.Minute))).To(BeTrue())
	})

	It("treats an expired lock as unlocked with a clean count", func() {
		until := now.Add(-time.Second)
		stale := user.LockState{FailedAttempts: 2, LockedUntil: &until}

		Expect(policy.IsLocked(stale, now)).To(BeFalse())
		Expect(policy.Effective(stale, now)).To(Equal(user.LockState{}))

		state, tripped := policy.OnFailure(stale, now)
		Expect(tripped).To(BeFalse())
		Expect(state.FailedAttempts).To(Equal(1))
	})

	It("unlocks exactly at the deadline", func() {
		until := now
		Expect(policy.IsLocked(user.LockState{LockedUntil: &until}, now)).To(BeFalse())
	})

	It("clears everything on success", func() {
		Expect(policy.OnSuccess()).To(Equal(user.LockState{}))
	})
})
