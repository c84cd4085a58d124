package user

import (
	"context"
	"time"

	userDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/user"
)

// User is the credential store record. The password hash and lockout
// bookkeeping never leave the process in JSON.
type User struct {
	ID                  int64      `json:"id"`
	Email               string     `json:"email"`
	Username            string     `json:"username"`
	PasswordHash        string     `json:"-"`
	FullName            string     `json:"full_name,omitempty"`
	Phone               string     `json:"phone,omitempty"`
	Department          string     `json:"department,omitempty"`
	IsActive            bool       `json:"is_active"`
	IsVerified          bool       `json:"is_verified"`
	IsSuperuser         bool       `json:"is_superuser"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LockVersion         int64      `json:"-"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	PasswordChangedAt   *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// LockState is the persisted lockout snapshot of a user.
type LockState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

func (u *User) LockState() LockState {
	return LockState{FailedAttempts: u.FailedLoginAttempts, LockedUntil: u.LockedUntil}
}

type ProfileUpdate struct {
	FullName   *string
	Phone      *string
	Department *string
}

// RepositoryAPI is the credential store. Lookups return (nil, nil) when the
// user does not exist. Create reports internal.ErrDuplicateUser on a unique
// constraint violation.
type RepositoryAPI interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// RecordFailedLogin applies one failed attempt atomically in the store
	// and returns the resulting state, or nil when the user is gone. tripped
	// reports whether this attempt locked the account.
	RecordFailedLogin(ctx context.Context, id int64, now time.Time, threshold int, lockFor time.Duration) (state *LockState, tripped bool, err error)
	RecordLogin(ctx context.Context, id int64, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string, changedAt time.Time) error
	UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) error
	SetActive(ctx context.Context, id int64, active bool) (bool, error)
}

func ToDataModel(u *User) *userDatamodel.User {
	return &userDatamodel.User{
		ID:                  u.ID,
		Email:               u.Email,
		Username:            u.Username,
		PasswordHash:        u.PasswordHash,
		FullName:            u.FullName,
		Phone:               u.Phone,
		Department:          u.Department,
		IsActive:            u.IsActive,
		IsVerified:          u.IsVerified,
		IsSuperuser:         u.IsSuperuser,
		FailedLoginAttempts: u.FailedLoginAttempts,
		LockedUntil:         u.LockedUntil,
		LockVersion:         u.LockVersion,
		LastLogin:           u.LastLogin,
		PasswordChangedAt:   u.PasswordChangedAt,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

func FromDataModel(u *userDatamodel.User) *User {
	return &User{
		ID:                  u.ID,
		Email:               u.Email,
		Username:            u.Username,
		PasswordHash:        u.PasswordHash,
		FullName:            u.FullName,
		Phone:               u.Phone,
		Department:          u.Department,
		IsActive:            u.IsActive,
		IsVerified:          u.IsVerified,
		IsSuperuser:         u.IsSuperuser,
		FailedLoginAttempts: u.FailedLoginAttempts,
		LockedUntil:         u.LockedUntil,
		LockVersion:         u.LockVersion,
		LastLogin:           u.LastLogin,
		PasswordChangedAt:   u.PasswordChangedAt,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}
