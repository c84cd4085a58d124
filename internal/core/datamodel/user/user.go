package user

import "time"

type User struct {
	ID                  int64      `gorm:"primaryKey"`
	Email               string     `gorm:"column:email;uniqueIndex;size:255;not null"`
	Username            string     `gorm:"column:username;uniqueIndex;size:100;not null"`
	PasswordHash        string     `gorm:"column:password_hash;not null"`
	FullName            string     `gorm:"column:full_name"`
	Phone               string     `gorm:"column:phone"`
	Department          string     `gorm:"column:department"`
	IsActive            bool       `gorm:"column:is_active;not null"`
	IsVerified          bool       `gorm:"column:is_verified;not null"`
	IsSuperuser         bool       `gorm:"column:is_superuser;not null"`
	FailedLoginAttempts int        `gorm:"column:failed_login_attempts;not null"`
	LockedUntil         *time.Time `gorm:"column:locked_until"`
	LockVersion         int64      `gorm:"column:lock_version;not null"`
	LastLogin           *time.Time `gorm:"column:last_login"`
	PasswordChangedAt   *time.Time `gorm:"column:password_changed_at"`
	CreatedAt           time.Time  `gorm:"column:created_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at"`
}

func (User) TableName() string {
	return "users"
}
