package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/traffic-auth/internal"
	userDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/user"
	"github.com/frahmantamala/traffic-auth/internal/user"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository expects db to be opened with TranslateError enabled so
// unique violations surface as gorm.ErrDuplicatedKey.
func NewUserRepository(db *gorm.DB) user.RepositoryAPI {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	row := user.ToDataModel(u)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return internal.ErrDuplicateUser.WithCause(err)
		}
		return err
	}
	*u = *user.FromDataModel(row)
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	var row userDatamodel.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user.FromDataModel(&row), nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	var row userDatamodel.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user.FromDataModel(&row), nil
}

// lockExpired matches a lock whose deadline passed at the bound time.
const lockExpired = "(locked_until IS NOT NULL AND locked_until <= ?)"

// RecordFailedLogin counts one failure in a single conditional UPDATE, so
// concurrent attempts serialize on the row and none is lost. A lock still
// running at now is left untouched. An expired lock is cleared before
// counting, and reaching threshold locks until now+lockFor with the counter
// reset. The read back runs in the same transaction and sees this write.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id int64, now time.Time, threshold int, lockFor time.Duration) (*user.LockState, bool, error) {
	now = now.UTC()
	until := now.Add(lockFor)
	attempts := "(CASE WHEN " + lockExpired + " THEN 1 ELSE failed_login_attempts + 1 END)"

	var (
		state   *user.LockState
		tripped bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&userDatamodel.User{}).
			Where("id = ? AND (locked_until IS NULL OR locked_until <= ?)", id, now).
			Updates(map[string]interface{}{
				"failed_login_attempts": gorm.Expr("CASE WHEN "+attempts+" >= ? THEN 0 ELSE "+attempts+" END", now, threshold, now),
				"locked_until":          gorm.Expr("CASE WHEN "+attempts+" >= ? THEN ? ELSE CAST(NULL AS TIMESTAMPTZ) END", now, threshold, until),
				"lock_version":          gorm.Expr("lock_version + 1"),
				"updated_at":            time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}

		var row userDatamodel.User
		err := tx.Select("failed_login_attempts", "locked_until").Where("id = ?", id).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		state = &user.LockState{FailedAttempts: row.FailedLoginAttempts, LockedUntil: row.LockedUntil}
		tripped = res.RowsAffected == 1 && row.LockedUntil != nil
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return state, tripped, nil
}

func (r *UserRepository) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&userDatamodel.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"failed_login_attempts": 0,
			"locked_until":          nil,
			"last_login":            at,
			"lock_version":          gorm.Expr("lock_version + 1"),
			"updated_at":            time.Now().UTC(),
		}).Error
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string, changedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&userDatamodel.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"password_hash":       passwordHash,
			"password_changed_at": changedAt,
			"updated_at":          time.Now().UTC(),
		}).Error
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, update user.ProfileUpdate) error {
	fields := map[string]interface{}{}
	if update.FullName != nil {
		fields["full_name"] = *update.FullName
	}
	if update.Phone != nil {
		fields["phone"] = *update.Phone
	}
	if update.Department != nil {
		fields["department"] = *update.Department
	}
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now().UTC()

	return r.db.WithContext(ctx).
		Model(&userDatamodel.User{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *UserRepository) SetActive(ctx context.Context, id int64, active bool) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&userDatamodel.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
