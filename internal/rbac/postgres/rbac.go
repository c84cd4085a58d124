package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/traffic-auth/internal"
	rbacDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/rbac"
	userDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/user"
	"github.com/frahmantamala/traffic-auth/internal/rbac"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RBACRepository struct {
	db *gorm.DB
}

func NewRBACRepository(db *gorm.DB) rbac.RepositoryAPI {
	return &RBACRepository{db: db}
}

// ----------------- EVALUATION -----------------

func (r *RBACRepository) PermissionNamesForUser(ctx context.Context, userID int64) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Table("permissions AS p").
		Distinct("p.name").
		Joins("JOIN role_permissions rp ON rp.permission_id = p.id").
		Joins("JOIN roles r ON r.id = rp.role_id").
		Joins("JOIN user_roles ur ON ur.role_id = r.id").
		Where("ur.user_id = ? AND r.is_active = ? AND p.is_active = ?", userID, true, true).
		Order("p.name").
		Pluck("p.name", &names).Error
	return names, err
}

func (r *RBACRepository) RoleNamesForUser(ctx context.Context, userID int64) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Table("roles AS r").
		Joins("JOIN user_roles ur ON ur.role_id = r.id").
		Where("ur.user_id = ? AND r.is_active = ?", userID, true).
		Order("r.name").
		Pluck("r.name", &names).Error
	return names, err
}

func (r *RBACRepository) ServiceAccessLevelsForUser(ctx context.Context, userID int64, serviceKey string) ([]string, error) {
	var levels []string
	err := r.db.WithContext(ctx).
		Table("role_service_access AS rsa").
		Joins("JOIN services s ON s.id = rsa.service_id").
		Joins("JOIN roles r ON r.id = rsa.role_id").
		Joins("JOIN user_roles ur ON ur.role_id = r.id").
		Where("ur.user_id = ? AND s.key = ? AND s.is_active = ? AND r.is_active = ? AND rsa.is_active = ?",
			userID, serviceKey, true, true, true).
		Pluck("rsa.access_level", &levels).Error
	return levels, err
}

func (r *RBACRepository) ActivePermissionNames(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&rbacDatamodel.Permission{}).
		Where("is_active = ?", true).
		Order("name").
		Pluck("name", &names).Error
	return names, err
}

// ----------------- ROLES -----------------

func (r *RBACRepository) CreateRole(ctx context.Context, role *rbacDatamodel.Role) error {
	if err := r.db.WithContext(ctx).Create(role).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return internal.ErrRoleExists.WithCause(err)
		}
		return err
	}
	return nil
}

func (r *RBACRepository) GetRole(ctx context.Context, id int64) (*rbacDatamodel.Role, error) {
	var role rbacDatamodel.Role
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &role, nil
}

func (r *RBACRepository) GetRoleByName(ctx context.Context, name string) (*rbacDatamodel.Role, error) {
	var role rbacDatamodel.Role
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &role, nil
}

func (r *RBACRepository) ListRoles(ctx context.Context, includeInactive bool) ([]*rbacDatamodel.Role, error) {
	var roles []*rbacDatamodel.Role
	q := r.db.WithContext(ctx).Order("name ASC")
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&roles).Error
	return roles, err
}

func (r *RBACRepository) UpdateRole(ctx context.Context, id int64, fields map[string]interface{}, protectSystem bool) (bool, error) {
	fields["updated_at"] = time.Now().UTC()
	q := r.db.WithContext(ctx).Model(&rbacDatamodel.Role{}).Where("id = ?", id)
	if protectSystem {
		q = q.Where("is_system = ?", false)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, internal.ErrRoleExists.WithCause(res.Error)
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteNonSystemRole removes the role and its assignments in one
// transaction. The role row is only deleted when is_system is false.
func (r *RBACRepository) DeleteNonSystemRole(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND is_system = ?", id, false).Delete(&rbacDatamodel.Role{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		if err := tx.Where("role_id = ?", id).Delete(&rbacDatamodel.UserRole{}).Error; err != nil {
			return err
		}
		if err := tx.Where("role_id = ?", id).Delete(&rbacDatamodel.RolePermission{}).Error; err != nil {
			return err
		}
		return tx.Where("role_id = ?", id).Delete(&rbacDatamodel.RoleServiceAccess{}).Error
	})
	return deleted, err
}

// ----------------- PERMISSIONS -----------------

func (r *RBACRepository) CreatePermission(ctx context.Context, perm *rbacDatamodel.Permission) error {
	if err := r.db.WithContext(ctx).Create(perm).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return internal.ErrPermissionExists.WithCause(err)
		}
		return err
	}
	return nil
}

func (r *RBACRepository) GetPermission(ctx context.Context, id int64) (*rbacDatamodel.Permission, error) {
	var perm rbacDatamodel.Permission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&perm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &perm, nil
}

func (r *RBACRepository) GetPermissionByName(ctx context.Context, name string) (*rbacDatamodel.Permission, error) {
	var perm rbacDatamodel.Permission
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&perm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &perm, nil
}

func (r *RBACRepository) ListPermissions(ctx context.Context, includeInactive bool) ([]*rbacDatamodel.Permission, error) {
	var perms []*rbacDatamodel.Permission
	q := r.db.WithContext(ctx).Order("resource ASC, action ASC")
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&perms).Error
	return perms, err
}

func (r *RBACRepository) unreferencedPermission(tx *gorm.DB) *gorm.DB {
	return tx.Where("NOT EXISTS (SELECT 1 FROM role_permissions rp WHERE rp.permission_id = permissions.id)")
}

func (r *RBACRepository) UpdatePermission(ctx context.Context, id int64, fields map[string]interface{}, requireUnreferenced bool) (bool, error) {
	fields["updated_at"] = time.Now().UTC()
	q := r.db.WithContext(ctx).Model(&rbacDatamodel.Permission{}).Where("permissions.id = ?", id)
	if requireUnreferenced {
		q = r.unreferencedPermission(q)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, internal.ErrPermissionExists.WithCause(res.Error)
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *RBACRepository) DeleteUnreferencedPermission(ctx context.Context, id int64) (bool, error) {
	res := r.unreferencedPermission(r.db.WithContext(ctx).Where("permissions.id = ?", id)).
		Delete(&rbacDatamodel.Permission{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ----------------- SERVICES -----------------

func (r *RBACRepository) CreateService(ctx context.Context, svc *rbacDatamodel.Service) error {
	if err := r.db.WithContext(ctx).Create(svc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return internal.ErrServiceExists.WithCause(err)
		}
		return err
	}
	return nil
}

func (r *RBACRepository) GetService(ctx context.Context, id int64) (*rbacDatamodel.Service, error) {
	var svc rbacDatamodel.Service
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&svc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &svc, nil
}

func (r *RBACRepository) GetServiceByKey(ctx context.Context, key string) (*rbacDatamodel.Service, error) {
	var svc rbacDatamodel.Service
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&svc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &svc, nil
}

func (r *RBACRepository) ListServices(ctx context.Context, includeInactive bool) ([]*rbacDatamodel.Service, error) {
	var services []*rbacDatamodel.Service
	q := r.db.WithContext(ctx).Order("name ASC")
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&services).Error
	return services, err
}

func (r *RBACRepository) UpdateService(ctx context.Context, id int64, fields map[string]interface{}) (bool, error) {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&rbacDatamodel.Service{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, internal.ErrServiceExists.WithCause(res.Error)
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *RBACRepository) DeleteUnreferencedService(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("services.id = ?", id).
		Where("NOT EXISTS (SELECT 1 FROM role_service_access rsa WHERE rsa.service_id = services.id)").
		Delete(&rbacDatamodel.Service{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ----------------- ROLE PERMISSIONS -----------------

func (r *RBACRepository) RolePermissions(ctx context.Context, roleID int64) ([]*rbacDatamodel.Permission, error) {
	var perms []*rbacDatamodel.Permission
	err := r.db.WithContext(ctx).
		Joins("JOIN role_permissions rp ON rp.permission_id = permissions.id").
		Where("rp.role_id = ?", roleID).
		Order("permissions.name ASC").
		Find(&perms).Error
	return perms, err
}

func (r *RBACRepository) GrantPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return grantPermissions(r.db.WithContext(ctx), roleID, permissionIDs)
}

func grantPermissions(db *gorm.DB, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]rbacDatamodel.RolePermission, 0, len(permissionIDs))
	for _, pid := range permissionIDs {
		rows = append(rows, rbacDatamodel.RolePermission{RoleID: roleID, PermissionID: pid, CreatedAt: now})
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (r *RBACRepository) RevokePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&rbacDatamodel.RolePermission{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *RBACRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", roleID).Delete(&rbacDatamodel.RolePermission{}).Error; err != nil {
			return err
		}
		return grantPermissions(tx, roleID, permissionIDs)
	})
}

// ----------------- USER ROLES -----------------

func (r *RBACRepository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&userDatamodel.User{}).Where("id = ?", userID).Count(&count).Error
	return count > 0, err
}

func (r *RBACRepository) AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	row := rbacDatamodel.UserRole{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		CreatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (r *RBACRepository) UnassignRole(ctx context.Context, userID, roleID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Delete(&rbacDatamodel.UserRole{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *RBACRepository) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy *int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&rbacDatamodel.UserRole{}).Error; err != nil {
			return err
		}
		if len(roleIDs) == 0 {
			return nil
		}
		now := time.Now().UTC()
		rows := make([]rbacDatamodel.UserRole, 0, len(roleIDs))
		for _, rid := range roleIDs {
			rows = append(rows, rbacDatamodel.UserRole{UserID: userID, RoleID: rid, AssignedBy: assignedBy, CreatedAt: now})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
}

// ----------------- SERVICE ACCESS -----------------

func (r *RBACRepository) RoleServiceAccess(ctx context.Context, roleID int64) ([]*rbac.ServiceAccess, error) {
	type row struct {
		ID          int64
		RoleID      int64
		ServiceID   int64
		ServiceKey  string
		AccessLevel string
		IsActive    bool
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Table("role_service_access AS rsa").
		Select("rsa.id, rsa.role_id, rsa.service_id, s.key AS service_key, rsa.access_level, rsa.is_active").
		Joins("JOIN services s ON s.id = rsa.service_id").
		Where("rsa.role_id = ?", roleID).
		Order("s.key ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*rbac.ServiceAccess, 0, len(rows))
	for _, rw := range rows {
		out = append(out, &rbac.ServiceAccess{
			ID:          rw.ID,
			RoleID:      rw.RoleID,
			ServiceID:   rw.ServiceID,
			ServiceKey:  rw.ServiceKey,
			AccessLevel: rbac.AccessLevel(rw.AccessLevel),
			IsActive:    rw.IsActive,
		})
	}
	return out, nil
}

func (r *RBACRepository) UpsertServiceAccess(ctx context.Context, access *rbacDatamodel.RoleServiceAccess) error {
	now := time.Now().UTC()
	access.CreatedAt = now
	access.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "role_id"}, {Name: "service_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_level", "is_active", "updated_at"}),
	}).Create(access).Error
}

func (r *RBACRepository) RemoveServiceAccess(ctx context.Context, roleID, serviceID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("role_id = ? AND service_id = ?", roleID, serviceID).
		Delete(&rbacDatamodel.RoleServiceAccess{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
