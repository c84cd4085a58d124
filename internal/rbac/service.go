package rbac

import (
	"context"
	"log/slog"
	"strings"

	"github.com/frahmantamala/traffic-auth/internal"
	rbacDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/rbac"
	"github.com/frahmantamala/traffic-auth/internal/core/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Manager manages roles, permissions, services and their links. Every write
// drops cached permission sets and emits an rbac.changed event.
type Manager struct {
	repo      RepositoryAPI
	evaluator *Evaluator
	publisher EventPublisher
	logger    *slog.Logger
}

func NewManager(repo RepositoryAPI, evaluator *Evaluator, publisher EventPublisher, logger *slog.Logger) *Manager {
	return &Manager{
		repo:      repo,
		evaluator: evaluator,
		publisher: publisher,
		logger:    logger,
	}
}

func storeError(err error) error {
	if _, ok := internal.IsAppError(err); ok {
		return err
	}
	return internal.ErrStoreUnavailable.WithCause(err)
}

func (m *Manager) changed(ctx context.Context, actorID int64, action, targetType string, targetID int64, data map[string]interface{}) {
	if m.evaluator != nil {
		m.evaluator.Invalidate(ctx)
	}
	m.logger.Info("rbac changed",
		"actor_id", actorID,
		"action", action,
		"target_type", targetType,
		"target_id", targetID)
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, events.NewRBACChangedEvent(actorID, action, targetType, targetID, data)); err != nil {
		m.logger.Warn("failed to publish rbac event", "action", action, "error", err)
	}
}

// ----------------- ROLES -----------------

func (m *Manager) ListRoles(ctx context.Context, includeInactive bool) ([]*Role, error) {
	rows, err := m.repo.ListRoles(ctx, includeInactive)
	if err != nil {
		return nil, storeError(err)
	}
	roles := make([]*Role, 0, len(rows))
	for _, r := range rows {
		roles = append(roles, RoleFromDataModel(r))
	}
	return roles, nil
}

func (m *Manager) getRole(ctx context.Context, id int64) (*rbacDatamodel.Role, error) {
	row, err := m.repo.GetRole(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if row == nil {
		return nil, internal.ErrRoleNotFound
	}
	return row, nil
}

func (m *Manager) GetRole(ctx context.Context, id int64) (*RoleDetail, error) {
	row, err := m.getRole(ctx, id)
	if err != nil {
		return nil, err
	}

	perms, err := m.repo.RolePermissions(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	access, err := m.repo.RoleServiceAccess(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}

	detail := &RoleDetail{
		Role:          *RoleFromDataModel(row),
		Permissions:   make([]*Permission, 0, len(perms)),
		ServiceAccess: access,
	}
	for _, p := range perms {
		detail.Permissions = append(detail.Permissions, PermissionFromDataModel(p))
	}
	if detail.ServiceAccess == nil {
		detail.ServiceAccess = []*ServiceAccess{}
	}
	return detail, nil
}

func (m *Manager) CreateRole(ctx context.Context, actorID int64, dto CreateRoleDTO) (*Role, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if err := m.requirePermissions(ctx, dto.PermissionIDs); err != nil {
		return nil, err
	}

	row := &rbacDatamodel.Role{
		Name:        strings.TrimSpace(dto.Name),
		Description: dto.Description,
		IsActive:    true,
	}
	if err := m.repo.CreateRole(ctx, row); err != nil {
		return nil, storeError(err)
	}
	if err := m.repo.GrantPermissions(ctx, row.ID, dto.PermissionIDs); err != nil {
		return nil, storeError(err)
	}

	m.changed(ctx, actorID, "role.created", "role", row.ID, map[string]interface{}{"name": row.Name})
	return RoleFromDataModel(row), nil
}

// UpdateRole renames, describes or toggles a role. System roles may only have
// their description changed.
func (m *Manager) UpdateRole(ctx context.Context, actorID, id int64, dto UpdateRoleDTO) (*Role, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	fields := dto.fields()
	if len(fields) == 0 {
		row, err := m.getRole(ctx, id)
		if err != nil {
			return nil, err
		}
		return RoleFromDataModel(row), nil
	}

	protectSystem := dto.Name != nil || dto.IsActive != nil
	ok, err := m.repo.UpdateRole(ctx, id, fields, protectSystem)
	if err != nil {
		return nil, storeError(err)
	}

	row, err := m.getRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		if row.IsSystem {
			return nil, internal.ErrSystemRoleProtected
		}
		return nil, internal.ErrRoleNotFound
	}

	m.changed(ctx, actorID, "role.updated", "role", id, nil)
	return RoleFromDataModel(row), nil
}

func (m *Manager) DeleteRole(ctx context.Context, actorID, id int64) error {
	ok, err := m.repo.DeleteNonSystemRole(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		if _, err := m.getRole(ctx, id); err != nil {
			return err
		}
		return internal.ErrSystemRoleProtected
	}

	m.changed(ctx, actorID, "role.deleted", "role", id, nil)
	return nil
}

func (m *Manager) requirePermissions(ctx context.Context, ids []int64) error {
	for _, pid := range ids {
		p, err := m.repo.GetPermission(ctx, pid)
		if err != nil {
			return storeError(err)
		}
		if p == nil {
			return internal.ErrPermissionNotFound.WithDetails(map[string]interface{}{"permission_id": pid})
		}
	}
	return nil
}

func (m *Manager) GrantPermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	if _, err := m.getRole(ctx, roleID); err != nil {
		return err
	}
	if err := m.requirePermissions(ctx, permissionIDs); err != nil {
		return err
	}
	if err := m.repo.GrantPermissions(ctx, roleID, permissionIDs); err != nil {
		return storeError(err)
	}

	m.changed(ctx, actorID, "role.permissions_granted", "role", roleID,
		map[string]interface{}{"permission_ids": permissionIDs})
	return nil
}

func (m *Manager) SetRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	if _, err := m.getRole(ctx, roleID); err != nil {
		return err
	}
	if err := m.requirePermissions(ctx, permissionIDs); err != nil {
		return err
	}
	if err := m.repo.ReplaceRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return storeError(err)
	}

	m.changed(ctx, actorID, "role.permissions_replaced", "role", roleID,
		map[string]interface{}{"permission_ids": permissionIDs})
	return nil
}

func (m *Manager) RevokePermission(ctx context.Context, actorID, roleID, permissionID int64) error {
	ok, err := m.repo.RevokePermission(ctx, roleID, permissionID)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		if _, err := m.getRole(ctx, roleID); err != nil {
			return err
		}
		return internal.ErrPermissionNotFound
	}

	m.changed(ctx, actorID, "role.permission_revoked", "role", roleID,
		map[string]interface{}{"permission_id": permissionID})
	return nil
}

// ----------------- PERMISSIONS -----------------

func (m *Manager) ListPermissions(ctx context.Context, includeInactive bool) ([]*Permission, error) {
	rows, err := m.repo.ListPermissions(ctx, includeInactive)
	if err != nil {
		return nil, storeError(err)
	}
	perms := make([]*Permission, 0, len(rows))
	for _, p := range rows {
		perms = append(perms, PermissionFromDataModel(p))
	}
	return perms, nil
}

func (m *Manager) CreatePermission(ctx context.Context, actorID int64, dto CreatePermissionDTO) (*Permission, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	row := &rbacDatamodel.Permission{
		Name:        dto.PermissionName(),
		Resource:    strings.TrimSpace(dto.Resource),
		Action:      strings.TrimSpace(dto.Action),
		Description: dto.Description,
		IsActive:    true,
	}
	if err := m.repo.CreatePermission(ctx, row); err != nil {
		return nil, storeError(err)
	}

	m.changed(ctx, actorID, "permission.created", "permission", row.ID, map[string]interface{}{"name": row.Name})
	return PermissionFromDataModel(row), nil
}

// UpdatePermission changes a permission. Name, resource and action are frozen
// once any role holds the permission.
func (m *Manager) UpdatePermission(ctx context.Context, actorID, id int64, dto UpdatePermissionDTO) (*Permission, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	fields := dto.fields()
	if len(fields) > 0 {
		ok, err := m.repo.UpdatePermission(ctx, id, fields, dto.changesIdentity())
		if err != nil {
			return nil, storeError(err)
		}
		if !ok {
			row, err := m.repo.GetPermission(ctx, id)
			if err != nil {
				return nil, storeError(err)
			}
			if row == nil {
				return nil, internal.ErrPermissionNotFound
			}
			return nil, internal.ErrPermissionInUse
		}
		m.changed(ctx, actorID, "permission.updated", "permission", id, nil)
	}

	row, err := m.repo.GetPermission(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if row == nil {
		return nil, internal.ErrPermissionNotFound
	}
	return PermissionFromDataModel(row), nil
}

func (m *Manager) DeletePermission(ctx context.Context, actorID, id int64) error {
	ok, err := m.repo.DeleteUnreferencedPermission(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		row, err := m.repo.GetPermission(ctx, id)
		if err != nil {
			return storeError(err)
		}
		if row == nil {
			return internal.ErrPermissionNotFound
		}
		return internal.ErrPermissionInUse
	}

	m.changed(ctx, actorID, "permission.deleted", "permission", id, nil)
	return nil
}

// ----------------- SERVICES -----------------

func (m *Manager) ListServices(ctx context.Context, includeInactive bool) ([]*Service, error) {
	rows, err := m.repo.ListServices(ctx, includeInactive)
	if err != nil {
		return nil, storeError(err)
	}
	services := make([]*Service, 0, len(rows))
	for _, r := range rows {
		services = append(services, ServiceFromDataModel(r))
	}
	return services, nil
}

func (m *Manager) CreateService(ctx context.Context, actorID int64, dto CreateServiceDTO) (*Service, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	row := &rbacDatamodel.Service{
		Key:         strings.TrimSpace(dto.Key),
		Name:        strings.TrimSpace(dto.Name),
		Description: dto.Description,
		IsActive:    true,
	}
	if err := m.repo.CreateService(ctx, row); err != nil {
		return nil, storeError(err)
	}

	m.changed(ctx, actorID, "service.created", "service", row.ID, map[string]interface{}{"key": row.Key})
	return ServiceFromDataModel(row), nil
}

func (m *Manager) UpdateService(ctx context.Context, actorID, id int64, dto UpdateServiceDTO) (*Service, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if fields := dto.fields(); len(fields) > 0 {
		ok, err := m.repo.UpdateService(ctx, id, fields)
		if err != nil {
			return nil, storeError(err)
		}
		if !ok {
			return nil, internal.ErrServiceNotFound
		}
		m.changed(ctx, actorID, "service.updated", "service", id, nil)
	}

	row, err := m.repo.GetService(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if row == nil {
		return nil, internal.ErrServiceNotFound
	}
	return ServiceFromDataModel(row), nil
}

func (m *Manager) DeleteService(ctx context.Context, actorID, id int64) error {
	ok, err := m.repo.DeleteUnreferencedService(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		row, err := m.repo.GetService(ctx, id)
		if err != nil {
			return storeError(err)
		}
		if row == nil {
			return internal.ErrServiceNotFound
		}
		return internal.ErrServiceInUse
	}

	m.changed(ctx, actorID, "service.deleted", "service", id, nil)
	return nil
}

// ----------------- ASSIGNMENTS -----------------

func (m *Manager) AssignRole(ctx context.Context, actorID, userID, roleID int64) error {
	exists, err := m.repo.UserExists(ctx, userID)
	if err != nil {
		return storeError(err)
	}
	if !exists {
		return internal.ErrUserNotFound
	}
	if _, err := m.getRole(ctx, roleID); err != nil {
		return err
	}

	var assignedBy *int64
	if actorID > 0 {
		assignedBy = &actorID
	}
	if err := m.repo.AssignRole(ctx, userID, roleID, assignedBy); err != nil {
		return storeError(err)
	}

	m.changed(ctx, actorID, "user.role_assigned", "user", userID, map[string]interface{}{"role_id": roleID})
	return nil
}

// AssignRoleByName resolves the role by name first. Used by the seeder and CLI.
func (m *Manager) AssignRoleByName(ctx context.Context, actorID, userID int64, roleName string) error {
	row, err := m.repo.GetRoleByName(ctx, roleName)
	if err != nil {
		return storeError(err)
	}
	if row == nil {
		return internal.ErrRoleNotFound
	}
	return m.AssignRole(ctx, actorID, userID, row.ID)
}

func (m *Manager) UnassignRole(ctx context.Context, actorID, userID, roleID int64) error {
	ok, err := m.repo.UnassignRole(ctx, userID, roleID)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return internal.ErrRoleNotFound
	}

	m.changed(ctx, actorID, "user.role_unassigned", "user", userID, map[string]interface{}{"role_id": roleID})
	return nil
}

// SetUserRoles replaces every role of the user. Unknown roles fail the call
// before anything is written; an empty list clears the user's roles.
func (m *Manager) SetUserRoles(ctx context.Context, actorID, userID int64, roleIDs []int64) error {
	exists, err := m.repo.UserExists(ctx, userID)
	if err != nil {
		return storeError(err)
	}
	if !exists {
		return internal.ErrUserNotFound
	}

	ids := make([]int64, 0, len(roleIDs))
	seen := make(map[int64]bool, len(roleIDs))
	for _, id := range roleIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := m.getRole(ctx, id); err != nil {
			return err
		}
		ids = append(ids, id)
	}

	var assignedBy *int64
	if actorID > 0 {
		assignedBy = &actorID
	}
	if err := m.repo.ReplaceUserRoles(ctx, userID, ids, assignedBy); err != nil {
		return storeError(err)
	}

	m.changed(ctx, actorID, "user.roles_replaced", "user", userID, map[string]interface{}{"role_ids": ids})
	return nil
}

// ----------------- SERVICE ACCESS -----------------

func (m *Manager) SetServiceAccess(ctx context.Context, actorID, roleID, serviceID int64, level string) (*ServiceAccess, error) {
	parsed, err := ParseAccessLevel(level)
	if err != nil {
		return nil, err
	}
	if _, err := m.getRole(ctx, roleID); err != nil {
		return nil, err
	}
	svc, err := m.repo.GetService(ctx, serviceID)
	if err != nil {
		return nil, storeError(err)
	}
	if svc == nil {
		return nil, internal.ErrServiceNotFound
	}

	row := &rbacDatamodel.RoleServiceAccess{
		RoleID:      roleID,
		ServiceID:   serviceID,
		AccessLevel: string(parsed),
		IsActive:    true,
	}
	if err := m.repo.UpsertServiceAccess(ctx, row); err != nil {
		return nil, storeError(err)
	}

	m.changed(ctx, actorID, "role.service_access_set", "role", roleID,
		map[string]interface{}{"service_key": svc.Key, "access_level": string(parsed)})
	return &ServiceAccess{
		ID:          row.ID,
		RoleID:      roleID,
		ServiceID:   serviceID,
		ServiceKey:  svc.Key,
		AccessLevel: parsed,
		IsActive:    true,
	}, nil
}

// SetServiceAccessByKey resolves role name and service key. Used by the
// seeder and CLI.
func (m *Manager) SetServiceAccessByKey(ctx context.Context, actorID int64, roleName, serviceKey, level string) (*ServiceAccess, error) {
	role, err := m.repo.GetRoleByName(ctx, roleName)
	if err != nil {
		return nil, storeError(err)
	}
	if role == nil {
		return nil, internal.ErrRoleNotFound
	}
	svc, err := m.repo.GetServiceByKey(ctx, serviceKey)
	if err != nil {
		return nil, storeError(err)
	}
	if svc == nil {
		return nil, internal.ErrServiceNotFound
	}
	return m.SetServiceAccess(ctx, actorID, role.ID, svc.ID, level)
}

func (m *Manager) RemoveServiceAccess(ctx context.Context, actorID, roleID, serviceID int64) error {
	ok, err := m.repo.RemoveServiceAccess(ctx, roleID, serviceID)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return internal.ErrServiceAccessNotFound
	}

	m.changed(ctx, actorID, "role.service_access_removed", "role", roleID,
		map[string]interface{}{"service_id": serviceID})
	return nil
}
