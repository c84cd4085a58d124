package rbac

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/frahmantamala/traffic-auth/internal"
	rbacDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/rbac"
)

// AccessLevel is an ordered grant of a role on a logical service.
type AccessLevel string

const (
	AccessNone   AccessLevel = "none"
	AccessRead   AccessLevel = "read"
	AccessManage AccessLevel = "manage"
)

func (l AccessLevel) rank() int {
	switch l {
	case AccessRead:
		return 1
	case AccessManage:
		return 2
	default:
		return 0
	}
}

func (l AccessLevel) AtLeast(other AccessLevel) bool {
	return l.rank() >= other.rank()
}

func (l AccessLevel) Valid() bool {
	return l == AccessNone || l == AccessRead || l == AccessManage
}

// ParseAccessLevel accepts the stored spelling of a level. An empty string
// means none.
func ParseAccessLevel(s string) (AccessLevel, error) {
	l := AccessLevel(strings.ToLower(strings.TrimSpace(s)))
	if l == "" {
		return AccessNone, nil
	}
	if !l.Valid() {
		return AccessNone, internal.ErrInvalidAccess
	}
	return l, nil
}

// MaxAccessLevel returns the highest level in levels, or AccessNone.
func MaxAccessLevel(levels ...AccessLevel) AccessLevel {
	best := AccessNone
	for _, l := range levels {
		if l.rank() > best.rank() {
			best = l
		}
	}
	return best
}

// Subject is the identity an authorization check is evaluated for.
type Subject struct {
	UserID      int64
	IsSuperuser bool
}

// PermissionSet is the effective permission set of a subject. A superuser set
// reports every permission as held.
type PermissionSet struct {
	names map[string]struct{}
	all   bool
}

func NewPermissionSet(names ...string) PermissionSet {
	set := PermissionSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		set.names[n] = struct{}{}
	}
	return set
}

func superuserSet(names ...string) PermissionSet {
	set := NewPermissionSet(names...)
	set.all = true
	return set
}

func (s PermissionSet) Has(name string) bool {
	if s.all {
		return true
	}
	_, ok := s.names[name]
	return ok
}

func (s PermissionSet) All() bool {
	return s.all
}

// Names returns the concrete permission names in sorted order.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Service struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ServiceAccess struct {
	ID          int64       `json:"id"`
	RoleID      int64       `json:"role_id"`
	ServiceID   int64       `json:"service_id"`
	ServiceKey  string      `json:"service_key"`
	AccessLevel AccessLevel `json:"access_level"`
	IsActive    bool        `json:"is_active"`
}

// RoleDetail is a role with its permissions and service grants.
type RoleDetail struct {
	Role
	Permissions   []*Permission    `json:"permissions"`
	ServiceAccess []*ServiceAccess `json:"service_access"`
}

// EvaluatorRepository holds the read queries used for live authorization.
// Every query considers only active roles, permissions and services.
type EvaluatorRepository interface {
	PermissionNamesForUser(ctx context.Context, userID int64) ([]string, error)
	RoleNamesForUser(ctx context.Context, userID int64) ([]string, error)
	ServiceAccessLevelsForUser(ctx context.Context, userID int64, serviceKey string) ([]string, error)
	ActivePermissionNames(ctx context.Context) ([]string, error)
}

// RepositoryAPI is the RBAC store. Get methods return (nil, nil) when the row
// does not exist. Conditional deletes report whether a row was removed.
type RepositoryAPI interface {
	EvaluatorRepository

	CreateRole(ctx context.Context, role *rbacDatamodel.Role) error
	GetRole(ctx context.Context, id int64) (*rbacDatamodel.Role, error)
	GetRoleByName(ctx context.Context, name string) (*rbacDatamodel.Role, error)
	ListRoles(ctx context.Context, includeInactive bool) ([]*rbacDatamodel.Role, error)
	// UpdateRole applies fields. When protectSystem is set the write only
	// matches non-system roles.
	UpdateRole(ctx context.Context, id int64, fields map[string]interface{}, protectSystem bool) (bool, error)
	DeleteNonSystemRole(ctx context.Context, id int64) (bool, error)

	CreatePermission(ctx context.Context, perm *rbacDatamodel.Permission) error
	GetPermission(ctx context.Context, id int64) (*rbacDatamodel.Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*rbacDatamodel.Permission, error)
	ListPermissions(ctx context.Context, includeInactive bool) ([]*rbacDatamodel.Permission, error)
	// UpdatePermission applies fields. When requireUnreferenced is set the
	// write only matches permissions no role holds.
	UpdatePermission(ctx context.Context, id int64, fields map[string]interface{}, requireUnreferenced bool) (bool, error)
	DeleteUnreferencedPermission(ctx context.Context, id int64) (bool, error)

	CreateService(ctx context.Context, svc *rbacDatamodel.Service) error
	GetService(ctx context.Context, id int64) (*rbacDatamodel.Service, error)
	GetServiceByKey(ctx context.Context, key string) (*rbacDatamodel.Service, error)
	ListServices(ctx context.Context, includeInactive bool) ([]*rbacDatamodel.Service, error)
	UpdateService(ctx context.Context, id int64, fields map[string]interface{}) (bool, error)
	DeleteUnreferencedService(ctx context.Context, id int64) (bool, error)

	RolePermissions(ctx context.Context, roleID int64) ([]*rbacDatamodel.Permission, error)
	GrantPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	RevokePermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	UserExists(ctx context.Context, userID int64) (bool, error)
	AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64) error
	UnassignRole(ctx context.Context, userID, roleID int64) (bool, error)
	// ReplaceUserRoles swaps the user's whole role set in one transaction.
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy *int64) error

	RoleServiceAccess(ctx context.Context, roleID int64) ([]*ServiceAccess, error)
	UpsertServiceAccess(ctx context.Context, access *rbacDatamodel.RoleServiceAccess) error
	RemoveServiceAccess(ctx context.Context, roleID, serviceID int64) (bool, error)
}

func RoleFromDataModel(r *rbacDatamodel.Role) *Role {
	return &Role{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		IsActive:    r.IsActive,
		IsSystem:    r.IsSystem,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func PermissionFromDataModel(p *rbacDatamodel.Permission) *Permission {
	return &Permission{
		ID:          p.ID,
		Name:        p.Name,
		Resource:    p.Resource,
		Action:      p.Action,
		Description: p.Description,
		IsActive:    p.IsActive,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func ServiceFromDataModel(s *rbacDatamodel.Service) *Service {
	return &Service{
		ID:          s.ID,
		Key:         s.Key,
		Name:        s.Name,
		Description: s.Description,
		IsActive:    s.IsActive,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
