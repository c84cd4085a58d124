package rbac

import "time"

type Role struct {
	ID          int64     `gorm:"primaryKey"`
	Name        string    `gorm:"column:name;uniqueIndex;size:100;not null"`
	Description string    `gorm:"column:description"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	IsSystem    bool      `gorm:"column:is_system;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (Role) TableName() string {
	return "roles"
}

type Permission struct {
	ID          int64     `gorm:"primaryKey"`
	Name        string    `gorm:"column:name;uniqueIndex;size:100;not null"`
	Resource    string    `gorm:"column:resource;size:50;not null"`
	Action      string    `gorm:"column:action;size:50;not null"`
	Description string    `gorm:"column:description"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (Permission) TableName() string {
	return "permissions"
}

type Service struct {
	ID          int64     `gorm:"primaryKey"`
	Key         string    `gorm:"column:key;uniqueIndex;size:100;not null"`
	Name        string    `gorm:"column:name;uniqueIndex;size:100;not null"`
	Description string    `gorm:"column:description"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (Service) TableName() string {
	return "services"
}

type UserRole struct {
	UserID     int64     `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	RoleID     int64     `gorm:"column:role_id;primaryKey;autoIncrement:false"`
	AssignedBy *int64    `gorm:"column:assigned_by"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (UserRole) TableName() string {
	return "user_roles"
}

type RolePermission struct {
	RoleID       int64     `gorm:"column:role_id;primaryKey;autoIncrement:false"`
	PermissionID int64     `gorm:"column:permission_id;primaryKey;autoIncrement:false"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (RolePermission) TableName() string {
	return "role_permissions"
}

type RoleServiceAccess struct {
	ID          int64     `gorm:"primaryKey"`
	RoleID      int64     `gorm:"column:role_id;uniqueIndex:idx_role_service;not null"`
	ServiceID   int64     `gorm:"column:service_id;uniqueIndex:idx_role_service;not null"`
	AccessLevel string    `gorm:"column:access_level;size:50;not null"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (RoleServiceAccess) TableName() string {
	return "role_service_access"
}
