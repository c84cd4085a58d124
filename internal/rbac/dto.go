package rbac

import (
	"regexp"
	"strings"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/core/common/validation"
)

const (
	nameMaxLength     = 100
	resourceMaxLength = 50
)

var serviceKeyPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

type CreateRoleDTO struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	PermissionIDs []int64 `json:"permission_ids,omitempty"`
}

func (dto CreateRoleDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("name", strings.TrimSpace(dto.Name)).Required().MaxLength(nameMaxLength)
	return v.Err()
}

type UpdateRoleDTO struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

func (dto UpdateRoleDTO) Validate() error {
	v := validation.NewValidator()
	if dto.Name != nil {
		v.Field("name", strings.TrimSpace(*dto.Name)).Required().MaxLength(nameMaxLength)
	}
	return v.Err()
}

func (dto UpdateRoleDTO) fields() map[string]interface{} {
	fields := map[string]interface{}{}
	if dto.Name != nil {
		fields["name"] = strings.TrimSpace(*dto.Name)
	}
	if dto.Description != nil {
		fields["description"] = *dto.Description
	}
	if dto.IsActive != nil {
		fields["is_active"] = *dto.IsActive
	}
	return fields
}

// CreatePermissionDTO names a permission. When Name is empty it is derived as
// resource:action.
type CreatePermissionDTO struct {
	Name        string `json:"name,omitempty"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

func (dto CreatePermissionDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("resource", strings.TrimSpace(dto.Resource)).Required().MaxLength(resourceMaxLength)
	v.Field("action", strings.TrimSpace(dto.Action)).Required().MaxLength(resourceMaxLength)
	v.Field("name", dto.Name).MaxLength(nameMaxLength)
	return v.Err()
}

func (dto CreatePermissionDTO) PermissionName() string {
	if name := strings.TrimSpace(dto.Name); name != "" {
		return name
	}
	return strings.TrimSpace(dto.Resource) + ":" + strings.TrimSpace(dto.Action)
}

type UpdatePermissionDTO struct {
	Name        *string `json:"name,omitempty"`
	Resource    *string `json:"resource,omitempty"`
	Action      *string `json:"action,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

func (dto UpdatePermissionDTO) Validate() error {
	v := validation.NewValidator()
	if dto.Name != nil {
		v.Field("name", strings.TrimSpace(*dto.Name)).Required().MaxLength(nameMaxLength)
	}
	if dto.Resource != nil {
		v.Field("resource", strings.TrimSpace(*dto.Resource)).Required().MaxLength(resourceMaxLength)
	}
	if dto.Action != nil {
		v.Field("action", strings.TrimSpace(*dto.Action)).Required().MaxLength(resourceMaxLength)
	}
	return v.Err()
}

// changesIdentity reports whether the update touches name, resource or action.
func (dto UpdatePermissionDTO) changesIdentity() bool {
	return dto.Name != nil || dto.Resource != nil || dto.Action != nil
}

func (dto UpdatePermissionDTO) fields() map[string]interface{} {
	fields := map[string]interface{}{}
	if dto.Name != nil {
		fields["name"] = strings.TrimSpace(*dto.Name)
	}
	if dto.Resource != nil {
		fields["resource"] = strings.TrimSpace(*dto.Resource)
	}
	if dto.Action != nil {
		fields["action"] = strings.TrimSpace(*dto.Action)
	}
	if dto.Description != nil {
		fields["description"] = *dto.Description
	}
	if dto.IsActive != nil {
		fields["is_active"] = *dto.IsActive
	}
	return fields
}

type CreateServiceDTO struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (dto CreateServiceDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("key", strings.TrimSpace(dto.Key)).Required().MaxLength(nameMaxLength).
		Matches(serviceKeyPattern, "key may only contain lowercase letters, digits, '_' and '-'", internal.ErrCodeValidationFailed)
	v.Field("name", strings.TrimSpace(dto.Name)).Required().MaxLength(nameMaxLength)
	return v.Err()
}

type UpdateServiceDTO struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

func (dto UpdateServiceDTO) Validate() error {
	v := validation.NewValidator()
	if dto.Name != nil {
		v.Field("name", strings.TrimSpace(*dto.Name)).Required().MaxLength(nameMaxLength)
	}
	return v.Err()
}

func (dto UpdateServiceDTO) fields() map[string]interface{} {
	fields := map[string]interface{}{}
	if dto.Name != nil {
		fields["name"] = strings.TrimSpace(*dto.Name)
	}
	if dto.Description != nil {
		fields["description"] = *dto.Description
	}
	if dto.IsActive != nil {
		fields["is_active"] = *dto.IsActive
	}
	return fields
}

type PermissionIDsDTO struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

type AssignRoleDTO struct {
	RoleID int64 `json:"role_id"`
}

func (dto AssignRoleDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("role_id", dto.RoleID).Required()
	return v.Err()
}

type UserRolesDTO struct {
	RoleIDs []int64 `json:"role_ids"`
}

func (dto UserRolesDTO) Validate() error {
	if dto.RoleIDs == nil {
		return internal.NewValidationFieldError("role_ids", "role_ids is required", internal.ErrCodeValidationFailed)
	}
	return nil
}

type ServiceAccessDTO struct {
	AccessLevel string `json:"access_level"`
}

type RolesResponse struct {
	Roles []*Role `json:"roles"`
}

type PermissionsResponse struct {
	Permissions []*Permission `json:"permissions"`
}

type ServicesResponse struct {
	Services []*Service `json:"services"`
}
