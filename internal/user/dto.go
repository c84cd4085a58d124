package user

import (
	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/core/common/validation"
)

type UpdateProfileDTO struct {
	FullName   *string `json:"full_name"`
	Phone      *string `json:"phone"`
	Department *string `json:"department"`
}

func (d UpdateProfileDTO) Validate() error {
	v := validation.NewValidator()
	if d.FullName != nil {
		v.Field("full_name", *d.FullName).MaxLength(255)
	}
	if d.Phone != nil {
		v.Field("phone", *d.Phone).MaxLength(50)
	}
	if d.Department != nil {
		v.Field("department", *d.Department).MaxLength(100)
	}
	return v.Err()
}

func (d UpdateProfileDTO) toUpdate() ProfileUpdate {
	return ProfileUpdate{FullName: d.FullName, Phone: d.Phone, Department: d.Department}
}

type SetStatusDTO struct {
	IsActive *bool `json:"is_active"`
}

func (d SetStatusDTO) Validate() error {
	if d.IsActive == nil {
		return internal.NewValidationFieldError("is_active", "is_active is required", internal.ErrCodeValidationFailed)
	}
	return nil
}
