package auth

import (
	"strings"

	"github.com/frahmantamala/traffic-auth/internal/core/common/validation"
)

type RegisterDTO struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Department string `json:"department,omitempty"`
}

// Validate reports malformed identity fields as ErrValidationFailed and a
// weak password as ErrWeakPassword, in that order.
func (d RegisterDTO) Validate() error {
	if appErr := validation.ValidateUsername(d.Username); appErr != nil {
		return appErr
	}
	if appErr := validation.ValidateEmail(d.Email); appErr != nil {
		return appErr
	}
	v := validation.NewValidator()
	v.Field("full_name", d.FullName).MaxLength(255)
	v.Field("phone", d.Phone).MaxLength(50)
	v.Field("department", d.Department).MaxLength(100)
	if err := v.Err(); err != nil {
		return err
	}
	if appErr := validation.ValidatePasswordStrength(d.Password); appErr != nil {
		return appErr
	}
	return nil
}

func (d *RegisterDTO) normalize() {
	d.Username = strings.TrimSpace(d.Username)
	d.Email = strings.ToLower(strings.TrimSpace(d.Email))
	d.FullName = strings.TrimSpace(d.FullName)
}

// LoginDTO carries the credentials and the client the attempt came from. The
// client fields are filled by the handler, never by the request body.
type LoginDTO struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

func (d LoginDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("username", d.Username).Required().MaxLength(validation.UsernameMaxLength)
	v.Field("password", d.Password).Required()
	return v.Err()
}

type RefreshTokenDTO struct {
	RefreshToken string `json:"refresh_token"`
}

func (d RefreshTokenDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("refresh_token", d.RefreshToken).Required()
	return v.Err()
}

type ChangePasswordDTO struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (d ChangePasswordDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("current_password", d.CurrentPassword).Required()
	v.Field("new_password", d.NewPassword).Required()
	return v.Err()
}

type LogoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}
