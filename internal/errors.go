package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeLocked       ErrorType = "LOCKED"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeUnavailable  ErrorType = "UNAVAILABLE"
	ErrorTypeRateLimited  ErrorType = "RATE_LIMITED"
)

type ErrorCode string

const (
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeWeakPassword       ErrorCode = "WEAK_PASSWORD"
	ErrCodeInvalidUsername    ErrorCode = "INVALID_USERNAME"
	ErrCodeInvalidEmail       ErrorCode = "INVALID_EMAIL"
	ErrCodeInvalidAccessLevel ErrorCode = "INVALID_ACCESS_LEVEL"

	ErrCodeDuplicateUser       ErrorCode = "DUPLICATE_USER"
	ErrCodeInvalidCredentials  ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeAccountLocked       ErrorCode = "ACCOUNT_LOCKED"
	ErrCodeUserInactive        ErrorCode = "USER_INACTIVE"
	ErrCodeInvalidToken        ErrorCode = "INVALID_TOKEN"
	ErrCodeInvalidRefreshToken ErrorCode = "INVALID_REFRESH_TOKEN"
	ErrCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrCodeUserNotFound        ErrorCode = "USER_NOT_FOUND"

	ErrCodeRoleNotFound          ErrorCode = "ROLE_NOT_FOUND"
	ErrCodePermissionNotFound    ErrorCode = "PERMISSION_NOT_FOUND"
	ErrCodeServiceNotFound       ErrorCode = "SERVICE_NOT_FOUND"
	ErrCodeRoleExists            ErrorCode = "ROLE_EXISTS"
	ErrCodePermissionExists      ErrorCode = "PERMISSION_EXISTS"
	ErrCodeServiceExists         ErrorCode = "SERVICE_EXISTS"
	ErrCodeSystemRoleProtected   ErrorCode = "SYSTEM_ROLE_PROTECTED"
	ErrCodePermissionInUse       ErrorCode = "PERMISSION_IN_USE"
	ErrCodeServiceInUse          ErrorCode = "SERVICE_IN_USE"
	ErrCodeServiceAccessNotFound ErrorCode = "SERVICE_ACCESS_NOT_FOUND"
	ErrCodeSessionNotFound       ErrorCode = "SESSION_NOT_FOUND"

	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeTooManyRequests  ErrorCode = "TOO_MANY_REQUESTS"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Type and Code so copies made by WithCause and WithDetails
// still compare equal to the package level sentinels.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithCause returns a copy of e carrying cause. Sentinels are never mutated.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewLockedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeLocked,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusLocked,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       ErrCodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewUnavailableError reports a storage or cache failure. It is never used for
// authentication outcomes.
func NewUnavailableError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Code:       ErrCodeStoreUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimited,
		Code:       ErrCodeTooManyRequests,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

var (
	ErrValidationFailed = NewValidationError("Validation failed", ErrCodeValidationFailed)
	ErrWeakPassword     = NewValidationError("Password does not meet strength requirements", ErrCodeWeakPassword)
	ErrInvalidAccess    = NewValidationError("Unknown access level", ErrCodeInvalidAccessLevel)

	ErrDuplicateUser       = NewConflictError("Email or username already registered", ErrCodeDuplicateUser)
	ErrInvalidCredentials  = NewUnauthorizedError("Invalid username or password", ErrCodeInvalidCredentials)
	ErrAccountLocked       = NewLockedError("Account is temporarily locked", ErrCodeAccountLocked)
	ErrUserInactive        = NewForbiddenError("User account is inactive", ErrCodeUserInactive)
	ErrInvalidToken        = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrInvalidRefreshToken = NewUnauthorizedError("Invalid refresh token", ErrCodeInvalidRefreshToken)
	ErrForbidden           = NewForbiddenError("Insufficient permissions", ErrCodeForbidden)
	ErrUserNotFound        = NewNotFoundError("User not found", ErrCodeUserNotFound)

	ErrRoleNotFound          = NewNotFoundError("Role not found", ErrCodeRoleNotFound)
	ErrPermissionNotFound    = NewNotFoundError("Permission not found", ErrCodePermissionNotFound)
	ErrServiceNotFound       = NewNotFoundError("Service not found", ErrCodeServiceNotFound)
	ErrServiceAccessNotFound = NewNotFoundError("Service access not found", ErrCodeServiceAccessNotFound)
	ErrSessionNotFound       = NewNotFoundError("Session not found", ErrCodeSessionNotFound)
	ErrRateLimited           = NewRateLimitError("Too many requests")
	ErrRoleExists            = NewConflictError("Role name already exists", ErrCodeRoleExists)
	ErrPermissionExists      = NewConflictError("Permission already exists", ErrCodePermissionExists)
	ErrServiceExists         = NewConflictError("Service key or name already exists", ErrCodeServiceExists)
	ErrSystemRoleProtected   = NewConflictError("System roles cannot be modified", ErrCodeSystemRoleProtected)
	ErrPermissionInUse       = NewConflictError("Permission is assigned to one or more roles", ErrCodePermissionInUse)
	ErrServiceInUse          = NewConflictError("Service is linked to one or more roles", ErrCodeServiceInUse)

	ErrStoreUnavailable = NewUnavailableError("Storage is unavailable", nil)
)

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

// AsAppError unwraps err until it finds an *AppError. Unknown errors become an
// internal error so callers always have a status code to write.
func AsAppError(err error) *AppError {
	for e := err; e != nil; {
		if appErr, ok := e.(*AppError); ok {
			return appErr
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return NewInternalError("Internal server error", err)
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
