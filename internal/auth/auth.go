package auth

import (
	"context"
	"time"

	"github.com/frahmantamala/traffic-auth/internal/rbac"
	"github.com/frahmantamala/traffic-auth/internal/refreshtoken"
	"github.com/frahmantamala/traffic-auth/internal/user"
)

// Config carries the tunables of the orchestrator. It is built from
// internal.Config in cmd and passed explicitly.
type Config struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Lockout         LockoutPolicy
}

// AuthTokens is the pair handed out by Login and Refresh.
type AuthTokens struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	TokenType             string    `json:"token_type"`
	ExpiresIn             int64     `json:"expires_in"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

// Principal is the identity resolved by Authorize. Callers pass it on
// explicitly; it is never read from ambient state.
type Principal struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	IsSuperuser bool   `json:"is_superuser"`
}

func (p Principal) Subject() rbac.Subject {
	return rbac.Subject{UserID: p.UserID, IsSuperuser: p.IsSuperuser}
}

type requirementKind int

const (
	requireAuthenticated requirementKind = iota
	requirePermission
	requireRole
	requireServiceAccess
)

// Requirement is what Authorize checks after the token resolved to an active
// user.
type Requirement struct {
	kind  requirementKind
	name  string
	level rbac.AccessLevel
}

// Authenticated only requires a valid token for an active user.
func Authenticated() Requirement {
	return Requirement{kind: requireAuthenticated}
}

func RequirePermission(name string) Requirement {
	return Requirement{kind: requirePermission, name: name}
}

func RequireRole(name string) Requirement {
	return Requirement{kind: requireRole, name: name}
}

// RequireServiceAccess passes when the effective level on serviceKey is at
// least level.
func RequireServiceAccess(serviceKey string, level rbac.AccessLevel) Requirement {
	return Requirement{kind: requireServiceAccess, name: serviceKey, level: level}
}

func (r Requirement) String() string {
	switch r.kind {
	case requirePermission:
		return "permission:" + r.name
	case requireRole:
		return "role:" + r.name
	case requireServiceAccess:
		return "service:" + r.name + ":" + string(r.level)
	default:
		return "authenticated"
	}
}

// Authorizer is the slice of rbac.Evaluator the orchestrator depends on.
type Authorizer interface {
	HasPermission(ctx context.Context, subject rbac.Subject, permission string) (bool, error)
	HasRole(ctx context.Context, subject rbac.Subject, role string) (bool, error)
	ServiceAccess(ctx context.Context, subject rbac.Subject, serviceKey string) (rbac.AccessLevel, error)
}

// RefreshLedger is the slice of refreshtoken.Ledger the orchestrator uses.
type RefreshLedger interface {
	Issue(ctx context.Context, userID int64, ip, userAgent string) (*refreshtoken.Issued, error)
	Redeem(ctx context.Context, token string) (*refreshtoken.Session, error)
	Revoke(ctx context.Context, token string) error
	RevokeSession(ctx context.Context, userID int64, id string) (bool, error)
	RevokeAll(ctx context.Context, userID int64) (int64, error)
	ListActive(ctx context.Context, userID int64) ([]*refreshtoken.Session, error)
}

// ServiceAPI is what the HTTP handler consumes.
type ServiceAPI interface {
	Register(ctx context.Context, dto RegisterDTO) (*user.User, error)
	Login(ctx context.Context, dto LoginDTO) (*AuthTokens, error)
	Refresh(ctx context.Context, refreshToken string) (*AuthTokens, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID int64) (int64, error)
	Authorize(ctx context.Context, accessToken string, req Requirement) (*Principal, error)
	ChangePassword(ctx context.Context, userID int64, dto ChangePasswordDTO) error
	Sessions(ctx context.Context, userID int64) ([]*refreshtoken.Session, error)
	RevokeSession(ctx context.Context, userID int64, sessionID string) error
}
