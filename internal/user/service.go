package user

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/core/events"
	"github.com/frahmantamala/traffic-auth/internal/rbac"
)

// AccessResolver resolves the effective roles and permissions of a user.
type AccessResolver interface {
	RolesOf(ctx context.Context, subject rbac.Subject) ([]string, error)
	PermissionsOf(ctx context.Context, subject rbac.Subject) (rbac.PermissionSet, error)
}

// SessionRevoker ends every refresh session of a user.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID int64) (int64, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Profile is a user together with the access it currently holds.
type Profile struct {
	*User
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	AllAccess   bool     `json:"all_access,omitempty"`
}

type Service struct {
	repo      RepositoryAPI
	access    AccessResolver
	sessions  SessionRevoker
	publisher EventPublisher
	logger    *slog.Logger
}

func NewService(repo RepositoryAPI, access AccessResolver, sessions SessionRevoker, publisher EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		access:    access,
		sessions:  sessions,
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

func (s *Service) get(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if u == nil {
		return nil, internal.ErrUserNotFound
	}
	return u, nil
}

// Profile returns the user with its role names and effective permissions.
func (s *Service) Profile(ctx context.Context, id int64) (*Profile, error) {
	u, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	subject := rbac.Subject{UserID: u.ID, IsSuperuser: u.IsSuperuser}
	roles, err := s.access.RolesOf(ctx, subject)
	if err != nil {
		return nil, storeError(err)
	}
	perms, err := s.access.PermissionsOf(ctx, subject)
	if err != nil {
		return nil, storeError(err)
	}
	if roles == nil {
		roles = []string{}
	}

	return &Profile{
		User:        u,
		Roles:       roles,
		Permissions: perms.Names(),
		AllAccess:   perms.All(),
	}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, id int64, dto UpdateProfileDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateProfile(ctx, id, dto.toUpdate()); err != nil {
		return nil, storeError(err)
	}
	return s.get(ctx, id)
}

// SetActive activates or deactivates an account. Deactivation also ends
// every refresh session of the user.
func (s *Service) SetActive(ctx context.Context, actorID, id int64, active bool) error {
	ok, err := s.repo.SetActive(ctx, id, active)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return internal.ErrUserNotFound
	}

	if !active && s.sessions != nil {
		n, err := s.sessions.RevokeAll(ctx, id)
		if err != nil {
			return storeError(err)
		}
		s.logger.Info("sessions revoked for deactivated user", "user_id", id, "count", n)
	}

	s.logger.Info("user status changed", "actor_id", actorID, "user_id", id, "is_active", active)
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.NewUserStatusEvent(actorID, id, active)); err != nil {
			s.logger.Warn("failed to publish user status event", "user_id", id, "error", err)
		}
	}
	return nil
}
