package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/core/common/validation"
	"github.com/frahmantamala/traffic-auth/internal/core/events"
	"github.com/frahmantamala/traffic-auth/internal/rbac"
	"github.com/frahmantamala/traffic-auth/internal/refreshtoken"
	"github.com/frahmantamala/traffic-auth/internal/user"
	"github.com/frahmantamala/traffic-auth/pkg/logger"
)

const tokenTypeBearer = "Bearer"

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Dependencies struct {
	Users      user.RepositoryAPI
	Hasher     *PasswordHasher
	Tokens     *TokenCodec
	Ledger     RefreshLedger
	Authorizer Authorizer
	Publisher  EventPublisher
	Metrics    *Metrics
	Logger     *slog.Logger
	Now        func() time.Time
	Config     Config
}

// Service is the auth orchestrator. It is safe for concurrent use; all state
// lives in the stores it is given.
type Service struct {
	users      user.RepositoryAPI
	hasher     *PasswordHasher
	tokens     *TokenCodec
	ledger     RefreshLedger
	authorizer Authorizer
	publisher  EventPublisher
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
	lockout    LockoutPolicy
}

func NewService(deps Dependencies) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	lg := deps.Logger
	if lg == nil {
		lg = slog.Default()
	}
	lockout := deps.Config.Lockout
	if lockout.Threshold < 1 || lockout.Duration <= 0 {
		lockout = DefaultLockoutPolicy()
	}
	return &Service{
		users:      deps.Users,
		hasher:     deps.Hasher,
		tokens:     deps.Tokens,
		ledger:     deps.Ledger,
		authorizer: deps.Authorizer,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     lg,
		now:        now,
		lockout:    lockout,
	}
}

func storeError(err error) error {
	if _, ok := internal.IsAppError(err); ok {
		return err
	}
	return internal.ErrStoreUnavailable.WithCause(err)
}

func (s *Service) publish(ctx context.Context, event *events.AuthEvent, ip, userAgent string) {
	meta := internal.ClientMetaFromContext(ctx)
	if ip == "" {
		ip = meta.IPAddress
	}
	if userAgent == "" {
		userAgent = meta.UserAgent
	}
	event.WithClient(ip, userAgent, meta.RequestID)
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log(ctx).Warn("failed to publish auth event", "event_type", event.EventType(), "error", err)
	}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.Scoped(ctx, s.logger)
}

// ----------------- REGISTER -----------------

func (s *Service) Register(ctx context.Context, dto RegisterDTO) (*user.User, error) {
	dto.normalize()
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(dto.Password)
	if err != nil {
		return nil, internal.NewInternalError("failed to hash password", err)
	}

	u := &user.User{
		Email:        dto.Email,
		Username:     dto.Username,
		PasswordHash: hash,
		FullName:     dto.FullName,
		Phone:        dto.Phone,
		Department:   dto.Department,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, internal.ErrDuplicateUser) {
			s.publish(ctx, events.NewAuthEvent(events.EventTypeUserRegistered, 0, dto.Username, events.StatusFailure, "duplicate"), "", "")
			return nil, err
		}
		return nil, storeError(err)
	}

	s.log(ctx).Info("user registered", "user_id", u.ID, "username", u.Username)
	s.publish(ctx, events.NewAuthEvent(events.EventTypeUserRegistered, u.ID, u.Username, events.StatusSuccess, ""), "", "")
	return u, nil
}

// ----------------- LOGIN -----------------

// Login walks receive credentials, check lockout, verify password, then
// either issue tokens or record the failure.
func (s *Service) Login(ctx context.Context, dto LoginDTO) (*AuthTokens, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	username := strings.TrimSpace(dto.Username)

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, storeError(err)
	}
	if u == nil {
		s.hasher.DummyVerify(dto.Password)
		s.loginFailed(ctx, dto, 0, "unknown_user")
		return nil, internal.ErrInvalidCredentials
	}

	now := s.now()
	if s.lockout.IsLocked(u.LockState(), now) {
		s.metrics.login("locked")
		s.publish(ctx, events.NewAuthEvent(events.EventTypeLoginFailed, u.ID, u.Username, events.StatusFailure, "locked"), dto.IPAddress, dto.UserAgent)
		return nil, internal.ErrAccountLocked
	}

	ok, err := s.hasher.Verify(dto.Password, u.PasswordHash)
	if err != nil {
		s.log(ctx).Error("stored password digest is unreadable", "user_id", u.ID, "error", err)
	}
	if !ok {
		if err := s.recordFailure(ctx, u, dto); err != nil {
			return nil, err
		}
		return nil, internal.ErrInvalidCredentials
	}

	if !u.IsActive {
		s.loginFailed(ctx, dto, u.ID, "inactive")
		return nil, internal.ErrUserInactive
	}

	if err := s.users.RecordLogin(ctx, u.ID, now); err != nil {
		return nil, storeError(err)
	}
	s.rehashIfNeeded(ctx, u, dto.Password)

	tokens, err := s.issueTokens(ctx, u.ID, dto.IPAddress, dto.UserAgent)
	if err != nil {
		return nil, err
	}

	s.metrics.login("success")
	s.log(ctx).Info("user logged in", "user_id", u.ID, "username", u.Username)
	s.publish(ctx, events.NewAuthEvent(events.EventTypeLoginSucceeded, u.ID, u.Username, events.StatusSuccess, ""), dto.IPAddress, dto.UserAgent)
	return tokens, nil
}

func (s *Service) loginFailed(ctx context.Context, dto LoginDTO, userID int64, reason string) {
	s.metrics.login(reason)
	s.publish(ctx, events.NewAuthEvent(events.EventTypeLoginFailed, userID, dto.Username, events.StatusFailure, reason), dto.IPAddress, dto.UserAgent)
}

// recordFailure counts the failure in the store. The transition is the
// LockoutPolicy one, evaluated by a single conditional write.
func (s *Service) recordFailure(ctx context.Context, u *user.User, dto LoginDTO) error {
	state, tripped, err := s.users.RecordFailedLogin(ctx, u.ID, s.now(), s.lockout.Threshold, s.lockout.Duration)
	if err != nil {
		return storeError(err)
	}
	if state == nil {
		s.loginFailed(ctx, dto, 0, "unknown_user")
		return nil
	}

	s.loginFailed(ctx, dto, u.ID, "invalid_password")
	if tripped {
		s.metrics.locked()
		s.log(ctx).Warn("account locked", "user_id", u.ID, "locked_until", state.LockedUntil)
		s.publish(ctx, events.NewAuthEvent(events.EventTypeAccountLocked, u.ID, u.Username, events.StatusFailure, "too_many_failures"), dto.IPAddress, dto.UserAgent)
	}
	return nil
}

func (s *Service) rehashIfNeeded(ctx context.Context, u *user.User, plaintext string) {
	if !s.hasher.NeedsRehash(u.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		s.log(ctx).Warn("password rehash failed", "user_id", u.ID, "error", err)
		return
	}
	changedAt := s.now()
	if u.PasswordChangedAt != nil {
		changedAt = *u.PasswordChangedAt
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash, changedAt); err != nil {
		s.log(ctx).Warn("password rehash not stored", "user_id", u.ID, "error", err)
		return
	}
	s.log(ctx).Info("password rehashed", "user_id", u.ID)
}

func (s *Service) issueTokens(ctx context.Context, userID int64, ip, userAgent string) (*AuthTokens, error) {
	access, accessExpiresAt, err := s.tokens.Issue(userID)
	if err != nil {
		return nil, internal.NewInternalError("failed to issue access token", err)
	}
	refresh, err := s.ledger.Issue(ctx, userID, ip, userAgent)
	if err != nil {
		return nil, storeError(err)
	}
	return &AuthTokens{
		AccessToken:           access,
		RefreshToken:          refresh.Token,
		TokenType:             tokenTypeBearer,
		ExpiresIn:             int64(s.tokens.TTL().Seconds()),
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshTokenExpiresAt: refresh.ExpiresAt,
	}, nil
}

// ----------------- REFRESH / LOGOUT -----------------

func refreshRejection(err error) string {
	switch {
	case errors.Is(err, refreshtoken.ErrNotFound):
		return "not_found"
	case errors.Is(err, refreshtoken.ErrRevoked):
		return "revoked"
	case errors.Is(err, refreshtoken.ErrExpired):
		return "expired"
	default:
		return ""
	}
}

// Refresh rotates the refresh token. The presented token is consumed even
// when the owner turns out to be inactive.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthTokens, error) {
	if err := (RefreshTokenDTO{RefreshToken: refreshToken}).Validate(); err != nil {
		return nil, err
	}

	session, err := s.ledger.Redeem(ctx, refreshToken)
	if err != nil {
		reason := refreshRejection(err)
		if reason == "" {
			return nil, storeError(err)
		}
		s.metrics.refresh(reason)
		s.publish(ctx, events.NewAuthEvent(events.EventTypeRefreshRejected, 0, "", events.StatusFailure, reason), "", "")
		return nil, internal.ErrInvalidRefreshToken.WithCause(err)
	}

	u, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, storeError(err)
	}
	if u == nil {
		s.metrics.refresh("unknown_user")
		return nil, internal.ErrInvalidRefreshToken
	}
	if !u.IsActive {
		s.metrics.refresh("inactive")
		s.publish(ctx, events.NewAuthEvent(events.EventTypeRefreshRejected, u.ID, u.Username, events.StatusFailure, "inactive"), "", "")
		return nil, internal.ErrUserInactive
	}

	tokens, err := s.issueTokens(ctx, u.ID, session.IPAddress, session.UserAgent)
	if err != nil {
		return nil, err
	}

	s.metrics.refresh("success")
	s.publish(ctx, events.NewAuthEvent(events.EventTypeTokenRefreshed, u.ID, u.Username, events.StatusSuccess, ""), "", "")
	return tokens, nil
}

// Logout revokes one refresh token. Unknown or already revoked tokens succeed.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if err := (RefreshTokenDTO{RefreshToken: refreshToken}).Validate(); err != nil {
		return err
	}
	if err := s.ledger.Revoke(ctx, refreshToken); err != nil {
		return storeError(err)
	}
	userID, _ := internal.UserIDFromContext(ctx)
	s.publish(ctx, events.NewAuthEvent(events.EventTypeLogout, userID, "", events.StatusSuccess, ""), "", "")
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	n, err := s.ledger.RevokeAll(ctx, userID)
	if err != nil {
		return 0, storeError(err)
	}
	s.log(ctx).Info("all sessions revoked", "user_id", userID, "count", n)
	s.publish(ctx, events.NewAuthEvent(events.EventTypeLogoutAll, userID, "", events.StatusSuccess, ""), "", "")
	return n, nil
}

func (s *Service) Sessions(ctx context.Context, userID int64) ([]*refreshtoken.Session, error) {
	sessions, err := s.ledger.ListActive(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	return sessions, nil
}

func (s *Service) RevokeSession(ctx context.Context, userID int64, sessionID string) error {
	ok, err := s.ledger.RevokeSession(ctx, userID, sessionID)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return internal.ErrSessionNotFound
	}
	s.publish(ctx, events.NewAuthEvent(events.EventTypeLogout, userID, "", events.StatusSuccess, "session_revoked"), "", "")
	return nil
}

// ----------------- AUTHORIZE -----------------

// Authorize resolves accessToken to an active user and checks req against
// it. The returned error never names the missing grant.
func (s *Service) Authorize(ctx context.Context, accessToken string, req Requirement) (*Principal, error) {
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		s.metrics.authorize("invalid_token")
		return nil, err
	}
	userID, _ := claims.UserID()

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	if u == nil {
		s.metrics.authorize("invalid_token")
		return nil, internal.ErrInvalidToken
	}
	if !u.IsActive {
		s.metrics.authorize("inactive")
		return nil, internal.ErrUserInactive
	}

	principal := &Principal{
		UserID:      u.ID,
		Username:    u.Username,
		Email:       u.Email,
		IsSuperuser: u.IsSuperuser,
	}

	granted, err := s.check(ctx, principal.Subject(), req)
	if err != nil {
		return nil, storeError(err)
	}
	if !granted {
		s.metrics.authorize("forbidden")
		s.log(ctx).Debug("authorization denied", "user_id", u.ID, "requirement", req.String())
		return nil, internal.ErrForbidden
	}

	s.metrics.authorize("granted")
	return principal, nil
}

func (s *Service) check(ctx context.Context, subject rbac.Subject, req Requirement) (bool, error) {
	switch req.kind {
	case requirePermission:
		return s.authorizer.HasPermission(ctx, subject, req.name)
	case requireRole:
		return s.authorizer.HasRole(ctx, subject, req.name)
	case requireServiceAccess:
		level, err := s.authorizer.ServiceAccess(ctx, subject, req.name)
		if err != nil {
			return false, err
		}
		return level.AtLeast(req.level), nil
	default:
		return true, nil
	}
}

// ----------------- PASSWORD -----------------

// ChangePassword verifies the current password, stores the new digest and
// revokes every refresh token of the user.
func (s *Service) ChangePassword(ctx context.Context, userID int64, dto ChangePasswordDTO) error {
	if err := dto.Validate(); err != nil {
		return err
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return storeError(err)
	}
	if u == nil {
		return internal.ErrUserNotFound
	}

	ok, err := s.hasher.Verify(dto.CurrentPassword, u.PasswordHash)
	if err != nil {
		s.log(ctx).Error("stored password digest is unreadable", "user_id", u.ID, "error", err)
	}
	if !ok {
		s.publish(ctx, events.NewAuthEvent(events.EventTypePasswordChanged, u.ID, u.Username, events.StatusFailure, "invalid_current_password"), "", "")
		return internal.ErrInvalidCredentials
	}
	if appErr := validation.ValidatePasswordStrength(dto.NewPassword); appErr != nil {
		return appErr
	}

	hash, err := s.hasher.Hash(dto.NewPassword)
	if err != nil {
		return internal.NewInternalError("failed to hash password", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash, s.now()); err != nil {
		return storeError(err)
	}

	revoked, err := s.ledger.RevokeAll(ctx, u.ID)
	if err != nil {
		return storeError(err)
	}

	s.log(ctx).Info("password changed", "user_id", u.ID, "sessions_revoked", revoked)
	s.publish(ctx, events.NewAuthEvent(events.EventTypePasswordChanged, u.ID, u.Username, events.StatusSuccess, ""), "", "")
	return nil
}
