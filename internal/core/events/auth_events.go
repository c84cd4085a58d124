package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeUserRegistered  = "auth.user_registered"
	EventTypeLoginSucceeded  = "auth.login_succeeded"
	EventTypeLoginFailed     = "auth.login_failed"
	EventTypeAccountLocked   = "auth.account_locked"
	EventTypeTokenRefreshed  = "auth.token_refreshed"
	EventTypeRefreshRejected = "auth.refresh_rejected"
	EventTypeLogout          = "auth.logout"
	EventTypeLogoutAll       = "auth.logout_all"
	EventTypePasswordChanged = "auth.password_changed"
	EventTypeUserStatus      = "user.status_changed"
	EventTypeRBACChanged     = "rbac.changed"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// AuditedEventTypes lists every event the audit recorder persists.
func AuditedEventTypes() []string {
	return []string{
		EventTypeUserRegistered,
		EventTypeLoginSucceeded,
		EventTypeLoginFailed,
		EventTypeAccountLocked,
		EventTypeTokenRefreshed,
		EventTypeRefreshRejected,
		EventTypeLogout,
		EventTypeLogoutAll,
		EventTypePasswordChanged,
		EventTypeUserStatus,
		EventTypeRBACChanged,
	}
}

// AuthEvent describes an authentication outcome for one user. UserID is zero
// when the username did not resolve to an account.
type AuthEvent struct {
	BaseEvent
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func NewAuthEvent(eventType string, userID int64, username, status, reason string) *AuthEvent {
	return &AuthEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"user_id":  userID,
				"username": username,
				"status":   status,
				"reason":   reason,
			},
		},
		UserID:   userID,
		Username: username,
		Status:   status,
		Reason:   reason,
	}
}

func (e *AuthEvent) WithClient(ip, userAgent, requestID string) *AuthEvent {
	e.IPAddress = ip
	e.UserAgent = userAgent
	e.RequestID = requestID
	return e
}

// RBACChangedEvent is emitted for every role, permission, service or
// assignment mutation.
type RBACChangedEvent struct {
	BaseEvent
	ActorID    int64  `json:"actor_id"`
	Action     string `json:"action"`
	TargetType string `json:"target_type"`
	TargetID   int64  `json:"target_id"`
}

func NewRBACChangedEvent(actorID int64, action, targetType string, targetID int64, data map[string]interface{}) *RBACChangedEvent {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["action"] = action
	data["target_type"] = targetType
	data["target_id"] = targetID

	return &RBACChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeRBACChanged,
			Timestamp: time.Now(),
			Data:      data,
		},
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
	}
}

// UserStatusEvent records activation or deactivation of an account.
type UserStatusEvent struct {
	BaseEvent
	ActorID  int64 `json:"actor_id"`
	UserID   int64 `json:"user_id"`
	IsActive bool  `json:"is_active"`
}

func NewUserStatusEvent(actorID, userID int64, isActive bool) *UserStatusEvent {
	return &UserStatusEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeUserStatus,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"actor_id":  actorID,
				"user_id":   userID,
				"is_active": isActive,
			},
		},
		ActorID:  actorID,
		UserID:   userID,
		IsActive: isActive,
	}
}
