package audit

import (
	"context"
	"encoding/json"
	"time"

	auditDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/audit"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Entry is one persisted audit record.
type Entry struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	Status      string          `json:"status"`
	ActorID     *int64          `json:"actor_id,omitempty"`
	TargetType  string          `json:"target_type,omitempty"`
	TargetID    string          `json:"target_id,omitempty"`
	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	IPAddress   string          `json:"ip_address,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Action  string
	ActorID int64
	Since   time.Time
	Limit   int
	Offset  int
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type RepositoryAPI interface {
	Insert(ctx context.Context, event *auditDatamodel.Event) error
	List(ctx context.Context, filter Filter) ([]*auditDatamodel.Event, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

func FromDataModel(e *auditDatamodel.Event) *Entry {
	entry := &Entry{
		ID:          e.ID,
		Action:      e.Action,
		Status:      e.Status,
		ActorID:     e.ActorID,
		TargetType:  e.TargetType,
		TargetID:    e.TargetID,
		Description: e.Description,
		IPAddress:   e.IPAddress,
		UserAgent:   e.UserAgent,
		RequestID:   e.RequestID,
		CreatedAt:   e.CreatedAt,
	}
	if len(e.Metadata) > 0 {
		entry.Metadata = json.RawMessage(e.Metadata)
	}
	return entry
}
