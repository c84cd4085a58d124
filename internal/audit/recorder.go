package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	auditDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/audit"
	"github.com/frahmantamala/traffic-auth/internal/core/events"
	"github.com/frahmantamala/traffic-auth/pkg/ids"
	"gorm.io/datatypes"
)

type Subscriber interface {
	SubscribeMany(eventTypes []string, handler events.Handler)
}

// Recorder turns auth, user and rbac events into audit rows and log lines.
// A recording failure never reaches the operation that emitted the event.
type Recorder struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewRecorder(repo RepositoryAPI, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Subscribe registers the recorder for every audited event type.
func (r *Recorder) Subscribe(bus Subscriber) {
	bus.SubscribeMany(events.AuditedEventTypes(), r.Handle)
}

func (r *Recorder) Handle(ctx context.Context, event events.Event) error {
	row, err := toRow(event)
	if err != nil {
		return err
	}

	r.logger.Info("audit",
		"action", row.Action,
		"status", row.Status,
		"actor_id", row.ActorID,
		"target_type", row.TargetType,
		"target_id", row.TargetID,
		"request_id", row.RequestID)

	if r.repo == nil {
		return nil
	}
	if err := r.repo.Insert(ctx, row); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func toRow(event events.Event) (*auditDatamodel.Event, error) {
	metadata, err := json.Marshal(event.Payload())
	if err != nil {
		return nil, fmt.Errorf("encode audit metadata: %w", err)
	}

	occurred := event.OccurredAt()
	if occurred.IsZero() {
		occurred = time.Now()
	}
	row := &auditDatamodel.Event{
		ID:        ids.NewAt(occurred),
		Action:    event.EventType(),
		Status:    events.StatusSuccess,
		Metadata:  datatypes.JSON(metadata),
		CreatedAt: occurred.UTC(),
	}

	switch e := event.(type) {
	case *events.AuthEvent:
		row.Status = e.Status
		row.Description = e.Reason
		row.TargetType = "user"
		row.TargetID = e.Username
		if e.UserID > 0 {
			row.ActorID = actor(e.UserID)
			row.TargetID = strconv.FormatInt(e.UserID, 10)
		}
		row.IPAddress = e.IPAddress
		row.UserAgent = e.UserAgent
		row.RequestID = e.RequestID
	case *events.RBACChangedEvent:
		row.Description = e.Action
		row.ActorID = actor(e.ActorID)
		row.TargetType = e.TargetType
		row.TargetID = strconv.FormatInt(e.TargetID, 10)
	case *events.UserStatusEvent:
		row.ActorID = actor(e.ActorID)
		row.TargetType = "user"
		row.TargetID = strconv.FormatInt(e.UserID, 10)
		if e.IsActive {
			row.Description = "activated"
		} else {
			row.Description = "deactivated"
		}
	}
	return row, nil
}

func actor(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
