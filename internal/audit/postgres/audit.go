package postgres

import (
	"context"
	"time"

	"github.com/frahmantamala/traffic-auth/internal/audit"
	auditDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/audit"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) audit.RepositoryAPI {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, event *auditDatamodel.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// List returns the newest events first.
func (r *AuditRepository) List(ctx context.Context, filter audit.Filter) ([]*auditDatamodel.Event, error) {
	q := r.db.WithContext(ctx).Model(&auditDatamodel.Event{})
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.ActorID > 0 {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}

	var rows []*auditDatamodel.Event
	err := q.Order("created_at DESC").Order("id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AuditRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&auditDatamodel.Event{})
	return res.RowsAffected, res.Error
}
