package audit

import (
	"time"

	"gorm.io/datatypes"
)

type Event struct {
	ID          string         `gorm:"column:id;primaryKey;size:26"`
	Action      string         `gorm:"column:action;index;size:100;not null"`
	Status      string         `gorm:"column:status;size:20;not null"`
	ActorID     *int64         `gorm:"column:actor_id;index"`
	TargetType  string         `gorm:"column:target_type;size:50"`
	TargetID    string         `gorm:"column:target_id;size:100"`
	Description string         `gorm:"column:description"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
	IPAddress   string         `gorm:"column:ip_address;size:64"`
	UserAgent   string         `gorm:"column:user_agent"`
	RequestID   string         `gorm:"column:request_id;size:64"`
	CreatedAt   time.Time      `gorm:"column:created_at;index"`
}

func (Event) TableName() string {
	return "audit_events"
}
