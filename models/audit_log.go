package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TrackableApplication = "VisaLetterApplication"
	TrackableInvitation  = "ManualInvitation"
	TrackableEvent       = "Event"
)

// AuditLog is an immutable record of an action taken against a tracked
// entity. The subject is referenced by type and id only, so history outlives
// the subject.
type AuditLog struct {
	ID            uuid.UUID         `gorm:"type:char(36);primaryKey;column:id" json:"id"`
	TrackableType string            `gorm:"type:varchar(64);not null;column:trackable_type;index:idx_audit_logs_trackable,priority:1" json:"trackable_type"`
	TrackableID   uuid.UUID         `gorm:"type:char(36);not null;column:trackable_id;index:idx_audit_logs_trackable,priority:2" json:"trackable_id"`
	Action        string            `gorm:"type:varchar(64);not null;column:action" json:"action"`
	ActorID       *uuid.UUID        `gorm:"type:char(36);column:actor_id" json:"actor_id,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"column:metadata" json:"metadata"`
	CreatedAt     time.Time         `gorm:"column:created_at;index:idx_audit_logs_trackable,priority:3" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// Trackable identifies the subject of an audit entry.
type Trackable struct {
	Type string
	ID   uuid.UUID
}

func ApplicationTrackable(id uuid.UUID) Trackable {
	return Trackable{Type: TrackableApplication, ID: id}
}

func InvitationTrackable(id uuid.UUID) Trackable {
	return Trackable{Type: TrackableInvitation, ID: id}
}

func EventTrackable(id uuid.UUID) Trackable {
	return Trackable{Type: TrackableEvent, ID: id}
}
