package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"

	JobApplicationApproved  = "application_approved"
	JobApplicationRejected  = "application_rejected"
	JobRejectionDowngraded  = "rejection_downgraded"
	JobApplicationSubmitted = "application_submitted"
	JobNewApplicationAdmin  = "new_application_admin"
	JobManualInvitation     = "manual_invitation"
)

// JobStatuses lists every queue status in lifecycle order.
var JobStatuses = []string{JobStatusPending, JobStatusRunning, JobStatusDone, JobStatusFailed}

// NotificationJob is a durable entry of the notification queue. Jobs are
// delivered at least once; handlers must be idempotent.
type NotificationJob struct {
	ID          uuid.UUID  `gorm:"type:char(36);primaryKey;column:id" json:"id"`
	JobType     string     `gorm:"type:varchar(64);not null;column:job_type" json:"job_type"`
	SubjectID   uuid.UUID  `gorm:"type:char(36);not null;column:subject_id;index" json:"subject_id"`
	Action      string     `gorm:"type:varchar(64);column:action" json:"action"`
	Status      string     `gorm:"type:varchar(16);not null;column:status;index:idx_notification_jobs_ready,priority:1" json:"status"`
	Attempts    int        `gorm:"column:attempts" json:"attempts"`
	MaxAttempts int        `gorm:"column:max_attempts" json:"max_attempts"`
	AvailableAt time.Time  `gorm:"column:available_at;index:idx_notification_jobs_ready,priority:2" json:"available_at"`
	LockedUntil *time.Time `gorm:"column:locked_until" json:"locked_until,omitempty"`
	LastError   *string    `gorm:"type:text;column:last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (NotificationJob) TableName() string {
	return "notification_jobs"
}
