package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table owned by the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Admin{},
		&Participant{},
		&Event{},
		&VisaLetterApplication{},
		&ManualInvitation{},
		&AuditLog{},
		&NotificationJob{},
	)
}
