package models

import (
	"time"

	"github.com/google/uuid"
)

type Participant struct {
	ID             uuid.UUID `gorm:"type:char(36);primaryKey;column:id" json:"id"`
	Email          string    `gorm:"type:varchar(255);not null;column:email;index" json:"email"`
	FullName       string    `gorm:"type:varchar(255);column:full_name" json:"full_name"`
	CountryOfBirth string    `gorm:"type:varchar(128);column:country_of_birth" json:"country_of_birth"`
	PassportNumber string    `gorm:"type:varchar(64);column:passport_number" json:"-"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Participant) TableName() string {
	return "participants"
}

// Admin reviews applications. Super admins see every event.
type Admin struct {
	ID                    uuid.UUID `gorm:"type:char(36);primaryKey;column:id" json:"id"`
	Email                 string    `gorm:"type:varchar(255);not null;column:email;uniqueIndex" json:"email"`
	Name                  string    `gorm:"type:varchar(255);column:name" json:"name"`
	SuperAdmin            bool      `gorm:"column:super_admin" json:"super_admin"`
	NotifyNewApplications bool      `gorm:"column:notify_new_applications" json:"notify_new_applications"`
	CreatedAt             time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt             time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Admin) TableName() string {
	return "admins"
}
