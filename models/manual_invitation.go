package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ManualInvitation lets an admin pre-authorize an applicant to skip email
// verification. The token can be claimed exactly once.
type ManualInvitation struct {
	ID                      uuid.UUID  `gorm:"type:char(36);primaryKey;column:id" json:"id"`
	EventID                 uuid.UUID  `gorm:"type:char(36);not null;column:event_id;index" json:"event_id"`
	AdminID                 uuid.UUID  `gorm:"type:char(36);not null;column:admin_id;index" json:"admin_id"`
	Email                   string     `gorm:"type:varchar(255);not null;column:email;index" json:"email"`
	Token                   string     `gorm:"type:varchar(64);not null;column:token;uniqueIndex" json:"-"`
	ClaimedAt               *time.Time `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	VisaLetterApplicationID *uuid.UUID `gorm:"type:char(36);column:visa_letter_application_id" json:"visa_letter_application_id,omitempty"`
	CreatedAt               time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"column:updated_at" json:"updated_at"`

	Event *Event `gorm:"foreignKey:EventID;constraint:OnDelete:RESTRICT" json:"event,omitempty"`
}

func (ManualInvitation) TableName() string {
	return "manual_invitations"
}

// NewManualInvitation builds an unclaimed invitation with a normalized email.
func NewManualInvitation(eventID, adminID uuid.UUID, email, token string) *ManualInvitation {
	return &ManualInvitation{
		ID:      uuid.New(),
		EventID: eventID,
		AdminID: adminID,
		Email:   NormalizeEmail(email),
		Token:   token,
	}
}

func (i *ManualInvitation) IsClaimed() bool {
	return i.ClaimedAt != nil
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
