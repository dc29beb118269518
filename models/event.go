package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event is an admin-owned gathering participants request visa letters for.
type Event struct {
	ID                       uuid.UUID                   `gorm:"type:char(36);primaryKey;column:id" json:"id"`
	AdminID                  uuid.UUID                   `gorm:"type:char(36);not null;column:admin_id;index" json:"admin_id"`
	Name                     string                      `gorm:"type:varchar(255);not null;column:name" json:"name"`
	Slug                     string                      `gorm:"type:varchar(255);not null;column:slug;uniqueIndex" json:"slug"`
	VenueName                string                      `gorm:"type:varchar(255);column:venue_name" json:"venue_name"`
	VenueAddress             string                      `gorm:"type:varchar(255);column:venue_address" json:"venue_address"`
	City                     string                      `gorm:"type:varchar(128);column:city" json:"city"`
	Country                  string                      `gorm:"type:varchar(128);column:country" json:"country"`
	StartDate                time.Time                   `gorm:"column:start_date" json:"start_date"`
	EndDate                  time.Time                   `gorm:"column:end_date" json:"end_date"`
	ApplicationDeadline      *time.Time                  `gorm:"column:application_deadline" json:"application_deadline,omitempty"`
	ContactEmail             string                      `gorm:"type:varchar(255);column:contact_email" json:"contact_email"`
	Active                   bool                        `gorm:"column:active" json:"active"`
	ApplicationsOpen         bool                        `gorm:"column:applications_open" json:"applications_open"`
	RejectionReasonTemplates datatypes.JSONSlice[string] `gorm:"column:rejection_reason_templates" json:"rejection_reason_templates"`
	CreatedAt                time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt                time.Time                   `gorm:"column:updated_at" json:"updated_at"`

	Admin *Admin `gorm:"foreignKey:AdminID" json:"admin,omitempty"`
}

func (Event) TableName() string {
	return "events"
}

// AcceptingApplications reports whether new applications can be created.
func (e *Event) AcceptingApplications(now time.Time) bool {
	return e.Active && e.ApplicationsOpen &&
		(e.ApplicationDeadline == nil || e.ApplicationDeadline.After(now))
}

// RejectionReasonTemplatesList never returns nil.
func (e *Event) RejectionReasonTemplatesList() []string {
	if len(e.RejectionReasonTemplates) == 0 {
		return []string{}
	}
	return []string(e.RejectionReasonTemplates)
}

func (e *Event) HasRejectionReasonTemplate(reason string) bool {
	for _, r := range e.RejectionReasonTemplates {
		if r == reason {
			return true
		}
	}
	return false
}

func (e *Event) FullAddress() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{e.VenueName, e.VenueAddress, e.City, e.Country} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// DateRange formats the event dates the way letters and mails show them.
func (e *Event) DateRange() string {
	s, t := e.StartDate, e.EndDate
	switch {
	case s.Year() != t.Year():
		return s.Format("January 02, 2006") + " - " + t.Format("January 02, 2006")
	case s.Month() != t.Month():
		return s.Format("January 02") + " - " + t.Format("January 02, 2006")
	default:
		return s.Format("January 02") + " - " + t.Format("02, 2006")
	}
}
