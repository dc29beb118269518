package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPendingVerification = "pending_verification"
	StatusPendingApproval     = "pending_approval"
	StatusApproved            = "approved"
	StatusRejected            = "rejected"
	StatusLetterSent          = "letter_sent"

	RejectionTypeSoft = "soft"
	RejectionTypeHard = "hard"
)

var (
	ApplicationStatuses = []string{
		StatusPendingVerification,
		StatusPendingApproval,
		StatusApproved,
		StatusRejected,
		StatusLetterSent,
	}
	RejectionTypes = []string{RejectionTypeSoft, RejectionTypeHard}

	// ErrInvalidTransition is returned when a transition's guard is not met.
	// The application is left untouched.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRejectionReason   = errors.New("rejection reason is required")
	ErrRejectionType     = errors.New("rejection type must be soft or hard")
)

// VisaLetterApplication is a participant's request for a visa invitation letter
// for one event.
type VisaLetterApplication struct {
	ID                uuid.UUID  `gorm:"type:char(36);primaryKey;column:id" json:"id"`
	ParticipantID     uuid.UUID  `gorm:"type:char(36);not null;column:participant_id;uniqueIndex:idx_applications_participant_event" json:"participant_id"`
	EventID           uuid.UUID  `gorm:"type:char(36);not null;column:event_id;uniqueIndex:idx_applications_participant_event;index" json:"event_id"`
	Status            string     `gorm:"type:varchar(32);not null;column:status;index" json:"status"`
	RejectionReason   *string    `gorm:"type:text;column:rejection_reason" json:"rejection_reason,omitempty"`
	RejectionType     *string    `gorm:"type:varchar(8);column:rejection_type;index" json:"rejection_type,omitempty"`
	ReferenceNumber   string     `gorm:"type:varchar(16);not null;column:reference_number;uniqueIndex" json:"reference_number"`
	VerificationCode  string     `gorm:"type:varchar(32);not null;column:verification_code;uniqueIndex" json:"-"`
	ReviewedByID      *uuid.UUID `gorm:"type:char(36);column:reviewed_by_id" json:"reviewed_by_id,omitempty"`
	ReviewedAt        *time.Time `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	SubmittedAt       *time.Time `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	LetterGeneratedAt *time.Time `gorm:"column:letter_generated_at" json:"letter_generated_at,omitempty"`
	LetterSentAt      *time.Time `gorm:"column:letter_sent_at" json:"letter_sent_at,omitempty"`
	AdminNotes        *string    `gorm:"type:text;column:admin_notes" json:"admin_notes,omitempty"`
	CreatedAt         time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at" json:"updated_at"`

	// Relations
	Participant *Participant `gorm:"foreignKey:ParticipantID" json:"participant,omitempty"`
	Event       *Event       `gorm:"foreignKey:EventID;constraint:OnDelete:RESTRICT" json:"event,omitempty"`
}

func (VisaLetterApplication) TableName() string {
	return "visa_letter_applications"
}

// NewVisaLetterApplication builds an application in pending_verification.
// Identifiers are generated by the caller so that generation happens exactly
// once and against the same uniqueness index as the insert.
func NewVisaLetterApplication(participantID, eventID uuid.UUID, referenceNumber, verificationCode string) *VisaLetterApplication {
	return &VisaLetterApplication{
		ID:               uuid.New(),
		ParticipantID:    participantID,
		EventID:          eventID,
		Status:           StatusPendingVerification,
		ReferenceNumber:  referenceNumber,
		VerificationCode: verificationCode,
	}
}

func (a *VisaLetterApplication) IsPendingVerification() bool { return a.Status == StatusPendingVerification }
func (a *VisaLetterApplication) IsPendingApproval() bool     { return a.Status == StatusPendingApproval }
func (a *VisaLetterApplication) IsApproved() bool            { return a.Status == StatusApproved }
func (a *VisaLetterApplication) IsRejected() bool            { return a.Status == StatusRejected }
func (a *VisaLetterApplication) IsLetterSent() bool          { return a.Status == StatusLetterSent }

func (a *VisaLetterApplication) IsHardRejected() bool {
	return a.IsRejected() && a.RejectionType != nil && *a.RejectionType == RejectionTypeHard
}

func (a *VisaLetterApplication) IsSoftRejected() bool {
	return a.IsRejected() && a.RejectionType != nil && *a.RejectionType == RejectionTypeSoft
}

// CanReapply reports whether the applicant may apply again for the event.
func (a *VisaLetterApplication) CanReapply() bool { return a.IsSoftRejected() }

func (a *VisaLetterApplication) CanBeApproved() bool { return a.IsPendingApproval() }
func (a *VisaLetterApplication) CanBeRejected() bool { return a.IsPendingApproval() }

// CanBeDowngraded reports whether a hard rejection can be softened.
func (a *VisaLetterApplication) CanBeDowngraded() bool { return a.IsHardRejected() }

// CanMarkLetterSent requires an approved application whose letter exists.
func (a *VisaLetterApplication) CanMarkLetterSent() bool {
	return a.IsApproved() && a.LetterGeneratedAt != nil
}

// Submit moves a verified application into the admin review queue.
func (a *VisaLetterApplication) Submit(now time.Time) error {
	if !a.IsPendingVerification() {
		return ErrInvalidTransition
	}
	a.Status = StatusPendingApproval
	a.SubmittedAt = &now
	return nil
}

func (a *VisaLetterApplication) Approve(adminID uuid.UUID, notes *string, now time.Time) error {
	if !a.CanBeApproved() {
		return ErrInvalidTransition
	}
	a.Status = StatusApproved
	a.ReviewedByID = &adminID
	a.ReviewedAt = &now
	a.AdminNotes = notes
	return nil
}

func (a *VisaLetterApplication) Reject(adminID uuid.UUID, reason, rejectionType string, notes *string, now time.Time) error {
	if err := ValidateRejection(reason, rejectionType); err != nil {
		return err
	}
	if !a.CanBeRejected() {
		return ErrInvalidTransition
	}
	reason = strings.TrimSpace(reason)
	a.Status = StatusRejected
	a.ReviewedByID = &adminID
	a.ReviewedAt = &now
	a.RejectionReason = &reason
	a.RejectionType = &rejectionType
	a.AdminNotes = notes
	return nil
}

// DowngradeToSoft turns a hard rejection into a soft one. There is no way
// back from soft to hard.
func (a *VisaLetterApplication) DowngradeToSoft() error {
	if !a.CanBeDowngraded() {
		return ErrInvalidTransition
	}
	soft := RejectionTypeSoft
	a.RejectionType = &soft
	return nil
}

func (a *VisaLetterApplication) MarkLetterGenerated(now time.Time) error {
	if !a.IsApproved() {
		return ErrInvalidTransition
	}
	a.LetterGeneratedAt = &now
	return nil
}

func (a *VisaLetterApplication) MarkLetterSent(now time.Time) error {
	if !a.CanMarkLetterSent() {
		return ErrInvalidTransition
	}
	a.Status = StatusLetterSent
	a.LetterSentAt = &now
	return nil
}

// ValidateRejection checks the inputs of a rejection independently of state.
func ValidateRejection(reason, rejectionType string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrRejectionReason
	}
	if !IsValidRejectionType(rejectionType) {
		return ErrRejectionType
	}
	return nil
}

func IsValidRejectionType(rejectionType string) bool {
	for _, t := range RejectionTypes {
		if t == rejectionType {
			return true
		}
	}
	return false
}

func IsValidApplicationStatus(status string) bool {
	for _, s := range ApplicationStatuses {
		if s == status {
			return true
		}
	}
	return false
}
