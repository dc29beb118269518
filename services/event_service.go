package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"visa-letter-api/config"
	"visa-letter-api/models"
	"visa-letter-api/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ActionEventCreated    = "event_created"
	ActionTemplateAdded   = "rejection_template_added"
	ActionTemplateRemoved = "rejection_template_removed"
)

var (
	errTemplateExists  = errors.New("template already exists")
	errTemplateMissing = errors.New("template not found")
)

// EventInput carries the admin-editable fields of an event.
type EventInput struct {
	Name                string
	VenueName           string
	VenueAddress        string
	City                string
	Country             string
	StartDate           time.Time
	EndDate             time.Time
	ApplicationDeadline *time.Time
	ContactEmail        string
	Active              bool
	ApplicationsOpen    bool
}

// EventService manages events and admin preferences.
type EventService struct {
	db        *gorm.DB
	audit     *AuditLogService
	authorize Authorizer
	logger    *zap.Logger
}

func NewEventService(db *gorm.DB, authorize Authorizer, logger *zap.Logger) *EventService {
	if db == nil {
		db = config.DB
	}
	if authorize == nil {
		authorize = AllowAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{
		db:        db,
		audit:     NewAuditLogService(db),
		authorize: authorize,
		logger:    logger,
	}
}

// Create validates input and inserts an event owned by adminID with a slug
// derived from its name.
func (s *EventService) Create(ctx context.Context, adminID uuid.UUID, input EventInput) (*models.Event, Result) {
	input.Name = utils.SanitizeInput(input.Name)
	if input.Name == "" {
		return nil, fail(KindValidation, "Event name is required")
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return nil, fail(KindValidation, "Start and end dates are required")
	}
	if !input.EndDate.After(input.StartDate) {
		return nil, fail(KindValidation, "End date must be after the start date")
	}
	if input.ApplicationDeadline != nil && !input.ApplicationDeadline.Before(startOfDay(input.StartDate)) {
		return nil, fail(KindValidation, "Application deadline must be before the start date")
	}
	input.VenueName = utils.SanitizeInput(input.VenueName)
	input.VenueAddress = utils.SanitizeInput(input.VenueAddress)
	input.City = utils.SanitizeInput(input.City)
	input.Country = utils.SanitizeInput(input.Country)
	for _, field := range []struct{ label, value string }{
		{"Venue name", input.VenueName},
		{"Venue address", input.VenueAddress},
		{"City", input.City},
		{"Country", input.Country},
	} {
		if field.value == "" {
			return nil, fail(KindValidation, "%s is required", field.label)
		}
	}
	contact := models.NormalizeEmail(input.ContactEmail)
	if !utils.ValidateEmail(contact) {
		return nil, fail(KindValidation, "A valid contact email is required")
	}

	var event *models.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		gen := NewIdentifierGenerator(NewGormUniquenessIndex(tx))
		for attempt := 1; ; attempt++ {
			slug, err := gen.Slug(ctx, input.Name)
			if err != nil {
				return err
			}
			event = &models.Event{
				ID:                       uuid.New(),
				AdminID:                  adminID,
				Name:                     input.Name,
				Slug:                     slug,
				VenueName:                input.VenueName,
				VenueAddress:             input.VenueAddress,
				City:                     input.City,
				Country:                  input.Country,
				StartDate:                input.StartDate,
				EndDate:                  input.EndDate,
				ApplicationDeadline:      input.ApplicationDeadline,
				ContactEmail:             contact,
				Active:                   input.Active,
				ApplicationsOpen:         input.ApplicationsOpen,
				RejectionReasonTemplates: datatypes.JSONSlice[string]{},
			}
			err = tx.Transaction(func(sp *gorm.DB) error {
				return sp.Create(event).Error
			})
			if err == nil {
				break
			}
			if !isUniqueViolation(err) || attempt >= maxInsertAttempts {
				return fmt.Errorf("insert event: %w", err)
			}
		}
		_, err := s.audit.WithTx(tx).Append(ctx, models.EventTrackable(event.ID), ActionEventCreated, &adminID,
			map[string]interface{}{"name": event.Name, "slug": event.Slug})
		return err
	})
	switch {
	case errors.Is(err, ErrEmptySlug):
		return nil, fail(KindValidation, "Event name must contain letters or digits")
	case err != nil:
		s.logger.Error("failed to create event", zap.String("admin_id", adminID.String()), zap.Error(err))
		return nil, internalFailure()
	}
	return event, ok()
}

// AddRejectionReasonTemplate appends a reusable rejection reason.
func (s *EventService) AddRejectionReasonTemplate(ctx context.Context, eventID, actorID uuid.UUID, reason string) (*models.Event, Result) {
	reason = utils.SanitizeInput(reason)
	if reason == "" {
		return nil, fail(KindValidation, "Template cannot be blank")
	}
	return s.editTemplates(ctx, eventID, actorID, ActionTemplateAdded, reason, func(e *models.Event) error {
		if e.HasRejectionReasonTemplate(reason) {
			return errTemplateExists
		}
		e.RejectionReasonTemplates = append(e.RejectionReasonTemplates, reason)
		return nil
	})
}

// RemoveRejectionReasonTemplate drops a reusable rejection reason.
func (s *EventService) RemoveRejectionReasonTemplate(ctx context.Context, eventID, actorID uuid.UUID, reason string) (*models.Event, Result) {
	reason = strings.TrimSpace(reason)
	return s.editTemplates(ctx, eventID, actorID, ActionTemplateRemoved, reason, func(e *models.Event) error {
		if !e.HasRejectionReasonTemplate(reason) {
			return errTemplateMissing
		}
		kept := datatypes.JSONSlice[string]{}
		for _, t := range e.RejectionReasonTemplates {
			if t != reason {
				kept = append(kept, t)
			}
		}
		e.RejectionReasonTemplates = kept
		return nil
	})
}

func (s *EventService) editTemplates(ctx context.Context, eventID, actorID uuid.UUID, action, reason string, edit func(*models.Event) error) (*models.Event, Result) {
	if r := s.authorizeEvent(ctx, eventID, actorID); !r.Success {
		return nil, r
	}

	var event models.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", eventID).First(&event).Error; err != nil {
			return err
		}
		if err := edit(&event); err != nil {
			return err
		}
		if err := tx.Model(&event).Update("rejection_reason_templates", event.RejectionReasonTemplates).Error; err != nil {
			return err
		}
		_, err := s.audit.WithTx(tx).Append(ctx, models.EventTrackable(eventID), action, &actorID,
			map[string]interface{}{"template": reason})
		return err
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fail(KindNotFound, "Event not found")
	case errors.Is(err, errTemplateExists):
		return nil, fail(KindValidation, "Template already exists")
	case errors.Is(err, errTemplateMissing):
		return nil, fail(KindNotFound, "Template not found")
	case err != nil:
		s.logger.Error("failed to update rejection templates", zap.String("event_id", eventID.String()), zap.Error(err))
		return nil, internalFailure()
	}
	return &event, ok()
}

// Delete removes an event that has neither applications nor invitations.
func (s *EventService) Delete(ctx context.Context, eventID, actorID uuid.UUID) Result {
	if r := s.authorizeEvent(ctx, eventID, actorID); !r.Success {
		return r
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event models.Event
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", eventID).First(&event).Error; err != nil {
			return err
		}

		for _, child := range []interface{}{&models.VisaLetterApplication{}, &models.ManualInvitation{}} {
			var count int64
			if err := tx.Model(child).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return errEventInUse
			}
		}
		return tx.Delete(&event).Error
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fail(KindNotFound, "Event not found")
	case errors.Is(err, errEventInUse), isForeignKeyViolation(err):
		return fail(KindValidation, "Event has applications or invitations and cannot be deleted")
	case err != nil:
		s.logger.Error("failed to delete event", zap.String("event_id", eventID.String()), zap.Error(err))
		return internalFailure()
	}
	s.logger.Info("event deleted", zap.String("event_id", eventID.String()), zap.String("actor_id", actorID.String()))
	return ok()
}

// UpdateNotificationPreference toggles new-application mails for an admin.
func (s *EventService) UpdateNotificationPreference(ctx context.Context, adminID uuid.UUID, enabled bool) (*models.Admin, Result) {
	var admin models.Admin
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", adminID).First(&admin).Error; err != nil {
			return err
		}
		if err := tx.Model(&admin).Update("notify_new_applications", enabled).Error; err != nil {
			return err
		}
		admin.NotifyNewApplications = enabled
		return nil
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fail(KindNotFound, "Admin not found")
	case err != nil:
		s.logger.Error("failed to update notification preference", zap.String("admin_id", adminID.String()), zap.Error(err))
		return nil, internalFailure()
	}
	return &admin, ok()
}

// Get loads one event.
func (s *EventService) Get(ctx context.Context, eventID uuid.UUID) (*models.Event, Result) {
	var event models.Event
	if err := s.db.WithContext(ctx).Where("id = ?", eventID).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fail(KindNotFound, "Event not found")
		}
		s.logger.Error("failed to load event", zap.String("event_id", eventID.String()), zap.Error(err))
		return nil, internalFailure()
	}
	return &event, ok()
}

func (s *EventService) authorizeEvent(ctx context.Context, eventID, actorID uuid.UUID) Result {
	if _, r := s.Get(ctx, eventID); !r.Success {
		return r
	}
	if !s.authorize(ctx, actorID, CapabilityManageEvent, eventID) {
		return fail(KindForbidden, "Not allowed to manage this event")
	}
	return ok()
}

var errEventInUse = errors.New("event has applications or invitations")

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key")
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
