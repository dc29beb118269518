package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"visa-letter-api/config"
	"visa-letter-api/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxInsertAttempts = 5

var errDuplicateApplication = errors.New("application already exists for participant and event")

const (
	VerificationVerified = "verified"
	VerificationPending  = "pending"
)

// ApplicationService handles intake of applications and the system-driven
// steps of their lifecycle (submission and letter delivery).
type ApplicationService struct {
	db        *gorm.DB
	audit     *AuditLogService
	enqueuer  Enqueuer
	authorize Authorizer
	logger    *zap.Logger
	random    io.Reader
	now       func() time.Time
}

func NewApplicationService(db *gorm.DB, enqueuer Enqueuer, authorize Authorizer, logger *zap.Logger) *ApplicationService {
	if db == nil {
		db = config.DB
	}
	if authorize == nil {
		authorize = AllowAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{
		db:        db,
		audit:     NewAuditLogService(db),
		enqueuer:  enqueuer,
		authorize: authorize,
		logger:    logger,
		random:    rand.Reader,
		now:       utcNow,
	}
}

// Create opens a new application in pending_verification for the participant.
func (s *ApplicationService) Create(ctx context.Context, participantID, eventID uuid.UUID) (*models.VisaLetterApplication, Result) {
	log := s.logger.With(
		zap.String("participant_id", participantID.String()),
		zap.String("event_id", eventID.String()),
	)

	var event models.Event
	if err := s.db.WithContext(ctx).Where("id = ?", eventID).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fail(KindNotFound, "Event not found")
		}
		log.Error("failed to load event", zap.Error(err))
		return nil, internalFailure()
	}
	if !event.AcceptingApplications(s.now()) {
		return nil, fail(KindValidation, "Event is not accepting applications")
	}

	var participant models.Participant
	if err := s.db.WithContext(ctx).Where("id = ?", participantID).First(&participant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fail(KindNotFound, "Participant not found")
		}
		log.Error("failed to load participant", zap.Error(err))
		return nil, internalFailure()
	}

	blocked, err := s.hardRejected(ctx, participant.Email, eventID)
	if err != nil {
		log.Error("failed to check hard rejections", zap.Error(err))
		return nil, internalFailure()
	}
	if blocked {
		return nil, fail(KindValidation, "This email address can no longer apply for this event")
	}

	var app *models.VisaLetterApplication
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := insertApplication(ctx, tx, s.random, participantID, eventID, nil)
		app = created
		return err
	})
	switch {
	case errors.Is(err, errDuplicateApplication):
		return nil, fail(KindValidation, "You have already applied for this event")
	case err != nil:
		log.Error("failed to create application", zap.Error(err))
		return nil, internalFailure()
	}

	log.Info("application created", zap.String("application_id", app.ID.String()))
	return app, ok()
}

// Submit moves a verified application into the review queue and notifies the
// applicant and the event's admins.
func (s *ApplicationService) Submit(ctx context.Context, appID uuid.UUID) Result {
	r := s.advance(ctx, appID, transition{
		action:    ActionSubmitted,
		guard:     (*models.VisaLetterApplication).IsPendingVerification,
		rejectMsg: "Application has already been submitted",
		apply:     (*models.VisaLetterApplication).Submit,
		columns: func(a *models.VisaLetterApplication) map[string]interface{} {
			return map[string]interface{}{"status": a.Status, "submitted_at": a.SubmittedAt}
		},
		metadata: map[string]interface{}{},
	})
	if r.Success {
		notify(ctx, s.enqueuer, s.logger, appID, ActionSubmitted,
			models.JobApplicationSubmitted, models.JobNewApplicationAdmin)
	}
	return r
}

// MarkLetterGenerated records that the letter for an approved application
// exists. It writes no audit entry.
func (s *ApplicationService) MarkLetterGenerated(ctx context.Context, appID uuid.UUID) Result {
	return s.advance(ctx, appID, transition{
		guard:     (*models.VisaLetterApplication).IsApproved,
		rejectMsg: "Letter can only be generated for approved applications",
		apply:     (*models.VisaLetterApplication).MarkLetterGenerated,
		columns: func(a *models.VisaLetterApplication) map[string]interface{} {
			return map[string]interface{}{"letter_generated_at": a.LetterGeneratedAt}
		},
	})
}

// MarkLetterSent finishes the lifecycle of an approved application.
func (s *ApplicationService) MarkLetterSent(ctx context.Context, appID uuid.UUID) Result {
	return s.advance(ctx, appID, transition{
		action:    ActionLetterSent,
		guard:     (*models.VisaLetterApplication).CanMarkLetterSent,
		rejectMsg: "Letter cannot be marked as sent",
		apply:     (*models.VisaLetterApplication).MarkLetterSent,
		columns: func(a *models.VisaLetterApplication) map[string]interface{} {
			return map[string]interface{}{"status": a.Status, "letter_sent_at": a.LetterSentAt}
		},
		metadata: map[string]interface{}{},
	})
}

func (s *ApplicationService) advance(ctx context.Context, appID uuid.UUID, t transition) Result {
	log := s.logger.With(zap.String("application_id", appID.String()), zap.String("action", t.action))

	var app models.VisaLetterApplication
	if err := s.db.WithContext(ctx).Where("id = ?", appID).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(KindNotFound, "Application not found")
		}
		log.Error("failed to load application", zap.Error(err))
		return internalFailure()
	}
	if !t.guard(&app) {
		return fail(KindInvalidTransition, "%s", t.rejectMsg)
	}

	err := commitTransition(ctx, s.db, s.audit, s.now(), appID, nil, t)
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		return fail(KindInvalidTransition, "%s", t.rejectMsg)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fail(KindNotFound, "Application not found")
	case err != nil:
		log.Error("application update failed", zap.Error(err))
		return internalFailure()
	}
	return ok()
}

// Verification is the public answer to a verification code lookup.
type Verification struct {
	Status          string `json:"status"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	ParticipantName string `json:"participant_name,omitempty"`
	EventName       string `json:"event_name,omitempty"`
	EventDates      string `json:"event_dates,omitempty"`
}

// CheckVerification resolves a verification code printed on a letter. Only
// delivered letters verify; anything earlier is reported as pending.
func (s *ApplicationService) CheckVerification(ctx context.Context, code string) (*Verification, Result) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fail(KindValidation, "Verification code is required")
	}

	var app models.VisaLetterApplication
	err := s.db.WithContext(ctx).
		Preload("Participant").
		Preload("Event").
		Where("verification_code = ?", code).
		First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fail(KindNotFound, "Invalid verification code")
		}
		s.logger.Error("failed to look up verification code", zap.Error(err))
		return nil, internalFailure()
	}

	if !app.IsLetterSent() {
		return &Verification{Status: VerificationPending}, ok()
	}
	v := &Verification{Status: VerificationVerified, ReferenceNumber: app.ReferenceNumber}
	if app.Participant != nil {
		v.ParticipantName = app.Participant.FullName
	}
	if app.Event != nil {
		v.EventName = app.Event.Name
		v.EventDates = app.Event.DateRange()
	}
	return v, ok()
}

// Get loads one application with its participant and event for an admin.
func (s *ApplicationService) Get(ctx context.Context, appID, actorID uuid.UUID) (*models.VisaLetterApplication, Result) {
	var app models.VisaLetterApplication
	err := s.db.WithContext(ctx).
		Preload("Participant").
		Preload("Event").
		Where("id = ?", appID).
		First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fail(KindNotFound, "Application not found")
		}
		s.logger.Error("failed to load application", zap.String("application_id", appID.String()), zap.Error(err))
		return nil, internalFailure()
	}
	if !s.authorize(ctx, actorID, CapabilityViewApplications, app.EventID) {
		return nil, fail(KindForbidden, "Not allowed to view this application")
	}
	return &app, ok()
}

// ApplicationFilter narrows an admin listing. A nil Admin or a super admin
// sees every event; other admins only see events they own.
type ApplicationFilter struct {
	Status   string
	EventID  *uuid.UUID
	Search   string
	Admin    *models.Admin
	Page     int
	PageSize int
}

// List returns one page of applications, newest first, and the total count.
func (s *ApplicationService) List(ctx context.Context, filter ApplicationFilter) ([]models.VisaLetterApplication, int64, Result) {
	if filter.Status != "" && !models.IsValidApplicationStatus(filter.Status) {
		return nil, 0, fail(KindValidation, "Unknown status %q", filter.Status)
	}
	page, pageSize := NormalizePage(filter.Page, filter.PageSize)

	q := s.db.WithContext(ctx).Model(&models.VisaLetterApplication{}).
		Joins("JOIN participants ON participants.id = visa_letter_applications.participant_id")
	if filter.Status != "" {
		q = q.Where("visa_letter_applications.status = ?", filter.Status)
	}
	if filter.EventID != nil {
		q = q.Where("visa_letter_applications.event_id = ?", *filter.EventID)
	}
	if filter.Admin != nil && !filter.Admin.SuperAdmin {
		q = q.Where("visa_letter_applications.event_id IN (?)",
			s.db.Model(&models.Event{}).Select("id").Where("admin_id = ?", filter.Admin.ID))
	}
	if term := strings.ToLower(strings.TrimSpace(filter.Search)); term != "" {
		like := "%" + term + "%"
		q = q.Where("(LOWER(visa_letter_applications.reference_number) LIKE ? OR LOWER(participants.full_name) LIKE ? OR LOWER(participants.email) LIKE ?)",
			like, like, like)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		s.logger.Error("failed to count applications", zap.Error(err))
		return nil, 0, internalFailure()
	}

	var apps []models.VisaLetterApplication
	if err := q.Preload("Participant").Preload("Event").
		Order("visa_letter_applications.created_at DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&apps).Error; err != nil {
		s.logger.Error("failed to list applications", zap.Error(err))
		return nil, 0, internalFailure()
	}
	return apps, total, ok()
}

// hardRejected reports whether email was hard-rejected for the event under
// any participant record.
func (s *ApplicationService) hardRejected(ctx context.Context, email string, eventID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.VisaLetterApplication{}).
		Joins("JOIN participants ON participants.id = visa_letter_applications.participant_id").
		Where("visa_letter_applications.event_id = ? AND visa_letter_applications.status = ? AND visa_letter_applications.rejection_type = ?",
			eventID, models.StatusRejected, models.RejectionTypeHard).
		Where("LOWER(participants.email) = ?", models.NormalizeEmail(email)).
		Count(&count).Error
	return count > 0, err
}

// insertApplication generates identifiers against tx and inserts a new
// application. When submittedAt is set the application skips verification.
// A unique violation on an identifier is retried with fresh values inside a
// savepoint; one on the participant/event pair yields errDuplicateApplication.
func insertApplication(ctx context.Context, tx *gorm.DB, random io.Reader, participantID, eventID uuid.UUID, submittedAt *time.Time) (*models.VisaLetterApplication, error) {
	gen := NewIdentifierGenerator(NewGormUniquenessIndex(tx)).WithRandom(random)

	for attempt := 1; ; attempt++ {
		ref, err := gen.Generate(ctx, IdentifierReferenceNumber)
		if err != nil {
			return nil, err
		}
		code, err := gen.Generate(ctx, IdentifierVerificationCode)
		if err != nil {
			return nil, err
		}

		app := models.NewVisaLetterApplication(participantID, eventID, ref, code)
		if submittedAt != nil {
			if err := app.Submit(*submittedAt); err != nil {
				return nil, err
			}
		}

		err = tx.Transaction(func(sp *gorm.DB) error {
			return sp.Create(app).Error
		})
		if err == nil {
			return app, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("insert application: %w", err)
		}

		var existing int64
		if cerr := tx.Model(&models.VisaLetterApplication{}).
			Where("participant_id = ? AND event_id = ?", participantID, eventID).
			Count(&existing).Error; cerr != nil {
			return nil, cerr
		}
		if existing > 0 {
			return nil, errDuplicateApplication
		}
		if attempt >= maxInsertAttempts {
			return nil, fmt.Errorf("insert application after %d attempts: %w", attempt, err)
		}
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// notify enqueues one job per type after a commit. Failures are logged; the
// committed state is never rolled back.
func notify(ctx context.Context, enqueuer Enqueuer, logger *zap.Logger, subjectID uuid.UUID, action string, jobTypes ...string) {
	if enqueuer == nil {
		return
	}
	payload := JobPayload{SubjectID: subjectID, Action: action}
	for _, jobType := range jobTypes {
		if err := enqueuer.Enqueue(persistentContext(ctx), jobType, payload); err != nil {
			logger.Error("failed to enqueue notification",
				zap.String("job_type", jobType),
				zap.String("subject_id", subjectID.String()),
				zap.Error(err),
			)
		}
	}
}

// NormalizePage applies the default page size and the upper bound used by
// every listing.
func NormalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
