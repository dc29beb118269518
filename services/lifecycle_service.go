package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"visa-letter-api/config"
	"visa-letter-api/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ActionApproved           = "approved"
	ActionRejected           = "rejected"
	ActionDowngradedToSoft   = "downgraded_to_soft_reject"
	ActionSubmitted          = "submitted"
	ActionLetterSent         = "letter_sent"
	ActionInvitationCreated  = "manual_invitation_created"
	ActionInvitationClaimed  = "manual_invitation_claimed"
	ActionInvitationMailSent = "manual_invitation_email_sent"
	ActionRejectionMailSent  = "rejection_notification_sent"
	ActionDowngradeMailSent  = "rejection_downgrade_notification_sent"
	ActionSubmissionMailSent = "submission_notification_sent"
	ActionAdminMailSent      = "admin_notification_sent"
)

// LifecycleService runs the admin review transitions of an application. Each
// transition commits the state change together with its audit entry, then
// enqueues one notification job.
type LifecycleService struct {
	db        *gorm.DB
	audit     *AuditLogService
	enqueuer  Enqueuer
	authorize Authorizer
	logger    *zap.Logger
	now       func() time.Time
}

func NewLifecycleService(db *gorm.DB, enqueuer Enqueuer, authorize Authorizer, logger *zap.Logger) *LifecycleService {
	if db == nil {
		db = config.DB
	}
	if authorize == nil {
		authorize = AllowAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{
		db:        db,
		audit:     NewAuditLogService(db),
		enqueuer:  enqueuer,
		authorize: authorize,
		logger:    logger,
		now:       utcNow,
	}
}

// transition describes one guarded state change.
type transition struct {
	action     string
	capability Capability
	jobType    string
	guard      func(*models.VisaLetterApplication) bool
	rejectMsg  string
	apply      func(*models.VisaLetterApplication, time.Time) error
	columns    func(*models.VisaLetterApplication) map[string]interface{}
	metadata   map[string]interface{}
}

// Approve moves a pending application to approved and schedules the letter.
func (s *LifecycleService) Approve(ctx context.Context, appID, actorID uuid.UUID, notes string) Result {
	notesPtr := optionalString(notes)
	return s.run(ctx, appID, actorID, transition{
		action:     ActionApproved,
		capability: CapabilityApprove,
		jobType:    models.JobApplicationApproved,
		guard:      (*models.VisaLetterApplication).CanBeApproved,
		rejectMsg:  "Application cannot be approved",
		apply: func(a *models.VisaLetterApplication, now time.Time) error {
			return a.Approve(actorID, notesPtr, now)
		},
		columns:  reviewColumns,
		metadata: map[string]interface{}{"notes": nullable(notesPtr)},
	})
}

// Reject moves a pending application to rejected with a soft or hard type.
func (s *LifecycleService) Reject(ctx context.Context, appID, actorID uuid.UUID, reason, rejectionType, notes string) Result {
	reason = strings.TrimSpace(reason)
	if err := models.ValidateRejection(reason, rejectionType); err != nil {
		r := fail(KindValidation, "%s", capitalize(err.Error()))
		lifecycleOutcomes.WithLabelValues(ActionRejected, kindLabel(r)).Inc()
		return r
	}

	notesPtr := optionalString(notes)
	return s.run(ctx, appID, actorID, transition{
		action:     ActionRejected,
		capability: CapabilityReject,
		jobType:    models.JobApplicationRejected,
		guard:      (*models.VisaLetterApplication).CanBeRejected,
		rejectMsg:  "Application cannot be rejected",
		apply: func(a *models.VisaLetterApplication, now time.Time) error {
			return a.Reject(actorID, reason, rejectionType, notesPtr, now)
		},
		columns: reviewColumns,
		metadata: map[string]interface{}{
			"reason":         reason,
			"rejection_type": rejectionType,
			"notes":          nullable(notesPtr),
		},
	})
}

// DowngradeToSoft turns a hard rejection into a soft one so the applicant
// may reapply. There is no reverse operation.
func (s *LifecycleService) DowngradeToSoft(ctx context.Context, appID, actorID uuid.UUID) Result {
	return s.run(ctx, appID, actorID, transition{
		action:     ActionDowngradedToSoft,
		capability: CapabilityDowngrade,
		jobType:    models.JobRejectionDowngraded,
		guard:      (*models.VisaLetterApplication).CanBeDowngraded,
		rejectMsg:  "Only hard-rejected applications can be downgraded",
		apply: func(a *models.VisaLetterApplication, _ time.Time) error {
			return a.DowngradeToSoft()
		},
		columns: func(a *models.VisaLetterApplication) map[string]interface{} {
			return map[string]interface{}{"rejection_type": a.RejectionType}
		},
		metadata: map[string]interface{}{},
	})
}

func (s *LifecycleService) run(ctx context.Context, appID, actorID uuid.UUID, t transition) (result Result) {
	defer func() {
		lifecycleOutcomes.WithLabelValues(t.action, kindLabel(result)).Inc()
	}()

	log := s.logger.With(
		zap.String("action", t.action),
		zap.String("application_id", appID.String()),
		zap.String("actor_id", actorID.String()),
	)

	var app models.VisaLetterApplication
	if err := s.db.WithContext(ctx).Where("id = ?", appID).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(KindNotFound, "Application not found")
		}
		log.Error("failed to load application", zap.Error(err))
		return internalFailure()
	}

	if !s.authorize(ctx, actorID, t.capability, app.EventID) {
		return fail(KindForbidden, "Not allowed to %s this application", strings.ReplaceAll(string(t.capability), "_", " "))
	}
	if !t.guard(&app) {
		return fail(KindInvalidTransition, "%s", t.rejectMsg)
	}

	err := commitTransition(ctx, s.db, s.audit, s.now(), appID, &actorID, t)
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		// Another admin changed the application between the read and the lock.
		return fail(KindInvalidTransition, "%s", t.rejectMsg)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fail(KindNotFound, "Application not found")
	case err != nil:
		log.Error("lifecycle transaction failed", zap.Error(err))
		return internalFailure()
	}

	if s.enqueuer != nil {
		payload := JobPayload{SubjectID: appID, Action: t.action}
		if err := s.enqueuer.Enqueue(persistentContext(ctx), t.jobType, payload); err != nil {
			// The state change is committed; delivery is retried by the queue's owner.
			log.Error("failed to enqueue notification", zap.String("job_type", t.jobType), zap.Error(err))
		}
	}

	log.Info("application transition committed")
	return ok()
}

// commitTransition locks the application row, re-checks the guard through
// apply, writes the changed columns conditionally on the observed state and
// appends the audit entry, all in one transaction. An empty action skips the
// audit entry.
func commitTransition(ctx context.Context, db *gorm.DB, audit *AuditLogService, now time.Time, appID uuid.UUID, actorID *uuid.UUID, t transition) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.VisaLetterApplication
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", appID).
			First(&locked).Error; err != nil {
			return err
		}

		fromStatus := locked.Status
		fromType := locked.RejectionType
		if err := t.apply(&locked, now); err != nil {
			return err
		}

		q := tx.Model(&models.VisaLetterApplication{}).Where("id = ? AND status = ?", appID, fromStatus)
		if fromType != nil {
			q = q.Where("rejection_type = ?", *fromType)
		}
		res := q.Updates(t.columns(&locked))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return models.ErrInvalidTransition
		}

		if t.action == "" {
			return nil
		}
		_, err := audit.WithTx(tx).Append(ctx, models.ApplicationTrackable(appID), t.action, actorID, t.metadata)
		return err
	})
}

func reviewColumns(a *models.VisaLetterApplication) map[string]interface{} {
	return map[string]interface{}{
		"status":           a.Status,
		"reviewed_by_id":   a.ReviewedByID,
		"reviewed_at":      a.ReviewedAt,
		"rejection_reason": a.RejectionReason,
		"rejection_type":   a.RejectionType,
		"admin_notes":      a.AdminNotes,
	}
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
