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
	"visa-letter-api/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errInvitationClaimed = errors.New("invitation already claimed")

// ClaimInput carries the applicant claiming an invitation.
type ClaimInput struct {
	ParticipantID uuid.UUID
}

// InvitationService issues single-use invitations and turns a claim into a
// submitted application.
type InvitationService struct {
	db        *gorm.DB
	audit     *AuditLogService
	enqueuer  Enqueuer
	authorize Authorizer
	logger    *zap.Logger
	random    io.Reader
	now       func() time.Time
}

func NewInvitationService(db *gorm.DB, enqueuer Enqueuer, authorize Authorizer, logger *zap.Logger) *InvitationService {
	if db == nil {
		db = config.DB
	}
	if authorize == nil {
		authorize = AllowAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvitationService{
		db:        db,
		audit:     NewAuditLogService(db),
		enqueuer:  enqueuer,
		authorize: authorize,
		logger:    logger,
		random:    rand.Reader,
		now:       utcNow,
	}
}

// Issue creates an unclaimed invitation for email and schedules the
// invitation mail.
func (s *InvitationService) Issue(ctx context.Context, eventID, adminID uuid.UUID, email string) (inv *models.ManualInvitation, result Result) {
	defer func() {
		invitationOutcomes.WithLabelValues("issue", kindLabel(result)).Inc()
	}()

	email = models.NormalizeEmail(utils.SanitizeInput(email))
	if !utils.ValidateEmail(email) {
		return nil, fail(KindValidation, "A valid email address is required")
	}

	log := s.logger.With(
		zap.String("event_id", eventID.String()),
		zap.String("admin_id", adminID.String()),
	)

	var event models.Event
	if err := s.db.WithContext(ctx).Where("id = ?", eventID).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fail(KindNotFound, "Event not found")
		}
		log.Error("failed to load event", zap.Error(err))
		return nil, internalFailure()
	}
	if !s.authorize(ctx, adminID, CapabilityInvite, eventID) {
		return nil, fail(KindForbidden, "Not allowed to invite applicants to this event")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := insertInvitation(ctx, tx, s.random, eventID, adminID, email)
		if err != nil {
			return err
		}
		inv = created
		_, err = s.audit.WithTx(tx).Append(ctx, models.EventTrackable(eventID), ActionInvitationCreated, &adminID,
			map[string]interface{}{
				"email":         email,
				"invitation_id": created.ID.String(),
			})
		return err
	})
	if err != nil {
		log.Error("failed to issue invitation", zap.Error(err))
		return nil, internalFailure()
	}

	notify(ctx, s.enqueuer, s.logger, inv.ID, ActionInvitationCreated, models.JobManualInvitation)
	log.Info("invitation issued", zap.String("invitation_id", inv.ID.String()))
	return inv, ok()
}

// Claim binds the invitation to a new application for the participant. The
// application skips verification and enters review directly. Of concurrent
// claims on one token exactly one succeeds; the others get AlreadyClaimed.
func (s *InvitationService) Claim(ctx context.Context, token string, input ClaimInput) (app *models.VisaLetterApplication, result Result) {
	defer func() {
		invitationOutcomes.WithLabelValues("claim", kindLabel(result)).Inc()
	}()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fail(KindValidation, "Invitation token is required")
	}

	var inv models.ManualInvitation
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fail(KindNotFound, "Invitation not found")
		}
		s.logger.Error("failed to load invitation", zap.Error(err))
		return nil, internalFailure()
	}
	if inv.IsClaimed() {
		return nil, fail(KindAlreadyClaimed, "Invitation has already been used")
	}

	log := s.logger.With(
		zap.String("invitation_id", inv.ID.String()),
		zap.String("participant_id", input.ParticipantID.String()),
	)

	var participant models.Participant
	if err := s.db.WithContext(ctx).Where("id = ?", input.ParticipantID).First(&participant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fail(KindNotFound, "Participant not found")
		}
		log.Error("failed to load participant", zap.Error(err))
		return nil, internalFailure()
	}
	if models.NormalizeEmail(participant.Email) != inv.Email {
		return nil, fail(KindForbidden, "Invitation was issued to a different email address")
	}

	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := insertApplication(ctx, tx, s.random, participant.ID, inv.EventID, &now)
		if errors.Is(err, errDuplicateApplication) {
			// A concurrent claim by the same participant lands here.
			var claimed int64
			if cerr := tx.Model(&models.ManualInvitation{}).
				Where("id = ? AND claimed_at IS NOT NULL", inv.ID).
				Count(&claimed).Error; cerr != nil {
				return cerr
			}
			if claimed > 0 {
				return errInvitationClaimed
			}
		}
		if err != nil {
			return err
		}

		res := tx.Model(&models.ManualInvitation{}).
			Where("id = ? AND claimed_at IS NULL", inv.ID).
			Updates(map[string]interface{}{
				"claimed_at":                 now,
				"visa_letter_application_id": created.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errInvitationClaimed
		}

		_, err = s.audit.WithTx(tx).Append(ctx, models.InvitationTrackable(inv.ID), ActionInvitationClaimed, nil,
			map[string]interface{}{
				"application_id": created.ID.String(),
				"participant_id": participant.ID.String(),
			})
		if err != nil {
			return err
		}
		app = created
		return nil
	})
	switch {
	case errors.Is(err, errInvitationClaimed):
		return nil, fail(KindAlreadyClaimed, "Invitation has already been used")
	case errors.Is(err, errDuplicateApplication):
		return nil, fail(KindValidation, "You have already applied for this event")
	case err != nil:
		log.Error("invitation claim failed", zap.Error(err))
		return nil, internalFailure()
	}

	notify(ctx, s.enqueuer, s.logger, app.ID, ActionSubmitted,
		models.JobApplicationSubmitted, models.JobNewApplicationAdmin)
	log.Info("invitation claimed", zap.String("application_id", app.ID.String()))
	return app, ok()
}

// InvitationFilter narrows an invitation listing. State is "", "pending" or
// "claimed".
type InvitationFilter struct {
	EventID  *uuid.UUID
	State    string
	Admin    *models.Admin
	Page     int
	PageSize int
}

const (
	InvitationStatePending = "pending"
	InvitationStateClaimed = "claimed"
)

// List returns one page of invitations, newest first, and the total count.
func (s *InvitationService) List(ctx context.Context, filter InvitationFilter) ([]models.ManualInvitation, int64, Result) {
	page, pageSize := NormalizePage(filter.Page, filter.PageSize)

	q := s.db.WithContext(ctx).Model(&models.ManualInvitation{})
	switch filter.State {
	case "":
	case InvitationStatePending:
		q = q.Where("claimed_at IS NULL")
	case InvitationStateClaimed:
		q = q.Where("claimed_at IS NOT NULL")
	default:
		return nil, 0, fail(KindValidation, "Unknown invitation state %q", filter.State)
	}
	if filter.EventID != nil {
		q = q.Where("event_id = ?", *filter.EventID)
	}
	if filter.Admin != nil && !filter.Admin.SuperAdmin {
		q = q.Where("event_id IN (?)",
			s.db.Model(&models.Event{}).Select("id").Where("admin_id = ?", filter.Admin.ID))
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		s.logger.Error("failed to count invitations", zap.Error(err))
		return nil, 0, internalFailure()
	}

	var invitations []models.ManualInvitation
	if err := q.Preload("Event").
		Order("created_at DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&invitations).Error; err != nil {
		s.logger.Error("failed to list invitations", zap.Error(err))
		return nil, 0, internalFailure()
	}
	return invitations, total, ok()
}

func insertInvitation(ctx context.Context, tx *gorm.DB, random io.Reader, eventID, adminID uuid.UUID, email string) (*models.ManualInvitation, error) {
	gen := NewIdentifierGenerator(NewGormUniquenessIndex(tx)).WithRandom(random)

	for attempt := 1; ; attempt++ {
		token, err := gen.Generate(ctx, IdentifierInvitationToken)
		if err != nil {
			return nil, err
		}
		inv := models.NewManualInvitation(eventID, adminID, email, token)
		err = tx.Transaction(func(sp *gorm.DB) error {
			return sp.Create(inv).Error
		})
		if err == nil {
			return inv, nil
		}
		if !isUniqueViolation(err) || attempt >= maxInsertAttempts {
			return nil, fmt.Errorf("insert invitation: %w", err)
		}
	}
}
