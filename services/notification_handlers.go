package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"visa-letter-api/config"
	"visa-letter-api/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Mailer delivers one HTML mail.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, html string) error
}

// NotificationHandlers turns notification jobs into mails. Every handler
// re-reads the subject and checks a persisted marker first, so a redelivered
// job never sends twice once the first delivery was recorded.
type NotificationHandlers struct {
	db           *gorm.DB
	audit        *AuditLogService
	applications *ApplicationService
	mailer       Mailer
	baseURL      string
	logger       *zap.Logger
}

func NewNotificationHandlers(db *gorm.DB, applications *ApplicationService, mailer Mailer, baseURL string, logger *zap.Logger) *NotificationHandlers {
	if db == nil {
		db = config.DB
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandlers{
		db:           db,
		audit:        NewAuditLogService(db),
		applications: applications,
		mailer:       mailer,
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       logger,
	}
}

// Register binds every job type to its handler.
func (h *NotificationHandlers) Register(d *NotificationDispatcher) {
	d.Register(models.JobApplicationApproved, h.LetterReady)
	d.Register(models.JobApplicationRejected, h.Rejected)
	d.Register(models.JobRejectionDowngraded, h.Downgraded)
	d.Register(models.JobApplicationSubmitted, h.Submitted)
	d.Register(models.JobNewApplicationAdmin, h.NewApplicationAdmin)
	d.Register(models.JobManualInvitation, h.Invitation)
}

// LetterReady marks the letter generated, mails the download link and
// finishes the application. Status letter_sent is the delivery marker.
func (h *NotificationHandlers) LetterReady(ctx context.Context, job models.NotificationJob) error {
	app, err := h.loadApplication(ctx, job.SubjectID)
	if err != nil || app == nil {
		return err
	}
	if !app.IsApproved() {
		h.skip(job, "application no longer approved")
		return nil
	}

	if app.LetterGeneratedAt == nil {
		if r := h.applications.MarkLetterGenerated(ctx, app.ID); !r.Success {
			if r.Kind == KindInvalidTransition {
				h.skip(job, "application changed before letter generation")
				return nil
			}
			return r.Err()
		}
	}

	subject := fmt.Sprintf("Your visa invitation letter for %s", app.Event.Name)
	html := emailContent{
		Subject: subject,
		Paragraphs: []string{
			fmt.Sprintf("Hi %s,", greetingName(app.Participant)),
			fmt.Sprintf("Your visa invitation letter for %s has been approved and is ready to download.", app.Event.Name),
		},
		Meta: []emailMetaItem{
			{Label: "Reference number", Value: app.ReferenceNumber},
			{Label: "Event dates", Value: app.Event.DateRange()},
			{Label: "Venue", Value: app.Event.FullAddress()},
		},
		ButtonText: "Download letter",
		ButtonURL:  h.link("/letters/"+app.ID.String(), url.Values{"token": {app.VerificationCode}}),
		Footer:     contactFooter(app.Event),
	}.render()
	if err := h.mailer.Send(ctx, []string{app.Participant.Email}, subject, html); err != nil {
		return fmt.Errorf("send letter mail: %w", err)
	}

	if r := h.applications.MarkLetterSent(ctx, app.ID); !r.Success && r.Kind != KindInvalidTransition {
		return r.Err()
	}
	return nil
}

// Rejected tells the applicant about a rejection. Soft rejections include a
// link to apply again.
func (h *NotificationHandlers) Rejected(ctx context.Context, job models.NotificationJob) error {
	app, err := h.loadApplication(ctx, job.SubjectID)
	if err != nil || app == nil {
		return err
	}
	if !app.IsRejected() {
		h.skip(job, "application no longer rejected")
		return nil
	}

	return h.once(ctx, job, models.ApplicationTrackable(app.ID), ActionRejectionMailSent, func() error {
		subject := fmt.Sprintf("Update on your visa letter application for %s", app.Event.Name)
		paragraphs := []string{
			fmt.Sprintf("Hi %s,", greetingName(app.Participant)),
			fmt.Sprintf("Unfortunately we are unable to issue a visa invitation letter for %s.", app.Event.Name),
		}
		if app.RejectionReason != nil {
			paragraphs = append(paragraphs, "Reason: "+*app.RejectionReason)
		}
		content := emailContent{
			Subject:    subject,
			Paragraphs: paragraphs,
			Meta:       []emailMetaItem{{Label: "Reference number", Value: app.ReferenceNumber}},
			Footer:     contactFooter(app.Event),
		}
		if app.CanReapply() {
			content.Paragraphs = append(content.Paragraphs, "You are welcome to submit a new application.")
			content.ButtonText = "Apply again"
			content.ButtonURL = h.link("/events/"+app.Event.Slug, nil)
		}
		return h.mailer.Send(ctx, []string{app.Participant.Email}, subject, content.render())
	})
}

// Downgraded tells the applicant a hard rejection was softened.
func (h *NotificationHandlers) Downgraded(ctx context.Context, job models.NotificationJob) error {
	app, err := h.loadApplication(ctx, job.SubjectID)
	if err != nil || app == nil {
		return err
	}
	if !app.IsSoftRejected() {
		h.skip(job, "application is not soft-rejected")
		return nil
	}

	return h.once(ctx, job, models.ApplicationTrackable(app.ID), ActionDowngradeMailSent, func() error {
		subject := fmt.Sprintf("You can reapply for %s", app.Event.Name)
		html := emailContent{
			Subject: subject,
			Paragraphs: []string{
				fmt.Sprintf("Hi %s,", greetingName(app.Participant)),
				fmt.Sprintf("Your earlier application for %s has been reviewed again and you may now submit a new application.", app.Event.Name),
			},
			ButtonText: "Apply again",
			ButtonURL:  h.link("/events/"+app.Event.Slug, nil),
			Footer:     contactFooter(app.Event),
		}.render()
		return h.mailer.Send(ctx, []string{app.Participant.Email}, subject, html)
	})
}

// Submitted confirms receipt to the applicant.
func (h *NotificationHandlers) Submitted(ctx context.Context, job models.NotificationJob) error {
	app, err := h.loadApplication(ctx, job.SubjectID)
	if err != nil || app == nil {
		return err
	}

	return h.once(ctx, job, models.ApplicationTrackable(app.ID), ActionSubmissionMailSent, func() error {
		subject := fmt.Sprintf("We received your visa letter application for %s", app.Event.Name)
		html := emailContent{
			Subject: subject,
			Paragraphs: []string{
				fmt.Sprintf("Hi %s,", greetingName(app.Participant)),
				"Your application is now waiting for review. We will email you once a decision has been made.",
			},
			Meta: []emailMetaItem{
				{Label: "Reference number", Value: app.ReferenceNumber},
				{Label: "Event", Value: app.Event.Name},
			},
			Footer: contactFooter(app.Event),
		}.render()
		return h.mailer.Send(ctx, []string{app.Participant.Email}, subject, html)
	})
}

// NewApplicationAdmin alerts the event owner and opted-in super admins.
func (h *NotificationHandlers) NewApplicationAdmin(ctx context.Context, job models.NotificationJob) error {
	app, err := h.loadApplication(ctx, job.SubjectID)
	if err != nil || app == nil {
		return err
	}

	return h.once(ctx, job, models.ApplicationTrackable(app.ID), ActionAdminMailSent, func() error {
		recipients, err := adminRecipients(ctx, h.db, app.Event)
		if err != nil {
			return err
		}
		if len(recipients) == 0 {
			return nil
		}

		subject := fmt.Sprintf("New visa letter application for %s", app.Event.Name)
		html := emailContent{
			Subject:    subject,
			Paragraphs: []string{"A new application is waiting for review."},
			Meta: []emailMetaItem{
				{Label: "Reference number", Value: app.ReferenceNumber},
				{Label: "Applicant", Value: greetingName(app.Participant)},
				{Label: "Country of birth", Value: app.Participant.CountryOfBirth},
			},
			ButtonText: "Review application",
			ButtonURL:  h.link("/admin/applications/"+app.ID.String(), nil),
		}.render()
		return h.mailer.Send(ctx, recipients, subject, html)
	})
}

// Invitation mails the claim link. Nothing is sent once the invitation has
// been claimed.
func (h *NotificationHandlers) Invitation(ctx context.Context, job models.NotificationJob) error {
	var inv models.ManualInvitation
	err := h.db.WithContext(ctx).Preload("Event").Where("id = ?", job.SubjectID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.skip(job, "invitation not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load invitation: %w", err)
	}
	if inv.IsClaimed() {
		h.skip(job, "invitation already claimed")
		return nil
	}

	return h.once(ctx, job, models.InvitationTrackable(inv.ID), ActionInvitationMailSent, func() error {
		subject := fmt.Sprintf("You're invited to apply for a visa letter for %s", inv.Event.Name)
		html := emailContent{
			Subject: subject,
			Paragraphs: []string{
				"Hi,",
				fmt.Sprintf("The organizers of %s have invited you to request a visa invitation letter. Use the link below to complete your application.", inv.Event.Name),
			},
			Meta: []emailMetaItem{
				{Label: "Event dates", Value: inv.Event.DateRange()},
				{Label: "Venue", Value: inv.Event.FullAddress()},
			},
			ButtonText: "Complete application",
			ButtonURL:  h.link("/invitations/"+url.PathEscape(inv.Token), nil),
			Footer:     contactFooter(inv.Event),
		}.render()
		return h.mailer.Send(ctx, []string{inv.Email}, subject, html)
	})
}

// once runs send unless trackable already carries marker, then records the
// marker. A crash between the two may repeat the mail on redelivery.
func (h *NotificationHandlers) once(ctx context.Context, job models.NotificationJob, trackable models.Trackable, marker string, send func() error) error {
	sent, err := h.audit.Exists(ctx, trackable, marker)
	if err != nil {
		return err
	}
	if sent {
		h.skip(job, "notification already sent")
		return nil
	}
	if err := send(); err != nil {
		return fmt.Errorf("send %s: %w", job.JobType, err)
	}
	_, err = h.audit.Append(ctx, trackable, marker, nil, map[string]interface{}{"job_id": job.ID.String()})
	return err
}

func (h *NotificationHandlers) loadApplication(ctx context.Context, id uuid.UUID) (*models.VisaLetterApplication, error) {
	var app models.VisaLetterApplication
	err := h.db.WithContext(ctx).
		Preload("Participant").
		Preload("Event").
		Where("id = ?", id).
		First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.logger.Warn("notification subject not found", zap.String("application_id", id.String()))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load application: %w", err)
	}
	if app.Participant == nil || app.Event == nil {
		return nil, fmt.Errorf("application %s is missing its participant or event", id)
	}
	return &app, nil
}

func (h *NotificationHandlers) skip(job models.NotificationJob, reason string) {
	h.logger.Info("notification skipped",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", job.JobType),
		zap.String("reason", reason),
	)
}

func (h *NotificationHandlers) link(path string, query url.Values) string {
	u := h.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// adminRecipients lists the owner of event if opted in plus every opted-in
// super admin, without duplicates.
func adminRecipients(ctx context.Context, db *gorm.DB, event *models.Event) ([]string, error) {
	var admins []models.Admin
	err := db.WithContext(ctx).
		Where("notify_new_applications = ? AND (id = ? OR super_admin = ?)", true, event.AdminID, true).
		Order("email ASC").
		Find(&admins).Error
	if err != nil {
		return nil, fmt.Errorf("load admin recipients: %w", err)
	}

	seen := make(map[string]struct{}, len(admins))
	recipients := make([]string, 0, len(admins))
	for _, a := range admins {
		email := models.NormalizeEmail(a.Email)
		if email == "" {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		recipients = append(recipients, email)
	}
	return recipients, nil
}

func greetingName(p *models.Participant) string {
	if p == nil || strings.TrimSpace(p.FullName) == "" {
		return "there"
	}
	return strings.TrimSpace(p.FullName)
}

func contactFooter(e *models.Event) string {
	if e == nil || e.ContactEmail == "" {
		return ""
	}
	return "Questions? Contact " + e.ContactEmail
}
