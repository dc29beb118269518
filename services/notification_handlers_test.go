package services

import (
	"context"
	"testing"

	"visa-letter-api/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type handlerFixture struct {
	db       *gorm.DB
	mailer   *fakeMailer
	handlers *NotificationHandlers
	owner    *models.Admin
	event    *models.Event
	ada      *models.Participant
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	db := newTestDB(t)
	mailer := &fakeMailer{}
	owner := seedAdmin(t, db, "owner@example.com", false, true)
	apps := NewApplicationService(db, nil, nil, nil)
	return &handlerFixture{
		db:       db,
		mailer:   mailer,
		handlers: NewNotificationHandlers(db, apps, mailer, "https://visas.example.com/", nil),
		owner:    owner,
		event:    seedEvent(t, db, owner, "Campfire"),
		ada:      seedParticipant(t, db, "ada@example.com"),
	}
}

func jobFor(jobType string, subject uuid.UUID) models.NotificationJob {
	return models.NotificationJob{ID: uuid.New(), JobType: jobType, SubjectID: subject}
}

func TestLetterReadyDeliversOnce(t *testing.T) {
	f := newHandlerFixture(t)
	app := seedApplication(t, f.db, f.ada, f.event, models.StatusApproved, "")
	ctx := context.Background()

	job := jobFor(models.JobApplicationApproved, app.ID)
	require.NoError(t, f.handlers.LetterReady(ctx, job))
	require.NoError(t, f.handlers.LetterReady(ctx, job))

	require.Equal(t, 1, f.mailer.count())
	mail := f.mailer.sent[0]
	assert.Equal(t, []string{"ada@example.com"}, mail.To)
	assert.Contains(t, mail.Subject, "Campfire")
	assert.Contains(t, mail.HTML, "https://visas.example.com/letters/"+app.ID.String()+"?token="+app.VerificationCode)
	assert.Contains(t, mail.HTML, app.ReferenceNumber)

	got := reloadApplication(t, f.db, app.ID)
	assert.Equal(t, models.StatusLetterSent, got.Status)
	assert.NotNil(t, got.LetterGeneratedAt)
	assert.Equal(t, []string{ActionLetterSent}, auditActions(t, f.db, models.ApplicationTrackable(app.ID)))
}

func TestLetterReadyRetriesAfterMailFailure(t *testing.T) {
	f := newHandlerFixture(t)
	app := seedApplication(t, f.db, f.ada, f.event, models.StatusApproved, "")
	ctx := context.Background()
	job := jobFor(models.JobApplicationApproved, app.ID)

	f.mailer.err = errBoom
	require.Error(t, f.handlers.LetterReady(ctx, job))
	assert.Equal(t, models.StatusApproved, reloadApplication(t, f.db, app.ID).Status)

	f.mailer.err = nil
	require.NoError(t, f.handlers.LetterReady(ctx, job))
	assert.Equal(t, models.StatusLetterSent, reloadApplication(t, f.db, app.ID).Status)
	assert.Equal(t, 1, f.mailer.count())
}

func TestRejectedMailOffersReapplyOnlyWhenSoft(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	soft := seedApplication(t, f.db, f.ada, f.event, models.StatusRejected, models.RejectionTypeSoft)
	job := jobFor(models.JobApplicationRejected, soft.ID)
	require.NoError(t, f.handlers.Rejected(ctx, job))
	require.NoError(t, f.handlers.Rejected(ctx, job))
	require.Equal(t, 1, f.mailer.count())
	assert.Contains(t, f.mailer.sent[0].HTML, "Incomplete information")
	assert.Contains(t, f.mailer.sent[0].HTML, "/events/"+f.event.Slug)
	assert.Equal(t, []string{ActionRejectionMailSent}, auditActions(t, f.db, models.ApplicationTrackable(soft.ID)))

	other := seedEvent(t, f.db, f.owner, "Daydream")
	hard := seedApplication(t, f.db, f.ada, other, models.StatusRejected, models.RejectionTypeHard)
	require.NoError(t, f.handlers.Rejected(ctx, jobFor(models.JobApplicationRejected, hard.ID)))
	require.Equal(t, 2, f.mailer.count())
	assert.NotContains(t, f.mailer.sent[1].HTML, "Apply again")
}

func TestDowngradedMailRequiresSoftRejection(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	hard := seedApplication(t, f.db, f.ada, f.event, models.StatusRejected, models.RejectionTypeHard)
	require.NoError(t, f.handlers.Downgraded(ctx, jobFor(models.JobRejectionDowngraded, hard.ID)))
	assert.Zero(t, f.mailer.count())

	require.NoError(t, f.db.Model(hard).Update("rejection_type", models.RejectionTypeSoft).Error)
	require.NoError(t, f.handlers.Downgraded(ctx, jobFor(models.JobRejectionDowngraded, hard.ID)))
	require.NoError(t, f.handlers.Downgraded(ctx, jobFor(models.JobRejectionDowngraded, hard.ID)))
	assert.Equal(t, 1, f.mailer.count())
	assert.Equal(t, []string{ActionDowngradeMailSent}, auditActions(t, f.db, models.ApplicationTrackable(hard.ID)))
}

func TestInvitationMailSkippedOnceClaimed(t *testing.T) {
	f := newHandlerFixture(t)
	enqueuer := &recordingEnqueuer{}
	invitations := NewInvitationService(f.db, enqueuer, AllowAll, nil)
	ctx := context.Background()

	inv, r := invitations.Issue(ctx, f.event.ID, f.owner.ID, f.ada.Email)
	require.True(t, r.Success, r.Message)
	_, r = invitations.Claim(ctx, inv.Token, ClaimInput{ParticipantID: f.ada.ID})
	require.True(t, r.Success, r.Message)

	require.NoError(t, f.handlers.Invitation(ctx, jobFor(models.JobManualInvitation, inv.ID)))
	assert.Zero(t, f.mailer.count())
	assert.NotContains(t, auditActions(t, f.db, models.InvitationTrackable(inv.ID)), ActionInvitationMailSent)
}

func TestInvitationMailSentOnce(t *testing.T) {
	f := newHandlerFixture(t)
	invitations := NewInvitationService(f.db, nil, AllowAll, nil)
	ctx := context.Background()

	inv, r := invitations.Issue(ctx, f.event.ID, f.owner.ID, "a@b.com")
	require.True(t, r.Success, r.Message)

	job := jobFor(models.JobManualInvitation, inv.ID)
	require.NoError(t, f.handlers.Invitation(ctx, job))
	require.NoError(t, f.handlers.Invitation(ctx, job))

	require.Equal(t, 1, f.mailer.count())
	assert.Equal(t, []string{"a@b.com"}, f.mailer.sent[0].To)
	assert.Contains(t, f.mailer.sent[0].HTML, "https://visas.example.com/invitations/"+inv.Token)
}

func TestSubmittedAndAdminMails(t *testing.T) {
	f := newHandlerFixture(t)
	seedAdmin(t, f.db, "root@example.com", true, true)
	seedAdmin(t, f.db, "quiet@example.com", true, false)
	app := seedApplication(t, f.db, f.ada, f.event, models.StatusPendingApproval, "")
	ctx := context.Background()

	require.NoError(t, f.handlers.Submitted(ctx, jobFor(models.JobApplicationSubmitted, app.ID)))
	require.NoError(t, f.handlers.NewApplicationAdmin(ctx, jobFor(models.JobNewApplicationAdmin, app.ID)))
	require.NoError(t, f.handlers.NewApplicationAdmin(ctx, jobFor(models.JobNewApplicationAdmin, app.ID)))

	require.Equal(t, 2, f.mailer.count())
	assert.Equal(t, []string{"ada@example.com"}, f.mailer.sent[0].To)
	assert.ElementsMatch(t, []string{"owner@example.com", "root@example.com"}, f.mailer.sent[1].To)
	assert.ElementsMatch(t, []string{ActionSubmissionMailSent, ActionAdminMailSent},
		auditActions(t, f.db, models.ApplicationTrackable(app.ID)))
}

func TestAdminRecipientsDeduplicates(t *testing.T) {
	db := newTestDB(t)
	owner := seedAdmin(t, db, "Boss@Example.com", true, true)
	event := seedEvent(t, db, owner, "Hackathon")

	recipients, err := adminRecipients(context.Background(), db, event)
	require.NoError(t, err)
	assert.Equal(t, []string{"boss@example.com"}, recipients)

	require.NoError(t, db.Model(owner).Update("notify_new_applications", false).Error)
	recipients, err = adminRecipients(context.Background(), db, event)
	require.NoError(t, err)
	assert.Empty(t, recipients)
}

func TestHandlersIgnoreMissingSubjects(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.handlers.LetterReady(ctx, jobFor(models.JobApplicationApproved, uuid.New())))
	assert.NoError(t, f.handlers.Invitation(ctx, jobFor(models.JobManualInvitation, uuid.New())))
	assert.Zero(t, f.mailer.count())
}
