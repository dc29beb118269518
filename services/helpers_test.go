package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"visa-letter-api/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

type enqueuedJob struct {
	JobType string
	Payload JobPayload
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueuedJob
	err  error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, jobType string, payload JobPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, enqueuedJob{JobType: jobType, Payload: payload})
	return nil
}

func (e *recordingEnqueuer) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, j.JobType)
	}
	return out
}

type sentMail struct {
	To      []string
	Subject string
	HTML    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to []string, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, HTML: html})
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// memoryIndex is an in-memory UniquenessIndex.
type memoryIndex struct {
	mu     sync.Mutex
	taken  map[IdentifierKind]map[string]bool
	checks int
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{taken: make(map[IdentifierKind]map[string]bool)}
}

func (i *memoryIndex) add(kind IdentifierKind, value string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.taken[kind] == nil {
		i.taken[kind] = make(map[string]bool)
	}
	i.taken[kind][value] = true
}

func (i *memoryIndex) Exists(_ context.Context, kind IdentifierKind, value string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.checks++
	return i.taken[kind][value], nil
}

func denyAll(context.Context, uuid.UUID, Capability, uuid.UUID) bool { return false }

var errBoom = errors.New("boom")

func seedAdmin(t *testing.T, db *gorm.DB, email string, superAdmin, notify bool) *models.Admin {
	t.Helper()
	admin := &models.Admin{
		ID:                    uuid.New(),
		Email:                 email,
		Name:                  "Admin " + email,
		SuperAdmin:            superAdmin,
		NotifyNewApplications: notify,
	}
	require.NoError(t, db.Create(admin).Error)
	return admin
}

func seedEvent(t *testing.T, db *gorm.DB, owner *models.Admin, name string) *models.Event {
	t.Helper()
	start := time.Now().UTC().AddDate(0, 2, 0)
	event := &models.Event{
		ID:               uuid.New(),
		AdminID:          owner.ID,
		Name:             name,
		Slug:             Parameterize(name) + "-" + uuid.NewString()[:8],
		VenueName:        "Hack Club HQ",
		City:             "Shelburne",
		Country:          "United States",
		StartDate:        start,
		EndDate:          start.AddDate(0, 0, 2),
		ContactEmail:     "events@example.com",
		Active:           true,
		ApplicationsOpen: true,
	}
	require.NoError(t, db.Create(event).Error)
	return event
}

func seedParticipant(t *testing.T, db *gorm.DB, email string) *models.Participant {
	t.Helper()
	p := &models.Participant{
		ID:             uuid.New(),
		Email:          email,
		FullName:       "Ada Lovelace",
		CountryOfBirth: "United Kingdom",
		PassportNumber: "X1234567",
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// seedApplication inserts an application in the given state without going
// through the services.
func seedApplication(t *testing.T, db *gorm.DB, participant *models.Participant, event *models.Event, status string, rejectionType string) *models.VisaLetterApplication {
	t.Helper()
	ref := "HC-" + uuid.NewString()[:8]
	code := uuid.NewString()[:32]
	app := models.NewVisaLetterApplication(participant.ID, event.ID, ref, code)
	app.Status = status
	now := time.Now().UTC()
	if status != models.StatusPendingVerification {
		app.SubmittedAt = &now
	}
	if status == models.StatusRejected {
		reason := "Incomplete information"
		app.RejectionReason = &reason
		app.RejectionType = &rejectionType
	}
	require.NoError(t, db.Create(app).Error)
	return app
}

func reloadApplication(t *testing.T, db *gorm.DB, id uuid.UUID) models.VisaLetterApplication {
	t.Helper()
	var app models.VisaLetterApplication
	require.NoError(t, db.Where("id = ?", id).First(&app).Error)
	return app
}

func auditActions(t *testing.T, db *gorm.DB, trackable models.Trackable) []string {
	t.Helper()
	var entries []models.AuditLog
	require.NoError(t, db.Where("trackable_type = ? AND trackable_id = ?", trackable.Type, trackable.ID).
		Order("created_at ASC").Find(&entries).Error)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}
