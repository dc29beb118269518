package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"visa-letter-api/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDispatcher(t *testing.T, db *gorm.DB, now *time.Time) *NotificationDispatcher {
	t.Helper()
	d := NewNotificationDispatcher(db, nil, DispatcherOptions{Workers: 2, PollInterval: 10 * time.Millisecond, Lease: time.Minute, MaxAttempts: 2})
	d.now = func() time.Time { return *now }
	return d
}

func loadJob(t *testing.T, db *gorm.DB, jobType string) models.NotificationJob {
	t.Helper()
	var job models.NotificationJob
	require.NoError(t, db.Where("job_type = ?", jobType).First(&job).Error)
	return job
}

func TestDispatcherRunsJobOnce(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(t, db, &now)

	var calls int32
	subject := uuid.New()
	d.Register(models.JobApplicationApproved, func(_ context.Context, job models.NotificationJob) error {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, subject, job.SubjectID)
		assert.Equal(t, ActionApproved, job.Action)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, d.Enqueue(ctx, models.JobApplicationApproved, JobPayload{SubjectID: subject, Action: ActionApproved}))

	took, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, took)

	took, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, took)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	job := loadJob(t, db, models.JobApplicationApproved)
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.LockedUntil)
}

func TestDispatcherReschedulesThenFails(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(t, db, &now)
	d.Register(models.JobApplicationRejected, func(context.Context, models.NotificationJob) error {
		return errBoom
	})
	ctx := context.Background()
	require.NoError(t, d.Enqueue(ctx, models.JobApplicationRejected, JobPayload{SubjectID: uuid.New(), Action: ActionRejected}))

	took, err := d.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, took)

	job := loadJob(t, db, models.JobApplicationRejected)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.True(t, job.AvailableAt.After(now))
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "boom")

	took, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, took, "job is not due yet")

	now = now.Add(time.Hour)
	took, err = d.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, took)

	job = loadJob(t, db, models.JobApplicationRejected)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestDispatcherRedeliversExpiredLease(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(t, db, &now)

	var calls int32
	d.Register(models.JobManualInvitation, func(context.Context, models.NotificationJob) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	stale := now.Add(-time.Minute)
	fresh := now.Add(time.Minute)
	for _, lockedUntil := range []time.Time{stale, fresh} {
		lockedUntil := lockedUntil
		require.NoError(t, db.Create(&models.NotificationJob{
			ID:          uuid.New(),
			JobType:     models.JobManualInvitation,
			SubjectID:   uuid.New(),
			Status:      models.JobStatusRunning,
			Attempts:    1,
			MaxAttempts: 3,
			AvailableAt: now.Add(-time.Hour),
			LockedUntil: &lockedUntil,
		}).Error)
	}

	ctx := context.Background()
	took, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, took)
	took, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, took, "a live lease must not be stolen")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatcherFailsUnknownJobType(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(t, db, &now)
	ctx := context.Background()
	require.NoError(t, d.Enqueue(ctx, "carrier_pigeon", JobPayload{SubjectID: uuid.New()}))

	took, err := d.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, took)
	assert.Equal(t, models.JobStatusFailed, loadJob(t, db, "carrier_pigeon").Status)
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	d := NewNotificationDispatcher(db, nil, DispatcherOptions{Workers: 2, PollInterval: 5 * time.Millisecond})

	done := make(chan struct{})
	d.Register(models.JobApplicationSubmitted, func(context.Context, models.NotificationJob) error {
		close(done)
		return nil
	})
	require.NoError(t, d.Enqueue(context.Background(), models.JobApplicationSubmitted, JobPayload{SubjectID: uuid.New()}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not processed")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestRetryDelayGrowsAndIsCapped(t *testing.T) {
	assert.Less(t, retryDelay(1), retryDelay(3))
	assert.LessOrEqual(t, retryDelay(40), 36*time.Minute)
	assert.Positive(t, retryDelay(1))
}

func TestDispatcherFailsExpiredLeaseOnFinalAttempt(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(t, db, &now)

	var calls int32
	d.Register(models.JobApplicationApproved, func(context.Context, models.NotificationJob) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	expired := now.Add(-time.Minute)
	require.NoError(t, db.Create(&models.NotificationJob{
		ID:          uuid.New(),
		JobType:     models.JobApplicationApproved,
		SubjectID:   uuid.New(),
		Status:      models.JobStatusRunning,
		Attempts:    3,
		MaxAttempts: 3,
		AvailableAt: now.Add(-time.Hour),
		LockedUntil: &expired,
	}).Error)

	took, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, took)
	assert.Zero(t, atomic.LoadInt32(&calls))

	job := loadJob(t, db, models.JobApplicationApproved)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Nil(t, job.LockedUntil)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "lease expired")
}
