package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"visa-letter-api/config"
	"visa-letter-api/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// JobPayload identifies the subject of a notification and what happened to it.
type JobPayload struct {
	SubjectID uuid.UUID `json:"subject_id"`
	Action    string    `json:"action"`
}

// Enqueuer schedules a notification job for asynchronous execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload JobPayload) error
}

// JobHandler executes one notification job. It is called at least once per
// job and must re-check persisted state before sending anything.
type JobHandler func(ctx context.Context, job models.NotificationJob) error

type DispatcherOptions struct {
	Workers      int
	PollInterval time.Duration
	Lease        time.Duration
	MaxAttempts  int
}

func DispatcherOptionsFrom(s config.WorkerSettings) DispatcherOptions {
	return DispatcherOptions{
		Workers:      s.Concurrency,
		PollInterval: s.PollInterval,
		Lease:        s.Lease,
		MaxAttempts:  s.MaxAttempts,
	}
}

// NotificationDispatcher is a durable job queue backed by notification_jobs
// with a pool of polling workers.
type NotificationDispatcher struct {
	db       *gorm.DB
	logger   *zap.Logger
	opts     DispatcherOptions
	handlers map[string]JobHandler
	now      func() time.Time
}

func NewNotificationDispatcher(db *gorm.DB, logger *zap.Logger, opts DispatcherOptions) *NotificationDispatcher {
	if db == nil {
		db = config.DB
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	return &NotificationDispatcher{
		db:       db,
		logger:   logger,
		opts:     opts,
		handlers: make(map[string]JobHandler),
		now:      utcNow,
	}
}

// Register binds a handler to a job type. Call before Run.
func (d *NotificationDispatcher) Register(jobType string, h JobHandler) {
	d.handlers[jobType] = h
}

// Enqueue persists a pending job available immediately.
func (d *NotificationDispatcher) Enqueue(ctx context.Context, jobType string, payload JobPayload) error {
	now := d.now()
	job := &models.NotificationJob{
		ID:          uuid.New(),
		JobType:     jobType,
		SubjectID:   payload.SubjectID,
		Action:      payload.Action,
		Status:      models.JobStatusPending,
		MaxAttempts: d.opts.MaxAttempts,
		AvailableAt: now,
	}
	if err := d.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return nil
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (d *NotificationDispatcher) Run(ctx context.Context) error {
	d.logger.Info("notification workers started",
		zap.Int("workers", d.opts.Workers),
		zap.Duration("poll_interval", d.opts.PollInterval),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			return d.work(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	d.logger.Info("notification workers stopped")
	return err
}

func (d *NotificationDispatcher) work(ctx context.Context, worker int) error {
	for {
		processed, err := d.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			d.logger.Error("notification worker poll failed", zap.Int("worker", worker), zap.Error(err))
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.opts.PollInterval):
		}
	}
}

// RunOnce takes at most one ready job and executes it. It reports whether a
// job was taken.
func (d *NotificationDispatcher) RunOnce(ctx context.Context) (bool, error) {
	job, err := d.take(ctx)
	if err != nil || job == nil {
		return false, err
	}
	d.execute(ctx, job)
	return true, nil
}

// take leases the oldest ready job. Pending jobs whose time has come and
// running jobs whose lease expired with attempts left are both ready; the
// latter is how a job abandoned by a crashed worker gets redelivered.
func (d *NotificationDispatcher) take(ctx context.Context) (*models.NotificationJob, error) {
	now := d.now()

	if err := d.failAbandoned(ctx, now); err != nil {
		return nil, err
	}

	var candidates []models.NotificationJob
	if err := d.db.WithContext(ctx).
		Where("(status = ? AND available_at <= ?) OR (status = ? AND locked_until < ? AND attempts < max_attempts)",
			models.JobStatusPending, now, models.JobStatusRunning, now).
		Order("available_at ASC").
		Limit(d.opts.Workers + 1).
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("find ready jobs: %w", err)
	}

	for i := range candidates {
		job := candidates[i]
		leaseUntil := now.Add(d.opts.Lease)
		// attempts acts as a version: only one worker can move it forward.
		res := d.db.WithContext(ctx).Model(&models.NotificationJob{}).
			Where("id = ? AND status = ? AND attempts = ?", job.ID, job.Status, job.Attempts).
			Updates(map[string]interface{}{
				"status":       models.JobStatusRunning,
				"attempts":     job.Attempts + 1,
				"locked_until": leaseUntil,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("lease job %s: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			job.Status = models.JobStatusRunning
			job.Attempts++
			job.LockedUntil = &leaseUntil
			return &job, nil
		}
	}
	return nil, nil
}

// failAbandoned gives up on running jobs whose lease expired during their
// last allowed attempt.
func (d *NotificationDispatcher) failAbandoned(ctx context.Context, now time.Time) error {
	res := d.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Where("status = ? AND locked_until < ? AND attempts >= max_attempts", models.JobStatusRunning, now).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"locked_until": nil,
			"last_error":   "lease expired on the final attempt",
		})
	if res.Error != nil {
		return fmt.Errorf("fail abandoned jobs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		d.logger.Warn("abandoned notification jobs marked failed", zap.Int64("count", res.RowsAffected))
		notificationJobOutcomes.WithLabelValues("any", "abandoned").Add(float64(res.RowsAffected))
	}
	return nil
}

func (d *NotificationDispatcher) execute(ctx context.Context, job *models.NotificationJob) {
	log := d.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", job.JobType),
		zap.String("subject_id", job.SubjectID.String()),
		zap.Int("attempt", job.Attempts),
	)

	handler, found := d.handlers[job.JobType]
	if !found {
		log.Error("no handler registered for job type")
		d.finish(ctx, job, models.JobStatusFailed, nil, "no handler registered")
		notificationJobOutcomes.WithLabelValues(job.JobType, "unhandled").Inc()
		return
	}

	if err := handler(persistentContext(ctx), *job); err != nil {
		if job.Attempts >= job.MaxAttempts {
			log.Error("notification job failed permanently", zap.Error(err))
			d.finish(ctx, job, models.JobStatusFailed, nil, err.Error())
			notificationJobOutcomes.WithLabelValues(job.JobType, "failed").Inc()
			return
		}
		retryAt := d.now().Add(retryDelay(job.Attempts))
		log.Warn("notification job failed, will retry", zap.Time("retry_at", retryAt), zap.Error(err))
		d.finish(ctx, job, models.JobStatusPending, &retryAt, err.Error())
		notificationJobOutcomes.WithLabelValues(job.JobType, "retry").Inc()
		return
	}

	d.finish(ctx, job, models.JobStatusDone, nil, "")
	notificationJobOutcomes.WithLabelValues(job.JobType, "done").Inc()
	log.Info("notification job done")
}

func (d *NotificationDispatcher) finish(ctx context.Context, job *models.NotificationJob, status string, availableAt *time.Time, lastError string) {
	updates := map[string]interface{}{
		"status":       status,
		"locked_until": nil,
	}
	if availableAt != nil {
		updates["available_at"] = *availableAt
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	err := d.db.WithContext(persistentContext(ctx)).Model(&models.NotificationJob{}).
		Where("id = ? AND attempts = ?", job.ID, job.Attempts).
		Updates(updates).Error
	if err != nil {
		// The lease will expire and the job will be redelivered.
		d.logger.Error("failed to record job outcome",
			zap.String("job_id", job.ID.String()),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

// retryDelay is the exponential backoff after the given number of attempts.
func retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Second
	b.RandomizationFactor = 0.2
	b.MaxInterval = 30 * time.Minute

	var delay time.Duration
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
