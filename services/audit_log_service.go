package services

import (
	"context"
	"fmt"
	"iter"
	"time"

	"visa-letter-api/config"
	"visa-letter-api/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultAuditPageSize = 50

// AuditLogService appends and reads the audit trail. Entries are never
// updated or deleted.
type AuditLogService struct {
	db       *gorm.DB
	now      func() time.Time
	pageSize int
}

func NewAuditLogService(db *gorm.DB) *AuditLogService {
	if db == nil {
		db = config.DB
	}
	return &AuditLogService{db: db, now: utcNow, pageSize: defaultAuditPageSize}
}

// WithTx returns a service writing through tx, so appends share the caller's
// unit of work.
func (s *AuditLogService) WithTx(tx *gorm.DB) *AuditLogService {
	return &AuditLogService{db: tx, now: s.now, pageSize: s.pageSize}
}

// Append inserts one entry. Any error must abort the enclosing transaction.
func (s *AuditLogService) Append(ctx context.Context, trackable models.Trackable, action string, actorID *uuid.UUID, metadata map[string]interface{}) (*models.AuditLog, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	entry := &models.AuditLog{
		ID:            uuid.New(),
		TrackableType: trackable.Type,
		TrackableID:   trackable.ID,
		Action:        action,
		ActorID:       actorID,
		Metadata:      datatypes.JSONMap(metadata),
		CreatedAt:     s.now(),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("append audit log %s: %w", action, err)
	}
	return entry, nil
}

// QueryFor streams entries for trackable, newest first. Pages are fetched
// lazily with a keyset cursor; ranging again starts a fresh query.
func (s *AuditLogService) QueryFor(ctx context.Context, trackable models.Trackable) iter.Seq2[models.AuditLog, error] {
	return func(yield func(models.AuditLog, error) bool) {
		var cursor *models.AuditLog
		for {
			q := s.db.WithContext(ctx).
				Where("trackable_type = ? AND trackable_id = ?", trackable.Type, trackable.ID)
			if cursor != nil {
				q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))",
					cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
			}

			var page []models.AuditLog
			if err := q.Order("created_at DESC").Order("id DESC").Limit(s.pageSize).Find(&page).Error; err != nil {
				yield(models.AuditLog{}, fmt.Errorf("query audit logs: %w", err))
				return
			}
			for _, entry := range page {
				if !yield(entry, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &last
		}
	}
}

// List returns one page of entries for trackable and the total count.
func (s *AuditLogService) List(ctx context.Context, trackable models.Trackable, page, pageSize int) ([]models.AuditLog, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	q := s.db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("trackable_type = ? AND trackable_id = ?", trackable.Type, trackable.ID).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	var entries []models.AuditLog
	if err := q.Order("created_at DESC").Order("id DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	return entries, total, nil
}

// Exists reports whether trackable already has an entry with action.
func (s *AuditLogService) Exists(ctx context.Context, trackable models.Trackable, action string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("trackable_type = ? AND trackable_id = ? AND action = ?", trackable.Type, trackable.ID, action).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup audit log %s: %w", action, err)
	}
	return count > 0, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
