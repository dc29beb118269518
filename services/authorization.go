package services

import (
	"context"
	"errors"

	"visa-letter-api/config"
	"visa-letter-api/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Capability names an administrative action gated by an Authorizer.
type Capability string

const (
	CapabilityApprove          Capability = "approve"
	CapabilityReject           Capability = "reject"
	CapabilityDowngrade        Capability = "downgrade_rejection"
	CapabilityInvite           Capability = "create_invitation"
	CapabilityManageEvent      Capability = "manage_event"
	CapabilityViewApplications Capability = "view_applications"
)

// Authorizer is the external capability check consulted before any mutation.
// It decides whether actorID may perform capability on the given event.
type Authorizer func(ctx context.Context, actorID uuid.UUID, capability Capability, eventID uuid.UUID) bool

// AllowAll authorizes everything. Callers that already gate requests
// upstream may use it.
func AllowAll(context.Context, uuid.UUID, Capability, uuid.UUID) bool {
	return true
}

// NewOwnershipAuthorizer allows super admins everywhere and other admins on
// the events they own. Unknown admins and events are denied.
func NewOwnershipAuthorizer(db *gorm.DB, logger *zap.Logger) Authorizer {
	if db == nil {
		db = config.DB
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, actorID uuid.UUID, capability Capability, eventID uuid.UUID) bool {
		var admin models.Admin
		if err := db.WithContext(ctx).Where("id = ?", actorID).First(&admin).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				logger.Error("authorization lookup failed", zap.String("actor_id", actorID.String()), zap.Error(err))
			}
			return false
		}
		if admin.SuperAdmin {
			return true
		}

		var owned int64
		if err := db.WithContext(ctx).Model(&models.Event{}).
			Where("id = ? AND admin_id = ?", eventID, actorID).
			Count(&owned).Error; err != nil {
			logger.Error("authorization lookup failed",
				zap.String("actor_id", actorID.String()),
				zap.String("capability", string(capability)),
				zap.Error(err),
			)
			return false
		}
		return owned > 0
	}
}
