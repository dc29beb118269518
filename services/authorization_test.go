package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestOwnershipAuthorizer(t *testing.T) {
	db := newTestDB(t)
	owner := seedAdmin(t, db, "owner@example.com", false, true)
	other := seedAdmin(t, db, "other@example.com", false, true)
	root := seedAdmin(t, db, "root@example.com", true, false)
	event := seedEvent(t, db, owner, "Arcade")
	authorize := NewOwnershipAuthorizer(db, nil)
	ctx := context.Background()

	assert.True(t, authorize(ctx, owner.ID, CapabilityApprove, event.ID))
	assert.True(t, authorize(ctx, root.ID, CapabilityInvite, event.ID))
	assert.True(t, authorize(ctx, root.ID, CapabilityInvite, uuid.New()))
	assert.False(t, authorize(ctx, other.ID, CapabilityReject, event.ID))
	assert.False(t, authorize(ctx, owner.ID, CapabilityApprove, uuid.New()))
	assert.False(t, authorize(ctx, uuid.New(), CapabilityApprove, event.ID))
}
