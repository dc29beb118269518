package controllers

import (
	"net/http"

	"visa-letter-api/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateInvitation issues a manual invitation for an event.
func (ctl *Controller) CreateInvitation(c *gin.Context) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}
	eventID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Email is required"})
		return
	}

	invitation, r := ctl.Invitations.Issue(c.Request.Context(), eventID, admin.ID, req.Email)
	if !r.Success {
		respondFailure(c, r)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "invitation": invitation})
}

// GetInvitations lists invitations visible to the current admin.
func (ctl *Controller) GetInvitations(c *gin.Context) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}
	eventID, ok := queryUUID(c, "event_id")
	if !ok {
		return
	}

	filter := services.InvitationFilter{
		EventID:  eventID,
		State:    c.Query("state"),
		Admin:    admin,
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "page_size"),
	}
	invitations, total, r := ctl.Invitations.List(c.Request.Context(), filter)
	if !r.Success {
		respondFailure(c, r)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"invitations": invitations,
		"pagination":  pagination(filter.Page, filter.PageSize, total),
	})
}

// ClaimInvitation binds an invitation to a verified participant and files
// their application.
func (ctl *Controller) ClaimInvitation(c *gin.Context) {
	var req struct {
		Token         string `json:"token" binding:"required"`
		ParticipantID string `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Token and participant_id are required"})
		return
	}
	participantID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid participant_id"})
		return
	}

	application, r := ctl.Invitations.Claim(c.Request.Context(), req.Token, services.ClaimInput{ParticipantID: participantID})
	if !r.Success {
		respondFailure(c, r)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":          true,
		"application_id":   application.ID,
		"reference_number": application.ReferenceNumber,
		"status":           application.Status,
	})
}
