package controllers

import (
	"net/http"
	"strings"

	"visa-letter-api/models"
	"visa-letter-api/services"

	"github.com/gin-gonic/gin"
)

type approveRequest struct {
	Notes string `json:"notes"`
}

type rejectRequest struct {
	Reason        string `json:"reason"`
	RejectionType string `json:"rejection_type"`
	Notes         string `json:"notes"`
}

// ApproveApplication moves a pending application to approved.
func (ctl *Controller) ApproveApplication(c *gin.Context) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req approveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}
	}

	ctl.respondDecision(c, ctl.Lifecycle.Approve(c.Request.Context(), id, admin.ID, req.Notes), "Application approved")
}

// RejectApplication rejects a pending application. A blank rejection type is
// treated as soft.
func (ctl *Controller) RejectApplication(c *gin.Context) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}
	rejectionType := strings.ToLower(strings.TrimSpace(req.RejectionType))
	if rejectionType == "" {
		rejectionType = models.RejectionTypeSoft
	}

	r := ctl.Lifecycle.Reject(c.Request.Context(), id, admin.ID, req.Reason, rejectionType, req.Notes)
	ctl.respondDecision(c, r, "Application rejected")
}

// DowngradeRejection turns a hard rejection into a soft one.
func (ctl *Controller) DowngradeRejection(c *gin.Context) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	ctl.respondDecision(c, ctl.Lifecycle.DowngradeToSoft(c.Request.Context(), id, admin.ID), "Rejection downgraded to soft")
}

func (ctl *Controller) respondDecision(c *gin.Context, r services.Result, message string) {
	if !r.Success {
		respondFailure(c, r)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}
