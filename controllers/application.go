package controllers

import (
	"net/http"

	"visa-letter-api/models"
	"visa-letter-api/services"

	"github.com/gin-gonic/gin"
)

// GetApplications lists applications visible to the current admin.
func (ctl *Controller) GetApplications(c *gin.Context) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}
	eventID, ok := queryUUID(c, "event_id")
	if !ok {
		return
	}

	filter := services.ApplicationFilter{
		Status:   c.Query("status"),
		EventID:  eventID,
		Search:   c.Query("q"),
		Admin:    admin,
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "page_size"),
	}
	applications, total, r := ctl.Applications.List(c.Request.Context(), filter)
	if !r.Success {
		respondFailure(c, r)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"applications": applications,
		"pagination":   pagination(filter.Page, filter.PageSize, total),
	})
}

// GetApplication returns one application with its participant and event.
func (ctl *Controller) GetApplication(c *gin.Context) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	application, r := ctl.Applications.Get(c.Request.Context(), id, admin.ID)
	if !r.Success {
		respondFailure(c, r)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "application": application})
}

// GetApplicationAudit returns the audit trail of one application, newest first.
func (ctl *Controller) GetApplicationAudit(c *gin.Context) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	// Get applies the same visibility rule as the detail view.
	if _, r := ctl.Applications.Get(c.Request.Context(), id, admin.ID); !r.Success {
		respondFailure(c, r)
		return
	}

	page, pageSize := queryInt(c, "page"), queryInt(c, "page_size")
	entries, total, err := ctl.Audit.List(c.Request.Context(), models.ApplicationTrackable(id), page, pageSize)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch audit log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"entries":    entries,
		"pagination": pagination(page, pageSize, total),
	})
}

// CheckVerification resolves the code printed on a visa letter.
func (ctl *Controller) CheckVerification(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Verification code is required"})
		return
	}

	verification, r := ctl.Applications.CheckVerification(c.Request.Context(), req.Code)
	if !r.Success {
		respondFailure(c, r)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "verification": verification})
}
