package controllers

import (
	"context"
	"net/http"
	"time"

	"visa-letter-api/models"
	"visa-letter-api/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

type createEventRequest struct {
	Name                string `json:"name" binding:"required"`
	VenueName           string `json:"venue_name"`
	VenueAddress        string `json:"venue_address"`
	City                string `json:"city"`
	Country             string `json:"country"`
	StartDate           string `json:"start_date" binding:"required"`
	EndDate             string `json:"end_date" binding:"required"`
	ApplicationDeadline string `json:"application_deadline"`
	ContactEmail        string `json:"contact_email"`
	Active              *bool  `json:"active"`
	ApplicationsOpen    *bool  `json:"applications_open"`
}

func (req createEventRequest) input() (services.EventInput, string) {
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return services.EventInput{}, "start_date must be YYYY-MM-DD"
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return services.EventInput{}, "end_date must be YYYY-MM-DD"
	}

	in := services.EventInput{
		Name:             req.Name,
		VenueName:        req.VenueName,
		VenueAddress:     req.VenueAddress,
		City:             req.City,
		Country:          req.Country,
		StartDate:        start,
		EndDate:          end,
		ContactEmail:     req.ContactEmail,
		Active:           req.Active == nil || *req.Active,
		ApplicationsOpen: req.ApplicationsOpen == nil || *req.ApplicationsOpen,
	}
	if req.ApplicationDeadline != "" {
		deadline, err := time.Parse(dateLayout, req.ApplicationDeadline)
		if err != nil {
			return services.EventInput{}, "application_deadline must be YYYY-MM-DD"
		}
		in.ApplicationDeadline = &deadline
	}
	return in, ""
}

// CreateEvent creates an event owned by the current admin.
func (ctl *Controller) CreateEvent(c *gin.Context) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}

	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}
	in, problem := req.input()
	if problem != "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": problem})
		return
	}

	event, r := ctl.Events.Create(c.Request.Context(), admin.ID, in)
	if !r.Success {
		respondFailure(c, r)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "event": event})
}

type templateRequest struct {
	Template string `json:"template" binding:"required"`
}

// AddRejectionReasonTemplate appends a canned rejection reason to an event.
func (ctl *Controller) AddRejectionReasonTemplate(c *gin.Context) {
	ctl.editTemplate(c, ctl.Events.AddRejectionReasonTemplate)
}

// RemoveRejectionReasonTemplate drops a canned rejection reason from an event.
func (ctl *Controller) RemoveRejectionReasonTemplate(c *gin.Context) {
	ctl.editTemplate(c, ctl.Events.RemoveRejectionReasonTemplate)
}

func (ctl *Controller) editTemplate(c *gin.Context, edit func(ctx context.Context, eventID, adminID uuid.UUID, template string) (*models.Event, services.Result)) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}
	eventID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Template is required"})
		return
	}

	event, r := edit(c.Request.Context(), eventID, admin.ID, req.Template)
	if !r.Success {
		respondFailure(c, r)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":                    true,
		"rejection_reason_templates": event.RejectionReasonTemplatesList(),
	})
}

// DeleteEvent removes an event that has no applications or invitations.
func (ctl *Controller) DeleteEvent(c *gin.Context) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}
	eventID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	if r := ctl.Events.Delete(c.Request.Context(), eventID, admin.ID); !r.Success {
		respondFailure(c, r)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Event deleted"})
}

// UpdateNotificationSettings toggles new-application mail for the current admin.
func (ctl *Controller) UpdateNotificationSettings(c *gin.Context) {
	admin, ok := currentAdmin(c)
	if !ok {
		return
	}

	var req struct {
		NotifyNewApplications *bool `json:"notify_new_applications" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "notify_new_applications is required"})
		return
	}

	updated, r := ctl.Events.UpdateNotificationPreference(c.Request.Context(), admin.ID, *req.NotifyNewApplications)
	if !r.Success {
		respondFailure(c, r)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notify_new_applications": updated.NotifyNewApplications})
}
