package controllers

import (
	"net/http"
	"strconv"

	"visa-letter-api/middleware"
	"visa-letter-api/models"
	"visa-letter-api/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Controller serves the HTTP API on top of the service layer.
type Controller struct {
	Applications *services.ApplicationService
	Lifecycle    *services.LifecycleService
	Invitations  *services.InvitationService
	Events       *services.EventService
	Audit        *services.AuditLogService
}

var kindStatus = map[services.ErrorKind]int{
	services.KindNotFound:          http.StatusNotFound,
	services.KindInvalidTransition: http.StatusConflict,
	services.KindAlreadyClaimed:    http.StatusConflict,
	services.KindValidation:        http.StatusUnprocessableEntity,
	services.KindForbidden:         http.StatusForbidden,
	services.KindInternal:          http.StatusInternalServerError,
}

// statusFor maps a failed result to its HTTP status.
func statusFor(r services.Result) int {
	if status, ok := kindStatus[r.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func respondFailure(c *gin.Context, r services.Result) {
	c.JSON(statusFor(r), gin.H{
		"success": false,
		"error":   r.Message,
		"kind":    r.Kind,
	})
}

func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid " + name})
		return nil, false
	}
	return &id, true
}

func queryInt(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return n
}

func currentAdmin(c *gin.Context) (*models.Admin, bool) {
	admin, ok := middleware.CurrentAdmin(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Admin context missing"})
	}
	return admin, ok
}

func pagination(page, pageSize int, total int64) gin.H {
	page, pageSize = services.NormalizePage(page, pageSize)
	return gin.H{"page": page, "page_size": pageSize, "total": total}
}
