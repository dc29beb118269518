package routes

import (
	"visa-letter-api/controllers"
	"visa-letter-api/middleware"
	"visa-letter-api/monitor"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func SetupRoutes(router *gin.Engine, ctl *controllers.Controller, db *gorm.DB, jwtSecret string) {
	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			monitor.RegisterHealthRoute(public, db)

			public.POST("/verifications", ctl.CheckVerification)
			public.POST("/invitations/claim", ctl.ClaimInvitation)
		}

		// Admin routes (require a signed admin token)
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(db, jwtSecret))
		{
			applications := admin.Group("/applications")
			{
				applications.GET("", ctl.GetApplications)
				applications.GET("/:id", ctl.GetApplication)
				applications.GET("/:id/audit", ctl.GetApplicationAudit)
				applications.POST("/:id/approve", ctl.ApproveApplication)
				applications.POST("/:id/reject", ctl.RejectApplication)
				applications.POST("/:id/downgrade", ctl.DowngradeRejection)
			}

			admin.GET("/invitations", ctl.GetInvitations)

			events := admin.Group("/events")
			{
				events.POST("", ctl.CreateEvent)
				events.DELETE("/:id", ctl.DeleteEvent)
				events.POST("/:id/invitations", ctl.CreateInvitation)
				events.POST("/:id/rejection-templates", ctl.AddRejectionReasonTemplate)
				events.DELETE("/:id/rejection-templates", ctl.RemoveRejectionReasonTemplate)
			}

			admin.PUT("/settings/notifications", ctl.UpdateNotificationSettings)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"success": false, "error": "Endpoint not found"})
	})
}
