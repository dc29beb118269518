package monitor

import (
	"crypto/subtle"
	"net/http"
	"os"

	"visa-letter-api/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var notificationQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "visa_letter",
	Name:      "notification_jobs",
	Help:      "Notification jobs currently stored, by status.",
}, []string{"status"})

func init() {
	prometheus.MustRegister(notificationQueueDepth)
}

// RegisterMetricsRoute exposes the Prometheus registry on /metrics. The queue
// depth gauge is refreshed from the database on every scrape.
func RegisterMetricsRoute(router *gin.Engine, db *gorm.DB, logger *zap.Logger) {
	router.GET("/metrics", queueDepthMiddleware(db, logger), gin.WrapH(promhttp.Handler()))
}

func queueDepthMiddleware(db *gorm.DB, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rows []struct {
			Status string
			Total  int64
		}
		err := db.WithContext(c.Request.Context()).Model(&models.NotificationJob{}).
			Select("status, COUNT(*) AS total").
			Group("status").
			Scan(&rows).Error
		if err != nil {
			logger.Warn("failed to count notification jobs", zap.Error(err))
			c.Next()
			return
		}

		for _, status := range models.JobStatuses {
			notificationQueueDepth.WithLabelValues(status).Set(0)
		}
		for _, row := range rows {
			notificationQueueDepth.WithLabelValues(row.Status).Set(float64(row.Total))
		}
		c.Next()
	}
}

// RegisterHealthRoute answers liveness probes and pings the database.
func RegisterHealthRoute(group *gin.RouterGroup, db *gorm.DB) {
	group.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "degraded",
				"message": "Database unreachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Visa Letter API is running",
		})
	})
}

// RegisterLogsRoute serves the application log file to holders of token,
// passed in X-Logs-Token or the token query parameter. No route is
// registered when token is empty.
func RegisterLogsRoute(router *gin.Engine, path, token string) {
	if token == "" || path == "" {
		return
	}
	router.GET("/logs", func(c *gin.Context) {
		given := c.GetHeader("X-Logs-Token")
		if given == "" {
			given = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		logData, err := os.ReadFile(path)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to read log"})
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", logData)
	})
}
