package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"visa-letter-api/config"
	"visa-letter-api/controllers"
	"visa-letter-api/middleware"
	"visa-letter-api/monitor"
	"visa-letter-api/routes"
	"visa-letter-api/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatal(err)
	}

	logger, closeLogs := config.InitLogging(settings.Log)
	defer closeLogs()

	config.InitDB(settings)
	if settings.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty; admin routes will reject every request")
	}

	// Set Gin mode
	if settings.GinMode == "release" || settings.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db := config.DB
	authorize := services.NewOwnershipAuthorizer(db, logger)
	// The API only enqueues; cmd/notification-worker executes the jobs.
	dispatcher := services.NewNotificationDispatcher(db, logger, services.DispatcherOptionsFrom(settings.Worker))

	ctl := &controllers.Controller{
		Applications: services.NewApplicationService(db, dispatcher, authorize, logger),
		Lifecycle:    services.NewLifecycleService(db, dispatcher, authorize, logger),
		Invitations:  services.NewInvitationService(db, dispatcher, authorize, logger),
		Events:       services.NewEventService(db, authorize, logger),
		Audit:        services.NewAuditLogService(db),
	}

	router := gin.New()
	router.Use(middleware.GinLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(settings.CORSOrigins))

	monitor.RegisterMetricsRoute(router, db, logger)
	monitor.RegisterLogsRoute(router, settings.Log.File, settings.LogsToken)
	routes.SetupRoutes(router, ctl, db, settings.JWTSecret)

	srv := &http.Server{
		Addr:              ":" + settings.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", zap.String("port", settings.ServerPort), zap.String("environment", settings.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}
