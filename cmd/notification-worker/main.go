package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"visa-letter-api/config"
	"visa-letter-api/services"

	"go.uber.org/zap"
)

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatal(err)
	}

	logger, closeLogs := config.InitLogging(settings.Log)
	defer closeLogs()
	logger = logger.Named("notification-worker")

	config.InitDB(settings)
	db := config.DB

	var mailer services.Mailer
	if settings.SMTP.Host != "" {
		mailer = config.NewSMTPMailer(settings.SMTP)
	} else {
		logger.Warn("SMTP_HOST is empty; outgoing mail is only logged")
		mailer = config.NewLogMailer(logger)
	}

	opts := services.DispatcherOptionsFrom(settings.Worker)
	dispatcher := services.NewNotificationDispatcher(db, logger, opts)
	applications := services.NewApplicationService(db, dispatcher, services.NewOwnershipAuthorizer(db, logger), logger)
	services.NewNotificationHandlers(db, applications, mailer, settings.PublicURL, logger).Register(dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("notification worker starting",
		zap.Int("workers", opts.Workers),
		zap.Duration("poll_interval", opts.PollInterval),
	)
	if err := dispatcher.Run(ctx); err != nil {
		logger.Error("notification worker stopped", zap.Error(err))
		closeLogs()
		os.Exit(1)
	}
	logger.Info("notification worker stopped")
}
