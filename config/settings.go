package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Settings holds every environment-driven knob of the API and the worker.
type Settings struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	GinMode     string `env:"GIN_MODE"`
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	PublicURL   string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	JWTSecret   string `env:"JWT_SECRET"`
	CORSOrigins string `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	// LogsToken guards GET /logs. The route is disabled when empty.
	LogsToken string `env:"LOGS_ACCESS_TOKEN"`

	Database DatabaseSettings
	SMTP     SMTPSettings
	Log      LogSettings
	Worker   WorkerSettings
}

type DatabaseSettings struct {
	Driver   string `env:"DB_DRIVER" envDefault:"mysql"`
	Host     string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port     string `env:"DB_PORT" envDefault:"3306"`
	Name     string `env:"DB_DATABASE"`
	Username string `env:"DB_USERNAME"`
	Password string `env:"DB_PASSWORD"`
	// Path is only used by the sqlite driver.
	Path     string `env:"DB_PATH" envDefault:"visa-letter.db"`
	DebugSQL bool   `env:"DEBUG_SQL" envDefault:"false"`
}

type SMTPSettings struct {
	Host          string `env:"SMTP_HOST"`
	Port          int    `env:"SMTP_PORT" envDefault:"587"`
	User          string `env:"SMTP_USER"`
	Pass          string `env:"SMTP_PASS"`
	From          string `env:"SMTP_FROM" envDefault:"noreply@hackclub.com"`
	SkipTLSVerify bool   `env:"SMTP_SKIP_TLS_VERIFY" envDefault:"false"`
}

type LogSettings struct {
	File       string `env:"LOG_FILE" envDefault:"logs/visa-letter-api.log"`
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
}

type WorkerSettings struct {
	Concurrency  int           `env:"NOTIFICATION_WORKERS" envDefault:"4"`
	PollInterval time.Duration `env:"NOTIFICATION_POLL_INTERVAL" envDefault:"2s"`
	Lease        time.Duration `env:"NOTIFICATION_LEASE" envDefault:"2m"`
	MaxAttempts  int           `env:"NOTIFICATION_MAX_ATTEMPTS" envDefault:"8"`
}

// IsProduction reports whether ENVIRONMENT is set to production.
func (s Settings) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

// LoadSettings reads an optional .env file and parses the environment.
func LoadSettings() (Settings, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}
