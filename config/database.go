package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// OpenDB connects to the configured database. MySQL is the default; postgres
// and sqlite are selected with DB_DRIVER.
func OpenDB(s Settings) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(s.Database.Driver) {
	case "", "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			s.Database.Username,
			s.Database.Password,
			s.Database.Host,
			s.Database.Port,
			s.Database.Name,
		)
		dialector = mysql.Open(dsn)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			s.Database.Host,
			s.Database.Port,
			s.Database.Username,
			s.Database.Password,
			s.Database.Name,
		)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(s.Database.Path)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", s.Database.Driver)
	}

	// In production, suppress SQL logs unless explicitly re-enabled via DEBUG_SQL=true.
	logLevel := logger.Info
	if s.IsProduction() && !s.Database.DebugSQL {
		logLevel = logger.Warn
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(
			log.New(LogWriter, "\r\n", log.LstdFlags),
			logger.Config{LogLevel: logLevel, IgnoreRecordNotFoundError: true},
		),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// InitDB opens the database and stores it in DB.
func InitDB(s Settings) {
	db, err := OpenDB(s)
	if err != nil {
		log.Fatal(err)
	}
	DB = db
	log.Println("Database connected successfully")
}
