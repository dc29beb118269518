package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"visa-letter-api/config"
	"visa-letter-api/models"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

func main() {
	var (
		adminEmail string
		adminName  string
	)
	flag.StringVar(&adminEmail, "super-admin", "", "email of a super admin to create or promote (optional)")
	flag.StringVar(&adminName, "name", "", "display name for -super-admin (optional)")
	flag.Parse()

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatal(err)
	}
	config.InitDB(settings)

	if err := models.AutoMigrate(config.DB); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	fmt.Println("Schema is up to date")

	email := strings.ToLower(strings.TrimSpace(adminEmail))
	if email == "" {
		return
	}

	admin := models.Admin{
		ID:                    uuid.New(),
		Email:                 email,
		Name:                  adminName,
		SuperAdmin:            true,
		NotifyNewApplications: true,
	}
	err = config.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"super_admin": true}),
	}).Create(&admin).Error
	if err != nil {
		log.Fatalf("failed to create super admin: %v", err)
	}
	fmt.Printf("Super admin %s is ready\n", email)
}
