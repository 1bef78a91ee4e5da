package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"inventory-backend/internal/config"
	"inventory-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init connects to Postgres and migrates the schema. Failures are fatal.
func Init(cfg *config.Config, logg *logrus.Logger) *gorm.DB {
	db, err := Open(postgres.Open(cfg.DatabaseDSN))
	if err != nil {
		logg.Fatalf("could not connect to the database: %v", err)
	}
	if err := Migrate(db); err != nil {
		logg.Fatalf("AutoMigrate error: %v", err)
	}

	logg.Info("database connected, migration complete")
	return db
}

// Open opens a gorm handle with the service's logger and naming settings.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				Colorful:                  false,
				LogLevel:                  logger.Error,
				SlowThreshold:             time.Second,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}
