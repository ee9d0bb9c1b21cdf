package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"office-queue-backend/config"
	"office-queue-backend/internal/model"
)

// Init opens the database described by cfg, configures the connection
// pool and runs the schema migrations.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	err = gormDB.AutoMigrate(
		&model.User{},
		&model.QueueEntry{},
		&model.OccupantSession{},
		&model.EventRecord{},
		&model.SystemState{},
		&model.Setting{},
		&model.PushSubscription{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return gormDB, nil
}

// SeedUsers inserts the configured users, leaving existing rows alone.
func SeedUsers(gormDB *gorm.DB, users []config.UserConfig) error {
	for _, u := range users {
		err := gormDB.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.User{Code: u.Code, Name: u.Name}).Error
		if err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.Code, err)
		}
	}
	if len(users) > 0 {
		log.Printf("seeded %d users", len(users))
	}
	return nil
}
