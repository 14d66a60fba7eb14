package sqlstore

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/plantify-account/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the relational store selected by driver.
// SQLite is limited to one connection so writers never contend for the file lock.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.StorePostgres:
		dialector = postgres.Open(dsn)
	case config.StoreSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == config.StoreSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates the account tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&userRow{}, &otpRow{}, &resetRow{})
}
