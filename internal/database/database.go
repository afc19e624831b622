// Package database provides connection management for the relational store.
package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marselk/tgbridge/internal/models"
)

// DB wraps a GORM instance. The engine (sqlite or postgres) is chosen from the
// DSN; nothing above this package assumes a specific one.
type DB struct {
	GORM *gorm.DB
}

// New opens a database connection based on the DSN scheme.
func New(databaseURL string) (*DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		dialector = postgres.Open(databaseURL)
	} else {
		dialector = sqlite.Open(strings.TrimPrefix(databaseURL, "file:"))
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &DB{GORM: gormDB}, nil
}

// Migrate creates or updates the schema for all bridge entities.
func (db *DB) Migrate() error {
	return db.GORM.AutoMigrate(
		&models.Account{},
		&models.ForwardRule{},
		&models.MonitorRule{},
		&models.DownloadTask{},
		&models.MediaFile{},
		&models.ForwardLog{},
	)
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.GORM.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
