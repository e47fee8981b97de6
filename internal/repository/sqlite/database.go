// Package sqlite is a gorm-backed document store for local runs. It keeps
// the same conversation and profile documents as the DynamoDB repository.
package sqlite

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds DB configuration.
type Config struct {
	Path     string
	LogLevel logger.LogLevel
	Logger   *slog.Logger
}

// Open opens a SQLite DB and runs migrations.
func Open(cfg Config) (*gorm.DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Warn
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", cfg.Path)

	gormLogger := logger.New(
		log.New(loggerWriter{log: cfg.Logger}, "", 0),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  cfg.LogLevel,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// one writer avoids "database is locked"
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// migrate runs all automigrations. Keep the model list in one place.
func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&conversationRecord{},
		&profileRecord{},
	); err != nil {
		return fmt.Errorf("sqlite: auto migrate: %w", err)
	}
	return nil
}

// loggerWriter satisfies io.Writer for the GORM logger and forwards each
// line to slog.
type loggerWriter struct {
	log *slog.Logger
}

func (w loggerWriter) Write(p []byte) (int, error) {
	w.log.Info(strings.TrimSpace(string(p)), "component", "gorm")
	return len(p), nil
}
