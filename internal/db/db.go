package db

import (
	"os"
	"path/filepath"
	"votexport/internal/models"

	"github.com/juju/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const legacyAttachmentIndex = "idx_attachments_attachment_id"

// InitDB opens (creating if needed) the SQLite export database and migrates
// the fixed tables. Per-form tables are managed by the database exporter.
func InitDB(path string, level ...logger.LogLevel) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Annotatef(err, "creating database directory %s", dir)
		}
	}

	logLevel := logger.Warn
	if len(level) > 0 {
		logLevel = level[0]
	}

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open database %s", path)
	}

	if err := db.AutoMigrate(&models.ExportRun{}, &models.Attachment{}); err != nil {
		return nil, errors.Annotate(err, "failed to migrate database")
	}

	// Attachments used to be unique per id alone.
	if db.Migrator().HasIndex(&models.Attachment{}, legacyAttachmentIndex) {
		if err := db.Migrator().DropIndex(&models.Attachment{}, legacyAttachmentIndex); err != nil {
			return nil, errors.Annotate(err, "failed to migrate attachments index")
		}
	}

	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return sqlDB.Close()
}
