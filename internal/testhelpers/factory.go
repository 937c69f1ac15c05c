package testhelpers

import (
	"fmt"
	"path/filepath"
	"votexport/internal/db"

	g "github.com/onsi/gomega"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a fresh SQLite export database inside dir.
func NewTestDB(dir string) (*gorm.DB, string) {
	path := filepath.Join(dir, "export.db")
	conn, err := db.InitDB(path, logger.Silent)
	g.Expect(err).NotTo(g.HaveOccurred())
	return conn, path
}

// CleanupDB empties every table of the export database.
func CleanupDB(conn *gorm.DB) {
	var tables []string

	err := conn.Raw("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'").Scan(&tables).Error
	g.Expect(err).NotTo(g.HaveOccurred())

	for _, table := range tables {
		query := fmt.Sprintf("DELETE FROM \"%s\"", table)
		err := conn.Exec(query).Error
		g.Expect(err).NotTo(g.HaveOccurred(), "Failed to empty table: "+table)
	}
}

// CountRows returns the number of rows in table.
func CountRows(conn *gorm.DB, table string) int64 {
	var n int64
	err := conn.Table(table).Count(&n).Error
	g.Expect(err).NotTo(g.HaveOccurred())
	return n
}
