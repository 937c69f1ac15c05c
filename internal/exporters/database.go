package exporters

import (
	"context"
	"fmt"
	"strings"
	"votexport/internal/models"
	"votexport/internal/normalize"

	"github.com/juju/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Columns every record table carries besides the normalized fields.
const (
	recordIDColumn   = "record_id"
	runIDColumn      = "run_id"
	recordKindColumn = "record_kind"
)

// Database upserts every table into the SQLite export database, one SQL
// table per form plus one for quick reports, keyed by record id.
type Database struct {
	db    *gorm.DB
	runID string
}

func NewDatabase(db *gorm.DB, runID string) *Database {
	return &Database{db: db, runID: runID}
}

func (d *Database) Name() string { return "database" }

// Write applies the whole export in one transaction, so a failure on any
// table or on the attachment metadata leaves the database as it was.
func (d *Database) Write(ctx context.Context, export *normalize.Export) error {
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range export.Tables {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			if err := d.writeTable(tx, table); err != nil {
				return errors.Annotatef(err, "table %s", table.ID)
			}
			logger.Debugf("upserted %d records into %s", len(table.Records), table.ID)
		}
		if err := d.writeAttachments(ctx, tx, export.Attachments); err != nil {
			return errors.Annotate(err, "attachments")
		}
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}

	logger.Infof("database: %d tables, %d records", len(export.Tables), export.RecordCount())
	return nil
}

func (d *Database) writeTable(tx *gorm.DB, table *normalize.Table) error {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s TEXT, %s TEXT)`,
		quote(table.ID), quote(recordIDColumn), quote(runIDColumn), quote(recordKindColumn))
	if err := tx.Exec(create).Error; err != nil {
		return errors.Trace(err)
	}

	columns, err := tableColumns(tx, table.ID)
	if err != nil {
		return errors.Trace(err)
	}
	existing := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		existing[c] = struct{}{}
	}

	for _, col := range table.Columns {
		if _, ok := existing[col.Key]; ok {
			continue
		}
		alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, quote(table.ID), quote(col.Key), sqlType(col.Type))
		if err := tx.Exec(alter).Error; err != nil {
			return errors.Annotatef(err, "adding column %s", col.Key)
		}
		existing[col.Key] = struct{}{}
		columns = append(columns, col.Key)
	}

	// Every stored column is written so a row never keeps values from an
	// earlier run that the current run no longer reports.
	var names, placeholders, updates []string
	for _, c := range columns {
		names = append(names, quote(c))
		placeholders = append(placeholders, "?")
		if c != recordIDColumn {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
		}
	}
	upsert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s`,
		quote(table.ID), strings.Join(names, ", "), strings.Join(placeholders, ", "),
		quote(recordIDColumn), strings.Join(updates, ", "))

	for _, rec := range table.Records {
		args := make([]interface{}, len(columns))
		for i, c := range columns {
			switch c {
			case recordIDColumn:
				args[i] = rec.ID
			case runIDColumn:
				args[i] = d.runID
			case recordKindColumn:
				args[i] = rec.Kind
			default:
				args[i] = cellValue(rec.Values[c])
			}
		}
		if err := tx.Exec(upsert, args...).Error; err != nil {
			return errors.Annotatef(err, "record %s", rec.ID)
		}
	}
	return nil
}

func (d *Database) writeAttachments(ctx context.Context, tx *gorm.DB, files []normalize.AttachmentFile) error {
	if len(files) == 0 {
		return nil
	}

	rows := make([]models.Attachment, 0, len(files))
	for _, f := range files {
		rows = append(rows, models.Attachment{
			AttachmentID: f.Ref.ID,
			RecordID:     f.Ref.OwnerID,
			RecordKind:   f.Ref.OwnerKind,
			QuestionID:   f.Ref.QuestionID,
			FileName:     f.Ref.FileName,
			MimeType:     f.Ref.MimeType,
			LocalName:    f.Ref.LocalName(),
			Status:       f.Status,
			LastRunID:    d.runID,
		})
	}

	onConflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "attachment_id"}, {Name: "record_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"record_kind", "question_id", "file_name", "mime_type",
			"local_name", "status", "last_run_id", "updated_at",
		}),
	}
	return gorm.G[models.Attachment](tx, onConflict).CreateInBatches(ctx, &rows, 100)
}

func tableColumns(tx *gorm.DB, table string) ([]string, error) {
	var names []string
	err := tx.Raw(`SELECT name FROM pragma_table_info(?) ORDER BY cid`, table).Scan(&names).Error
	return names, errors.Trace(err)
}

func sqlType(t normalize.ColumnType) string {
	switch t {
	case normalize.TypeNumber:
		return "NUMERIC"
	case normalize.TypeTime:
		return "DATETIME"
	}
	return "TEXT"
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
