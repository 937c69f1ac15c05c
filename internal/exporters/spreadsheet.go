package exporters

import (
	"context"
	"os"
	"path/filepath"
	"time"
	"votexport/internal/normalize"

	"github.com/juju/errors"
	"github.com/xuri/excelize/v2"
)

// Spreadsheet writes every table as a sheet of one xlsx workbook.
type Spreadsheet struct {
	path string
}

func NewSpreadsheet(path string) *Spreadsheet {
	return &Spreadsheet{path: path}
}

func (s *Spreadsheet) Name() string { return "spreadsheet" }

// Write builds the workbook in a temp file next to the target and renames it
// over the previous snapshot.
func (s *Spreadsheet) Write(ctx context.Context, export *normalize.Export) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Annotatef(err, "creating %s", dir)
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Trace(err)
	}
	timeStyle, err := f.NewStyle(&excelize.Style{NumFmt: 22})
	if err != nil {
		return errors.Trace(err)
	}

	first := true
	for _, table := range export.Tables {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}

		if first {
			if err := f.SetSheetName("Sheet1", table.Name); err != nil {
				return errors.Annotatef(err, "sheet %s", table.Name)
			}
			first = false
		} else if _, err := f.NewSheet(table.Name); err != nil {
			return errors.Annotatef(err, "sheet %s", table.Name)
		}

		if err := writeSheet(f, table, headerStyle, timeStyle); err != nil {
			return errors.Annotatef(err, "sheet %s", table.Name)
		}
	}

	tmp, err := os.CreateTemp(dir, ".workbook-*.xlsx")
	if err != nil {
		return errors.Trace(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		return errors.Annotate(err, "writing workbook")
	}
	if err := tmp.Close(); err != nil {
		return errors.Trace(err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Annotatef(err, "replacing %s", s.path)
	}

	logger.Infof("wrote %d sheets to %s", len(export.Tables), s.path)
	return nil
}

func writeSheet(f *excelize.File, table *normalize.Table, headerStyle, timeStyle int) error {
	sw, err := f.NewStreamWriter(table.Name)
	if err != nil {
		return errors.Trace(err)
	}

	header := make([]interface{}, len(table.Columns))
	for i, h := range table.Headers() {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return errors.Trace(err)
	}

	for i, rec := range table.Records {
		row := table.Row(rec)
		for j, v := range row {
			if t, ok := v.(time.Time); ok {
				row[j] = excelize.Cell{StyleID: timeStyle, Value: t}
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Trace(err)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return errors.Annotatef(err, "record %s", rec.ID)
		}
	}
	return errors.Trace(sw.Flush())
}
