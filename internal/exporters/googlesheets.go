package exporters

import (
	"context"
	"strings"
	"votexport/internal/normalize"

	"github.com/juju/errors"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// GoogleSheets mirrors every table into a tab of an existing spreadsheet.
// Tabs are cleared and rewritten; tabs it does not own are left alone.
type GoogleSheets struct {
	service       *sheets.Service
	spreadsheetID string
}

// NewGoogleSheets connects with the given client options, typically
// option.WithCredentialsFile for a service account.
func NewGoogleSheets(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*GoogleSheets, error) {
	opts = append([]option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}, opts...)
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "creating sheets service")
	}
	return &GoogleSheets{service: service, spreadsheetID: spreadsheetID}, nil
}

func (g *GoogleSheets) Name() string { return "google-sheets" }

func (g *GoogleSheets) Write(ctx context.Context, export *normalize.Export) error {
	if len(export.Tables) == 0 {
		return nil
	}

	doc, err := g.service.Spreadsheets.Get(g.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return errors.Annotatef(err, "reading spreadsheet %s", g.spreadsheetID)
	}
	existing := map[string]struct{}{}
	for _, s := range doc.Sheets {
		if s.Properties != nil {
			existing[s.Properties.Title] = struct{}{}
		}
	}

	var add []*sheets.Request
	for _, table := range export.Tables {
		if _, ok := existing[table.Name]; !ok {
			add = append(add, &sheets.Request{
				AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: table.Name}},
			})
		}
	}
	if len(add) > 0 {
		_, err := g.service.Spreadsheets.BatchUpdate(g.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: add}).Context(ctx).Do()
		if err != nil {
			return errors.Annotate(err, "adding tabs")
		}
	}

	ranges := make([]string, 0, len(export.Tables))
	data := make([]*sheets.ValueRange, 0, len(export.Tables))
	for _, table := range export.Tables {
		ranges = append(ranges, sheetRange(table.Name))
		data = append(data, &sheets.ValueRange{
			Range:  sheetRange(table.Name) + "!A1",
			Values: sheetValues(table),
		})
	}

	_, err = g.service.Spreadsheets.Values.BatchClear(g.spreadsheetID, &sheets.BatchClearValuesRequest{Ranges: ranges}).Context(ctx).Do()
	if err != nil {
		return errors.Annotate(err, "clearing tabs")
	}

	_, err = g.service.Spreadsheets.Values.BatchUpdate(g.spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return errors.Annotate(err, "writing values")
	}

	logger.Infof("google sheets: wrote %d tabs to %s", len(data), g.spreadsheetID)
	return nil
}

func sheetValues(table *normalize.Table) [][]interface{} {
	rows := make([][]interface{}, 0, len(table.Records)+1)
	header := make([]interface{}, len(table.Columns))
	for i, h := range table.Headers() {
		header[i] = h
	}
	rows = append(rows, header)
	for _, rec := range table.Records {
		row := table.Row(rec)
		for i, v := range row {
			if v == nil {
				row[i] = ""
				continue
			}
			row[i] = cellValue(v)
		}
		rows = append(rows, row)
	}
	return rows
}

func sheetRange(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
