package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"votexport/internal/pkg/voteapi"
)

type ColumnType int

const (
	TypeText ColumnType = iota
	TypeNumber
	TypeTime
)

// Column is one field of an Exported Record. Key is a stable identifier that
// is also a valid SQL column name, Header is what a spreadsheet shows.
type Column struct {
	Key    string
	Header string
	Type   ColumnType
}

// Record kinds.
const (
	KindSubmission  = "submission"
	KindQuickReport = "quick_report"
)

// Record is the flattened form of one submission or quick report.
type Record struct {
	ID          string
	Kind        string
	Columns     []Column
	Values      map[string]interface{}
	Attachments []voteapi.AttachmentRef
}

func newRecord(id, kind string) Record {
	return Record{ID: id, Kind: kind, Values: map[string]interface{}{}}
}

func (r *Record) set(col Column, value interface{}) {
	r.Columns = append(r.Columns, col)
	r.Values[col.Key] = value
}

// Warning is a non-fatal normalization problem; the affected field is still
// exported best-effort.
type Warning struct {
	RecordID string
	Field    string
	Message  string
}

func (w Warning) String() string {
	return fmt.Sprintf("record %s: %s: %s", w.RecordID, w.Field, w.Message)
}

// Table groups the records of one form, or all quick reports.
type Table struct {
	ID      string
	Name    string
	Kind    string
	Columns []Column
	Records []Record

	keys map[string]struct{}
}

func newTable(id, name, kind string) *Table {
	return &Table{ID: id, Name: name, Kind: kind, keys: map[string]struct{}{}}
}

func (t *Table) addColumn(col Column) {
	if t.keys == nil {
		t.keys = map[string]struct{}{}
	}
	if _, ok := t.keys[col.Key]; ok {
		return
	}
	t.keys[col.Key] = struct{}{}
	t.Columns = append(t.Columns, col)
}

func (t *Table) add(r Record) {
	for _, col := range r.Columns {
		t.addColumn(col)
	}
	t.Records = append(t.Records, r)
}

// Headers returns the header row.
func (t *Table) Headers() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Header
	}
	return out
}

// Row returns the record's values in column order; missing values are nil.
func (t *Table) Row(r Record) []interface{} {
	out := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = r.Values[c.Key]
	}
	return out
}

// AttachmentFile is an attachment reference and what happened to it this run.
type AttachmentFile struct {
	Ref    voteapi.AttachmentRef
	Status string
}

// Export is the complete record set of one run, consumed by every exporter.
type Export struct {
	Tables      []*Table
	Warnings    []Warning
	Attachments []AttachmentFile
}

// RecordCount is the number of records across all tables.
func (e *Export) RecordCount() int {
	n := 0
	for _, t := range e.Tables {
		n += len(t.Records)
	}
	return n
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// Ident turns an arbitrary id into a lowercase SQL-safe identifier.
func Ident(s string) string {
	s = nonIdent.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "x"
	}
	return s
}

var invalidSheetChars = regexp.MustCompile(`[\[\]:*?/\\]`)

// SheetName removes characters spreadsheets reject and trims to 31 runes.
func SheetName(name string) string {
	name = invalidSheetChars.ReplaceAllString(name, "")
	r := []rune(name)
	if len(r) > 31 {
		r = r[:31]
	}
	return strings.TrimSpace(string(r))
}
