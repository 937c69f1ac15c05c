package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"votexport/internal/pkg/voteapi"

	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("votexport.normalize")

// Multi-value answers and repeated notes are joined with these separators.
const (
	ValueSeparator = ", "
	NoteSeparator  = "\n\n"
)

var submissionColumns = struct {
	ID, TimeSubmitted, FollowUp, Level1, Level2, Level3, Level4, Level5 Column
	Number, Ngo, ObserverID, Name, Email, Phone                           Column
}{
	ID:            Column{Key: "submission_id", Header: "SubmissionId"},
	TimeSubmitted: Column{Key: "time_submitted", Header: "TimeSubmitted", Type: TypeTime},
	FollowUp:      Column{Key: "follow_up_status", Header: "FollowUpStatus"},
	Level1:        Column{Key: "level1", Header: "Level1"},
	Level2:        Column{Key: "level2", Header: "Level2"},
	Level3:        Column{Key: "level3", Header: "Level3"},
	Level4:        Column{Key: "level4", Header: "Level4"},
	Level5:        Column{Key: "level5", Header: "Level5"},
	Number:        Column{Key: "number", Header: "Number"},
	Ngo:           Column{Key: "ngo", Header: "Ngo"},
	ObserverID:    Column{Key: "monitoring_observer_id", Header: "MonitoringObserverId"},
	Name:          Column{Key: "observer_name", Header: "Name"},
	Email:         Column{Key: "email", Header: "Email"},
	Phone:         Column{Key: "phone_number", Header: "PhoneNumber"},
}

// questionColumns are the columns one question expands into.
type questionColumns struct {
	Answer, FreeText, Notes, Attachments Column
	hasFreeText                          bool
}

func columnsFor(q *voteapi.Question, lang string) questionColumns {
	base := "q_" + Ident(q.ID)
	typ := TypeText
	switch q.Type {
	case voteapi.NumberQuestion, voteapi.RatingQuestion:
		typ = TypeNumber
	case voteapi.DateQuestion:
		typ = TypeTime
	}
	return questionColumns{
		Answer:      Column{Key: base, Header: fmt.Sprintf("%s - %s", q.Code, q.Text.In(lang)), Type: typ},
		FreeText:    Column{Key: base + "_free_text", Header: "FreeText"},
		Notes:       Column{Key: base + "_notes", Header: "Notes"},
		Attachments: Column{Key: base + "_attachments", Header: "Attachments"},
		hasFreeText: q.IsSelect() && q.HasFreeTextOption(),
	}
}

// FormColumns is the full column list of a form, in header order.
func FormColumns(form *voteapi.Form) []Column {
	c := submissionColumns
	cols := []Column{
		c.ID, c.TimeSubmitted, c.FollowUp, c.Level1, c.Level2, c.Level3, c.Level4, c.Level5,
		c.Number, c.Ngo, c.ObserverID, c.Name, c.Email, c.Phone,
	}
	for i := range form.Questions {
		qc := columnsFor(&form.Questions[i], form.DefaultLanguage)
		cols = append(cols, qc.Answer)
		if qc.hasFreeText {
			cols = append(cols, qc.FreeText)
		}
		cols = append(cols, qc.Notes, qc.Attachments)
	}
	return cols
}

// Submission flattens one submission against its form definition.
func Submission(form *voteapi.Form, sub *voteapi.Submission) (Record, []Warning) {
	var warnings []Warning
	warn := func(field, format string, args ...interface{}) {
		warnings = append(warnings, Warning{RecordID: sub.SubmissionID, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	r := newRecord(sub.SubmissionID, KindSubmission)
	r.Attachments = sub.AttachmentRefs()

	c := submissionColumns
	r.set(c.ID, sub.SubmissionID)
	r.set(c.TimeSubmitted, parseTime(sub.TimeSubmitted, func(err error) { warn("timeSubmitted", "%v", err) }))
	r.set(c.FollowUp, orNil(sub.FollowUpStatus))
	r.set(c.Level1, orNil(sub.Level1))
	r.set(c.Level2, orNil(sub.Level2))
	r.set(c.Level3, orNil(sub.Level3))
	r.set(c.Level4, orNil(sub.Level4))
	r.set(c.Level5, orNil(sub.Level5))
	r.set(c.Number, orNil(sub.Number))
	r.set(c.Ngo, orNil(sub.Ngo))
	r.set(c.ObserverID, orNil(sub.MonitoringObserverID))
	r.set(c.Name, orNil(sub.ObserverName))
	r.set(c.Email, orNil(sub.Email))
	r.set(c.Phone, orNil(sub.PhoneNumber))

	answers := make(map[string]*voteapi.Answer, len(sub.Answers))
	for i := range sub.Answers {
		answers[sub.Answers[i].QuestionID] = &sub.Answers[i]
	}
	notes := map[string][]string{}
	for _, n := range sub.Notes {
		notes[n.QuestionID] = append(notes[n.QuestionID], n.Text)
	}
	attachments := map[string][]string{}
	for _, ref := range r.Attachments {
		attachments[ref.QuestionID] = append(attachments[ref.QuestionID], ref.LocalName())
	}

	known := make(map[string]struct{}, len(form.Questions))
	for i := range form.Questions {
		q := &form.Questions[i]
		known[q.ID] = struct{}{}
		qc := columnsFor(q, form.DefaultLanguage)

		value, freeText := answerValue(q, answers[q.ID], form.DefaultLanguage, func(format string, args ...interface{}) {
			warn(q.Code, format, args...)
		})
		r.set(qc.Answer, value)
		if qc.hasFreeText {
			r.set(qc.FreeText, freeText)
		}
		r.set(qc.Notes, joined(notes[q.ID]))
		r.set(qc.Attachments, joined(attachments[q.ID]))
	}

	// Answers, notes and attachments for questions the form does not define
	// are carried as extra columns rather than dropped.
	for _, qid := range unknownQuestions(sub, known) {
		base := "x_" + Ident(qid)
		if a, ok := answers[qid]; ok {
			r.set(Column{Key: base, Header: "Unknown question " + qid}, rawAnswer(a))
			warn(qid, "answer to a question not in form %s", form.ID)
		}
		if n, ok := notes[qid]; ok {
			r.set(Column{Key: base + "_notes", Header: "Notes"}, joined(n))
			warn(qid, "note on a question not in form %s", form.ID)
		}
		if a, ok := attachments[qid]; ok {
			r.set(Column{Key: base + "_attachments", Header: "Attachments"}, joined(a))
		}
	}

	for _, key := range sortedKeys(sub.Extra) {
		r.set(Column{Key: "x_" + Ident(key), Header: key}, rawValue(sub.Extra[key]))
		warn(key, "unexpected field carried through")
	}

	return r, warnings
}

var quickReportColumns = []Column{
	{Key: "quick_report_id", Header: "QuickReportId"},
	{Key: "timestamp", Header: "Timestamp", Type: TypeTime},
	{Key: "follow_up_status", Header: "FollowUpStatus"},
	{Key: "incident_category", Header: "IncidentCategory"},
	{Key: "location_type", Header: "LocationType"},
	{Key: "title", Header: "Title"},
	{Key: "description", Header: "Description"},
	{Key: "level1", Header: "Level1"},
	{Key: "level2", Header: "Level2"},
	{Key: "level3", Header: "Level3"},
	{Key: "level4", Header: "Level4"},
	{Key: "level5", Header: "Level5"},
	{Key: "number", Header: "Number"},
	{Key: "polling_station_details", Header: "PollingStationDetails"},
	{Key: "monitoring_observer_id", Header: "MonitoringObserverId"},
	{Key: "observer_name", Header: "Name"},
	{Key: "email", Header: "Email"},
	{Key: "phone_number", Header: "PhoneNumber"},
	{Key: "attachments", Header: "Attachments"},
}

// QuickReport flattens one quick report.
func QuickReport(qr *voteapi.QuickReport) (Record, []Warning) {
	var warnings []Warning

	r := newRecord(qr.ID, KindQuickReport)
	r.Attachments = qr.AttachmentRefs()

	names := make([]string, 0, len(r.Attachments))
	for _, ref := range r.Attachments {
		names = append(names, ref.LocalName())
	}

	ts := parseTime(qr.Timestamp, func(err error) {
		warnings = append(warnings, Warning{RecordID: qr.ID, Field: "timestamp", Message: err.Error()})
	})
	values := []interface{}{
		qr.ID, ts, orNil(qr.FollowUpStatus), orNil(qr.IncidentCategory), orNil(qr.LocationType),
		orNil(qr.Title), orNil(qr.Description),
		orNil(qr.Level1), orNil(qr.Level2), orNil(qr.Level3), orNil(qr.Level4), orNil(qr.Level5),
		orNil(qr.Number), orNil(qr.PollingStationDetails), orNil(qr.MonitoringObserverID),
		orNil(qr.ObserverName), orNil(qr.Email), orNil(qr.PhoneNumber), joined(names),
	}
	for i, col := range quickReportColumns {
		r.set(col, values[i])
	}

	for _, key := range sortedKeys(qr.Extra) {
		r.set(Column{Key: "x_" + Ident(key), Header: key}, rawValue(qr.Extra[key]))
		warnings = append(warnings, Warning{RecordID: qr.ID, Field: key, Message: "unexpected field carried through"})
	}

	return r, warnings
}

// QuickReportsTableID is the table all quick reports are written to.
const QuickReportsTableID = "quick_reports"

// Build normalizes every submission and quick report of a run into tables:
// one per form (PSI forms first, then by name) and one for quick reports.
func Build(forms []*voteapi.Form, submissions []*voteapi.Submission, quickReports []voteapi.QuickReport) *Export {
	export := &Export{}
	seen := map[string]struct{}{}
	addWarnings := func(table string, ws []Warning) {
		for _, w := range ws {
			key := table + "\x00" + w.RecordID + "\x00" + w.Field + "\x00" + w.Message
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			logger.Warningf("%s", w)
			export.Warnings = append(export.Warnings, w)
		}
	}

	sorted := append([]*voteapi.Form(nil), forms...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := isPSI(sorted[i]), isPSI(sorted[j])
		if pi != pj {
			return pi
		}
		return strings.ToLower(sorted[i].DisplayName()) < strings.ToLower(sorted[j].DisplayName())
	})

	byForm := map[string][]*voteapi.Submission{}
	for _, s := range submissions {
		byForm[s.FormID] = append(byForm[s.FormID], s)
	}

	for i, form := range sorted {
		name := fmt.Sprintf("%d_%s", i+1, form.DisplayName())
		if form.FormType == "PSI" {
			name = fmt.Sprintf("%d_PSI", i+1)
		}

		table := newTable("form_"+Ident(form.ID), SheetName(name), KindSubmission)
		for _, col := range FormColumns(form) {
			table.addColumn(col)
		}
		for _, sub := range byForm[form.ID] {
			rec, ws := Submission(form, sub)
			table.add(rec)
			addWarnings(table.ID, ws)
		}
		delete(byForm, form.ID)
		export.Tables = append(export.Tables, table)
	}

	for formID, subs := range byForm {
		for _, s := range subs {
			addWarnings("", []Warning{{RecordID: s.SubmissionID, Field: "formId", Message: "no definition for form " + formID}})
		}
	}

	if len(quickReports) > 0 {
		table := newTable(QuickReportsTableID, "Quick Reports", KindQuickReport)
		for _, col := range quickReportColumns {
			table.addColumn(col)
		}
		for i := range quickReports {
			rec, ws := QuickReport(&quickReports[i])
			table.add(rec)
			addWarnings(table.ID, ws)
		}
		export.Tables = append(export.Tables, table)
	}

	return export
}

func isPSI(f *voteapi.Form) bool {
	return f.FormType == "PSI" || strings.EqualFold(f.DisplayName(), "psi")
}

func answerValue(q *voteapi.Question, a *voteapi.Answer, lang string, warn func(string, ...interface{})) (value, freeText interface{}) {
	if a == nil {
		return nil, nil
	}

	switch q.Type {
	case voteapi.TextQuestion:
		if a.Text == nil {
			return nil, nil
		}
		return orNil(*a.Text), nil

	case voteapi.NumberQuestion, voteapi.RatingQuestion:
		if a.Value == nil {
			return nil, nil
		}
		if n, err := a.Value.Int64(); err == nil {
			return n, nil
		}
		if f, err := a.Value.Float64(); err == nil {
			return f, nil
		}
		warn("value %q is not a number", a.Value.String())
		return a.Value.String(), nil

	case voteapi.DateQuestion:
		if a.Date == nil || *a.Date == "" {
			return nil, nil
		}
		return parseTime(*a.Date, func(err error) { warn("%v", err) }), nil

	case voteapi.SingleSelectQuestion:
		sel, err := a.SingleSelection()
		if err != nil {
			warn("malformed selection: %v", err)
			return string(a.Selection), nil
		}
		if sel == nil {
			return nil, nil
		}
		opt, ok := q.Option(sel.OptionID)
		if !ok {
			warn("unknown option %s", sel.OptionID)
			return orNil(sel.OptionID), orNil(sel.Text)
		}
		return orNil(opt.Text.In(lang)), orNil(sel.Text)

	case voteapi.MultiSelectQuestion:
		sels, err := a.MultiSelection()
		if err != nil {
			warn("malformed selection: %v", err)
			return string(a.Selection), nil
		}
		var texts, free []string
		for _, sel := range sels {
			if sel.OptionID != "" {
				if opt, ok := q.Option(sel.OptionID); ok {
					texts = append(texts, opt.Text.In(lang))
				} else {
					warn("unknown option %s", sel.OptionID)
					texts = append(texts, sel.OptionID)
				}
			}
			if sel.Text != "" {
				free = append(free, sel.Text)
			}
		}
		return orNil(strings.Join(texts, ValueSeparator)), orNil(strings.Join(free, ValueSeparator))
	}

	warn("unknown question type %q", q.Type)
	return rawAnswer(a), nil
}

// rawAnswer renders an answer whose shape is unknown.
func rawAnswer(a *voteapi.Answer) interface{} {
	switch {
	case a.Text != nil:
		return *a.Text
	case a.Value != nil:
		return a.Value.String()
	case a.Date != nil:
		return *a.Date
	case len(a.Selection) > 0:
		return string(a.Selection)
	}
	return string(a.Raw)
}

// rawValue keeps scalars as they are and renders anything else as JSON text.
func rawValue(raw json.RawMessage) interface{} {
	var v interface{}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return orNil(t)
	case bool:
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return string(raw)
}

func parseTime(s string, warn func(error)) interface{} {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		warn(fmt.Errorf("unparseable time %q", s))
		return s
	}
	return t.UTC()
}

func unknownQuestions(sub *voteapi.Submission, known map[string]struct{}) []string {
	set := map[string]struct{}{}
	add := func(id string) {
		if _, ok := known[id]; !ok && id != "" {
			set[id] = struct{}{}
		}
	}
	for _, a := range sub.Answers {
		add(a.QuestionID)
	}
	for _, n := range sub.Notes {
		add(n.QuestionID)
	}
	for _, a := range sub.Attachments {
		add(a.QuestionID)
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func joined(parts []string) interface{} {
	return orNil(strings.Join(parts, NoteSeparator))
}

func orNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
