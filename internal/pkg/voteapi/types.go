package voteapi

import (
	"encoding/json"
	"path"
	"regexp"
	"sort"
	"strings"
)

/*
	form-submissions:byEntry item: {
		"submissionId": "9b4c...",
		"formId": "c1f2...",
		"timeSubmitted": "2024-06-09T08:12:44.812Z",
		...
	}

	form-submissions/{id}:v2: {
		"submissionId": "...", "formId": "...", "timeSubmitted": "...",
		"followUpStatus": "NotApplicable",
		"level1": "Chisinau", ..., "number": "12/34",
		"ngo": "...", "monitoringObserverId": "...",
		"observerName": "...", "email": "...", "phoneNumber": "...",
		"answers": [{"$answerType": "textAnswer", "questionId": "...", "text": "..."}],
		"notes": [{"questionId": "...", "text": "..."}],
		"attachments": [{"id": "...", "questionId": "...", "fileName": "a.jpg",
		                 "uploadedFileName": "5d1e.jpg", "mimeType": "image/jpeg",
		                 "presignedUrl": "https://..."}]
	}
*/

// Token is the bearer credential returned by Authenticate.
type Token string

// Translated is a text keyed by language code.
type Translated map[string]string

// In returns the text in lang. Without it, the translation with the
// lowest language code is used so repeated runs render the same text.
func (t Translated) In(lang string) string {
	if v, ok := t[lang]; ok {
		return v
	}
	if len(t) == 0 {
		return ""
	}
	langs := make([]string, 0, len(t))
	for l := range t {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return t[langs[0]]
}

// Page is the envelope every listing endpoint returns.
type Page[T any] struct {
	Items      []T  `json:"items"`
	TotalCount *int `json:"totalCount"`
	PageNumber int  `json:"pageNumber"`
	PageSize   int  `json:"pageSize"`
}

// HasMore reports whether another page follows the page at index page.
func (p *Page[T]) HasMore(page, pageSize int) bool {
	if p.TotalCount != nil {
		return page*pageSize < *p.TotalCount
	}
	return len(p.Items) == pageSize
}

type SubmissionSummary struct {
	SubmissionID  string `json:"submissionId"`
	FormID        string `json:"formId"`
	TimeSubmitted string `json:"timeSubmitted"`
}

type Option struct {
	ID         string     `json:"id"`
	Text       Translated `json:"text"`
	IsFreeText bool       `json:"isFreeText"`
}

// Question type discriminators.
const (
	TextQuestion         = "textQuestion"
	NumberQuestion       = "numberQuestion"
	DateQuestion         = "dateQuestion"
	SingleSelectQuestion = "singleSelectQuestion"
	MultiSelectQuestion  = "multiSelectQuestion"
	RatingQuestion       = "ratingQuestion"
)

type Question struct {
	ID      string     `json:"id"`
	Code    string     `json:"code"`
	Text    Translated `json:"text"`
	Type    string     `json:"$questionType"`
	Options []Option   `json:"options"`
}

// HasFreeTextOption reports whether any option accepts free text.
func (q *Question) HasFreeTextOption() bool {
	for _, o := range q.Options {
		if o.IsFreeText {
			return true
		}
	}
	return false
}

// IsSelect reports whether the question is single or multi select.
func (q *Question) IsSelect() bool {
	return q.Type == SingleSelectQuestion || q.Type == MultiSelectQuestion
}

func (q *Question) Option(id string) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

type Form struct {
	ID              string     `json:"id"`
	Code            string     `json:"code"`
	FormType        string     `json:"formType"`
	Name            Translated `json:"name"`
	DefaultLanguage string     `json:"defaultLanguage"`
	Questions       []Question `json:"questions"`
}

// DisplayName is the form name in its default language.
func (f *Form) DisplayName() string {
	return strings.TrimSpace(f.Name.In(f.DefaultLanguage))
}

// Selection is one picked option of a select answer.
type Selection struct {
	OptionID string `json:"optionId"`
	Text     string `json:"text"`
}

// Answer keeps the typed parts of an answer plus its raw payload, so shapes
// this client does not know are still available to the normalizer.
type Answer struct {
	Type       string          `json:"$answerType"`
	QuestionID string          `json:"questionId"`
	Text       *string         `json:"text"`
	Value      *json.Number    `json:"value"`
	Date       *string         `json:"date"`
	Selection  json.RawMessage `json:"selection"`
	Raw        json.RawMessage `json:"-"`
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	type answer Answer
	var out answer
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*a = Answer(out)
	a.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// SingleSelection decodes the selection of a single select answer.
func (a *Answer) SingleSelection() (*Selection, error) {
	if len(a.Selection) == 0 || string(a.Selection) == "null" {
		return nil, nil
	}
	var s Selection
	if err := json.Unmarshal(a.Selection, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// MultiSelection decodes the selection of a multi select answer.
func (a *Answer) MultiSelection() ([]Selection, error) {
	if len(a.Selection) == 0 || string(a.Selection) == "null" {
		return nil, nil
	}
	var s []Selection
	if err := json.Unmarshal(a.Selection, &s); err != nil {
		return nil, err
	}
	return s, nil
}

type Note struct {
	QuestionID string `json:"questionId"`
	Text       string `json:"text"`
}

type Attachment struct {
	ID               string `json:"id"`
	QuestionID       string `json:"questionId"`
	FileName         string `json:"fileName"`
	UploadedFileName string `json:"uploadedFileName"`
	MimeType         string `json:"mimeType"`
	PresignedURL     string `json:"presignedUrl"`
}

// Owner kinds of an attachment.
const (
	OwnerSubmission  = "submission"
	OwnerQuickReport = "quick_report"
)

// AttachmentRef points at one downloadable attachment and the record it belongs to.
type AttachmentRef struct {
	ID         string
	OwnerID    string
	OwnerKind  string
	QuestionID string
	FileName   string
	MimeType   string
	URL        string
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// LocalName is the deterministic file name the attachment is stored under.
func (r AttachmentRef) LocalName() string {
	ext := strings.ToLower(path.Ext(r.FileName))
	if len(ext) > 10 {
		ext = ""
	}
	return unsafeFileChars.ReplaceAllString(r.ID+ext, "_")
}

func (a Attachment) ref(ownerKind, ownerID string) AttachmentRef {
	id := a.ID
	if id == "" {
		id = strings.TrimSuffix(a.UploadedFileName, path.Ext(a.UploadedFileName))
	}
	name := a.FileName
	if name == "" {
		name = a.UploadedFileName
	}
	return AttachmentRef{
		ID:         id,
		OwnerID:    ownerID,
		OwnerKind:  ownerKind,
		QuestionID: a.QuestionID,
		FileName:   name,
		MimeType:   a.MimeType,
		URL:        a.PresignedURL,
	}
}

type Submission struct {
	SubmissionID         string       `json:"submissionId"`
	FormID               string       `json:"formId"`
	TimeSubmitted        string       `json:"timeSubmitted"`
	FollowUpStatus       string       `json:"followUpStatus"`
	Level1               string       `json:"level1"`
	Level2               string       `json:"level2"`
	Level3               string       `json:"level3"`
	Level4               string       `json:"level4"`
	Level5               string       `json:"level5"`
	Number               string       `json:"number"`
	Ngo                  string       `json:"ngo"`
	MonitoringObserverID string       `json:"monitoringObserverId"`
	ObserverName         string       `json:"observerName"`
	Email                string       `json:"email"`
	PhoneNumber          string       `json:"phoneNumber"`
	Answers              []Answer     `json:"answers"`
	Notes                []Note       `json:"notes"`
	Attachments          []Attachment `json:"attachments"`

	// Extra holds top-level fields not mapped above.
	Extra map[string]json.RawMessage `json:"-"`
}

var submissionFields = knownFields(
	"submissionId", "formId", "timeSubmitted", "followUpStatus",
	"level1", "level2", "level3", "level4", "level5", "number", "ngo",
	"monitoringObserverId", "observerName", "email", "phoneNumber",
	"answers", "notes", "attachments",
	// form metadata repeated on every submission
	"formCode", "formType", "formName", "defaultLanguage",
)

func (s *Submission) UnmarshalJSON(data []byte) error {
	type submission Submission
	var out submission
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	extra, err := extraFields(data, submissionFields)
	if err != nil {
		return err
	}
	*s = Submission(out)
	s.Extra = extra
	return nil
}

// AttachmentRefs lists the attachments of the submission.
func (s *Submission) AttachmentRefs() []AttachmentRef {
	refs := make([]AttachmentRef, 0, len(s.Attachments))
	for _, a := range s.Attachments {
		refs = append(refs, a.ref(OwnerSubmission, s.SubmissionID))
	}
	return refs
}

type QuickReport struct {
	ID                    string       `json:"id"`
	Title                 string       `json:"title"`
	Description           string       `json:"description"`
	IncidentCategory      string       `json:"incidentCategory"`
	LocationType          string       `json:"quickReportLocationType"`
	Timestamp             string       `json:"timestamp"`
	FollowUpStatus        string       `json:"followUpStatus"`
	Level1                string       `json:"level1"`
	Level2                string       `json:"level2"`
	Level3                string       `json:"level3"`
	Level4                string       `json:"level4"`
	Level5                string       `json:"level5"`
	Number                string       `json:"number"`
	PollingStationDetails string       `json:"pollingStationDetails"`
	MonitoringObserverID  string       `json:"monitoringObserverId"`
	ObserverName          string       `json:"observerName"`
	Email                 string       `json:"email"`
	PhoneNumber           string       `json:"phoneNumber"`
	Attachments           []Attachment `json:"attachments"`

	Extra map[string]json.RawMessage `json:"-"`
}

var quickReportFields = knownFields(
	"id", "title", "description", "incidentCategory", "quickReportLocationType",
	"timestamp", "followUpStatus", "level1", "level2", "level3", "level4", "level5",
	"number", "pollingStationDetails", "monitoringObserverId", "observerName",
	"email", "phoneNumber", "attachments",
)

func (q *QuickReport) UnmarshalJSON(data []byte) error {
	type quickReport QuickReport
	var out quickReport
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	extra, err := extraFields(data, quickReportFields)
	if err != nil {
		return err
	}
	*q = QuickReport(out)
	q.Extra = extra
	return nil
}

// AttachmentRefs lists the attachments of the quick report.
func (q *QuickReport) AttachmentRefs() []AttachmentRef {
	refs := make([]AttachmentRef, 0, len(q.Attachments))
	for _, a := range q.Attachments {
		refs = append(refs, a.ref(OwnerQuickReport, q.ID))
	}
	return refs
}

func knownFields(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

func extraFields(data []byte, known map[string]struct{}) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k := range all {
		if _, ok := known[k]; ok {
			delete(all, k)
		}
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}
