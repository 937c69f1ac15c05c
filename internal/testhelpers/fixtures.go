package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	BaseURL    = "https://api.votemonitor.test"
	StorageURL = "https://storage.votemonitor.test"
	ElectionID = "e-2024"
	Token      = "test-token"
)

// SubmissionsPath is the listing endpoint for the test election.
var SubmissionsPath = fmt.Sprintf("/api/election-rounds/%s/form-submissions:byEntry", ElectionID)

// QuickReportsPath is the quick report listing endpoint for the test election.
var QuickReportsPath = fmt.Sprintf("/api/election-rounds/%s/quick-reports", ElectionID)

func SubmissionPath(id string) string {
	return fmt.Sprintf("/api/election-rounds/%s/form-submissions/%s:v2", ElectionID, id)
}

func FormPath(id string) string {
	return fmt.Sprintf("/api/election-rounds/%s/forms/%s", ElectionID, id)
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// FormJSON is a form exercising every question type.
func FormJSON(id, name string) string {
	return mustJSON(map[string]interface{}{
		"id":              id,
		"code":            "A1",
		"formType":        "Opening",
		"defaultLanguage": "EN",
		"name":            map[string]string{"EN": name, "RO": name + " (ro)"},
		"questions": []interface{}{
			map[string]interface{}{"id": "q-text", "code": "1", "$questionType": "textQuestion", "text": map[string]string{"EN": "Comments"}},
			map[string]interface{}{"id": "q-num", "code": "2", "$questionType": "numberQuestion", "text": map[string]string{"EN": "Voters"}},
			map[string]interface{}{"id": "q-date", "code": "3", "$questionType": "dateQuestion", "text": map[string]string{"EN": "Opened at"}},
			map[string]interface{}{
				"id": "q-single", "code": "4", "$questionType": "singleSelectQuestion",
				"text": map[string]string{"EN": "Opened on time?"},
				"options": []interface{}{
					map[string]interface{}{"id": "o-yes", "text": map[string]string{"EN": "Yes"}},
					map[string]interface{}{"id": "o-other", "text": map[string]string{"EN": "Other"}, "isFreeText": true},
				},
			},
			map[string]interface{}{
				"id": "q-multi", "code": "5", "$questionType": "multiSelectQuestion",
				"text": map[string]string{"EN": "Issues"},
				"options": []interface{}{
					map[string]interface{}{"id": "o-queue", "text": map[string]string{"EN": "Queue"}},
					map[string]interface{}{"id": "o-noise", "text": map[string]string{"EN": "Noise"}},
				},
			},
			map[string]interface{}{"id": "q-rating", "code": "6", "$questionType": "ratingQuestion", "text": map[string]string{"EN": "Rating"}},
		},
	})
}

// PSIFormJSON is a polling station information form.
func PSIFormJSON(id string) string {
	return mustJSON(map[string]interface{}{
		"id":              id,
		"code":            "PSI",
		"formType":        "PSI",
		"defaultLanguage": "EN",
		"name":            map[string]string{"EN": "Polling station information"},
		"questions": []interface{}{
			map[string]interface{}{"id": "psi-arrival", "code": "P1", "$questionType": "textQuestion", "text": map[string]string{"EN": "Arrival"}},
		},
	})
}

// AttachmentJSON describes an attachment uploaded for questionID.
func AttachmentJSON(id, questionID string) map[string]interface{} {
	return map[string]interface{}{
		"id":               id,
		"questionId":       questionID,
		"fileName":         id + ".jpg",
		"uploadedFileName": "u-" + id + ".jpg",
		"mimeType":         "image/jpeg",
		"presignedUrl":     AttachmentURL(id),
	}
}

// AttachmentURL is the presigned URL AttachmentJSON points at.
func AttachmentURL(id string) string {
	return StorageURL + "/uploads/" + id + ".jpg"
}

// SubmissionJSON is a fully answered submission of the FormJSON form.
func SubmissionJSON(id, formID string, attachments ...map[string]interface{}) string {
	atts := make([]interface{}, 0, len(attachments))
	for _, a := range attachments {
		atts = append(atts, a)
	}
	return mustJSON(map[string]interface{}{
		"submissionId":         id,
		"formId":               formID,
		"timeSubmitted":        "2024-06-09T08:12:44Z",
		"followUpStatus":       "NotApplicable",
		"level1":               "Chisinau",
		"level2":               "Centru",
		"number":               "12",
		"ngo":                  "Promo-LEX",
		"monitoringObserverId": "obs-" + id,
		"observerName":         "Ana Popescu",
		"email":                "ana@example.org",
		"phoneNumber":          "+37360000000",
		"answers": []interface{}{
			map[string]interface{}{"$answerType": "textAnswer", "questionId": "q-text", "text": "all calm"},
			map[string]interface{}{"$answerType": "numberAnswer", "questionId": "q-num", "value": 42},
			map[string]interface{}{"$answerType": "dateAnswer", "questionId": "q-date", "date": "2024-06-09T07:00:00Z"},
			map[string]interface{}{"$answerType": "singleSelectAnswer", "questionId": "q-single", "selection": map[string]string{"optionId": "o-other", "text": "ten minutes late"}},
			map[string]interface{}{"$answerType": "multiSelectAnswer", "questionId": "q-multi", "selection": []interface{}{
				map[string]string{"optionId": "o-queue"},
				map[string]string{"optionId": "o-noise"},
			}},
			map[string]interface{}{"$answerType": "ratingAnswer", "questionId": "q-rating", "value": 4},
		},
		"notes": []interface{}{
			map[string]string{"questionId": "q-text", "text": "first note"},
			map[string]string{"questionId": "q-text", "text": "second note"},
		},
		"attachments": atts,
	})
}

// SummaryJSON is a listing item pointing at a submission.
func SummaryJSON(id, formID string) string {
	return mustJSON(map[string]string{
		"submissionId":  id,
		"formId":        formID,
		"timeSubmitted": "2024-06-09T08:12:44Z",
	})
}

// QuickReportJSON is a quick report with optional attachments.
func QuickReportJSON(id string, attachments ...map[string]interface{}) string {
	atts := make([]interface{}, 0, len(attachments))
	for _, a := range attachments {
		atts = append(atts, a)
	}
	return mustJSON(map[string]interface{}{
		"id":                      id,
		"title":                   "Ballot stuffing",
		"description":             "Observed at 10:00",
		"incidentCategory":        "BallotStuffing",
		"quickReportLocationType": "VisitedPollingStation",
		"timestamp":               "2024-06-09T10:05:00Z",
		"followUpStatus":          "NeedsFollowUp",
		"level1":                  "Chisinau",
		"number":                  "12",
		"monitoringObserverId":    "obs-qr",
		"observerName":            "Ion Rusu",
		"email":                   "ion@example.org",
		"phoneNumber":             "+37361111111",
		"attachments":             atts,
	})
}

// PageJSON wraps raw item documents in a listing envelope.
func PageJSON(page, pageSize, total int, items ...string) string {
	return fmt.Sprintf(`{"items":[%s],"pageNumber":%d,"pageSize":%d,"totalCount":%d}`,
		strings.Join(items, ","), page, pageSize, total)
}

// MockLogin registers a login response. Any status other than 200 fails the login.
func MockLogin(status int) *Expectation {
	exp := New(BaseURL).Post("/api/auth/login").Reply(status)
	if status == http.StatusOK {
		return exp.JSON(map[string]string{"token": Token})
	}
	return exp.BodyString(`{"title":"Unauthorized"}`)
}
