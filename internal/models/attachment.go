package models

import "time"

// Attachment download states.
const (
	AttachmentDownloaded = "downloaded"
	AttachmentPresent    = "present"
	AttachmentSkipped    = "skipped"
	AttachmentFailed     = "failed"
	AttachmentDisabled   = "disabled"
)

// Attachment relates a file under the attachments directory to a record and
// question it was uploaded for. A file shared by several records has one row
// per record.
type Attachment struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	AttachmentID string    `gorm:"uniqueIndex:idx_attachment_owner" json:"attachment_id"`
	RecordID     string    `gorm:"uniqueIndex:idx_attachment_owner;index" json:"record_id"`
	RecordKind   string    `json:"record_kind"`
	QuestionID   string    `json:"question_id"`
	FileName     string    `json:"file_name"`
	MimeType     string    `json:"mime_type"`
	LocalName    string    `json:"local_name"`
	Status       string    `json:"status"`
	LastRunID    string    `json:"last_run_id"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}
