package models

import "time"

// Export run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

type ExportRun struct {
	ID                    uint       `gorm:"primaryKey" json:"-"`
	RunID                 string     `gorm:"uniqueIndex" json:"run_id"`
	ElectionID            string     `gorm:"index" json:"election_id"`
	Status                string     `json:"status"`
	State                 string     `json:"state"`
	Records               int        `json:"records"`
	Tables                int        `json:"tables"`
	AttachmentsDownloaded int        `json:"attachments_downloaded"`
	AttachmentsSkipped    int        `json:"attachments_skipped"`
	AttachmentsFailed     int        `json:"attachments_failed"`
	Warnings              int        `json:"warnings"`
	Error                 string     `json:"error,omitempty"`
	StartedAt             time.Time  `json:"started_at"`
	FinishedAt            *time.Time `json:"finished_at,omitempty"`
	CreatedAt             time.Time  `json:"-"`
	UpdatedAt             time.Time  `json:"-"`
}
