package runner

import (
	"fmt"
	"sync"
	"time"
)

// Summary is what a run reports at the end, successful or not.
type Summary struct {
	RunID                 string
	ElectionID            string
	StartedAt             time.Time
	Duration              time.Duration
	Records               int
	Tables                int
	AttachmentsDownloaded int
	AttachmentsSkipped    int
	AttachmentsFailed     int
	Warnings              []string

	mu sync.Mutex
}

func (s *Summary) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.mu.Lock()
	s.Warnings = append(s.Warnings, msg)
	s.mu.Unlock()
}

func (s *Summary) String() string {
	return fmt.Sprintf("run %s: exported %d records in %d tables; attachments %d downloaded, %d skipped, %d failed; %d warnings; took %s",
		s.RunID, s.Records, s.Tables, s.AttachmentsDownloaded, s.AttachmentsSkipped, s.AttachmentsFailed,
		len(s.Warnings), s.Duration.Round(time.Millisecond))
}
