package runner

type State string

const (
	Idle                 State = "idle"
	Authenticating       State = "authenticating"
	FetchingSubmissions  State = "fetching submissions"
	FetchingQuickReports State = "fetching quick reports"
	FetchingAttachments  State = "fetching attachments"
	Normalizing          State = "normalizing"
	Exporting            State = "exporting"
	Done                 State = "done"
	Failed               State = "failed"
)
