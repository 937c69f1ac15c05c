// Package runner sequences one export run: login, fetch, normalize,
// optional attachment download and the writes to every sink.
package runner

import (
	"context"
	"sync"
	"time"
	"votexport/internal/attachments"
	"votexport/internal/config"
	"votexport/internal/exporters"
	"votexport/internal/models"
	"votexport/internal/normalize"
	"votexport/internal/pkg/voteapi"
	"votexport/internal/runlock"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var logger = loggo.GetLogger("votexport.runner")

// API is the part of the election-monitoring API a run needs.
type API interface {
	Authenticate(ctx context.Context, email, password string) (voteapi.Token, error)
	ListSubmissions(ctx context.Context, token voteapi.Token, electionID string, page, pageSize int) ([]voteapi.SubmissionSummary, bool, error)
	ListQuickReports(ctx context.Context, token voteapi.Token, electionID string, page, pageSize int) ([]voteapi.QuickReport, bool, error)
	GetSubmission(ctx context.Context, token voteapi.Token, electionID, submissionID string) (*voteapi.Submission, error)
	GetForm(ctx context.Context, token voteapi.Token, electionID, formID string) (*voteapi.Form, error)
	attachments.Downloader
}

type Runner struct {
	api       API
	db        *gorm.DB
	cfg       *config.Config
	sinks     []exporters.Exporter
	fetchOpts attachments.Options

	mu    sync.Mutex
	state State
}

type Option func(*Runner)

// WithExporters adds sinks written after the database and the workbook.
func WithExporters(sinks ...exporters.Exporter) Option {
	return func(r *Runner) {
		r.sinks = append(r.sinks, sinks...)
	}
}

// WithAttachmentOptions overrides the fetcher settings derived from config.
func WithAttachmentOptions(opts attachments.Options) Option {
	return func(r *Runner) {
		r.fetchOpts = opts
	}
}

func New(api API, db *gorm.DB, cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		api: api,
		db:  db,
		cfg: cfg,
		fetchOpts: attachments.Options{
			Workers:  cfg.ConcurrentWorkers,
			Attempts: cfg.AttachmentRetries,
		},
		state: Idle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State reports the step the current or last run is in.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) transition(to State) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()
	logger.Debugf("%s -> %s", from, to)
}

// Run performs one complete export. Only fatal errors are returned; per-item
// problems end up in the summary warnings.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{RunID: uuid.NewString(), ElectionID: r.cfg.ElectionID, StartedAt: time.Now()}
	r.transition(Idle)

	lock, err := runlock.Acquire(r.cfg.DBFile, r.cfg.LockTimeout, ctx.Done())
	if err != nil {
		r.transition(Failed)
		return summary, errors.Trace(err)
	}
	defer lock.Release()

	run := &models.ExportRun{
		RunID:      summary.RunID,
		ElectionID: summary.ElectionID,
		Status:     models.RunStatusRunning,
		State:      string(Idle),
		StartedAt:  summary.StartedAt,
	}
	if err := gorm.G[models.ExportRun](r.db).Create(ctx, run); err != nil {
		r.transition(Failed)
		return summary, errors.Annotate(err, "recording run")
	}

	logger.Infof("run %s started for election %s", summary.RunID, summary.ElectionID)
	runErr := r.run(ctx, summary)
	summary.Duration = time.Since(summary.StartedAt)

	if runErr != nil {
		failedIn := r.State()
		r.transition(Failed)
		logger.Errorf("run %s failed while %s: %v", summary.RunID, failedIn, runErr)
		runErr = errors.Annotatef(runErr, "%s", failedIn)
	} else {
		logger.Infof("%s", summary)
	}

	if err := r.finish(run, summary, runErr); err != nil {
		logger.Errorf("recording result of run %s: %v", summary.RunID, err)
	}
	return summary, runErr
}

func (r *Runner) run(ctx context.Context, summary *Summary) error {
	r.transition(Authenticating)
	token, err := r.api.Authenticate(ctx, r.cfg.AdminEmail, r.cfg.AdminPass)
	if err != nil {
		return errors.Trace(err)
	}

	r.transition(FetchingSubmissions)
	submissions, forms, err := r.fetchSubmissions(ctx, token, summary)
	if err != nil {
		return errors.Trace(err)
	}

	r.transition(FetchingQuickReports)
	quickReports, err := r.fetchQuickReports(ctx, token)
	if err != nil {
		return errors.Trace(err)
	}

	var refs []voteapi.AttachmentRef
	for _, s := range submissions {
		refs = append(refs, s.AttachmentRefs()...)
	}
	for i := range quickReports {
		refs = append(refs, quickReports[i].AttachmentRefs()...)
	}

	files := attachments.Disabled(refs)
	if r.cfg.DownloadAtts {
		r.transition(FetchingAttachments)
		files = r.fetchAttachments(ctx, token, refs, summary)
	}

	r.transition(Normalizing)
	export := normalize.Build(forms, submissions, quickReports)
	export.Attachments = files.Files
	for _, w := range export.Warnings {
		summary.warn("%s", w)
	}
	summary.Records = export.RecordCount()
	summary.Tables = len(export.Tables)

	r.transition(Exporting)
	if err := r.export(ctx, summary.RunID, export); err != nil {
		return errors.Trace(err)
	}

	r.transition(Done)
	return nil
}

// fetchSubmissions pages through the listing, then fetches details and the
// distinct forms concurrently. A failed detail drops that submission with a
// warning; a failed form aborts the run.
func (r *Runner) fetchSubmissions(ctx context.Context, token voteapi.Token, summary *Summary) ([]*voteapi.Submission, []*voteapi.Form, error) {
	var listed []voteapi.SubmissionSummary
	for page := 1; ; page++ {
		items, more, err := r.api.ListSubmissions(ctx, token, r.cfg.ElectionID, page, r.cfg.PageSize)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		listed = append(listed, items...)
		if !more {
			break
		}
	}
	logger.Infof("listed %d submissions", len(listed))

	details := make([]*voteapi.Submission, len(listed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ConcurrentWorkers)
	for i, item := range listed {
		i, item := i, item
		g.Go(func() error {
			sub, err := r.api.GetSubmission(gctx, token, r.cfg.ElectionID, item.SubmissionID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				summary.warn("submission %s skipped: %v", item.SubmissionID, err)
				return nil
			}
			if sub.FormID == "" {
				sub.FormID = item.FormID
			}
			details[i] = sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errors.Trace(err)
	}

	var submissions []*voteapi.Submission
	var formIDs []string
	seen := map[string]struct{}{}
	for _, sub := range details {
		if sub == nil {
			continue
		}
		submissions = append(submissions, sub)
		if _, ok := seen[sub.FormID]; !ok && sub.FormID != "" {
			seen[sub.FormID] = struct{}{}
			formIDs = append(formIDs, sub.FormID)
		}
	}

	forms := make([]*voteapi.Form, len(formIDs))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ConcurrentWorkers)
	for i, id := range formIDs {
		i, id := i, id
		g.Go(func() error {
			form, err := r.api.GetForm(gctx, token, r.cfg.ElectionID, id)
			if err != nil {
				return errors.Trace(err)
			}
			forms[i] = form
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	logger.Infof("fetched %d submissions across %d forms", len(submissions), len(forms))
	return submissions, forms, nil
}

func (r *Runner) fetchQuickReports(ctx context.Context, token voteapi.Token) ([]voteapi.QuickReport, error) {
	var out []voteapi.QuickReport
	for page := 1; ; page++ {
		items, more, err := r.api.ListQuickReports(ctx, token, r.cfg.ElectionID, page, r.cfg.PageSize)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, items...)
		if !more {
			break
		}
	}
	logger.Infof("fetched %d quick reports", len(out))
	return out, nil
}

// fetchAttachments never fails the run; anything that goes wrong is a warning.
func (r *Runner) fetchAttachments(ctx context.Context, token voteapi.Token, refs []voteapi.AttachmentRef, summary *Summary) *attachments.Result {
	fetcher := attachments.NewFetcher(r.api, r.cfg.AttachmentsDir(), r.fetchOpts)
	res, err := fetcher.Fetch(ctx, token, refs)
	if err != nil {
		summary.warn("attachments not fetched: %v", err)
		res = attachments.Disabled(refs)
		for i := range res.Files {
			res.Files[i].Status = models.AttachmentFailed
		}
		res.Failed = len(res.Files)
	}

	summary.AttachmentsDownloaded = res.Downloaded
	summary.AttachmentsSkipped = res.Present + res.Skipped
	summary.AttachmentsFailed = res.Failed
	for _, e := range res.Errors {
		summary.warn("%v", e)
	}
	return res
}

// export writes every sink even when an earlier one fails, so one broken
// sink never keeps the others stale.
func (r *Runner) export(ctx context.Context, runID string, export *normalize.Export) error {
	sinks := append([]exporters.Exporter{
		exporters.NewDatabase(r.db, runID),
		exporters.NewSpreadsheet(r.cfg.WorkbookPath()),
	}, r.sinks...)

	var failed []string
	var firstErr error
	for _, sink := range sinks {
		if err := sink.Write(ctx, export); err != nil {
			logger.Errorf("%s export failed: %v", sink.Name(), err)
			failed = append(failed, sink.Name())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return errors.Annotatef(firstErr, "exporters failed: %v", failed)
	}
	return nil
}

func (r *Runner) finish(run *models.ExportRun, summary *Summary, runErr error) error {
	now := time.Now()
	run.Status = models.RunStatusSucceeded
	run.State = string(r.State())
	run.Records = summary.Records
	run.Tables = summary.Tables
	run.AttachmentsDownloaded = summary.AttachmentsDownloaded
	run.AttachmentsSkipped = summary.AttachmentsSkipped
	run.AttachmentsFailed = summary.AttachmentsFailed
	run.Warnings = len(summary.Warnings)
	run.FinishedAt = &now
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = runErr.Error()
	}

	// The run context may already be cancelled; the row is still worth saving.
	return errors.Trace(r.db.Save(run).Error)
}
