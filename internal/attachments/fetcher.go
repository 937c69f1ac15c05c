package attachments

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"votexport/internal/models"
	"votexport/internal/normalize"
	"votexport/internal/pkg/voteapi"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"golang.org/x/sync/errgroup"
)

var logger = loggo.GetLogger("votexport.attachments")

// Downloader fetches the body of one attachment.
type Downloader interface {
	DownloadAttachment(ctx context.Context, token voteapi.Token, ref voteapi.AttachmentRef) ([]byte, error)
}

type Options struct {
	// Workers bounds concurrent downloads.
	Workers int
	// Attempts is the number of tries for a transient failure.
	Attempts int
	// Delay is the wait before the first retry; it doubles each attempt.
	Delay time.Duration
	Clock clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 4
	}
	if o.Attempts < 1 {
		o.Attempts = 3
	}
	if o.Delay <= 0 {
		o.Delay = time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	return o
}

// Fetcher materializes attachments as files named by attachment id.
type Fetcher struct {
	downloader Downloader
	dir        string
	opts       Options
}

func NewFetcher(downloader Downloader, dir string, opts Options) *Fetcher {
	return &Fetcher{downloader: downloader, dir: dir, opts: opts.withDefaults()}
}

// Result reports what happened to the attachments of a run. Files has one
// entry per attachment and owning record; the counts are per attachment id.
type Result struct {
	Files      []normalize.AttachmentFile
	Downloaded int
	Present    int
	Skipped    int
	Failed     int
	Bytes      uint64
	Errors     []error
}

func (r *Result) String() string {
	return fmt.Sprintf("%d downloaded (%s), %d already present, %d skipped, %d failed",
		r.Downloaded, humanize.Bytes(r.Bytes), r.Present, r.Skipped, r.Failed)
}

// Dedupe drops repeated attachment ids, keeping the first reference.
func Dedupe(refs []voteapi.AttachmentRef) []voteapi.AttachmentRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]voteapi.AttachmentRef, 0, len(refs))
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		if _, ok := seen[ref.ID]; ok {
			continue
		}
		seen[ref.ID] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// owned drops references repeated within the same record, keeping one
// reference per attachment id and owner.
func owned(refs []voteapi.AttachmentRef) []voteapi.AttachmentRef {
	type key struct{ id, owner string }
	seen := make(map[key]struct{}, len(refs))
	out := make([]voteapi.AttachmentRef, 0, len(refs))
	for _, ref := range refs {
		k := key{ref.ID, ref.OwnerID}
		if _, ok := seen[k]; ok || ref.ID == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func files(refs []voteapi.AttachmentRef, status func(id string) string) []normalize.AttachmentFile {
	var out []normalize.AttachmentFile
	for _, ref := range owned(refs) {
		out = append(out, normalize.AttachmentFile{Ref: ref, Status: status(ref.ID)})
	}
	return out
}

// Disabled records the references without downloading anything.
func Disabled(refs []voteapi.AttachmentRef) *Result {
	return &Result{Files: files(refs, func(string) string { return models.AttachmentDisabled })}
}

// Fetch downloads every unique attachment at most once. Per-attachment
// failures end up in the result and never abort the fetch.
func (f *Fetcher) Fetch(ctx context.Context, token voteapi.Token, refs []voteapi.AttachmentRef) (*Result, error) {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return nil, errors.Annotatef(err, "creating attachments directory %s", f.dir)
	}

	unique := Dedupe(refs)
	statuses := make([]string, len(unique))
	errs := make([]error, len(unique))
	var total atomic.Uint64

	var g errgroup.Group
	g.SetLimit(f.opts.Workers)
	for i, ref := range unique {
		i, ref := i, ref
		g.Go(func() error {
			n, status, err := f.fetchOne(ctx, token, ref)
			statuses[i], errs[i] = status, err
			total.Add(uint64(n))
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Bytes: total.Load()}
	byID := make(map[string]string, len(unique))
	for i, ref := range unique {
		byID[ref.ID] = statuses[i]
		switch statuses[i] {
		case models.AttachmentDownloaded:
			res.Downloaded++
		case models.AttachmentPresent:
			res.Present++
		case models.AttachmentSkipped:
			res.Skipped++
			logger.Warningf("attachment %s of %s %s skipped: %v", ref.ID, ref.OwnerKind, ref.OwnerID, errs[i])
		default:
			res.Failed++
			res.Errors = append(res.Errors, errs[i])
			logger.Errorf("attachment %s of %s %s failed: %v", ref.ID, ref.OwnerKind, ref.OwnerID, errs[i])
		}
	}

	res.Files = files(refs, func(id string) string { return byID[id] })

	logger.Infof("attachments: %s", res)
	return res, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, token voteapi.Token, ref voteapi.AttachmentRef) (int, string, error) {
	target := filepath.Join(f.dir, ref.LocalName())
	if _, err := os.Stat(target); err == nil {
		return 0, models.AttachmentPresent, nil
	}

	var body []byte
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			body, err = f.downloader.DownloadAttachment(ctx, token, ref)
			return err
		},
		IsFatalError: func(err error) bool {
			var attErr *voteapi.AttachmentError
			return !errors.As(err, &attErr) || !attErr.Transient()
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("attachment %s attempt %d: %v", ref.ID, attempt, err)
		},
		Attempts:    f.opts.Attempts,
		Delay:       f.opts.Delay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       f.opts.Clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		err = retry.LastError(err)
		var attErr *voteapi.AttachmentError
		if errors.As(err, &attErr) && attErr.NotFound() {
			return 0, models.AttachmentSkipped, err
		}
		return 0, models.AttachmentFailed, err
	}

	if err := writeFile(f.dir, target, body); err != nil {
		return 0, models.AttachmentFailed, err
	}
	return len(body), models.AttachmentDownloaded, nil
}

// writeFile replaces target atomically so an interrupted run never leaves a
// truncated attachment behind.
func writeFile(dir, target string, body []byte) error {
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return errors.Trace(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return errors.Annotatef(err, "writing %s", target)
	}
	if err := tmp.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(os.Rename(tmp.Name(), target), "renaming into %s", target)
}
