package attachments_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
	"votexport/internal/attachments"
	"votexport/internal/models"
	"votexport/internal/pkg/voteapi"

	"github.com/juju/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeDownloader replays a queue of errors per attachment id before
// returning the body.
type fakeDownloader struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string][]error
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{calls: map[string]int{}, failures: map[string][]error{}}
}

func (d *fakeDownloader) DownloadAttachment(_ context.Context, _ voteapi.Token, ref voteapi.AttachmentRef) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[ref.ID]++
	if queue := d.failures[ref.ID]; len(queue) > 0 {
		d.failures[ref.ID] = queue[1:]
		return nil, queue[0]
	}
	return []byte("body of " + ref.ID), nil
}

func (d *fakeDownloader) callCount(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

func ref(id, owner string) voteapi.AttachmentRef {
	return voteapi.AttachmentRef{
		ID:        id,
		OwnerID:   owner,
		OwnerKind: voteapi.OwnerSubmission,
		FileName:  "photo.JPG",
		URL:       "https://storage.votemonitor.test/" + id,
	}
}

var _ = Describe("Fetcher", func() {
	var (
		dir        string
		downloader *fakeDownloader
		fetcher    *attachments.Fetcher
		ctx        context.Context
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "attachments")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		ctx = context.Background()
		downloader = newFakeDownloader()
		fetcher = attachments.NewFetcher(downloader, dir, attachments.Options{
			Workers:  2,
			Attempts: 3,
			Delay:    time.Millisecond,
			Clock:    clock.WallClock,
		})
	})

	It("downloads each attachment id once even when referenced twice", func() {
		res, err := fetcher.Fetch(ctx, "tok", []voteapi.AttachmentRef{
			ref("att-1", "s-1"), ref("att-2", "s-1"), ref("att-1", "s-2"),
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(downloader.callCount("att-1")).To(Equal(1))
		Expect(downloader.callCount("att-2")).To(Equal(1))
		Expect(res.Downloaded).To(Equal(2))

		// Both records sharing att-1 keep their link to it.
		Expect(res.Files).To(HaveLen(3))
		var owners []string
		for _, f := range res.Files {
			Expect(f.Status).To(Equal(models.AttachmentDownloaded))
			if f.Ref.ID == "att-1" {
				owners = append(owners, f.Ref.OwnerID)
			}
		}
		Expect(owners).To(ConsistOf("s-1", "s-2"))

		body, err := os.ReadFile(filepath.Join(dir, "att-1.jpg"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("body of att-1"))
		Expect(res.Bytes).To(Equal(uint64(len("body of att-1") * 2)))
	})

	It("keeps files from an earlier run without downloading them again", func() {
		Expect(os.WriteFile(filepath.Join(dir, "att-1.jpg"), []byte("old"), 0644)).To(Succeed())

		res, err := fetcher.Fetch(ctx, "tok", []voteapi.AttachmentRef{ref("att-1", "s-1")})
		Expect(err).NotTo(HaveOccurred())
		Expect(downloader.callCount("att-1")).To(Equal(0))
		Expect(res.Present).To(Equal(1))
		Expect(res.Files[0].Status).To(Equal(models.AttachmentPresent))
	})

	It("retries transient failures", func() {
		downloader.failures["att-1"] = []error{
			&voteapi.AttachmentError{AttachmentID: "att-1", StatusCode: http.StatusBadGateway},
			&voteapi.AttachmentError{AttachmentID: "att-1"},
		}

		res, err := fetcher.Fetch(ctx, "tok", []voteapi.AttachmentRef{ref("att-1", "s-1")})
		Expect(err).NotTo(HaveOccurred())
		Expect(downloader.callCount("att-1")).To(Equal(3))
		Expect(res.Downloaded).To(Equal(1))
	})

	It("gives up after the configured attempts", func() {
		for i := 0; i < 5; i++ {
			downloader.failures["att-1"] = append(downloader.failures["att-1"],
				&voteapi.AttachmentError{AttachmentID: "att-1", StatusCode: http.StatusServiceUnavailable})
		}

		res, err := fetcher.Fetch(ctx, "tok", []voteapi.AttachmentRef{ref("att-1", "s-1"), ref("att-2", "s-1")})
		Expect(err).NotTo(HaveOccurred())
		Expect(downloader.callCount("att-1")).To(Equal(3))
		Expect(res.Failed).To(Equal(1))
		Expect(res.Downloaded).To(Equal(1))
		Expect(res.Errors).To(HaveLen(1))
		Expect(filepath.Join(dir, "att-1.jpg")).NotTo(BeAnExistingFile())
	})

	It("skips attachments that are gone without retrying", func() {
		downloader.failures["att-1"] = []error{
			&voteapi.AttachmentError{AttachmentID: "att-1", StatusCode: http.StatusNotFound},
		}

		res, err := fetcher.Fetch(ctx, "tok", []voteapi.AttachmentRef{ref("att-1", "s-1")})
		Expect(err).NotTo(HaveOccurred())
		Expect(downloader.callCount("att-1")).To(Equal(1))
		Expect(res.Skipped).To(Equal(1))
		Expect(res.Failed).To(BeZero())
		Expect(res.Files[0].Status).To(Equal(models.AttachmentSkipped))
	})

	It("leaves no temporary files behind", func() {
		_, err := fetcher.Fetch(ctx, "tok", []voteapi.AttachmentRef{ref("att-1", "s-1"), ref("att-2", "s-2")})
		Expect(err).NotTo(HaveOccurred())

		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		names := []string{}
		for _, e := range entries {
			names = append(names, e.Name())
		}
		Expect(names).To(ConsistOf("att-1.jpg", "att-2.jpg"))
	})
})

var _ = Describe("Disabled", func() {
	It("records each reference once per owner without downloading", func() {
		res := attachments.Disabled([]voteapi.AttachmentRef{
			ref("att-1", "s-1"), ref("att-1", "s-1"), ref("att-1", "s-2"), ref("", "s-3"),
		})
		Expect(res.Files).To(HaveLen(2))
		Expect(res.Files[0].Status).To(Equal(models.AttachmentDisabled))
		Expect(res.Files[1].Ref.OwnerID).To(Equal("s-2"))
		Expect(res.Downloaded).To(BeZero())
	})
})
