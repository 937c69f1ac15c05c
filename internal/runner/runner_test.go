package runner_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"votexport/internal/attachments"
	"votexport/internal/config"
	"votexport/internal/db"
	"votexport/internal/models"
	"votexport/internal/pkg/voteapi"
	"votexport/internal/runner"
	"votexport/internal/testhelpers"

	"github.com/juju/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

var _ = Describe("Runner", func() {
	var (
		cfg    *config.Config
		dbConn *gorm.DB
		client *voteapi.Client
		ctx    context.Context
	)

	page := func(n int) string {
		return testhelpers.SubmissionsPath + "?pageNumber=" + strconv.Itoa(n) + "&pageSize=1"
	}
	quickReports := func(n int) string {
		return testhelpers.QuickReportsPath + "?pageNumber=" + strconv.Itoa(n) + "&pageSize=1"
	}

	// mockTwoSubmissions registers a two page listing of submissions s-1 and
	// s-2 of form-1 plus an empty quick report listing.
	mockTwoSubmissions := func(atts ...map[string]interface{}) {
		testhelpers.MockLogin(http.StatusOK)
		testhelpers.New(testhelpers.BaseURL).Get(page(1)).Reply(200).
			BodyString(testhelpers.PageJSON(1, 1, 2, testhelpers.SummaryJSON("s-1", "form-1")))
		testhelpers.New(testhelpers.BaseURL).Get(page(2)).Reply(200).
			BodyString(testhelpers.PageJSON(2, 1, 2, testhelpers.SummaryJSON("s-2", "form-1")))
		testhelpers.New(testhelpers.BaseURL).Get(testhelpers.SubmissionPath("s-1")).Reply(200).
			BodyString(testhelpers.SubmissionJSON("s-1", "form-1", atts...))
		testhelpers.New(testhelpers.BaseURL).Get(testhelpers.SubmissionPath("s-2")).Reply(200).
			BodyString(testhelpers.SubmissionJSON("s-2", "form-1", atts...))
		testhelpers.New(testhelpers.BaseURL).Get(testhelpers.FormPath("form-1")).Reply(200).
			BodyString(testhelpers.FormJSON("form-1", "Opening"))
		testhelpers.New(testhelpers.BaseURL).Get(quickReports(1)).Reply(200).
			BodyString(testhelpers.PageJSON(1, 1, 0))
	}

	newRunner := func() *runner.Runner {
		return runner.New(client, dbConn, cfg, runner.WithAttachmentOptions(attachments.Options{
			Workers:  2,
			Attempts: 2,
			Delay:    time.Millisecond,
			Clock:    clock.WallClock,
		}))
	}

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "runner")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		cfg = &config.Config{
			BaseAPIURL:        testhelpers.BaseURL,
			AdminEmail:        "admin@example.org",
			AdminPass:         "secret",
			ElectionID:        testhelpers.ElectionID,
			ExportRoot:        dir,
			DBFile:            filepath.Join(dir, "export.db"),
			DataSource:        "Coalition",
			ConcurrentWorkers: 2,
			PageSize:          1,
			AttachmentRetries: 2,
			HTTPTimeout:       5 * time.Second,
			LockTimeout:       time.Second,
		}

		dbConn, _ = testhelpers.NewTestDB(dir)
		DeferCleanup(db.Close, dbConn)

		client, err = voteapi.New(cfg.BaseAPIURL, voteapi.WithDataSource(cfg.DataSource))
		Expect(err).NotTo(HaveOccurred())
		client.UseDefaultClient()

		testhelpers.Activate()
		DeferCleanup(testhelpers.Deactivate)
		ctx = context.Background()
	})

	It("pages through two submissions and exports two rows of one table", func() {
		mockTwoSubmissions()

		r := newRunner()
		summary, err := r.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.State()).To(Equal(runner.Done))
		Expect(testhelpers.IsDone()).To(BeTrue())

		Expect(testhelpers.RequestCount(http.MethodGet, testhelpers.SubmissionsPath)).To(Equal(2))
		Expect(summary.Records).To(Equal(2))
		Expect(summary.Tables).To(Equal(1))
		Expect(testhelpers.CountRows(dbConn, "form_form_1")).To(Equal(int64(2)))

		f, err := excelize.OpenFile(cfg.WorkbookPath())
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		Expect(f.GetSheetList()).To(Equal([]string{"1_Opening"}))
		rows, err := f.GetRows("1_Opening")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(3))

		run, err := gorm.G[models.ExportRun](dbConn).Where("run_id = ?", summary.RunID).First(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(models.RunStatusSucceeded))
		Expect(run.Records).To(Equal(2))
		Expect(run.FinishedAt).NotTo(BeNil())
	})

	It("makes no download calls when attachments are disabled", func() {
		mockTwoSubmissions(testhelpers.AttachmentJSON("att-1", "q-text"))

		summary, err := newRunner().Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(testhelpers.RequestsTo("/uploads/att-1.jpg")).To(BeEmpty())
		Expect(summary.AttachmentsDownloaded).To(BeZero())

		att, err := gorm.G[models.Attachment](dbConn).Where("attachment_id = ?", "att-1").First(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(att.Status).To(Equal(models.AttachmentDisabled))
	})

	It("downloads an attachment shared by two submissions once", func() {
		cfg.DownloadAtts = true
		mockTwoSubmissions(testhelpers.AttachmentJSON("att-1", "q-text"))
		testhelpers.New(testhelpers.StorageURL).Get("/uploads/att-1.jpg").Reply(200).BodyString("jpeg")

		summary, err := newRunner().Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(testhelpers.RequestsTo("/uploads/att-1.jpg")).To(HaveLen(1))
		Expect(summary.AttachmentsDownloaded).To(Equal(1))
		Expect(filepath.Join(cfg.AttachmentsDir(), "att-1.jpg")).To(BeAnExistingFile())

		owners, err := gorm.G[models.Attachment](dbConn).Where("attachment_id = ?", "att-1").Order("record_id").Find(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(owners).To(HaveLen(2))
		Expect(owners[0].RecordID).To(Equal("s-1"))
		Expect(owners[1].RecordID).To(Equal("s-2"))

		// The presigned URL carries its own credentials.
		Expect(testhelpers.RequestsTo("/uploads/att-1.jpg")[0].Header.Get("Authorization")).To(BeEmpty())
	})

	It("still writes both outputs when attachment downloads fail", func() {
		cfg.DownloadAtts = true
		mockTwoSubmissions(testhelpers.AttachmentJSON("att-1", "q-text"))
		testhelpers.New(testhelpers.StorageURL).Get("/uploads/att-1.jpg").Reply(500)
		testhelpers.New(testhelpers.StorageURL).Get("/uploads/att-1.jpg").Reply(500)

		r := newRunner()
		summary, err := r.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.State()).To(Equal(runner.Done))
		Expect(summary.AttachmentsFailed).To(Equal(1))
		Expect(summary.Warnings).NotTo(BeEmpty())

		Expect(testhelpers.CountRows(dbConn, "form_form_1")).To(Equal(int64(2)))
		Expect(cfg.WorkbookPath()).To(BeAnExistingFile())

		att, err := gorm.G[models.Attachment](dbConn).Where("attachment_id = ?", "att-1").First(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(att.Status).To(Equal(models.AttachmentFailed))
	})

	It("fails before any listing call when login is rejected", func() {
		testhelpers.MockLogin(http.StatusUnauthorized)

		r := newRunner()
		_, err := r.Run(ctx)
		Expect(err).To(HaveOccurred())
		Expect(voteapi.IsAuthError(err)).To(BeTrue())
		Expect(r.State()).To(Equal(runner.Failed))
		Expect(testhelpers.RequestCount(http.MethodGet, testhelpers.SubmissionsPath)).To(BeZero())
		Expect(cfg.WorkbookPath()).NotTo(BeAnExistingFile())

		run, err := gorm.G[models.ExportRun](dbConn).First(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(models.RunStatusFailed))
		Expect(run.Error).To(ContainSubstring("authentication failed"))
	})

	It("fails on a listing error", func() {
		testhelpers.MockLogin(http.StatusOK)
		testhelpers.New(testhelpers.BaseURL).Get(page(1)).Reply(503).BodyString("down")

		_, err := newRunner().Run(ctx)
		Expect(voteapi.IsAPIError(err)).To(BeTrue())
		Expect(cfg.WorkbookPath()).NotTo(BeAnExistingFile())
	})

	It("skips a submission whose detail cannot be fetched", func() {
		testhelpers.MockLogin(http.StatusOK)
		testhelpers.New(testhelpers.BaseURL).Get(page(1)).Reply(200).
			BodyString(testhelpers.PageJSON(1, 1, 2, testhelpers.SummaryJSON("s-1", "form-1")))
		testhelpers.New(testhelpers.BaseURL).Get(page(2)).Reply(200).
			BodyString(testhelpers.PageJSON(2, 1, 2, testhelpers.SummaryJSON("s-2", "form-1")))
		testhelpers.New(testhelpers.BaseURL).Get(testhelpers.SubmissionPath("s-1")).Reply(200).
			BodyString(testhelpers.SubmissionJSON("s-1", "form-1"))
		testhelpers.New(testhelpers.BaseURL).Get(testhelpers.SubmissionPath("s-2")).Reply(500)
		testhelpers.New(testhelpers.BaseURL).Get(testhelpers.FormPath("form-1")).Reply(200).
			BodyString(testhelpers.FormJSON("form-1", "Opening"))
		testhelpers.New(testhelpers.BaseURL).Get(quickReports(1)).Reply(200).
			BodyString(testhelpers.PageJSON(1, 1, 0))

		summary, err := newRunner().Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Records).To(Equal(1))
		Expect(summary.Warnings).To(ContainElement(ContainSubstring("submission s-2 skipped")))
	})

	// workbookRows reads every sheet of the exported workbook.
	workbookRows := func() map[string][][]string {
		f, err := excelize.OpenFile(cfg.WorkbookPath())
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		out := map[string][][]string{}
		for _, sheet := range f.GetSheetList() {
			rows, err := f.GetRows(sheet)
			Expect(err).NotTo(HaveOccurred())
			out[sheet] = rows
		}
		return out
	}

	It("keeps the same rows when run twice", func() {
		mockTwoSubmissions()
		_, err := newRunner().Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		first := workbookRows()
		Expect(first).To(HaveKey("1_Opening"))

		mockTwoSubmissions()
		_, err = newRunner().Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(workbookRows()).To(Equal(first))

		Expect(testhelpers.CountRows(dbConn, "form_form_1")).To(Equal(int64(2)))
		count, err := gorm.G[models.ExportRun](dbConn).Count(ctx, "id")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(int64(2)))
	})
})
