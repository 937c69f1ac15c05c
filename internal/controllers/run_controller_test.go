package controllers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"
	"votexport/internal/config"
	"votexport/internal/db"
	"votexport/internal/models"
	"votexport/internal/routes"
	"votexport/internal/testhelpers"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

func createRun(dbConn *gorm.DB, ctx context.Context, run *models.ExportRun) {
	if run.Status == "" {
		run.Status = models.RunStatusSucceeded
	}
	result := gorm.WithResult()
	Expect(gorm.G[models.ExportRun](dbConn, result).Create(ctx, run)).To(Succeed())
	Expect(result.RowsAffected).To(Equal(int64(1)))
}

func createAttachment(dbConn *gorm.DB, ctx context.Context, att *models.Attachment) {
	result := gorm.WithResult()
	Expect(gorm.G[models.Attachment](dbConn, result).Create(ctx, att)).To(Succeed())
	Expect(result.RowsAffected).To(Equal(int64(1)))
}

var _ = Describe("RunController", func() {
	var (
		dbConn *gorm.DB
		router *gin.Engine
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)

		cfg, err := config.LoadConfig()
		Expect(err).NotTo(HaveOccurred())

		dir, err := os.MkdirTemp("", "controllers")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)
		cfg.DBFile = filepath.Join(dir, "export.db")

		dbConn, err = db.InitDB(cfg.DBFile)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close, dbConn)

		testhelpers.CleanupDB(dbConn)

		router = routes.SetupRouter(dbConn, cfg)
	})

	It("reports health", func() {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp := httptest.NewRecorder()

		router.ServeHTTP(resp, req)

		Expect(resp.Code).To(Equal(http.StatusOK))
		Expect(resp.Body.String()).To(ContainSubstring("UP"))
	})

	Describe("GET /api/v1/runs", func() {
		BeforeEach(func() {
			ctx := context.Background()
			base := time.Date(2024, 6, 9, 8, 0, 0, 0, time.UTC)
			createRun(dbConn, ctx, &models.ExportRun{RunID: "run-a", ElectionID: "e-2024", StartedAt: base, Records: 10})
			createRun(dbConn, ctx, &models.ExportRun{RunID: "run-b", ElectionID: "e-2024", StartedAt: base.Add(15 * time.Minute), Records: 12})
			createRun(dbConn, ctx, &models.ExportRun{
				RunID: "run-c", ElectionID: "e-2024", StartedAt: base.Add(30 * time.Minute),
				Status: models.RunStatusFailed, Error: "authentication failed (HTTP 401)",
			})
		})

		It("returns the latest runs first", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
			resp := httptest.NewRecorder()

			router.ServeHTTP(resp, req)

			Expect(resp.Code).To(Equal(http.StatusOK))

			var body struct {
				Runs []models.ExportRun `json:"runs"`
			}
			Expect(json.Unmarshal(resp.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Runs).To(HaveLen(3))
			Expect(body.Runs[0].RunID).To(Equal("run-c"))
			Expect(body.Runs[0].Error).To(ContainSubstring("401"))
			Expect(body.Runs[2].RunID).To(Equal("run-a"))
		})

		It("honours the limit", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=1", nil)
			resp := httptest.NewRecorder()

			router.ServeHTTP(resp, req)

			var body struct {
				Runs []models.ExportRun `json:"runs"`
			}
			Expect(json.Unmarshal(resp.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Runs).To(HaveLen(1))
		})

		It("returns one run by id", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-b", nil)
			resp := httptest.NewRecorder()

			router.ServeHTTP(resp, req)

			Expect(resp.Code).To(Equal(http.StatusOK))
			var body struct {
				Run models.ExportRun `json:"run"`
			}
			Expect(json.Unmarshal(resp.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Run.Records).To(Equal(12))
		})

		It("returns 404 for an unknown run", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil)
			resp := httptest.NewRecorder()

			router.ServeHTTP(resp, req)

			Expect(resp.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/v1/attachments", func() {
		BeforeEach(func() {
			ctx := context.Background()
			createAttachment(dbConn, ctx, &models.Attachment{AttachmentID: "att-1", RecordID: "s-1", LocalName: "att-1.jpg", Status: models.AttachmentDownloaded})
			createAttachment(dbConn, ctx, &models.Attachment{AttachmentID: "att-2", RecordID: "s-2", LocalName: "att-2.jpg", Status: models.AttachmentFailed})
		})

		It("filters by record id", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/attachments?record_id=s-2", nil)
			resp := httptest.NewRecorder()

			router.ServeHTTP(resp, req)

			Expect(resp.Code).To(Equal(http.StatusOK))
			var body struct {
				Attachments []models.Attachment `json:"attachments"`
			}
			Expect(json.Unmarshal(resp.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Attachments).To(HaveLen(1))
			Expect(body.Attachments[0].AttachmentID).To(Equal("att-2"))
			Expect(body.Attachments[0].Status).To(Equal(models.AttachmentFailed))
		})
	})
})
