package exporters_test

import (
	"context"
	"os"
	"votexport/internal/db"
	"votexport/internal/exporters"
	"votexport/internal/models"
	"votexport/internal/normalize"
	"votexport/internal/testhelpers"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("Database", func() {
	var (
		conn *gorm.DB
		ctx  context.Context
	)

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "exportdb")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		conn, _ = testhelpers.NewTestDB(dir)
		DeferCleanup(db.Close, conn)
		ctx = context.Background()
	})

	It("creates one table per form keyed by record id", func() {
		Expect(exporters.NewDatabase(conn, "run-1").Write(ctx, sampleExport("s-1", "s-2"))).To(Succeed())

		Expect(testhelpers.CountRows(conn, "form_form_1")).To(Equal(int64(2)))
		Expect(testhelpers.CountRows(conn, "form_form_psi")).To(Equal(int64(0)))
		Expect(testhelpers.CountRows(conn, normalize.QuickReportsTableID)).To(Equal(int64(1)))

		var row struct {
			RecordID string
			RunID    string
			QQNum    int64  `gorm:"column:q_q_num"`
			QQMulti  string `gorm:"column:q_q_multi"`
		}
		Expect(conn.Raw(`SELECT record_id, run_id, q_q_num, q_q_multi FROM form_form_1 WHERE record_id = ?`, "s-1").Scan(&row).Error).To(Succeed())
		Expect(row.RecordID).To(Equal("s-1"))
		Expect(row.RunID).To(Equal("run-1"))
		Expect(row.QQNum).To(Equal(int64(42)))
		Expect(row.QQMulti).To(Equal("Queue, Noise"))
	})

	It("upserts on rerun instead of duplicating rows", func() {
		Expect(exporters.NewDatabase(conn, "run-1").Write(ctx, sampleExport("s-1", "s-2"))).To(Succeed())
		Expect(exporters.NewDatabase(conn, "run-2").Write(ctx, sampleExport("s-1", "s-2", "s-3"))).To(Succeed())

		Expect(testhelpers.CountRows(conn, "form_form_1")).To(Equal(int64(3)))

		var runIDs []string
		Expect(conn.Raw(`SELECT DISTINCT run_id FROM form_form_1`).Scan(&runIDs).Error).To(Succeed())
		Expect(runIDs).To(ConsistOf("run-2"))
	})

	It("adds columns that appear in a later run and clears stale values", func() {
		Expect(exporters.NewDatabase(conn, "run-1").Write(ctx, sampleExport("s-1"))).To(Succeed())

		export := sampleExport("s-1")
		table := export.Tables[1]
		rec := table.Records[0]
		rec.Values["q_q_text"] = nil
		rec.Columns = append(rec.Columns, normalize.Column{Key: "x_late_field", Header: "lateField"})
		rec.Values["x_late_field"] = "late"
		table.Columns = append(table.Columns, normalize.Column{Key: "x_late_field", Header: "lateField"})
		table.Records[0] = rec

		Expect(exporters.NewDatabase(conn, "run-2").Write(ctx, export)).To(Succeed())

		var row struct {
			QQText     *string `gorm:"column:q_q_text"`
			XLateField string  `gorm:"column:x_late_field"`
		}
		Expect(conn.Raw(`SELECT q_q_text, x_late_field FROM form_form_1 WHERE record_id = ?`, "s-1").Scan(&row).Error).To(Succeed())
		Expect(row.QQText).To(BeNil())
		Expect(row.XLateField).To(Equal("late"))
	})

	It("records attachment metadata once per attachment id", func() {
		Expect(exporters.NewDatabase(conn, "run-1").Write(ctx, sampleExport("s-1", "s-2"))).To(Succeed())
		Expect(exporters.NewDatabase(conn, "run-2").Write(ctx, sampleExport("s-1", "s-2"))).To(Succeed())

		atts, err := gorm.G[models.Attachment](conn).Order("attachment_id").Find(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(atts).To(HaveLen(2))
		Expect(atts[0].AttachmentID).To(Equal("att-s-1"))
		Expect(atts[0].RecordID).To(Equal("s-1"))
		Expect(atts[0].LocalName).To(Equal("att-s-1.jpg"))
		Expect(atts[0].LastRunID).To(Equal("run-2"))
	})

	It("leaves earlier tables untouched when a later table fails", func() {
		Expect(exporters.NewDatabase(conn, "run-1").Write(ctx, sampleExport("s-1", "s-2"))).To(Succeed())

		// Without a primary key the quick report upsert is rejected.
		Expect(conn.Exec(`DROP TABLE quick_reports`).Error).To(Succeed())
		Expect(conn.Exec(`CREATE TABLE quick_reports (record_id TEXT, run_id TEXT, record_kind TEXT)`).Error).To(Succeed())

		err := exporters.NewDatabase(conn, "run-2").Write(ctx, sampleExport("s-1", "s-2", "s-3"))
		Expect(err).To(HaveOccurred())

		Expect(testhelpers.CountRows(conn, "form_form_1")).To(Equal(int64(2)))
		var runIDs []string
		Expect(conn.Raw(`SELECT DISTINCT run_id FROM form_form_1`).Scan(&runIDs).Error).To(Succeed())
		Expect(runIDs).To(ConsistOf("run-1"))

		atts, err := gorm.G[models.Attachment](conn).Find(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(atts).To(HaveLen(2))
		for _, a := range atts {
			Expect(a.LastRunID).To(Equal("run-1"))
		}
	})

	It("writes nothing when the context is already cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		Expect(exporters.NewDatabase(conn, "run-1").Write(cancelled, sampleExport("s-1"))).NotTo(Succeed())
		Expect(conn.Migrator().HasTable("form_form_1")).To(BeFalse())
	})
})
