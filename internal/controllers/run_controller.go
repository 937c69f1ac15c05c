package controllers

import (
	"net/http"
	"strconv"
	"votexport/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gorm.io/gorm"
)

var logger = loggo.GetLogger("votexport.controllers")

const maxLimit = 500

type RunController struct {
	DB *gorm.DB
}

// GetRuns returns the latest export runs, newest first
func (rc *RunController) GetRuns(c *gin.Context) {
	ctx := c.Request.Context()
	limit := getLimitWithDefault(c, 20)

	runs, err := gorm.G[models.ExportRun](rc.DB).Order("started_at DESC, id DESC").Limit(limit).Find(ctx)
	if err != nil {
		logger.Errorf("failed to get runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs": runs,
	})
}

// GetRun returns one export run by its run id
func (rc *RunController) GetRun(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("run_id")

	run, err := gorm.G[models.ExportRun](rc.DB).Where("run_id = ?", runID).First(ctx)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
			return
		}

		logger.Errorf("failed to get run %s: %v", runID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run": run,
	})
}

// GetAttachments lists attachment metadata, optionally for one record
func (rc *RunController) GetAttachments(c *gin.Context) {
	ctx := c.Request.Context()
	limit := getLimitWithDefault(c, 100)

	query := gorm.G[models.Attachment](rc.DB).Order("attachment_id").Limit(limit)
	if recordID := c.Query("record_id"); recordID != "" {
		query = query.Where("record_id = ?", recordID)
	}

	attachments, err := query.Find(ctx)
	if err != nil {
		logger.Errorf("failed to get attachments: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attachments": attachments,
	})
}

func getLimitWithDefault(c *gin.Context, defaultValue int) int {
	var err error
	limit := defaultValue
	if c.Query("limit") != "" {
		limit, err = strconv.Atoi(c.Query("limit"))
		if err != nil || limit < 1 {
			logger.Warningf("invalid limit %q, using default value: %d", c.Query("limit"), defaultValue)
			return defaultValue
		}
	}
	return min(limit, maxLimit)
}
