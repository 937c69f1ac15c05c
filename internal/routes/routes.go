package routes

import (
	"votexport/internal/config"
	"votexport/internal/controllers"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter initializes the controllers and the read-only status routes
func SetupRouter(db *gorm.DB, cfg *config.Config) *gin.Engine {
	runController := controllers.RunController{DB: db}

	// Set up Gin router
	router := gin.Default()

	// Simple health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "UP", "election_id": cfg.ElectionID})
	})

	// Group API routes under /api/v1
	api := router.Group("/api/v1")
	{
		runs := api.Group("/runs")
		{
			// GET /api/v1/runs?limit=N
			runs.GET("", runController.GetRuns)
			// GET /api/v1/runs/:run_id
			runs.GET("/:run_id", runController.GetRun)
		}

		// GET /api/v1/attachments?record_id=...
		api.GET("/attachments", runController.GetAttachments)
	}

	return router
}
