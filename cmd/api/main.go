package main

import (
	"os"
	"votexport/internal/config"
	"votexport/internal/db"
	"votexport/internal/routes"

	_ "github.com/joho/godotenv/autoload"
	"github.com/juju/loggo/v2"
	"gorm.io/gorm/logger"
)

var log = loggo.GetLogger("votexport.api")

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Criticalf("Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := config.ConfigureLogging(); err != nil {
		log.Criticalf("%v", err)
		os.Exit(1)
	}

	db, err := db.InitDB(cfg.DBFile, logger.Info)
	if err != nil {
		log.Criticalf("Failed to open database: %v", err)
		os.Exit(1)
	}

	router := routes.SetupRouter(db, cfg)

	log.Infof("Starting server on %s", cfg.APIAddr)
	if err := router.Run(cfg.APIAddr); err != nil {
		log.Criticalf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
