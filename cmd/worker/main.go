package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"votexport/internal/config"
	"votexport/internal/db"
	"votexport/internal/exporters"
	"votexport/internal/runner"
	"votexport/internal/tasks"

	"github.com/hibiken/asynq"
	"github.com/juju/loggo/v2"
	"google.golang.org/api/option"
)

var logger = loggo.GetLogger("votexport.worker")

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fatalf("Failed to load configuration: %v", err)
	}
	if err := config.ConfigureLogging(); err != nil {
		fatalf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalf("Invalid configuration: %v", err)
	}

	db, err := db.InitDB(cfg.DBFile)
	if err != nil {
		fatalf("Failed to open database: %v", err)
	}
	logger.Infof("Worker opened database %s", cfg.DBFile)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		fatalf("Failed to parse Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	exportTask, err := tasks.NewExportElectionTask(cfg.ElectionID)
	if err != nil {
		fatalf("Failed to create export task: %v", err)
	}

	// every 15 minutes; a run still holding the lock makes the tick a no-op
	entryID, err := scheduler.Register("*/15 * * * *", exportTask, asynq.Queue("default"), asynq.MaxRetry(2))
	if err != nil {
		fatalf("Failed to register periodic task: %v", err)
	}
	logger.Infof("Registered periodic task: %s (EntryID: %s)", exportTask.Type(), entryID)

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Queues: map[string]int{
				"default": 1,
			},
			// Runs against one database are serialized by the run lock anyway.
			Concurrency: 1,
		},
	)

	var opts []runner.Option
	if cfg.GoogleSheetsEnabled() {
		sheets, err := exporters.NewGoogleSheets(context.Background(), cfg.GoogleSheet, option.WithCredentialsFile(cfg.GoogleCreds))
		if err != nil {
			fatalf("Failed to set up Google Sheets: %v", err)
		}
		opts = append(opts, runner.WithExporters(sheets))
	}

	taskProcessor, err := tasks.NewTaskProcessor(db, cfg, opts...)
	if err != nil {
		fatalf("Failed to create task processor: %v", err)
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(
		tasks.TypeTaskExportElection,
		taskProcessor.HandleExportElectionTask,
	)

	go func() {
		logger.Infof("Starting Asynq scheduler...")
		if err := scheduler.Run(); err != nil {
			fatalf("Could not run Asynq scheduler: %v", err)
		}
	}()

	go func() {
		logger.Infof("Starting Asynq worker server...")
		if err := srv.Run(mux); err != nil {
			fatalf("Could not run Asynq worker server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit

	logger.Infof("Shutdown signal received, shutting down gracefully...")

	scheduler.Shutdown()
	logger.Infof("Asynq scheduler shut down.")

	srv.Shutdown()
	logger.Infof("Asynq worker server shut down.")

	logger.Infof("Worker process shut down complete.")
}

func fatalf(format string, args ...interface{}) {
	logger.Criticalf(format, args...)
	os.Exit(1)
}
