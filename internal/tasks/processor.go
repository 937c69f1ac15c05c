package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"votexport/internal/config"
	"votexport/internal/pkg/voteapi"
	"votexport/internal/runlock"
	"votexport/internal/runner"

	"github.com/hibiken/asynq"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gorm.io/gorm"
)

var logger = loggo.GetLogger("votexport.tasks")

// TaskProcessor holds dependencies for our task handlers
type TaskProcessor struct {
	DB        *gorm.DB
	config    *config.Config
	apiClient *voteapi.Client
	options   []runner.Option
}

// NewTaskProcessor creates a new TaskProcessor
func NewTaskProcessor(db *gorm.DB, cfg *config.Config, opts ...runner.Option) (*TaskProcessor, error) {
	client, err := voteapi.New(cfg.BaseAPIURL,
		voteapi.WithTimeout(cfg.HTTPTimeout),
		voteapi.WithDataSource(cfg.DataSource),
	)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &TaskProcessor{
		DB:        db,
		config:    cfg,
		apiClient: client,
		options:   opts,
	}, nil
}

func (p *TaskProcessor) HandleExportElectionTask(ctx context.Context, t *asynq.Task) error {
	var payload ExportElectionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", asynq.SkipRetry)
	}

	if payload.ElectionID != "" && payload.ElectionID != p.config.ElectionID {
		return fmt.Errorf("task for election %s, worker exports %s: %w", payload.ElectionID, p.config.ElectionID, asynq.SkipRetry)
	}

	logger.Infof("exporting election %s", p.config.ElectionID)

	summary, err := runner.New(p.apiClient, p.DB, p.config, p.options...).Run(ctx)
	if errors.Is(err, runlock.ErrTimeout) {
		// The next scheduled tick starts a fresh run.
		logger.Warningf("previous export still running: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return errors.Trace(err)
	}

	logger.Infof("%s", summary)
	return nil
}

func (p *TaskProcessor) GetAPIClient() *voteapi.Client {
	return p.apiClient
}
