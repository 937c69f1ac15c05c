package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeTaskExportElection = "task:export_election"
)

// ExportElectionPayload names the election a scheduled run exports. It must
// match the configured election, since outputs are per election.
type ExportElectionPayload struct {
	ElectionID string `json:"election_id"`
}

// NewExportElectionTask creates a new task for asynq
func NewExportElectionTask(electionID string) (*asynq.Task, error) {
	payload := ExportElectionPayload{
		ElectionID: electionID,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TypeTaskExportElection, payloadBytes), nil
}
