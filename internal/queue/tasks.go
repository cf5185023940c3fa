package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessBatch = "batch:process"

// ProcessBatchPayload carries everything the worker needs to run a job. The
// item list itself stays in the job record; the payload only pins which job
// and the options snapshot taken at enqueue time.
type ProcessBatchPayload struct {
	JobID       string                   `json:"job_id"`
	Options     domain.ProcessingOptions `json:"options"`
	RequestedAt time.Time                `json:"requested_at"`
}

func NewProcessBatchTask(payload ProcessBatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal batch payload: %w", err)
	}
	return asynq.NewTask(TypeProcessBatch, body), nil
}

func ParseProcessBatchPayload(task *asynq.Task) (ProcessBatchPayload, error) {
	var payload ProcessBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessBatchPayload{}, fmt.Errorf("unmarshal batch payload: %w", err)
	}
	return payload, nil
}
