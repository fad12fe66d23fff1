package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVerifyAll runs the reconciliation batch over every eligible romaneio.
	TaskVerifyAll = "romaneio:verify_all"
	// TaskVerifyOne verifies a single romaneio on demand.
	TaskVerifyOne = "romaneio:verify_one"
)

// VerifyAllPayload carries scheduling metadata.
type VerifyAllPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// VerifyOnePayload identifies the romaneio to verify.
type VerifyOnePayload struct {
	RomaneioID  int64 `json:"romaneio_id"`
	RequestedBy int64 `json:"requested_by,omitempty"`
}

// NewVerifyAllTask constructs the batch task. Overlapping batches are
// prevented by the per-record locks, so unique scheduling is not required.
func NewVerifyAllTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(VerifyAllPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVerifyAll, body, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}

// NewVerifyOneTask constructs a single-record task.
func NewVerifyOneTask(payload VerifyOnePayload) (*asynq.Task, error) {
	if payload.RomaneioID <= 0 {
		return nil, errors.New("jobs: romaneio id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVerifyOne, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
