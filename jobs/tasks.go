package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueImages isolates image processing from scheduled maintenance.
	QueueImages = "images"

	// TaskImageDerivative builds the display derivative of one original image.
	TaskImageDerivative = "images:derivative"
	// TaskImagesRegenerate rebuilds the derivative of every original image.
	TaskImagesRegenerate = "images:regenerate"
	// TaskReportGenerate produces the activity report for the previous UTC day.
	TaskReportGenerate = "reports:generate"
	// TaskIdempotencyCleanup prunes expired webhook idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ImageDerivativePayload names the original object to process.
type ImageDerivativePayload struct {
	Name string `json:"name"`
}

// IdempotencyCleanupPayload configures the retention of idempotency keys.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

const defaultRetentionHours = 72

// NewImageDerivativeTask creates a derivative task for the named original.
func NewImageDerivativeTask(name string) (*asynq.Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("jobs: image name required")
	}
	body, err := json.Marshal(ImageDerivativePayload{Name: name})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImageDerivative, body, asynq.Queue(QueueImages), asynq.MaxRetry(5)), nil
}

// NewImagesRegenerateTask creates a bulk regeneration task.
func NewImagesRegenerateTask() *asynq.Task {
	return asynq.NewTask(TaskImagesRegenerate, nil, asynq.Queue(QueueImages), asynq.MaxRetry(1))
}

// NewReportGenerateTask creates the daily report task.
func NewReportGenerateTask() *asynq.Task {
	return asynq.NewTask(TaskReportGenerate, nil, asynq.Queue(QueueDefault))
}

// NewIdempotencyCleanupTask creates a cleanup task keeping keys younger than
// retentionHours. Non-positive values fall back to three days.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	if retentionHours <= 0 {
		retentionHours = defaultRetentionHours
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
