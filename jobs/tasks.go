package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCourierImport imports an uploaded courier rate file.
	TaskCourierImport = "courier:import"
	// TaskStockAudit replays the movement log against stored stock.
	TaskStockAudit = "stock:audit"
)

// CourierImportPayload points the worker at an uploaded file.
type CourierImportPayload struct {
	JobID string `json:"job_id"`
	Path  string `json:"path"`
}

// NewCourierImportTask constructs an Asynq task for a courier rate import.
// Retries are disabled because the source file is consumed by the first run.
func NewCourierImportTask(payload CourierImportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCourierImport, data, asynq.Queue(QueueDefault), asynq.MaxRetry(0), asynq.TaskID(payload.JobID)), nil
}

// StockAuditPayload selects whether drift is corrected.
type StockAuditPayload struct {
	Fix bool `json:"fix"`
}

// NewStockAuditTask constructs an Asynq task for the stock integrity audit.
func NewStockAuditTask(payload StockAuditPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockAudit, data, asynq.Queue(QueueDefault)), nil
}
