package task

import (
	"time"
)

type Type string

const (
	Training   Type = "training"
	Evaluation Type = "evaluation"
	// Wait tells a worker that no task is ready yet but work remains.
	Wait Type = "wait"
)

// Task is one shard of work handed to a worker: a half-open record
// range [Start, End) of a data file. Evaluation tasks pin the model
// version they were created at.
type Task struct {
	ID           string    `json:"id"`
	FileName     string    `json:"file_name"`
	Start        int64     `json:"start"`
	End          int64     `json:"end"`
	Type         Type      `json:"type"`
	ModelVersion int64     `json:"model_version,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Shard splits a data file of numRecords records into training tasks
// of at most recordsPerTask records each.
func Shard(fileName string, numRecords, recordsPerTask int64) []Task {
	if fileName == "" || numRecords <= 0 || recordsPerTask <= 0 {
		return nil
	}

	var tasks []Task
	for start := int64(0); start < numRecords; start += recordsPerTask {
		end := start + recordsPerTask
		if end > numRecords {
			end = numRecords
		}
		tasks = append(tasks, Task{
			FileName: fileName,
			Start:    start,
			End:      end,
			Type:     Training,
		})
	}

	return tasks
}
