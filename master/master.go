package master

import (
	"context"

	"github.com/sorrycc/elasticdl/pkg/model"
	"github.com/sorrycc/elasticdl/pkg/task"
	"github.com/sorrycc/elasticdl/pkg/tensor"
)

// ReadMode selects how GetModel resolves a requested version.
type ReadMode string

const (
	// ReadExact returns the model at exactly the requested version,
	// reading a checkpoint when the version is historical.
	ReadExact ReadMode = "exact"
	// ReadMinimum returns the live model as long as it is at least
	// the requested version.
	ReadMinimum ReadMode = "minimum"
)

// TaskAssignment is the response to a worker's task request. The task
// type is Wait when nothing is ready but work remains.
type TaskAssignment struct {
	Task          task.Task `json:"task"`
	ModelVersion  int64     `json:"model_version"`
	MinibatchSize int       `json:"minibatch_size"`
}

// GradientAck tells a worker whether its report was accepted and what
// the current model version is, so rejected workers can recompute
// against the latest model.
type GradientAck struct {
	Accepted bool  `json:"accepted"`
	Version  int64 `json:"model_version"`
}

type Service interface {
	// GetTask hands the next shard task to a worker, stamped with the
	// model version the worker should train against.
	GetTask(ctx context.Context, workerID string) (TaskAssignment, error)

	// GetModel returns a model snapshot for the requested version.
	GetModel(ctx context.Context, version int64, mode ReadMode) (model.Snapshot, error)

	// ReportVariable initializes the model from the first worker's
	// variable values when no other initialization source was given.
	ReportVariable(ctx context.Context, variables map[string]tensor.Tensor) error

	// ReportGradient validates and accumulates one worker's gradients
	// and applies a model update when quorum is reached.
	ReportGradient(ctx context.Context, version int64, gradients map[string]tensor.Gradient) (GradientAck, error)

	// ReportTaskResult forwards a worker's task completion or failure
	// to the task queue.
	ReportTaskResult(ctx context.Context, taskID, errMessage string) error

	// ReportEvaluationMetrics forwards evaluation results to the
	// evaluation collaborator.
	ReportEvaluationMetrics(ctx context.Context, version int64, metrics map[string]float64) (GradientAck, error)

	// RecoverWorker returns a lost worker's in-flight tasks to the
	// queue and reports how many were recovered.
	RecoverWorker(ctx context.Context, workerID string) (int, error)

	// SaveLatestCheckpoint saves the current model and exports the
	// latest checkpoint file to outputPath.
	SaveLatestCheckpoint(ctx context.Context, outputPath string) error
}
