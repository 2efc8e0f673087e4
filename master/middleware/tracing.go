package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sorrycc/elasticdl/master"
	"github.com/sorrycc/elasticdl/pkg/model"
	"github.com/sorrycc/elasticdl/pkg/tensor"
)

var _ master.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    master.Service
}

func Tracing(tracer trace.Tracer, svc master.Service) master.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) GetTask(ctx context.Context, workerID string) (master.TaskAssignment, error) {
	ctx, span := tm.tracer.Start(ctx, "get-task", trace.WithAttributes(
		attribute.String("worker_id", workerID),
	))
	defer span.End()

	return tm.svc.GetTask(ctx, workerID)
}

func (tm *tracing) GetModel(ctx context.Context, version int64, mode master.ReadMode) (model.Snapshot, error) {
	ctx, span := tm.tracer.Start(ctx, "get-model", trace.WithAttributes(
		attribute.Int64("version", version),
		attribute.String("mode", string(mode)),
	))
	defer span.End()

	return tm.svc.GetModel(ctx, version, mode)
}

func (tm *tracing) ReportVariable(ctx context.Context, variables map[string]tensor.Tensor) error {
	ctx, span := tm.tracer.Start(ctx, "report-variable", trace.WithAttributes(
		attribute.Int("variables", len(variables)),
	))
	defer span.End()

	return tm.svc.ReportVariable(ctx, variables)
}

func (tm *tracing) ReportGradient(ctx context.Context, version int64, gradients map[string]tensor.Gradient) (master.GradientAck, error) {
	ctx, span := tm.tracer.Start(ctx, "report-gradient", trace.WithAttributes(
		attribute.Int64("version", version),
		attribute.Int("gradients", len(gradients)),
	))
	defer span.End()

	return tm.svc.ReportGradient(ctx, version, gradients)
}

func (tm *tracing) ReportTaskResult(ctx context.Context, taskID, errMessage string) error {
	ctx, span := tm.tracer.Start(ctx, "report-task-result", trace.WithAttributes(
		attribute.String("task_id", taskID),
	))
	defer span.End()

	return tm.svc.ReportTaskResult(ctx, taskID, errMessage)
}

func (tm *tracing) ReportEvaluationMetrics(ctx context.Context, version int64, metrics map[string]float64) (master.GradientAck, error) {
	ctx, span := tm.tracer.Start(ctx, "report-evaluation-metrics", trace.WithAttributes(
		attribute.Int64("version", version),
	))
	defer span.End()

	return tm.svc.ReportEvaluationMetrics(ctx, version, metrics)
}

func (tm *tracing) RecoverWorker(ctx context.Context, workerID string) (int, error) {
	ctx, span := tm.tracer.Start(ctx, "recover-worker", trace.WithAttributes(
		attribute.String("worker_id", workerID),
	))
	defer span.End()

	return tm.svc.RecoverWorker(ctx, workerID)
}

func (tm *tracing) SaveLatestCheckpoint(ctx context.Context, outputPath string) error {
	ctx, span := tm.tracer.Start(ctx, "save-latest-checkpoint", trace.WithAttributes(
		attribute.String("output_path", outputPath),
	))
	defer span.End()

	return tm.svc.SaveLatestCheckpoint(ctx, outputPath)
}
