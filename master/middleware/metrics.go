package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"

	"github.com/sorrycc/elasticdl/master"
	"github.com/sorrycc/elasticdl/pkg/model"
	"github.com/sorrycc/elasticdl/pkg/tensor"
)

var _ master.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     master.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc master.Service) master.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) GetTask(ctx context.Context, workerID string) (master.TaskAssignment, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-task").Add(1)
		mm.latency.With("method", "get-task").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetTask(ctx, workerID)
}

func (mm *metricsMiddleware) GetModel(ctx context.Context, version int64, mode master.ReadMode) (model.Snapshot, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-model").Add(1)
		mm.latency.With("method", "get-model").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetModel(ctx, version, mode)
}

func (mm *metricsMiddleware) ReportVariable(ctx context.Context, variables map[string]tensor.Tensor) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "report-variable").Add(1)
		mm.latency.With("method", "report-variable").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ReportVariable(ctx, variables)
}

func (mm *metricsMiddleware) ReportGradient(ctx context.Context, version int64, gradients map[string]tensor.Gradient) (master.GradientAck, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "report-gradient").Add(1)
		mm.latency.With("method", "report-gradient").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ReportGradient(ctx, version, gradients)
}

func (mm *metricsMiddleware) ReportTaskResult(ctx context.Context, taskID, errMessage string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "report-task-result").Add(1)
		mm.latency.With("method", "report-task-result").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ReportTaskResult(ctx, taskID, errMessage)
}

func (mm *metricsMiddleware) ReportEvaluationMetrics(ctx context.Context, version int64, metrics map[string]float64) (master.GradientAck, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "report-evaluation-metrics").Add(1)
		mm.latency.With("method", "report-evaluation-metrics").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ReportEvaluationMetrics(ctx, version, metrics)
}

func (mm *metricsMiddleware) RecoverWorker(ctx context.Context, workerID string) (int, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "recover-worker").Add(1)
		mm.latency.With("method", "recover-worker").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RecoverWorker(ctx, workerID)
}

func (mm *metricsMiddleware) SaveLatestCheckpoint(ctx context.Context, outputPath string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "save-latest-checkpoint").Add(1)
		mm.latency.With("method", "save-latest-checkpoint").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.SaveLatestCheckpoint(ctx, outputPath)
}
