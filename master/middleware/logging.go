package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/sorrycc/elasticdl/master"
	"github.com/sorrycc/elasticdl/pkg/model"
	"github.com/sorrycc/elasticdl/pkg/tensor"
)

var _ master.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    master.Service
}

func Logging(logger *slog.Logger, svc master.Service) master.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) GetTask(ctx context.Context, workerID string) (resp master.TaskAssignment, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("worker_id", workerID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get task failed", args...)

			return
		}
		args = append(args, slog.Group("task",
			slog.String("id", resp.Task.ID),
			slog.String("type", string(resp.Task.Type)),
			slog.Int64("model_version", resp.ModelVersion),
		))
		lm.logger.Info("Get task completed successfully", args...)
	}(time.Now())

	return lm.svc.GetTask(ctx, workerID)
}

func (lm *loggingMiddleware) GetModel(ctx context.Context, version int64, mode master.ReadMode) (resp model.Snapshot, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int64("version", version),
			slog.String("mode", string(mode)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get model failed", args...)

			return
		}
		lm.logger.Info("Get model completed successfully", args...)
	}(time.Now())

	return lm.svc.GetModel(ctx, version, mode)
}

func (lm *loggingMiddleware) ReportVariable(ctx context.Context, variables map[string]tensor.Tensor) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("variables", len(variables)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Report variable failed", args...)

			return
		}
		lm.logger.Info("Report variable completed successfully", args...)
	}(time.Now())

	return lm.svc.ReportVariable(ctx, variables)
}

func (lm *loggingMiddleware) ReportGradient(ctx context.Context, version int64, gradients map[string]tensor.Gradient) (resp master.GradientAck, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int64("version", version),
			slog.Int("gradients", len(gradients)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Report gradient failed", args...)

			return
		}
		args = append(args,
			slog.Bool("accepted", resp.Accepted),
			slog.Int64("model_version", resp.Version),
		)
		lm.logger.Info("Report gradient completed successfully", args...)
	}(time.Now())

	return lm.svc.ReportGradient(ctx, version, gradients)
}

func (lm *loggingMiddleware) ReportTaskResult(ctx context.Context, taskID, errMessage string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("task_id", taskID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Report task result failed", args...)

			return
		}
		lm.logger.Info("Report task result completed successfully", args...)
	}(time.Now())

	return lm.svc.ReportTaskResult(ctx, taskID, errMessage)
}

func (lm *loggingMiddleware) ReportEvaluationMetrics(ctx context.Context, version int64, metrics map[string]float64) (resp master.GradientAck, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int64("version", version),
			slog.Int("metrics", len(metrics)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Report evaluation metrics failed", args...)

			return
		}
		lm.logger.Info("Report evaluation metrics completed successfully", args...)
	}(time.Now())

	return lm.svc.ReportEvaluationMetrics(ctx, version, metrics)
}

func (lm *loggingMiddleware) RecoverWorker(ctx context.Context, workerID string) (recovered int, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("worker_id", workerID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Recover worker failed", args...)

			return
		}
		args = append(args, slog.Int("recovered", recovered))
		lm.logger.Info("Recover worker completed successfully", args...)
	}(time.Now())

	return lm.svc.RecoverWorker(ctx, workerID)
}

func (lm *loggingMiddleware) SaveLatestCheckpoint(ctx context.Context, outputPath string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("output_path", outputPath),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Save latest checkpoint failed", args...)

			return
		}
		lm.logger.Info("Save latest checkpoint completed successfully", args...)
	}(time.Now())

	return lm.svc.SaveLatestCheckpoint(ctx, outputPath)
}
