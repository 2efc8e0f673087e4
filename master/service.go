package master

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sorrycc/elasticdl/pkg/checkpoint"
	"github.com/sorrycc/elasticdl/pkg/embedding"
	"github.com/sorrycc/elasticdl/pkg/errors"
	"github.com/sorrycc/elasticdl/pkg/evaluation"
	"github.com/sorrycc/elasticdl/pkg/model"
	"github.com/sorrycc/elasticdl/pkg/optimizer"
	"github.com/sorrycc/elasticdl/pkg/task"
	"github.com/sorrycc/elasticdl/pkg/tensor"
)

type service struct {
	// mu guards the model and the accumulator. Accumulation, the
	// quorum check, and the whole update cycle (optimizer call and
	// embedding round trips included) run under it, so every reporter
	// and reader observes version and variables together.
	mu  sync.Mutex
	mdl *model.Model
	acc *accumulator

	opt         optimizer.Optimizer
	tasks       *task.Queue
	checkpoints *checkpoint.Store
	evaluations evaluation.Service
	embeddings  embedding.Gateway

	gradsToWait   int
	minibatchSize int
	logger        *slog.Logger
}

func NewService(mdl *model.Model, opt optimizer.Optimizer, tasks *task.Queue, checkpoints *checkpoint.Store, evaluations evaluation.Service, embeddings embedding.Gateway, gradsToWait, minibatchSize int, logger *slog.Logger) Service {
	if !mdl.Initialized() {
		logger.Info("Model is not initialized. It will be initialized by the first update from the worker")
	}
	if gradsToWait < 1 {
		logger.Warn("Gradients-to-wait must be positive, using 1", slog.Int("grads_to_wait", gradsToWait))
		gradsToWait = 1
	}

	return &service{
		mdl:           mdl,
		acc:           newAccumulator(),
		opt:           opt,
		tasks:         tasks,
		checkpoints:   checkpoints,
		evaluations:   evaluations,
		embeddings:    embeddings,
		gradsToWait:   gradsToWait,
		minibatchSize: minibatchSize,
		logger:        logger,
	}
}

func (svc *service) GetTask(_ context.Context, workerID string) (TaskAssignment, error) {
	svc.mu.Lock()
	version := svc.mdl.Version()
	svc.mu.Unlock()

	res := TaskAssignment{
		ModelVersion:  version,
		MinibatchSize: svc.minibatchSize,
	}

	t, ok := svc.tasks.Get(workerID)
	switch {
	case ok:
		res.Task = t
		// Evaluation tasks run against the model version they were
		// scheduled at, not the latest one.
		if t.Type == task.Evaluation {
			res.ModelVersion = t.ModelVersion
		}
	case !svc.tasks.Finished():
		res.Task.Type = task.Wait
	}

	return res, nil
}

func (svc *service) GetModel(ctx context.Context, version int64, mode ReadMode) (model.Snapshot, error) {
	svc.mu.Lock()
	current := svc.mdl.Version()
	if version > current {
		svc.mu.Unlock()

		return model.Snapshot{}, fmt.Errorf("%w: requested version %d, current version %d",
			errors.ErrVersionNotAvailable, version, current)
	}
	if mode == ReadMinimum || version == current {
		snap := svc.mdl.Snapshot()
		svc.mu.Unlock()

		return snap, nil
	}
	svc.mu.Unlock()

	snap, err := svc.checkpoints.Load(version)
	if err != nil {
		// Missing checkpoints surface as an empty zero-version
		// snapshot; callers treat that as "unavailable".
		svc.logger.ErrorContext(ctx, "Failed to fetch checkpoint model",
			slog.Int64("version", version), slog.Any("error", err))

		return model.Snapshot{}, nil
	}

	return snap, nil
}

func (svc *service) ReportVariable(_ context.Context, variables map[string]tensor.Tensor) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	// First writer wins: later reports against an initialized model
	// are acknowledged without touching it.
	if svc.mdl.Initialized() {
		return nil
	}
	for name, v := range variables {
		svc.mdl.SetVariable(name, &v)
	}

	return nil
}

func (svc *service) ReportGradient(ctx context.Context, version int64, gradients map[string]tensor.Gradient) (GradientAck, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	current := svc.mdl.Version()
	if version > current {
		return GradientAck{}, fmt.Errorf("%w: requested version %d, current version %d",
			errors.ErrVersionNotAvailable, version, current)
	}
	if version < current {
		return GradientAck{Accepted: false, Version: current}, nil
	}

	// Validate the whole report before accumulating anything, so a
	// rejected report leaves all buckets untouched.
	buckets, err := svc.classify(gradients)
	if err != nil {
		return GradientAck{}, err
	}
	if err := svc.acc.merge(buckets); err != nil {
		return GradientAck{}, err
	}

	svc.acc.count++
	if svc.acc.count >= svc.gradsToWait {
		if err := svc.updateModel(ctx); err != nil {
			// The accumulator is intact here: the next report that
			// reaches quorum retries with the same merged gradients.
			return GradientAck{}, err
		}
		svc.scheduleEvaluation()
		svc.maybeCheckpoint(ctx)
	}

	return GradientAck{Accepted: true, Version: svc.mdl.Version()}, nil
}

func (svc *service) ReportTaskResult(ctx context.Context, taskID, errMessage string) error {
	if errMessage != "" {
		svc.logger.WarnContext(ctx, "Worker reported task error",
			slog.String("task_id", taskID), slog.String("error", errMessage))

		return svc.tasks.Report(taskID, false)
	}

	return svc.tasks.Report(taskID, true)
}

func (svc *service) ReportEvaluationMetrics(ctx context.Context, version int64, metrics map[string]float64) (GradientAck, error) {
	svc.mu.Lock()
	current := svc.mdl.Version()
	svc.mu.Unlock()

	accepted := false
	if svc.evaluations != nil {
		accepted = svc.evaluations.ReportMetrics(version, metrics)
	}
	if accepted {
		svc.logger.InfoContext(ctx, "Evaluation metrics recorded",
			slog.Int64("version", version), slog.Any("metrics", svc.evaluations.Metrics(version)))
	}

	return GradientAck{Accepted: accepted, Version: current}, nil
}

func (svc *service) RecoverWorker(ctx context.Context, workerID string) (int, error) {
	recovered := svc.tasks.RecoverWorker(workerID)
	if recovered > 0 {
		svc.logger.InfoContext(ctx, "Recovered tasks from lost worker",
			slog.String("worker_id", workerID), slog.Int("recovered", recovered))
	}

	return recovered, nil
}

func (svc *service) SaveLatestCheckpoint(_ context.Context, outputPath string) error {
	if svc.checkpoints == nil {
		return fmt.Errorf("%w: checkpoint store not configured", errors.ErrNotFound)
	}

	svc.mu.Lock()
	snap := svc.mdl.Snapshot()
	svc.mu.Unlock()

	if err := svc.checkpoints.Save(snap); err != nil {
		return err
	}

	return svc.checkpoints.ExportLatest(outputPath)
}

// classify splits a report into the three buckets, validating every
// entry against the model. The first invalid entry rejects the whole
// report.
func (svc *service) classify(gradients map[string]tensor.Gradient) (classified, error) {
	c := newClassified()
	for key, grad := range gradients {
		variable, ok := svc.mdl.Variable(key)
		if !ok {
			if grad.IsIndexed() {
				if err := tensor.ValidateExternal(key, grad.Indexed); err != nil {
					return classified{}, err
				}
				// The bucket fixes the layer's row width for the cycle:
				// a report disagreeing with it cannot be summed.
				if prev, ok := svc.acc.external[key]; ok && len(prev.Rows) > 0 &&
					len(prev.Rows[0]) != len(grad.Indexed.Rows[0]) {
					return classified{}, fmt.Errorf("%w: gradient key %s has row width %d, accumulated width %d",
						errors.ErrShapeMismatch, key, len(grad.Indexed.Rows[0]), len(prev.Rows[0]))
				}
				c.external[key] = grad.Indexed

				continue
			}

			return classified{}, fmt.Errorf("%w: %s", errors.ErrUnknownVariable, key)
		}
		if grad.IsIndexed() {
			if err := tensor.ValidateIndexed(key, grad.Indexed, variable); err != nil {
				return classified{}, err
			}
			c.indexed[key] = grad.Indexed

			continue
		}
		if grad.Dense == nil {
			return classified{}, fmt.Errorf("%w: gradient key %s carries no values", errors.ErrInvalidData, key)
		}
		if err := tensor.ValidateDense(key, grad.Dense, variable); err != nil {
			return classified{}, err
		}
		c.dense[key] = grad.Dense
	}

	return c, nil
}

// updateModel runs one update cycle with the lock held. On any error
// the accumulator and the contribution counter are left exactly as
// they were, so the cycle is retried at the next quorum.
func (svc *service) updateModel(ctx context.Context) error {
	pairs := make([]optimizer.Pair, 0, len(svc.acc.dense)+len(svc.acc.indexed)+len(svc.acc.external))

	for _, k := range sortedKeys(svc.acc.dense) {
		variable, ok := svc.mdl.Variable(k)
		if !ok {
			return fmt.Errorf("%w: %s", errors.ErrUnknownVariable, k)
		}
		// Average over exactly gradsToWait contributions, on a copy
		// so an aborted cycle keeps the raw sums.
		grad := svc.acc.dense[k].Clone()
		grad.Scale(1 / float64(svc.gradsToWait))
		pairs = append(pairs, optimizer.Pair{Gradient: tensor.DenseGradient(grad), Variable: variable})
	}

	for _, k := range sortedKeys(svc.acc.indexed) {
		variable, ok := svc.mdl.Variable(k)
		if !ok {
			return fmt.Errorf("%w: %s", errors.ErrUnknownVariable, k)
		}
		reduced := svc.acc.indexed[k].Reduce()
		pairs = append(pairs, optimizer.Pair{Gradient: tensor.IndexedGradient(&reduced), Variable: variable})
	}

	type externalUpdate struct {
		keys     []string
		variable *tensor.Tensor
	}
	var externals []externalUpdate
	for _, layer := range sortedKeys(svc.acc.external) {
		reduced := svc.acc.external[layer].Reduce()
		if len(reduced.Indices) == 0 {
			continue
		}
		if svc.embeddings == nil {
			return fmt.Errorf("%w: no embedding store configured for layer %s", errors.ErrNotFound, layer)
		}
		keys := make([]string, len(reduced.Indices))
		for i, id := range reduced.Indices {
			keys[i] = embedding.Key(layer, id)
		}
		rows, missing, err := svc.embeddings.Lookup(ctx, keys)
		if err != nil {
			return fmt.Errorf("embedding lookup failed for layer %s: %w", layer, err)
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %d keys, first %s", errors.ErrMissingEmbeddingKeys, len(missing), missing[0])
		}
		if len(rows) != len(keys) {
			return fmt.Errorf("%w: embedding layer %s returned %d rows for %d keys",
				errors.ErrInvalidData, layer, len(rows), len(keys))
		}
		width := len(reduced.Rows[0])
		for i, row := range rows {
			if len(row) != width {
				return fmt.Errorf("%w: embedding layer %s key %s has stored width %d, gradient width %d",
					errors.ErrShapeMismatch, layer, keys[i], len(row), width)
			}
		}
		// Build a fresh variable from the looked-up rows; the reduced
		// gradient is remapped to row positions within it.
		variable := tensor.FromRows(layer, rows)
		positions := make([]int64, len(reduced.Indices))
		for i := range positions {
			positions[i] = int64(i)
		}
		grad := tensor.IndexedSlices{Indices: positions, Rows: reduced.Rows}
		pairs = append(pairs, optimizer.Pair{Gradient: tensor.IndexedGradient(&grad), Variable: variable})
		externals = append(externals, externalUpdate{keys: keys, variable: variable})
	}

	if err := svc.opt.Apply(pairs); err != nil {
		return fmt.Errorf("optimizer failed to apply gradients: %w", err)
	}

	// Push updated embedding rows back, keyed exactly as at lookup.
	for _, e := range externals {
		rows := make([][]float64, len(e.keys))
		for i := range e.keys {
			rows[i] = e.variable.Row(int64(i))
		}
		if err := svc.embeddings.Upsert(ctx, e.keys, rows); err != nil {
			return fmt.Errorf("embedding update failed: %w", err)
		}
	}

	svc.mdl.BumpVersion()
	svc.acc.reset()

	return nil
}

func (svc *service) scheduleEvaluation() {
	if svc.evaluations == nil {
		return
	}
	svc.evaluations.AddTaskIfNeeded(svc.mdl.Version())
}

func (svc *service) maybeCheckpoint(ctx context.Context) {
	if svc.checkpoints == nil || !svc.checkpoints.NeedsCheckpoint(svc.mdl.Version()) {
		return
	}
	version := svc.mdl.Version()
	svc.logger.InfoContext(ctx, "Saving checkpoint", slog.Int64("version", version))
	if err := svc.checkpoints.Save(svc.mdl.Snapshot()); err != nil {
		// The update is already committed; a failed checkpoint save
		// must not fail the triggering report.
		svc.logger.ErrorContext(ctx, "Failed to save checkpoint",
			slog.Int64("version", version), slog.Any("error", err))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
