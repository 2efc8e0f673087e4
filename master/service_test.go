package master_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorrycc/elasticdl/master"
	"github.com/sorrycc/elasticdl/pkg/checkpoint"
	"github.com/sorrycc/elasticdl/pkg/embedding"
	pkgerrors "github.com/sorrycc/elasticdl/pkg/errors"
	"github.com/sorrycc/elasticdl/pkg/evaluation"
	"github.com/sorrycc/elasticdl/pkg/model"
	"github.com/sorrycc/elasticdl/pkg/optimizer"
	"github.com/sorrycc/elasticdl/pkg/task"
	"github.com/sorrycc/elasticdl/pkg/tensor"
)

type fixture struct {
	svc     master.Service
	mdl     *model.Model
	gateway *embedding.MemoryGateway
	queue   *task.Queue
	store   *checkpoint.Store
}

// setup builds a service with a subtract-gradient optimizer (SGD with
// learning rate 1) and every collaborator in memory.
func setup(t *testing.T, gradsToWait int, checkpointSteps int64, vars ...tensor.Tensor) fixture {
	t.Helper()

	mdl := model.New()
	if len(vars) > 0 {
		mdl = model.NewFromVariables(vars)
	}
	store, err := checkpoint.NewStore(t.TempDir(), checkpointSteps, 0)
	require.NoError(t, err)
	queue := task.NewQueue()
	gateway := embedding.NewMemoryGateway()
	svc := master.NewService(mdl, optimizer.NewSGD(1.0), queue, store,
		evaluation.NewIntervalService(queue, 0), gateway, gradsToWait, 32, slog.Default())

	return fixture{svc: svc, mdl: mdl, gateway: gateway, queue: queue, store: store}
}

func denseGrad(vals ...float64) tensor.Gradient {
	return tensor.DenseGradient(&tensor.Tensor{Dims: []int{len(vals)}, Values: vals})
}

func indexedGrad(indices []int64, rows [][]float64) tensor.Gradient {
	return tensor.IndexedGradient(&tensor.IndexedSlices{Indices: indices, Rows: rows})
}

func weightVar(vals ...float64) tensor.Tensor {
	return tensor.Tensor{Name: "w", Dims: []int{len(vals)}, Values: vals}
}

func TestReportGradientAveragesAtQuorum(t *testing.T) {
	f := setup(t, 2, 0, weightVar(1.0, 1.0))
	ctx := context.Background()

	ack, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{"w": denseGrad(0.1, 0.1)})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, int64(0), ack.Version)

	ack, err = f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{"w": denseGrad(0.3, 0.3)})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, int64(1), ack.Version)

	snap, err := f.svc.GetModel(ctx, 1, master.ReadExact)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.8, 0.8}, snap.Variables["w"].Values, 1e-9)
}

func TestReportGradientOrderIndependent(t *testing.T) {
	reports := []map[string]tensor.Gradient{
		{"w": denseGrad(0.3, 0.0)},
		{"w": denseGrad(0.0, 0.6)},
		{"w": denseGrad(0.3, 0.3)},
	}
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}}

	for _, order := range orders {
		f := setup(t, 3, 0, weightVar(1.0, 1.0))
		for _, i := range order {
			_, err := f.svc.ReportGradient(context.Background(), 0, reports[i])
			require.NoError(t, err)
		}
		snap, err := f.svc.GetModel(context.Background(), 1, master.ReadExact)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0.8, 0.7}, snap.Variables["w"].Values, 1e-9)
	}
}

func TestReportGradientStaleVersionRejected(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))
	ctx := context.Background()

	// Drive one update so the current version moves to 1.
	_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{"w": denseGrad(0.5)})
	require.NoError(t, err)

	ack, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{"w": denseGrad(100)})
	require.NoError(t, err)
	assert.False(t, ack.Accepted)
	assert.Equal(t, int64(1), ack.Version)

	// The rejected gradient must not leak into the next cycle.
	ack, err = f.svc.ReportGradient(ctx, 1, map[string]tensor.Gradient{"w": denseGrad(0.5)})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)

	snap, err := f.svc.GetModel(ctx, 2, master.ReadExact)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.0}, snap.Variables["w"].Values, 1e-9)
}

func TestReportGradientFutureVersionFails(t *testing.T) {
	f := setup(t, 2, 0, weightVar(1.0))

	_, err := f.svc.ReportGradient(context.Background(), 5, map[string]tensor.Gradient{"w": denseGrad(0.1)})
	assert.ErrorIs(t, err, pkgerrors.ErrVersionNotAvailable)
}

func TestReportGradientUnknownDenseKeyAtomicRejection(t *testing.T) {
	f := setup(t, 2, 0, weightVar(1.0))
	ctx := context.Background()

	// A report mixing a valid key with an unknown dense key is
	// rejected as a whole.
	_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"w":     denseGrad(100),
		"ghost": denseGrad(1),
	})
	assert.ErrorIs(t, err, pkgerrors.ErrUnknownVariable)

	// Quorum from two clean reports: the rejected values must not
	// have been accumulated.
	for range 2 {
		_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{"w": denseGrad(0.2)})
		require.NoError(t, err)
	}
	snap, err := f.svc.GetModel(ctx, 1, master.ReadExact)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.8}, snap.Variables["w"].Values, 1e-9)
}

func TestReportGradientShapeMismatchRejected(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0, 1.0))

	_, err := f.svc.ReportGradient(context.Background(), 0, map[string]tensor.Gradient{"w": denseGrad(1.0)})
	assert.ErrorIs(t, err, pkgerrors.ErrShapeMismatch)
}

func TestReportGradientIndexedDuplicateSummation(t *testing.T) {
	emb := tensor.Tensor{Name: "emb", Dims: []int{6, 1}, Values: []float64{0, 0, 0, 0, 0, 0}}
	f := setup(t, 1, 0, emb)

	_, err := f.svc.ReportGradient(context.Background(), 0, map[string]tensor.Gradient{
		"emb": indexedGrad([]int64{2, 2, 5}, [][]float64{{1}, {1}, {2}}),
	})
	require.NoError(t, err)

	snap, err := f.svc.GetModel(context.Background(), 1, master.ReadExact)
	require.NoError(t, err)
	got := snap.Variables["emb"].Values
	assert.InDeltaSlice(t, []float64{0, 0, -2, 0, 0, -2}, got, 1e-9)
}

func TestReportGradientIndexedValidation(t *testing.T) {
	emb := tensor.Tensor{Name: "emb", Dims: []int{4, 2}, Values: make([]float64, 8)}
	f := setup(t, 1, 0, emb)
	ctx := context.Background()

	_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"emb": indexedGrad([]int64{9}, [][]float64{{1, 1}}),
	})
	assert.ErrorIs(t, err, pkgerrors.ErrIndexOutOfRange)

	_, err = f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"emb": indexedGrad([]int64{0}, [][]float64{{1, 1, 1}}),
	})
	assert.ErrorIs(t, err, pkgerrors.ErrShapeMismatch)
}

func TestExternalEmbeddingUpdate(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))
	ctx := context.Background()

	require.NoError(t, f.gateway.Upsert(ctx,
		[]string{embedding.Key("item_emb", 2), embedding.Key("item_emb", 5)},
		[][]float64{{1, 1}, {2, 2}}))

	_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"w":        denseGrad(0.0),
		"item_emb": indexedGrad([]int64{2, 2, 5}, [][]float64{{1, 1}, {1, 1}, {2, 2}}),
	})
	require.NoError(t, err)

	rows, missing, err := f.gateway.Lookup(ctx,
		[]string{embedding.Key("item_emb", 2), embedding.Key("item_emb", 5)})
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.InDeltaSlice(t, []float64{-1, -1}, rows[0], 1e-9)
	assert.InDeltaSlice(t, []float64{0, 0}, rows[1], 1e-9)
}

func TestExternalEmbeddingMissingKeyAbortsAndRetries(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))
	ctx := context.Background()

	_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"item_emb": indexedGrad([]int64{3}, [][]float64{{1}}),
	})
	assert.ErrorIs(t, err, pkgerrors.ErrMissingEmbeddingKeys)

	// The aborted cycle must not bump the version.
	snap, err := f.svc.GetModel(ctx, 0, master.ReadMinimum)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)

	// Once the key exists, the next report retries with the merged
	// accumulation: gradient 1 + 1 = 2 against a stored row of 10.
	require.NoError(t, f.gateway.Upsert(ctx, []string{embedding.Key("item_emb", 3)}, [][]float64{{10}}))

	ack, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"item_emb": indexedGrad([]int64{3}, [][]float64{{1}}),
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, int64(1), ack.Version)

	rows, missing, err := f.gateway.Lookup(ctx, []string{embedding.Key("item_emb", 3)})
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.InDeltaSlice(t, []float64{8}, rows[0], 1e-9)
}

func TestExternalEmbeddingUnevenRowWidthRejected(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))
	ctx := context.Background()

	_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"item_emb": indexedGrad([]int64{1, 1}, [][]float64{{1}, {2, 3}}),
	})
	assert.ErrorIs(t, err, pkgerrors.ErrShapeMismatch)

	// The malformed report must not have been accumulated: a clean
	// quorum still updates.
	require.NoError(t, f.gateway.Upsert(ctx, []string{embedding.Key("item_emb", 1)}, [][]float64{{10}}))
	ack, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"item_emb": indexedGrad([]int64{1}, [][]float64{{1}}),
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, int64(1), ack.Version)

	rows, _, err := f.gateway.Lookup(ctx, []string{embedding.Key("item_emb", 1)})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{9}, rows[0], 1e-9)
}

func TestExternalEmbeddingAccumulatedWidthMismatch(t *testing.T) {
	f := setup(t, 2, 0, weightVar(1.0))
	ctx := context.Background()

	require.NoError(t, f.gateway.Upsert(ctx, []string{embedding.Key("item_emb", 0)}, [][]float64{{10}}))

	_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"item_emb": indexedGrad([]int64{0}, [][]float64{{1}}),
	})
	require.NoError(t, err)

	// A second report with a different row width for the same layer
	// cannot be summed with the first and is rejected whole.
	_, err = f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"item_emb": indexedGrad([]int64{0}, [][]float64{{1, 2}}),
	})
	assert.ErrorIs(t, err, pkgerrors.ErrShapeMismatch)

	ack, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"item_emb": indexedGrad([]int64{0}, [][]float64{{1}}),
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, int64(1), ack.Version)

	// Both well-formed unit gradients were summed: 10 - (1 + 1).
	rows, _, err := f.gateway.Lookup(ctx, []string{embedding.Key("item_emb", 0)})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{8}, rows[0], 1e-9)
}

func TestExternalEmbeddingStoredWidthMismatch(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))
	ctx := context.Background()

	require.NoError(t, f.gateway.Upsert(ctx, []string{embedding.Key("item_emb", 3)}, [][]float64{{10, 10}}))

	_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{
		"item_emb": indexedGrad([]int64{3}, [][]float64{{1, 2, 3}}),
	})
	assert.ErrorIs(t, err, pkgerrors.ErrShapeMismatch)

	// The aborted cycle leaves the model and the stored row untouched.
	snap, err := f.svc.GetModel(ctx, 0, master.ReadMinimum)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)

	rows, _, err := f.gateway.Lookup(ctx, []string{embedding.Key("item_emb", 3)})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10, 10}, rows[0], 1e-9)
}

func TestNonPositiveQuorumDefaultsToOne(t *testing.T) {
	f := setup(t, 0, 0, weightVar(1.0))
	ctx := context.Background()

	ack, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{"w": denseGrad(0.5)})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, int64(1), ack.Version)

	snap, err := f.svc.GetModel(ctx, 1, master.ReadExact)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5}, snap.Variables["w"].Values, 1e-9)
}

func TestRecoverWorker(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))
	ctx := context.Background()

	f.queue.Add(task.Task{FileName: "f", Type: task.Training})
	res, err := f.svc.GetTask(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, task.Training, res.Task.Type)

	recovered, err := f.svc.RecoverWorker(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	res, err = f.svc.GetTask(ctx, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, task.Training, res.Task.Type)
}

func TestReportVariableFirstWriterWins(t *testing.T) {
	f := setup(t, 1, 0)
	ctx := context.Background()

	require.NoError(t, f.svc.ReportVariable(ctx, map[string]tensor.Tensor{
		"w": weightVar(1.0, 2.0),
	}))
	require.NoError(t, f.svc.ReportVariable(ctx, map[string]tensor.Tensor{
		"w": weightVar(9.0, 9.0),
	}))

	snap, err := f.svc.GetModel(ctx, 0, master.ReadExact)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0, 2.0}, snap.Variables["w"].Values)
}

func TestGetModelFutureVersionFails(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))

	_, err := f.svc.GetModel(context.Background(), 3, master.ReadExact)
	assert.ErrorIs(t, err, pkgerrors.ErrVersionNotAvailable)

	_, err = f.svc.GetModel(context.Background(), 3, master.ReadMinimum)
	assert.ErrorIs(t, err, pkgerrors.ErrVersionNotAvailable)
}

func TestGetModelMinimumReturnsLive(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))
	ctx := context.Background()

	_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{"w": denseGrad(0.5)})
	require.NoError(t, err)

	snap, err := f.svc.GetModel(ctx, 0, master.ReadMinimum)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
}

func TestGetModelHistoricalFromCheckpoint(t *testing.T) {
	// Checkpoint every version so history is readable.
	f := setup(t, 1, 1, weightVar(1.0))
	ctx := context.Background()

	_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{"w": denseGrad(0.25)})
	require.NoError(t, err)
	_, err = f.svc.ReportGradient(ctx, 1, map[string]tensor.Gradient{"w": denseGrad(0.25)})
	require.NoError(t, err)

	snap, err := f.svc.GetModel(ctx, 1, master.ReadExact)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.InDeltaSlice(t, []float64{0.75}, snap.Variables["w"].Values, 1e-9)
}

func TestGetModelMissingCheckpointReturnsEmpty(t *testing.T) {
	// Checkpointing disabled: historical reads find nothing and fall
	// back to an empty zero-version snapshot.
	f := setup(t, 1, 0, weightVar(1.0))
	ctx := context.Background()

	_, err := f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{"w": denseGrad(0.5)})
	require.NoError(t, err)
	_, err = f.svc.ReportGradient(ctx, 1, map[string]tensor.Gradient{"w": denseGrad(0.5)})
	require.NoError(t, err)

	snap, err := f.svc.GetModel(ctx, 1, master.ReadExact)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
	assert.Empty(t, snap.Variables)
}

func TestGetTask(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))
	ctx := context.Background()

	f.queue.Add(task.Task{FileName: "train.data", Start: 0, End: 10, Type: task.Training})
	f.queue.Add(task.Task{Type: task.Evaluation, ModelVersion: 0})

	res, err := f.svc.GetTask(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, task.Training, res.Task.Type)
	assert.Equal(t, int64(0), res.ModelVersion)
	assert.Equal(t, 32, res.MinibatchSize)

	// Evaluation tasks pin their recorded version even after the
	// model moves on.
	_, err = f.svc.ReportGradient(ctx, 0, map[string]tensor.Gradient{"w": denseGrad(0.1)})
	require.NoError(t, err)

	res, err = f.svc.GetTask(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, task.Evaluation, res.Task.Type)
	assert.Equal(t, int64(0), res.ModelVersion)

	// Both tasks are doing: a third request waits.
	res, err = f.svc.GetTask(ctx, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, task.Wait, res.Task.Type)
}

func TestReportTaskResult(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))
	ctx := context.Background()

	id := f.queue.Add(task.Task{FileName: "f", Type: task.Training})
	_, err := f.svc.GetTask(ctx, "worker-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.ReportTaskResult(ctx, id, "disk full"))
	assert.False(t, f.queue.Finished())

	_, err = f.svc.GetTask(ctx, "worker-2")
	require.NoError(t, err)
	require.NoError(t, f.svc.ReportTaskResult(ctx, id, ""))
	assert.True(t, f.queue.Finished())
}

func TestReportEvaluationMetrics(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))

	ack, err := f.svc.ReportEvaluationMetrics(context.Background(), 0, map[string]float64{"auc": 0.7})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, int64(0), ack.Version)
}

func TestSaveLatestCheckpoint(t *testing.T) {
	f := setup(t, 1, 0, weightVar(1.0))
	ctx := context.Background()

	out := t.TempDir() + "/final.ckpt"
	require.NoError(t, f.svc.SaveLatestCheckpoint(ctx, out))

	snap, err := f.store.Load(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0}, snap.Variables["w"].Values)
}

func TestConcurrentReportersTotalOrder(t *testing.T) {
	f := setup(t, 4, 0, weightVar(0))
	ctx := context.Background()

	// Eight workers each land exactly one accepted contribution,
	// retrying on stale-version rejections. With quorum 4 that is
	// exactly two updates of the same averaged gradient.
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				snap, err := f.svc.GetModel(ctx, 0, master.ReadMinimum)
				if err != nil {
					continue
				}
				ack, err := f.svc.ReportGradient(ctx, snap.Version,
					map[string]tensor.Gradient{"w": denseGrad(4.0)})
				if err == nil && ack.Accepted {
					return
				}
			}
		}()
	}
	wg.Wait()

	snap, err := f.svc.GetModel(ctx, 0, master.ReadMinimum)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	assert.InDeltaSlice(t, []float64{-8.0}, snap.Variables["w"].Values, 1e-9)
}

func TestEvaluationHookSchedulesTask(t *testing.T) {
	mdl := model.NewFromVariables([]tensor.Tensor{weightVar(1.0)})
	store, err := checkpoint.NewStore(t.TempDir(), 0, 0)
	require.NoError(t, err)
	queue := task.NewQueue()
	svc := master.NewService(mdl, optimizer.NewSGD(1.0), queue, store,
		evaluation.NewIntervalService(queue, 1), embedding.NewMemoryGateway(), 1, 32, slog.Default())

	_, err = svc.ReportGradient(context.Background(), 0, map[string]tensor.Gradient{"w": denseGrad(0.1)})
	require.NoError(t, err)

	res, err := svc.GetTask(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, task.Evaluation, res.Task.Type)
	assert.Equal(t, int64(1), res.ModelVersion)
}
