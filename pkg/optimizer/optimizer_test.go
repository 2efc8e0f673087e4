package optimizer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorrycc/elasticdl/pkg/optimizer"
	"github.com/sorrycc/elasticdl/pkg/tensor"
)

func TestSGDDense(t *testing.T) {
	variable := &tensor.Tensor{Name: "w", Dims: []int{2}, Values: []float64{1, 1}}
	grad := &tensor.Tensor{Name: "w", Dims: []int{2}, Values: []float64{0.2, 0.2}}

	opt := optimizer.NewSGD(1.0)
	err := opt.Apply([]optimizer.Pair{{Gradient: tensor.DenseGradient(grad), Variable: variable}})

	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.8, 0.8}, variable.Values, 1e-9)
}

func TestSGDIndexed(t *testing.T) {
	variable := tensor.FromRows("emb", [][]float64{{1, 1}, {2, 2}, {3, 3}})
	grad := &tensor.IndexedSlices{
		Indices: []int64{0, 2},
		Rows:    [][]float64{{1, 1}, {2, 2}},
	}

	opt := optimizer.NewSGD(0.5)
	err := opt.Apply([]optimizer.Pair{{Gradient: tensor.IndexedGradient(grad), Variable: variable}})

	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, variable.Row(0), 1e-9)
	assert.InDeltaSlice(t, []float64{2, 2}, variable.Row(1), 1e-9)
	assert.InDeltaSlice(t, []float64{2, 2}, variable.Row(2), 1e-9)
}

func TestSGDDenseShapeMismatch(t *testing.T) {
	variable := &tensor.Tensor{Name: "w", Dims: []int{2}, Values: []float64{1, 1}}
	grad := &tensor.Tensor{Name: "w", Dims: []int{3}, Values: []float64{1, 1, 1}}

	opt := optimizer.NewSGD(1.0)
	err := opt.Apply([]optimizer.Pair{{Gradient: tensor.DenseGradient(grad), Variable: variable}})

	assert.Error(t, err)
}

func TestMomentumAccumulatesVelocity(t *testing.T) {
	variable := &tensor.Tensor{Name: "w", Dims: []int{1}, Values: []float64{1}}
	grad := &tensor.Tensor{Name: "w", Dims: []int{1}, Values: []float64{1}}

	opt := optimizer.NewMomentum(0.1, 0.9)
	pairs := []optimizer.Pair{{Gradient: tensor.DenseGradient(grad), Variable: variable}}

	// First step: velocity = 1, w = 1 - 0.1*1 = 0.9.
	require.NoError(t, opt.Apply(pairs))
	assert.InDelta(t, 0.9, variable.Values[0], 1e-9)

	// Second step: velocity = 0.9*1 + 1 = 1.9, w = 0.9 - 0.19 = 0.71.
	require.NoError(t, opt.Apply(pairs))
	assert.InDelta(t, 0.71, variable.Values[0], 1e-9)
}

func TestMomentumIndexed(t *testing.T) {
	variable := tensor.FromRows("emb", [][]float64{{1}, {1}})
	grad := &tensor.IndexedSlices{Indices: []int64{1}, Rows: [][]float64{{1}}}

	opt := optimizer.NewMomentum(0.5, 0.9)
	err := opt.Apply([]optimizer.Pair{{Gradient: tensor.IndexedGradient(grad), Variable: variable}})

	require.NoError(t, err)
	assert.InDelta(t, 1.0, variable.Row(0)[0], 1e-9)
	assert.InDelta(t, 0.5, variable.Row(1)[0], 1e-9)
}

func TestEmptyGradientRejected(t *testing.T) {
	variable := &tensor.Tensor{Name: "w", Dims: []int{1}, Values: []float64{1}}

	opt := optimizer.NewSGD(1.0)
	err := opt.Apply([]optimizer.Pair{{Variable: variable}})

	assert.Error(t, err)
}
