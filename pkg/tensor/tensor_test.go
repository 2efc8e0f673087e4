package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorrycc/elasticdl/pkg/errors"
	"github.com/sorrycc/elasticdl/pkg/tensor"
)

func TestFromRows(t *testing.T) {
	tr := tensor.FromRows("emb", [][]float64{{1, 2}, {3, 4}, {5, 6}})

	assert.Equal(t, []int{3, 2}, tr.Dims)
	assert.Equal(t, []float64{3, 4}, tr.Row(1))
	assert.Equal(t, 2, tr.RowWidth())
	assert.Equal(t, 3, tr.NumRows())
}

func TestCloneIsIndependent(t *testing.T) {
	a := tensor.FromRows("w", [][]float64{{1, 2}})
	b := a.Clone()
	b.Values[0] = 100

	assert.Equal(t, float64(1), a.Values[0])
}

func TestAdd(t *testing.T) {
	a := &tensor.Tensor{Name: "w", Dims: []int{2}, Values: []float64{1, 2}}
	b := &tensor.Tensor{Name: "w", Dims: []int{2}, Values: []float64{0.5, 0.5}}

	require.NoError(t, a.Add(b))
	assert.Equal(t, []float64{1.5, 2.5}, a.Values)
}

func TestAddShapeMismatch(t *testing.T) {
	a := &tensor.Tensor{Dims: []int{2}, Values: []float64{1, 2}}
	b := &tensor.Tensor{Dims: []int{3}, Values: []float64{1, 2, 3}}

	err := a.Add(b)
	require.ErrorIs(t, err, errors.ErrShapeMismatch)
}

func TestScale(t *testing.T) {
	a := &tensor.Tensor{Dims: []int{2}, Values: []float64{2, 4}}
	a.Scale(0.5)

	assert.Equal(t, []float64{1, 2}, a.Values)
}

func TestValidateDense(t *testing.T) {
	variable := tensor.New("w", []int{2, 3})

	cases := []struct {
		desc string
		grad *tensor.Tensor
		err  error
	}{
		{
			desc: "matching shape",
			grad: tensor.New("w", []int{2, 3}),
		},
		{
			desc: "wrong shape",
			grad: tensor.New("w", []int{3, 2}),
			err:  errors.ErrShapeMismatch,
		},
		{
			desc: "wrong rank",
			grad: tensor.New("w", []int{6}),
			err:  errors.ErrShapeMismatch,
		},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tensor.ValidateDense("w", tc.grad, variable)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateIndexed(t *testing.T) {
	variable := tensor.New("emb", []int{4, 2})

	cases := []struct {
		desc string
		grad tensor.IndexedSlices
		err  error
	}{
		{
			desc: "valid",
			grad: tensor.IndexedSlices{Indices: []int64{0, 3}, Rows: [][]float64{{1, 1}, {2, 2}}},
		},
		{
			desc: "wrong row width",
			grad: tensor.IndexedSlices{Indices: []int64{0}, Rows: [][]float64{{1, 1, 1}}},
			err:  errors.ErrShapeMismatch,
		},
		{
			desc: "index out of range",
			grad: tensor.IndexedSlices{Indices: []int64{4}, Rows: [][]float64{{1, 1}}},
			err:  errors.ErrIndexOutOfRange,
		},
		{
			desc: "negative index",
			grad: tensor.IndexedSlices{Indices: []int64{-1}, Rows: [][]float64{{1, 1}}},
			err:  errors.ErrIndexOutOfRange,
		},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tensor.ValidateIndexed("emb", &tc.grad, variable)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			assert.NoError(t, err)
		})
	}
}
