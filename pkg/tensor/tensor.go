package tensor

import (
	"fmt"

	"github.com/sorrycc/elasticdl/pkg/errors"
)

// Tensor is a named dense tensor stored in row-major order.
type Tensor struct {
	Name   string    `json:"name,omitempty" cbor:"1,keyasint"`
	Dims   []int     `json:"dims" cbor:"2,keyasint"`
	Values []float64 `json:"values" cbor:"3,keyasint"`
}

func New(name string, dims []int) *Tensor {
	size := 1
	for _, d := range dims {
		size *= d
	}

	return &Tensor{
		Name:   name,
		Dims:   append([]int(nil), dims...),
		Values: make([]float64, size),
	}
}

// FromRows builds a 2-dim tensor from equally sized rows.
func FromRows(name string, rows [][]float64) *Tensor {
	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	t := New(name, []int{len(rows), width})
	for i, row := range rows {
		copy(t.Values[i*width:(i+1)*width], row)
	}

	return t
}

func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		Name:   t.Name,
		Dims:   append([]int(nil), t.Dims...),
		Values: append([]float64(nil), t.Values...),
	}

	return c
}

func (t *Tensor) NumRows() int {
	if len(t.Dims) == 0 {
		return 0
	}

	return t.Dims[0]
}

// RowWidth returns the size of a single row of a 2-dim tensor, or 1
// for a vector.
func (t *Tensor) RowWidth() int {
	if len(t.Dims) < 2 {
		return 1
	}

	return t.Dims[1]
}

func (t *Tensor) Row(i int64) []float64 {
	w := int64(t.RowWidth())

	return t.Values[i*w : (i+1)*w]
}

func (t *Tensor) SetRow(i int64, row []float64) {
	copy(t.Row(i), row)
}

func (t *Tensor) Add(o *Tensor) error {
	if !SameDims(t.Dims, o.Dims) {
		return fmt.Errorf("%w: adding %v to %v", errors.ErrShapeMismatch, o.Dims, t.Dims)
	}
	for i, v := range o.Values {
		t.Values[i] += v
	}

	return nil
}

func (t *Tensor) Scale(f float64) {
	for i := range t.Values {
		t.Values[i] *= f
	}
}

func SameDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
