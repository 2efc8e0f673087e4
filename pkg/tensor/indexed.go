package tensor

import (
	"fmt"
	"sort"

	"github.com/sorrycc/elasticdl/pkg/errors"
)

// IndexedSlices is a sparse row-wise gradient: Rows[i] updates row
// Indices[i] of the target variable. Indices may repeat until Reduce
// is called.
type IndexedSlices struct {
	Indices []int64     `json:"indices"`
	Rows    [][]float64 `json:"rows"`
}

// MergeIndexed concatenates two indexed slices. Duplicate indices are
// kept; they are summed by Reduce when gradients are handed to the
// optimizer, so the merge is associative and commutative up to
// floating-point summation order.
func MergeIndexed(a, b IndexedSlices) IndexedSlices {
	return IndexedSlices{
		Indices: append(append([]int64(nil), a.Indices...), b.Indices...),
		Rows:    append(append([][]float64(nil), a.Rows...), b.Rows...),
	}
}

// Reduce sums rows sharing an index and returns the result with
// unique indices in ascending order.
func (s IndexedSlices) Reduce() IndexedSlices {
	sums := make(map[int64][]float64, len(s.Indices))
	for i, idx := range s.Indices {
		if sum, ok := sums[idx]; ok {
			for j, v := range s.Rows[i] {
				sum[j] += v
			}

			continue
		}
		sums[idx] = append([]float64(nil), s.Rows[i]...)
	}

	unique := make([]int64, 0, len(sums))
	for idx := range sums {
		unique = append(unique, idx)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	rows := make([][]float64, len(unique))
	for i, idx := range unique {
		rows[i] = sums[idx]
	}

	return IndexedSlices{Indices: unique, Rows: rows}
}

// ValidateDense checks a dense gradient against its target variable.
func ValidateDense(key string, grad, variable *Tensor) error {
	if !SameDims(grad.Dims, variable.Dims) {
		return fmt.Errorf("%w: gradient key %s has dimension %v, expected %v",
			errors.ErrShapeMismatch, key, grad.Dims, variable.Dims)
	}

	return nil
}

// ValidateExternal checks an embedding-layer gradient that has no
// in-model target variable. The layer's row shape is only known from
// the store, so the rows must at least agree with each other: one
// entry per index, every row the same non-zero width.
func ValidateExternal(key string, grad *IndexedSlices) error {
	if len(grad.Rows) == 0 || len(grad.Indices) != len(grad.Rows) {
		return fmt.Errorf("%w: gradient key %s has %d indices for %d rows",
			errors.ErrInvalidData, key, len(grad.Indices), len(grad.Rows))
	}
	width := len(grad.Rows[0])
	if width == 0 {
		return fmt.Errorf("%w: gradient key %s has empty rows", errors.ErrInvalidData, key)
	}
	for _, row := range grad.Rows {
		if len(row) != width {
			return fmt.Errorf("%w: gradient key %s has rows of width %d and %d",
				errors.ErrShapeMismatch, key, width, len(row))
		}
	}

	return nil
}

// ValidateIndexed checks an indexed gradient against its target
// variable: row width must match the variable's second dimension and
// every index must fall inside its first dimension.
func ValidateIndexed(key string, grad *IndexedSlices, variable *Tensor) error {
	width := variable.RowWidth()
	for _, row := range grad.Rows {
		if len(row) != width {
			return fmt.Errorf("%w: gradient key %s has indexed slice width %d, expected %d",
				errors.ErrShapeMismatch, key, len(row), width)
		}
	}
	rows := int64(variable.NumRows())
	for _, idx := range grad.Indices {
		if idx < 0 || idx >= rows {
			return fmt.Errorf("%w: gradient key %s has index %d, out of range %d",
				errors.ErrIndexOutOfRange, key, idx, rows-1)
		}
	}

	return nil
}
