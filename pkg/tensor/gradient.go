package tensor

// Gradient is a tagged union decided once when a worker report is
// decoded: either a full dense tensor or indexed row slices. The tag
// is never re-inferred downstream.
type Gradient struct {
	Dense   *Tensor
	Indexed *IndexedSlices
}

func DenseGradient(t *Tensor) Gradient {
	return Gradient{Dense: t}
}

func IndexedGradient(s *IndexedSlices) Gradient {
	return Gradient{Indexed: s}
}

func (g Gradient) IsIndexed() bool {
	return g.Indexed != nil
}
