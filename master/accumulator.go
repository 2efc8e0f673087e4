package master

import (
	"github.com/sorrycc/elasticdl/pkg/tensor"
)

// classified holds one worker report split into the three disjoint
// gradient buckets. A key lands in exactly one bucket: dense when it
// names a model variable and carries no indices, indexed when it
// names a model variable and carries indices, external when it names
// an embedding layer outside the model.
type classified struct {
	dense    map[string]*tensor.Tensor
	indexed  map[string]*tensor.IndexedSlices
	external map[string]*tensor.IndexedSlices
}

func newClassified() classified {
	return classified{
		dense:    make(map[string]*tensor.Tensor),
		indexed:  make(map[string]*tensor.IndexedSlices),
		external: make(map[string]*tensor.IndexedSlices),
	}
}

// accumulator is the per-cycle gradient state. It is owned by the
// master service and only touched inside its critical section.
type accumulator struct {
	dense    map[string]*tensor.Tensor
	indexed  map[string]tensor.IndexedSlices
	external map[string]tensor.IndexedSlices
	count    int
}

func newAccumulator() *accumulator {
	a := &accumulator{}
	a.reset()

	return a
}

// merge folds a validated report into the running sums. Dense values
// add elementwise; indexed and external values concatenate and are
// reduced at flush time.
func (a *accumulator) merge(c classified) error {
	for k, g := range c.dense {
		sum, ok := a.dense[k]
		if !ok {
			a.dense[k] = g.Clone()

			continue
		}
		if err := sum.Add(g); err != nil {
			return err
		}
	}
	for k, g := range c.indexed {
		a.indexed[k] = tensor.MergeIndexed(a.indexed[k], *g)
	}
	for k, g := range c.external {
		a.external[k] = tensor.MergeIndexed(a.external[k], *g)
	}

	return nil
}

func (a *accumulator) reset() {
	a.dense = make(map[string]*tensor.Tensor)
	a.indexed = make(map[string]tensor.IndexedSlices)
	a.external = make(map[string]tensor.IndexedSlices)
	a.count = 0
}
