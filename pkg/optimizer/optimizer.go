package optimizer

import (
	"fmt"

	"github.com/sorrycc/elasticdl/pkg/errors"
	"github.com/sorrycc/elasticdl/pkg/tensor"
)

// Pair binds a merged gradient to the variable it updates. Indexed
// gradients carry unique indices by the time they reach Apply.
type Pair struct {
	Gradient tensor.Gradient
	Variable *tensor.Tensor
}

// Optimizer applies one step over all gradient/variable pairs of an
// update cycle. Implementations mutate the variables in place; the
// caller holds the master lock for the whole call.
type Optimizer interface {
	Apply(pairs []Pair) error
}

// SGD is plain stochastic gradient descent:
// variable -= learning rate * gradient.
type SGD struct {
	learningRate float64
}

func NewSGD(learningRate float64) *SGD {
	return &SGD{learningRate: learningRate}
}

func (o *SGD) Apply(pairs []Pair) error {
	for _, p := range pairs {
		if err := applyScaled(p, -o.learningRate); err != nil {
			return err
		}
	}

	return nil
}

// Momentum keeps a per-variable velocity tensor:
// velocity = momentum*velocity + gradient; variable -= lr*velocity.
type Momentum struct {
	learningRate float64
	momentum     float64
	velocities   map[string]*tensor.Tensor
}

func NewMomentum(learningRate, momentum float64) *Momentum {
	return &Momentum{
		learningRate: learningRate,
		momentum:     momentum,
		velocities:   make(map[string]*tensor.Tensor),
	}
}

func (o *Momentum) Apply(pairs []Pair) error {
	for _, p := range pairs {
		v, ok := o.velocities[p.Variable.Name]
		if !ok || !tensor.SameDims(v.Dims, p.Variable.Dims) {
			v = tensor.New(p.Variable.Name, p.Variable.Dims)
			o.velocities[p.Variable.Name] = v
		}

		switch {
		case p.Gradient.IsIndexed():
			for i, idx := range p.Gradient.Indexed.Indices {
				row := v.Row(idx)
				for j, g := range p.Gradient.Indexed.Rows[i] {
					row[j] = o.momentum*row[j] + g
				}
				target := p.Variable.Row(idx)
				for j := range target {
					target[j] -= o.learningRate * row[j]
				}
			}
		case p.Gradient.Dense != nil:
			if err := tensor.ValidateDense(p.Variable.Name, p.Gradient.Dense, p.Variable); err != nil {
				return err
			}
			for i, g := range p.Gradient.Dense.Values {
				v.Values[i] = o.momentum*v.Values[i] + g
				p.Variable.Values[i] -= o.learningRate * v.Values[i]
			}
		default:
			return fmt.Errorf("%w: empty gradient for %s", errors.ErrInvalidData, p.Variable.Name)
		}
	}

	return nil
}

func applyScaled(p Pair, factor float64) error {
	switch {
	case p.Gradient.IsIndexed():
		for i, idx := range p.Gradient.Indexed.Indices {
			row := p.Variable.Row(idx)
			for j, g := range p.Gradient.Indexed.Rows[i] {
				row[j] += factor * g
			}
		}
	case p.Gradient.Dense != nil:
		if err := tensor.ValidateDense(p.Variable.Name, p.Gradient.Dense, p.Variable); err != nil {
			return err
		}
		for i, g := range p.Gradient.Dense.Values {
			p.Variable.Values[i] += factor * g
		}
	default:
		return fmt.Errorf("%w: empty gradient for %s", errors.ErrInvalidData, p.Variable.Name)
	}

	return nil
}
