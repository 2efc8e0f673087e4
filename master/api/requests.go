package api

import (
	"github.com/sorrycc/elasticdl/master"
	"github.com/sorrycc/elasticdl/pkg/errors"
	"github.com/sorrycc/elasticdl/pkg/tensor"
)

// wireTensor is the JSON form of a gradient or variable value. The
// presence of indices decides the gradient kind once, at the boundary.
type wireTensor struct {
	Dims    []int       `json:"dims,omitempty"`
	Values  []float64   `json:"values,omitempty"`
	Indices []int64     `json:"indices,omitempty"`
	Rows    [][]float64 `json:"rows,omitempty"`
}

func (w wireTensor) toGradient(name string) tensor.Gradient {
	if len(w.Indices) > 0 {
		return tensor.IndexedGradient(&tensor.IndexedSlices{
			Indices: w.Indices,
			Rows:    w.Rows,
		})
	}

	return tensor.DenseGradient(&tensor.Tensor{
		Name:   name,
		Dims:   w.Dims,
		Values: w.Values,
	})
}

type getTaskReq struct {
	workerID string
}

func (r *getTaskReq) validate() error {
	if r.workerID == "" {
		return errors.ErrEmptyKey
	}

	return nil
}

type getModelReq struct {
	version int64
	mode    master.ReadMode
}

func (r *getModelReq) validate() error {
	if r.mode != master.ReadExact && r.mode != master.ReadMinimum {
		return errors.ErrInvalidData
	}
	if r.version < 0 {
		return errors.ErrInvalidData
	}

	return nil
}

type reportVariableReq struct {
	Variables map[string]wireTensor `json:"variables"`
}

func (r *reportVariableReq) validate() error {
	if len(r.Variables) == 0 {
		return errors.ErrInvalidData
	}
	for _, v := range r.Variables {
		if len(v.Values) == 0 || len(v.Dims) == 0 {
			return errors.ErrInvalidData
		}
	}

	return nil
}

func (r *reportVariableReq) toTensors() map[string]tensor.Tensor {
	vars := make(map[string]tensor.Tensor, len(r.Variables))
	for name, v := range r.Variables {
		vars[name] = tensor.Tensor{Name: name, Dims: v.Dims, Values: v.Values}
	}

	return vars
}

type reportGradientReq struct {
	ModelVersion int64                 `json:"model_version"`
	Gradients    map[string]wireTensor `json:"gradients"`
}

func (r *reportGradientReq) validate() error {
	if len(r.Gradients) == 0 {
		return errors.ErrInvalidData
	}
	for _, g := range r.Gradients {
		if len(g.Indices) > 0 && len(g.Indices) != len(g.Rows) {
			return errors.ErrInvalidData
		}
		if len(g.Indices) == 0 && len(g.Values) == 0 {
			return errors.ErrInvalidData
		}
	}

	return nil
}

func (r *reportGradientReq) toGradients() map[string]tensor.Gradient {
	grads := make(map[string]tensor.Gradient, len(r.Gradients))
	for name, g := range r.Gradients {
		grads[name] = g.toGradient(name)
	}

	return grads
}

type reportTaskResultReq struct {
	taskID     string
	ErrMessage string `json:"err_message,omitempty"`
}

func (r *reportTaskResultReq) validate() error {
	if r.taskID == "" {
		return errors.ErrEmptyKey
	}

	return nil
}

type reportEvaluationMetricsReq struct {
	ModelVersion int64              `json:"model_version"`
	Metrics      map[string]float64 `json:"metrics"`
}

func (r *reportEvaluationMetricsReq) validate() error {
	if len(r.Metrics) == 0 {
		return errors.ErrInvalidData
	}

	return nil
}

type recoverWorkerReq struct {
	workerID string
}

func (r *recoverWorkerReq) validate() error {
	if r.workerID == "" {
		return errors.ErrEmptyKey
	}

	return nil
}

type saveCheckpointReq struct {
	OutputPath string `json:"output_path"`
}

func (r *saveCheckpointReq) validate() error {
	if r.OutputPath == "" {
		return errors.ErrEmptyKey
	}

	return nil
}
