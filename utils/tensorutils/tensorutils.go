// Package tensorutils provides helpers for slicing and converting tensors
package tensorutils

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Slice implements a struct that can be used for slicing tensors.
//
// Given a tensor T and a Slice S, T.Slice(..., S, ...) is equivalent to
// T[..., S.start:S.end:S.step, ...]
type Slice struct {
	start, end, step int
}

// Start returns the start index for the tensor slice
func (s Slice) Start() int {
	return s.start
}

// End returns the ending index for the tensor slice
func (s Slice) End() int {
	return s.end
}

// Step returns the step for the tensor slice
func (s Slice) Step() int {
	return s.step
}

// NewSlice returns a new Slice that can be used to slice tensors
func NewSlice(start, stop, step int) Slice {
	return Slice{start, stop, step}
}

// Float64 returns a copy of the data in t as a []float64. Float32, int
// and bool tensors are converted; other dtypes are an error.
func Float64(t tensor.Tensor) ([]float64, error) {
	if t == nil {
		return nil, errors.New("float64: nil tensor")
	}

	switch data := t.Data().(type) {
	case []float64:
		out := make([]float64, len(data))
		copy(out, data)
		return out, nil

	case float64:
		return []float64{data}, nil

	case []float32:
		out := make([]float64, len(data))
		for i := range data {
			out[i] = float64(data[i])
		}
		return out, nil

	case []int:
		out := make([]float64, len(data))
		for i := range data {
			out[i] = float64(data[i])
		}
		return out, nil

	case []bool:
		out := make([]float64, len(data))
		for i := range data {
			if data[i] {
				out[i] = 1.0
			}
		}
		return out, nil

	default:
		return nil, errors.Errorf("float64: unsupported dtype %v", t.Dtype())
	}
}

// AsDense converts t to a Float64 *tensor.Dense with the given shape,
// returning an error if the number of elements differs from the shape
func AsDense(t tensor.Tensor, shape ...int) (*tensor.Dense, error) {
	data, err := Float64(t)
	if err != nil {
		return nil, err
	}

	if !tensor.Shape(shape).Eq(t.Shape()) {
		return nil, errors.Errorf("asdense: expected shape %v but got %v",
			shape, t.Shape())
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}
