// Package environment describes the observation and action spaces that
// actor and critic networks are built for.
package environment

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an action or an observation.
type SpecType int

const (
	Action SpecType = iota
	Observation
)

func (s SpecType) String() string {
	switch s {
	case Action:
		return "Action"
	case Observation:
		return "Observation"
	}
	return fmt.Sprintf("SpecType(%d)", int(s))
}

// Cardinality determines the cardinality of a number (discrete or continuous)
type Cardinality string

const (
	Continuous Cardinality = "Continuous"
	Discrete   Cardinality = "Discrete"

	// MultiDiscrete describes a vector of independent discrete values,
	// where element i takes values in [LowerBound[i], UpperBound[i]]
	MultiDiscrete Cardinality = "MultiDiscrete"
)

// Spec implements an environment specification, which tells the type,
// shape, and bounds of an action or observation in an environment.
//
// Shape has one element per scalar described by the Spec, and the
// bounds hold the per-element bounds. Dims optionally lays the elements
// out as a tensor (e.g. channels x height x width images); if nil the
// elements form a flat vector.
type Spec struct {
	Shape      mat.Vector
	Type       SpecType
	LowerBound mat.Vector
	UpperBound mat.Vector
	Cardinality
	Dims []int
}

// NewSpec constructs a new environment specification
// The shape argument outlines the shape of the data described by the
// specification. The argument t outlines what the specification is
// describing (e.g. actions, observations, etc.). The cardinality
// arguments describes whether the values that the spec describes are
// continuous or discrete.
func NewSpec(shape mat.Vector, t SpecType, lowerBound,
	upperBound mat.Vector, cardinality Cardinality) Spec {
	if shape.Len() != lowerBound.Len() {
		panic(fmt.Sprintf("shape length %v must match lower bounds length %v",
			shape.Len(), lowerBound.Len()))
	}
	if shape.Len() != upperBound.Len() {
		panic(fmt.Sprintf("shape length %v must match upper bounds length %v",
			shape.Len(), upperBound.Len()))
	}
	return Spec{shape, t, lowerBound, upperBound, cardinality, nil}
}

// NewVectorObservationSpec returns an unbounded, continuous observation
// specification of a flat vector with dims elements
func NewVectorObservationSpec(dims int) Spec {
	shape := mat.NewVecDense(dims, nil)
	low, high := fill(dims, math.Inf(-1)), fill(dims, math.Inf(1))

	return NewSpec(shape, Observation, low, high, Continuous)
}

// NewImageObservationSpec returns a continuous observation specification
// of channels x height x width images with pixel values in [low, high]
func NewImageObservationSpec(channels, height, width int,
	low, high float64) Spec {
	n := channels * height * width
	shape := mat.NewVecDense(n, nil)

	spec := NewSpec(shape, Observation, fill(n, low), fill(n, high),
		Continuous)
	spec.Dims = []int{channels, height, width}
	return spec
}

// NewDiscreteActionSpec returns the specification of a single discrete
// action taking values in [0, n)
func NewDiscreteActionSpec(n int) Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{0.0})
	upperBound := mat.NewVecDense(1, []float64{float64(n - 1)})

	return NewSpec(shape, Action, lowerBound, upperBound, Discrete)
}

// NewMultiDiscreteActionSpec returns the specification of a vector of
// discrete actions, where element i takes values in [0, nvec[i])
func NewMultiDiscreteActionSpec(nvec []int) Spec {
	upper := make([]float64, len(nvec))
	for i, n := range nvec {
		upper[i] = float64(n - 1)
	}
	shape := mat.NewVecDense(len(nvec), nil)

	return NewSpec(shape, Action, fill(len(nvec), 0),
		mat.NewVecDense(len(nvec), upper), MultiDiscrete)
}

// NewBoxActionSpec returns the specification of a continuous action
// vector with per-element bounds low and high
func NewBoxActionSpec(low, high []float64) Spec {
	shape := mat.NewVecDense(len(low), nil)

	return NewSpec(shape, Action, mat.NewVecDense(len(low), low),
		mat.NewVecDense(len(high), high), Continuous)
}

// Layout returns the tensor layout of the elements described by the
// Spec, excluding any batch dimension
func (s Spec) Layout() []int {
	if s.Dims != nil {
		out := make([]int, len(s.Dims))
		copy(out, s.Dims)
		return out
	}
	return []int{s.Shape.Len()}
}

// Size returns the number of elements described by the Spec
func (s Spec) Size() int {
	return s.Shape.Len()
}

// Categories returns the number of values each element of a Discrete
// or MultiDiscrete Spec can take
func (s Spec) Categories() []int {
	n := make([]int, s.Shape.Len())
	for i := range n {
		n[i] = int(s.UpperBound.AtVec(i)-s.LowerBound.AtVec(i)) + 1
	}
	return n
}

func fill(n int, v float64) *mat.VecDense {
	data := make([]float64, n)
	for i := range data {
		data[i] = v
	}
	return mat.NewVecDense(n, data)
}
