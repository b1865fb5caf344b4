package environment

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestVectorObservationSpec(t *testing.T) {
	s := NewVectorObservationSpec(10)

	assert.Equal(t, Observation, s.Type)
	assert.Equal(t, Continuous, s.Cardinality)
	assert.Equal(t, []int{10}, s.Layout())
	assert.Equal(t, 10, s.Size())
	assert.True(t, math.IsInf(s.LowerBound.AtVec(0), -1))
}

func TestImageObservationSpec(t *testing.T) {
	s := NewImageObservationSpec(3, 16, 8, 0, 255)

	assert.Equal(t, []int{3, 16, 8}, s.Layout())
	assert.Equal(t, 3*16*8, s.Size())
	assert.Equal(t, 255.0, s.UpperBound.AtVec(s.Size()-1))

	// Layout returns a copy
	s.Layout()[0] = 100
	assert.Equal(t, 3, s.Dims[0])
}

func TestActionSpecCategories(t *testing.T) {
	assert.Equal(t, []int{5}, NewDiscreteActionSpec(5).Categories())
	assert.Equal(t, []int{2, 3, 4},
		NewMultiDiscreteActionSpec([]int{2, 3, 4}).Categories())

	box := NewBoxActionSpec([]float64{-1, -2}, []float64{1, 2})
	assert.Equal(t, Continuous, box.Cardinality)
	assert.Equal(t, Action, box.Type)
	assert.Equal(t, 2, box.Size())
}

func TestNewSpecPanicsOnMismatchedBounds(t *testing.T) {
	assert.Panics(t, func() {
		NewSpec(mat.NewVecDense(2, nil), Action, mat.NewVecDense(1, nil),
			mat.NewVecDense(2, nil), Continuous)
	})
}

func TestSpecTypeString(t *testing.T) {
	assert.Equal(t, "Action", Action.String())
	assert.Equal(t, "Observation", Observation.String())
	assert.Equal(t, "SpecType(7)", SpecType(7).String())
}
