// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// MaxSlice gets the maximum value and indices of the maximum values in
// a slice of float64. Indices are returned in increasing order, so
// indices[0] is the first maximizing index.
func MaxSlice(values []float64) (max float64, indices []int) {
	max, indices = values[0], []int{0}

	for i, value := range values[1:] {
		if value > max {
			max = value
			indices = []int{i + 1}
		} else if value == max {
			indices = append(indices, i+1)
		}
	}
	return
}

// Argmax returns the first index of the maximum value in values
func Argmax(values []float64) int {
	_, indices := MaxSlice(values)
	return indices[0]
}

// CountNaN returns the number of NaN entries in values and a mask
// which is true wherever values holds a NaN
func CountNaN(values []float64) (int, []bool) {
	mask := make([]bool, len(values))
	count := 0
	for i, v := range values {
		if math.IsNaN(v) {
			mask[i] = true
			count++
		}
	}
	return count, mask
}
