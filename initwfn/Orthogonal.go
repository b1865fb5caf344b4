package initwfn

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// OrthogonalConfig implements a configuration of the orthogonal
// initialization algorithm of Saxe et al. (2013). The first dimension
// of a weight tensor is treated as the rows and all remaining
// dimensions are flattened into the columns.
type OrthogonalConfig struct {
	Gain float64
	Seed uint64
}

// NewOrthogonal returns a new orthogonal weight initializer
func NewOrthogonal(gain float64, seed uint64) (*InitWFn, error) {
	config := OrthogonalConfig{
		Gain: gain,
		Seed: seed,
	}

	return newInitWFn(config)
}

// Type returns the type of initialization algorithm described by
// the configuration.
func (o OrthogonalConfig) Type() Type {
	return Orthogonal
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn. Successive calls of the returned InitWFn continue the same
// random stream, so two weights never share a draw.
func (o OrthogonalConfig) Create() G.InitWFn {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(o.Seed)}

	return func(dt tensor.Dtype, s ...int) interface{} {
		rows, cols := 1, 1
		if len(s) > 0 {
			rows = s[0]
		}
		for _, dim := range s[1:] {
			cols *= dim
		}
		weights := orthogonal(rows, cols, o.Gain, normal)

		switch dt {
		case tensor.Float32:
			out := make([]float32, len(weights))
			for i := range weights {
				out[i] = float32(weights[i])
			}
			return out

		case tensor.Float64:
			return weights

		default:
			panic("orthogonal: unsupported dtype " + dt.String())
		}
	}
}

// orthogonal returns a rows x cols matrix in row-major order whose rows
// (if rows <= cols) or columns (otherwise) are orthonormal, scaled by
// gain
func orthogonal(rows, cols int, gain float64, normal distuv.Normal) []float64 {
	m, n := rows, cols
	transpose := rows < cols
	if transpose {
		m, n = cols, rows
	}

	flat := make([]float64, m*n)
	for i := range flat {
		flat[i] = normal.Rand()
	}
	a := mat.NewDense(m, n, flat)

	var qr mat.QR
	qr.Factorize(a)

	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	// Make the decomposition unique by forcing a non-negative diagonal
	// of R, which makes Q uniformly distributed
	out := mat.NewDense(m, n, nil)
	for j := 0; j < n; j++ {
		sign := math.Copysign(1.0, r.At(j, j))
		for i := 0; i < m; i++ {
			out.Set(i, j, gain*sign*q.At(i, j))
		}
	}

	if !transpose {
		return out.RawMatrix().Data
	}

	weights := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			weights = append(weights, out.At(j, i))
		}
	}
	return weights
}
